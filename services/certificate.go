package services

import (
	"strings"
	"time"

	"event-passport/models"

	"github.com/gosimple/slug"
	"github.com/gosimple/unidecode"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const certificateDateLayout = "January 2, 2006"

// Certificate is the printable summary of a visitor's passport.
type Certificate struct {
	VisitorName    string             `json:"visitorName"`
	PassportName   string             `json:"passportName"`
	IssuedOn       string             `json:"issuedOn"`
	ClaimedCount   int                `json:"claimedCount"`
	PrimaryClaimed int                `json:"primaryClaimed"`
	PrimaryTotal   int                `json:"primaryTotal"`
	Badges         []CertificateBadge `json:"badges"`
	FileName       string             `json:"fileName"`
}

type CertificateBadge struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	TypeLabel string `json:"typeLabel"`
	Color     string `json:"color"`
	Emoji     string `json:"emoji,omitempty"`
	Image     string `json:"image,omitempty"`
	Claimed   bool   `json:"claimed"`
	ClaimedAt string `json:"claimedAt,omitempty"`
	Secret    bool   `json:"secret,omitempty"`
}

// BuildCertificate summarizes record against passport. Secret badges are
// listed only once unlocked.
func BuildCertificate(passport *models.Passport, record models.ProgressRecord, engine *UnlockEngine, loc *time.Location, now time.Time) *Certificate {
	cert := &Certificate{
		VisitorName:  record.Name,
		PassportName: passport.Meta.Name,
		IssuedOn:     now.In(loc).Format(certificateDateLayout),
		ClaimedCount: CountClaimed(record),
		Badges:       []CertificateBadge{},
	}

	for _, b := range passport.SortedBadges() {
		if b.IsSecret() && !engine.IsUnlocked(record.Badges, b.ID) {
			continue
		}
		claimed := record.IsClaimed(b.ID)
		if !b.IsSecret() {
			cert.PrimaryTotal++
			if claimed {
				cert.PrimaryClaimed++
			}
		}
		entry := CertificateBadge{
			ID:        b.ID,
			Name:      b.Name,
			Type:      b.Type,
			TypeLabel: typeLabel(passport, b.Type),
			Color:     passport.TypeColor(b.Type),
			Emoji:     b.Emoji,
			Image:     models.AssetURL(passport.ID, b.Image),
			Claimed:   claimed,
			Secret:    b.IsSecret(),
		}
		if t, ok := FormatClaimTime(record, b.ID, loc); ok && claimed {
			entry.ClaimedAt = t
		}
		cert.Badges = append(cert.Badges, entry)
	}

	cert.FileName = certificateFileName(passport, record.Name)
	return cert
}

// typeLabel prefers the configured label and falls back to the title-cased id.
func typeLabel(passport *models.Passport, typeID string) string {
	if label := passport.TypeLabel(typeID); label != "" {
		return label
	}
	return cases.Title(language.English).String(strings.ReplaceAll(typeID, "-", " "))
}

// certificateFileName is an ASCII download name like
// "devfest-2025-zoe-muller-certificate.png".
func certificateFileName(passport *models.Passport, visitorName string) string {
	parts := []string{passport.ID}
	if name := slug.Make(unidecode.Unidecode(visitorName)); name != "" {
		parts = append(parts, name)
	}
	parts = append(parts, "certificate")
	return strings.Join(parts, "-") + ".png"
}
