package models

import (
	"encoding/json"
	"sort"
	"strings"
)

// SecretBadgeType is the reserved badge type id for badges that stay hidden
// until their unlock condition is met.
const SecretBadgeType = "secret"

// UnlockConditionAll is the only supported unlock condition type.
const UnlockConditionAll = "all"

// Passport is one event's complete configuration document (passport.json).
// Presentation-only sections are kept raw, and keys no field models are
// kept in Extra, so the admin save path round-trips them untouched.
type Passport struct {
	ID         string          `json:"id,omitempty"`
	Meta       PassportMeta    `json:"meta"`
	Features   Features        `json:"features"`
	Settings   Settings        `json:"settings"`
	Audio      Audio           `json:"audio"`
	Theme      json.RawMessage `json:"theme,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
	Schedule   json.RawMessage `json:"schedule,omitempty"`
	PWA        json.RawMessage `json:"pwa,omitempty"`
	BadgeTypes []BadgeType     `json:"badgeTypes"`
	Badges     []Badge         `json:"badges"`

	Extra Extra `json:"-"`
}

type PassportMeta struct {
	Name        string `json:"name"`
	ShortName   string `json:"shortName,omitempty"`
	Description string `json:"description,omitempty"`

	Extra Extra `json:"-"`
}

// Features are opt-out flags: a missing flag means enabled.
type Features struct {
	SecretBadges    *bool `json:"secretBadges,omitempty"`
	BadgeSounds     *bool `json:"badgeSounds,omitempty"`
	GreetingSounds  *bool `json:"greetingSounds,omitempty"`
	BackgroundMusic *bool `json:"backgroundMusic,omitempty"`
	HonorSystem     *bool `json:"honorSystem,omitempty"`

	Extra Extra `json:"-"`
}

func enabled(flag *bool) bool {
	return flag == nil || *flag
}

func (f Features) SecretBadgesEnabled() bool { return enabled(f.SecretBadges) }
func (f Features) BadgeSoundsEnabled() bool  { return enabled(f.BadgeSounds) }
func (f Features) HonorSystemEnabled() bool  { return enabled(f.HonorSystem) }

type Settings struct {
	BadgeShape string `json:"badgeShape,omitempty"` // arch, circle, shield...
	Timezone   string `json:"timezone,omitempty"`   // IANA name used for claim times

	Extra Extra `json:"-"`
}

type Audio struct {
	UnlockSound     string              `json:"unlockSound,omitempty"`
	Greetings       []string            `json:"greetings,omitempty"`
	BackgroundMusic map[string][]string `json:"backgroundMusic,omitempty"` // time of day -> tracks

	Extra Extra `json:"-"`
}

// BadgeType is category metadata. The id "secret" is a sentinel.
type BadgeType struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Label  string `json:"label,omitempty"`
	Color  string `json:"color,omitempty"`
	Hidden bool   `json:"hidden,omitempty"`

	Extra Extra `json:"-"`
}

// UnlockCondition lists the badges that must all be claimed before a secret
// badge unlocks on its own.
type UnlockCondition struct {
	Type     string   `json:"type"`
	BadgeIDs []string `json:"badgeIds"`
}

// Badge is a single collectible.
type Badge struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Order       int    `json:"order"`
	Name        string `json:"name"`
	ShortDesc   string `json:"shortDesc,omitempty"`
	LongDesc    string `json:"longDesc,omitempty"`
	Instruction string `json:"instruction,omitempty"`
	Time        string `json:"time,omitempty"`
	StartTime   string `json:"startTime,omitempty"`

	// Image and Emoji are mutually exclusive.
	Image string `json:"image,omitempty"`
	Emoji string `json:"emoji,omitempty"`
	Sound string `json:"sound,omitempty"`

	UnlockHint      string           `json:"unlockHint,omitempty"`
	UnlockCondition *UnlockCondition `json:"unlockCondition,omitempty"`

	RequiresQrScan bool   `json:"requiresQrScan,omitempty"`
	ClaimSecret    string `json:"claimSecret,omitempty"`
	QrImage        string `json:"qrImage,omitempty"`

	Extra Extra `json:"-"`
}

func (b Badge) IsSecret() bool {
	return b.Type == SecretBadgeType
}

// RequiredBadgeIDs returns the ids gating this badge, or nil when it has no
// usable condition.
func (b Badge) RequiredBadgeIDs() []string {
	if b.UnlockCondition == nil {
		return nil
	}
	return b.UnlockCondition.BadgeIDs
}

// PassportIndex is passports/index.json.
type PassportIndex struct {
	Passports []PassportListing `json:"passports"`
}

type PassportListing struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	Default     bool   `json:"default,omitempty"`
}

// DefaultTypeColor is used for badges whose type has no color.
const DefaultTypeColor = "#6B7280"

// PrimaryBadges returns the non-secret badges in document order.
func (p *Passport) PrimaryBadges() []Badge {
	var out []Badge
	for _, b := range p.Badges {
		if !b.IsSecret() {
			out = append(out, b)
		}
	}
	return out
}

// SecretBadges returns the secret badges in document order.
func (p *Passport) SecretBadges() []Badge {
	var out []Badge
	for _, b := range p.Badges {
		if b.IsSecret() {
			out = append(out, b)
		}
	}
	return out
}

// SortedBadges returns every badge ordered by Order, ties kept in document order.
func (p *Passport) SortedBadges() []Badge {
	out := append([]Badge(nil), p.Badges...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (p *Passport) BadgeByID(id string) (Badge, bool) {
	for _, b := range p.Badges {
		if b.ID == id {
			return b, true
		}
	}
	return Badge{}, false
}

func (p *Passport) BadgeType(id string) (BadgeType, bool) {
	for _, t := range p.BadgeTypes {
		if t.ID == id {
			return t, true
		}
	}
	return BadgeType{}, false
}

func (p *Passport) TypeColor(typeID string) string {
	if t, ok := p.BadgeType(typeID); ok && t.Color != "" {
		return t.Color
	}
	return DefaultTypeColor
}

// TypeLabel returns the type's label, or "" when the type has none.
func (p *Passport) TypeLabel(typeID string) string {
	if t, ok := p.BadgeType(typeID); ok {
		return t.Label
	}
	return ""
}

// Public returns a copy safe to hand to visitors: claim secrets removed.
func (p *Passport) Public() *Passport {
	out := *p
	out.Badges = make([]Badge, len(p.Badges))
	for i, b := range p.Badges {
		b.ClaimSecret = ""
		out.Badges[i] = b
	}
	return &out
}

// AssetURL maps a document-relative asset path to its public URL.
func AssetURL(passportID, assetPath string) string {
	if assetPath == "" {
		return ""
	}
	return "/passports/" + passportID + "/assets/" + strings.TrimPrefix(assetPath, "assets/")
}
