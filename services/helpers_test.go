package services

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"event-passport/models"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const (
	testPassportID = "devfest"
	testVisitorID  = "6f1c2a44-3b0e-4a51-9d5e-1c7d2f4b8a90"
	testQrSecret   = "abc234defgh5"
)

var testEpoch = time.Date(2025, 11, 8, 15, 4, 0, 0, time.UTC)

func boolPtr(b bool) *bool { return &b }

// testPassport has two talks gating a secret, one QR workshop and a secret
// with an empty condition.
func testPassport() *models.Passport {
	return &models.Passport{
		ID:   testPassportID,
		Meta: models.PassportMeta{Name: "DevFest 2025"},
		Audio: models.Audio{
			UnlockSound: "fanfare",
		},
		BadgeTypes: []models.BadgeType{
			{ID: "talk", Label: "Talk", Color: "#4285F4"},
			{ID: "workshop", Color: "#34A853"},
			{ID: models.SecretBadgeType, Label: "Secret", Hidden: true},
		},
		Badges: []models.Badge{
			{ID: "keynote", Type: "talk", Order: 1, Name: "Keynote", Emoji: "🎤"},
			{ID: "booth", Type: "talk", Order: 2, Name: "Sponsor Booth", Emoji: "🏢"},
			{ID: "workshop", Type: "workshop", Order: 3, Name: "Go Workshop", RequiresQrScan: true, ClaimSecret: testQrSecret},
			{
				ID: "night-owl", Type: models.SecretBadgeType, Order: 4, Name: "Night Owl", Sound: "owl",
				UnlockCondition: &models.UnlockCondition{Type: models.UnlockConditionAll, BadgeIDs: []string{"keynote", "booth"}},
			},
			{
				ID: "explorer", Type: models.SecretBadgeType, Order: 5, Name: "Explorer",
				UnlockCondition: &models.UnlockCondition{Type: models.UnlockConditionAll, BadgeIDs: []string{}},
			},
		},
	}
}

func newFakeClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(testEpoch)
}

func testSessionConfig() SessionConfig {
	return SessionConfig{UnlockDelay: 600 * time.Millisecond, NotificationCooldown: time.Second}
}

// writePassportDir lays out a catalog root holding one passport.
func writePassportDir(t *testing.T, p *models.Passport) string {
	t.Helper()
	root := t.TempDir()
	doc := *p
	doc.ID = ""
	data, err := json.MarshalIndent(&doc, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, p.ID), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, p.ID, "passport.json"), data, 0o644))
	index := `{
	// comments are fine here
	"passports": [
		{"id": "archive", "name": "Old Event", "enabled": false, "default": true},
		{"id": "` + p.ID + `", "name": "` + p.Meta.Name + `", "enabled": true},
	]
}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.json"), []byte(index), 0o644))
	return root
}
