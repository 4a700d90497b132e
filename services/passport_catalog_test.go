package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogLoad(t *testing.T) {
	root := writePassportDir(t, testPassport())
	catalog := NewPassportCatalog(root)

	p, err := catalog.Load(testPassportID)
	require.NoError(t, err)
	assert.Equal(t, testPassportID, p.ID)
	assert.Equal(t, "DevFest 2025", p.Meta.Name)
	assert.Len(t, p.Badges, 5)
	assert.Len(t, p.PrimaryBadges(), 3)
	assert.Len(t, p.SecretBadges(), 2)

	again, err := catalog.Load(testPassportID)
	require.NoError(t, err)
	assert.Same(t, p, again, "second load is served from cache")
	assert.Equal(t, []string{testPassportID}, catalog.CachedIDs())

	catalog.Invalidate(testPassportID)
	reloaded, err := catalog.Load(testPassportID)
	require.NoError(t, err)
	assert.NotSame(t, p, reloaded)
}

func TestCatalogLoadErrors(t *testing.T) {
	root := writePassportDir(t, testPassport())
	catalog := NewPassportCatalog(root)

	for _, id := range []string{"missing", "", "../etc", "Dev Fest", "a/b"} {
		_, err := catalog.Load(id)
		assert.ErrorIs(t, err, ErrPassportNotFound, "id %q", id)
	}

	require.NoError(t, os.MkdirAll(filepath.Join(root, "broken"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken", "passport.json"), []byte(`{"badges": [`), 0o644))
	_, err := catalog.Load("broken")
	assert.ErrorIs(t, err, ErrInvalidPassportDocument)
}

func TestParsePassportAcceptsComments(t *testing.T) {
	p, err := ParsePassport([]byte(`{
		// event name
		"meta": {"name": "Meetup"},
		"badges": [
			{"id": "hello", "type": "talk", "name": "Hello",}, /* trailing comma */
		],
	}`))
	require.NoError(t, err)
	assert.Equal(t, "Meetup", p.Meta.Name)
	require.Len(t, p.Badges, 1)
	assert.Equal(t, "hello", p.Badges[0].ID)
}

func TestCatalogIndex(t *testing.T) {
	root := writePassportDir(t, testPassport())
	catalog := NewPassportCatalog(root)

	index, err := catalog.ListPassports()
	require.NoError(t, err)
	assert.Len(t, index.Passports, 2)

	def, err := catalog.DefaultPassport()
	require.NoError(t, err)
	assert.Equal(t, testPassportID, def.ID, "a disabled default is skipped")

	empty := NewPassportCatalog(t.TempDir())
	index, err = empty.ListPassports()
	require.NoError(t, err)
	assert.Empty(t, index.Passports)
	_, err = empty.DefaultPassport()
	assert.ErrorIs(t, err, ErrPassportNotFound)
}

func TestCatalogModTime(t *testing.T) {
	root := writePassportDir(t, testPassport())
	catalog := NewPassportCatalog(root)
	assert.False(t, catalog.ModTime(testPassportID).IsZero())
	assert.True(t, catalog.ModTime("missing").IsZero())
}

func TestPassportHelpers(t *testing.T) {
	p := testPassport()
	assert.Equal(t, "#4285F4", p.TypeColor("talk"))
	assert.Equal(t, "#6B7280", p.TypeColor("unknown"))
	assert.Equal(t, "Talk", p.TypeLabel("talk"))
	assert.Equal(t, "", p.TypeLabel("workshop"))

	public := p.Public()
	for _, b := range public.Badges {
		assert.Empty(t, b.ClaimSecret)
	}
	workshop, _ := p.BadgeByID("workshop")
	assert.Equal(t, testQrSecret, workshop.ClaimSecret, "Public must not modify the original")

	sorted := p.SortedBadges()
	assert.Equal(t, "keynote", sorted[0].ID)
	assert.Equal(t, "explorer", sorted[len(sorted)-1].ID)
}

func TestPassportLocation(t *testing.T) {
	p := testPassport()
	assert.Equal(t, time.UTC, PassportLocation(p))
	p.Settings.Timezone = "Europe/Berlin"
	assert.Equal(t, "Europe/Berlin", PassportLocation(p).String())
	p.Settings.Timezone = "Mars/Olympus"
	assert.Equal(t, time.UTC, PassportLocation(p))
}
