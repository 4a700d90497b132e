package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"event-passport/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingBackend refuses writes after the first n.
type failingBackend struct {
	*MemoryProgressBackend
	allowed int
}

func (b *failingBackend) Put(ctx context.Context, key string, data []byte) error {
	if b.allowed <= 0 {
		return errors.New("disk full")
	}
	b.allowed--
	return b.MemoryProgressBackend.Put(ctx, key, data)
}

func newTestStore(t *testing.T) (*ProgressStore, *MemoryProgressBackend) {
	t.Helper()
	backend := NewMemoryProgressBackend()
	return LoadProgressStore(context.Background(), backend, newFakeClock(), testPassportID, testVisitorID), backend
}

func TestProgressKeyNamespacesByPassport(t *testing.T) {
	assert.Equal(t, "passport-devfest:abc", ProgressKey("devfest", "abc"))
	assert.NotEqual(t, ProgressKey("a", "v"), ProgressKey("b", "v"))
}

func TestLoadFreshRecord(t *testing.T) {
	store, _ := newTestStore(t)
	record := store.Record()
	assert.Equal(t, models.NewProgressRecord(), record)
	assert.True(t, record.IsNewUser())
	assert.Zero(t, store.ClaimedCount())
}

func TestLoadVersionMismatchResets(t *testing.T) {
	ctx := context.Background()
	for _, raw := range []string{
		`{"version":0,"name":"Ada","badges":{"keynote":{"claimed":true}}}`,
		`{"name":"Ada","badges":{"keynote":{"claimed":true}}}`,
		`{"version":2,"name":"Ada","badges":{}}`,
		`{not json`,
	} {
		backend := NewMemoryProgressBackend()
		require.NoError(t, backend.Put(ctx, ProgressKey(testPassportID, testVisitorID), []byte(raw)))

		store := LoadProgressStore(ctx, backend, newFakeClock(), testPassportID, testVisitorID)
		record := store.Record()
		assert.Equal(t, "", record.Name, raw)
		assert.Empty(t, record.Badges, raw)
		assert.Equal(t, models.ProgressSchemaVersion, record.Version, raw)
	}
}

func TestWriteThroughPersistsEveryMutation(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestStore(t)

	_, err := store.SetName(ctx, "Ada")
	require.NoError(t, err)
	_, err = store.Claim(ctx, "keynote", models.ClaimExtras{})
	require.NoError(t, err)

	reloaded := LoadProgressStore(ctx, backend, newFakeClock(), testPassportID, testVisitorID)
	assert.Equal(t, store.Record(), reloaded.Record())

	raw, err := backend.Get(ctx, ProgressKey(testPassportID, testVisitorID))
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.EqualValues(t, 1, decoded["version"])
	assert.Equal(t, "Ada", decoded["name"])
}

func TestSetNameKeepsFirstCreatedAt(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := LoadProgressStore(ctx, NewMemoryProgressBackend(), clock, testPassportID, testVisitorID)

	first, err := store.SetName(ctx, "Ada")
	require.NoError(t, err)
	require.NotNil(t, first.CreatedAt)

	clock.Advance(time.Hour)
	second, err := store.SetName(ctx, "Ada L.")
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", second.Name)
	assert.Equal(t, *first.CreatedAt, *second.CreatedAt)
}

func TestClaimIsIdempotent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := LoadProgressStore(ctx, NewMemoryProgressBackend(), clock, testPassportID, testVisitorID)

	first, err := store.Claim(ctx, "keynote", models.ClaimExtras{})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := store.Claim(ctx, "keynote", models.ClaimExtras{})
	require.NoError(t, err)

	assert.Equal(t, 1, store.ClaimedCount())
	assert.True(t, second.Badges["keynote"].ClaimedAt.After(*first.Badges["keynote"].ClaimedAt))
}

func TestClaimMergesExtras(t *testing.T) {
	store, _ := newTestStore(t)
	record, err := store.Claim(context.Background(), "night-owl", models.ClaimExtras{IsAutoUnlock: true})
	require.NoError(t, err)
	assert.True(t, record.Badges["night-owl"].IsAutoUnlock)
	assert.False(t, record.Badges["night-owl"].ViaQrScan)
}

func TestUnclaimClearsTimestamp(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	_, err := store.Claim(ctx, "keynote", models.ClaimExtras{})
	require.NoError(t, err)

	record, err := store.Unclaim(ctx, "keynote")
	require.NoError(t, err)
	assert.False(t, record.Badges["keynote"].Claimed)
	assert.Nil(t, record.Badges["keynote"].ClaimedAt)
	_, ok := store.ClaimTime("keynote", time.UTC)
	assert.False(t, ok)
}

func TestToggleSymmetry(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	on, err := store.Toggle(ctx, "booth")
	require.NoError(t, err)
	assert.True(t, on.Badges["booth"].Claimed)
	assert.NotNil(t, on.Badges["booth"].ClaimedAt)

	off, err := store.Toggle(ctx, "booth")
	require.NoError(t, err)
	assert.False(t, off.Badges["booth"].Claimed)
	assert.Nil(t, off.Badges["booth"].ClaimedAt)
}

func TestResetAllRestoresDefault(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	_, _ = store.SetName(ctx, "Ada")
	_, _ = store.Claim(ctx, "keynote", models.ClaimExtras{})
	_, _ = store.Toggle(ctx, "booth")
	_, _ = store.DismissHonorSystem(ctx)

	record, err := store.ResetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.NewProgressRecord(), record)
}

func TestDismissHonorSystemIsOneWay(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	record, err := store.DismissHonorSystem(ctx)
	require.NoError(t, err)
	assert.True(t, record.HonorSystemDismissed)
	record, err = store.DismissHonorSystem(ctx)
	require.NoError(t, err)
	assert.True(t, record.HonorSystemDismissed)
}

func TestClaimTimeUsesLocation(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Claim(context.Background(), "keynote", models.ClaimExtras{})
	require.NoError(t, err)

	formatted, ok := store.ClaimTime("keynote", time.UTC)
	require.True(t, ok)
	assert.Equal(t, "3:04 PM", formatted)

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	formatted, ok = store.ClaimTime("keynote", tokyo)
	require.True(t, ok)
	assert.Equal(t, "12:04 AM", formatted)
}

func TestFailedWriteKeepsPreviousRecord(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{MemoryProgressBackend: NewMemoryProgressBackend(), allowed: 1}
	store := LoadProgressStore(ctx, backend, newFakeClock(), testPassportID, testVisitorID)

	notified := 0
	store.Subscribe(func(models.ProgressRecord) { notified++ })

	_, err := store.Claim(ctx, "keynote", models.ClaimExtras{})
	require.NoError(t, err)

	record, err := store.Claim(ctx, "booth", models.ClaimExtras{})
	require.Error(t, err)
	assert.False(t, record.IsClaimed("booth"))
	assert.False(t, store.Record().IsClaimed("booth"))
	assert.Equal(t, 1, notified)
}

func TestRecordIsACopy(t *testing.T) {
	store, _ := newTestStore(t)
	record := store.Record()
	record.Badges["keynote"] = models.BadgeClaim{Claimed: true}
	assert.Zero(t, store.ClaimedCount())
}
