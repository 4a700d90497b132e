package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"event-passport/models"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPlayer struct {
	mu     sync.Mutex
	sounds []string
}

func (p *recordingPlayer) Play(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sounds = append(p.sounds, name)
}

func (p *recordingPlayer) played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sounds...)
}

// engineHarness owns the claims map the way a session does: every access
// goes through lock.
type engineHarness struct {
	lock     sync.Mutex
	claims   map[string]models.BadgeClaim
	claimed  []string
	notified []string
	claimErr error
	player   *recordingPlayer
	engine   *UnlockEngine
}

func newEngineHarness(t *testing.T, passport *models.Passport, enabled bool) (*engineHarness, *clockwork.FakeClock) {
	t.Helper()
	clock := newFakeClock()
	h := &engineHarness{claims: map[string]models.BadgeClaim{}, player: &recordingPlayer{}}
	h.engine = NewUnlockEngine(UnlockEngineConfig{
		SecretBadges: passport.SecretBadges(),
		Enabled:      enabled,
		Delay:        600 * time.Millisecond,
		Clock:        clock,
		Lock:         &h.lock,
		Hooks: UnlockHooks{
			Claim: func(b models.Badge) error {
				if h.claimErr != nil {
					return h.claimErr
				}
				h.claims[b.ID] = models.BadgeClaim{Claimed: true, ClaimExtras: models.ClaimExtras{IsAutoUnlock: true}}
				h.claimed = append(h.claimed, b.ID)
				return nil
			},
			Sound:  h.player,
			Notify: func(b models.Badge, _ string) { h.notified = append(h.notified, b.ID) },
		},
	})
	return h, clock
}

// claim marks a badge claimed and re-evaluates, like a store subscriber.
func (h *engineHarness) claim(id string) []models.Badge {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.claims[id] = models.BadgeClaim{Claimed: true}
	return h.engine.Evaluate(h.claims)
}

func (h *engineHarness) isUnlocked(id string) bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.engine.IsUnlocked(h.claims, id)
}

func (h *engineHarness) counts() (claimed, notified int) {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.claimed), len(h.notified)
}

func TestUnlockConditionExact(t *testing.T) {
	h, clock := newEngineHarness(t, testPassport(), true)

	assert.Empty(t, h.claim("keynote"))
	assert.False(t, h.isUnlocked("night-owl"))

	scheduled := h.claim("booth")
	require.Len(t, scheduled, 1)
	assert.Equal(t, "night-owl", scheduled[0].ID)
	assert.True(t, h.isUnlocked("night-owl"), "unlockable before the ceremonial claim")

	// re-claiming before the delay elapses must not schedule again
	assert.Empty(t, h.claim("keynote"))
	assert.Empty(t, h.claim("booth"))

	clock.Advance(600 * time.Millisecond)
	require.Eventually(t, func() bool {
		c, n := h.counts()
		return c == 1 && n == 1
	}, time.Second, 5*time.Millisecond)

	// and after it fired
	assert.Empty(t, h.claim("keynote"))
	assert.Empty(t, h.claim("booth"))
	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	c, n := h.counts()
	assert.Equal(t, 1, c)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{DefaultUnlockSound}, h.player.played())
}

func TestUnlockWaitsForDelay(t *testing.T) {
	h, clock := newEngineHarness(t, testPassport(), true)
	h.claim("keynote")
	h.claim("booth")

	clock.Advance(599 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	c, _ := h.counts()
	assert.Zero(t, c)
	assert.Equal(t, 1, h.engine.Pending())

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool {
		c, _ := h.counts()
		return c == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEmptyConditionNeverUnlocks(t *testing.T) {
	h, clock := newEngineHarness(t, testPassport(), true)
	for _, id := range []string{"keynote", "booth", "workshop", "night-owl"} {
		for _, b := range h.claim(id) {
			assert.NotEqual(t, "explorer", b.ID)
		}
	}
	assert.False(t, h.isUnlocked("explorer"))
	clock.Advance(time.Minute)
	assert.False(t, h.isUnlocked("explorer"))
}

func TestDisabledEngineDoesNothing(t *testing.T) {
	h, clock := newEngineHarness(t, testPassport(), false)
	assert.Empty(t, h.claim("keynote"))
	assert.Empty(t, h.claim("booth"))
	assert.False(t, h.isUnlocked("night-owl"))

	// even a claimed secret reads as locked while disabled
	h.claim("night-owl")
	assert.False(t, h.isUnlocked("night-owl"))

	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	c, n := h.counts()
	assert.Zero(t, c)
	assert.Zero(t, n)
}

func TestMultipleUnlocksFollowBadgeOrder(t *testing.T) {
	p := testPassport()
	p.Badges = append(p.Badges, models.Badge{
		ID: "early-bird", Type: models.SecretBadgeType, Order: 0,
		UnlockCondition: &models.UnlockCondition{Type: models.UnlockConditionAll, BadgeIDs: []string{"booth"}},
	})
	h, _ := newEngineHarness(t, p, true)

	h.lock.Lock()
	h.claims["keynote"] = models.BadgeClaim{Claimed: true}
	h.claims["booth"] = models.BadgeClaim{Claimed: true}
	scheduled := h.engine.Evaluate(h.claims)
	h.lock.Unlock()

	require.Len(t, scheduled, 2)
	assert.Equal(t, "night-owl", scheduled[0].ID)
	assert.Equal(t, "early-bird", scheduled[1].ID)
}

func TestCancelDropsPendingUnlocks(t *testing.T) {
	h, clock := newEngineHarness(t, testPassport(), true)
	h.claim("keynote")
	h.claim("booth")

	h.lock.Lock()
	h.engine.Cancel()
	h.claims = map[string]models.BadgeClaim{}
	h.lock.Unlock()

	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	c, n := h.counts()
	assert.Zero(t, c)
	assert.Zero(t, n)
	assert.Zero(t, h.engine.Pending())

	// the guard was cleared, so the badge can unlock again
	h.claim("keynote")
	assert.Len(t, h.claim("booth"), 1)
}

func TestFailedAutoClaimCanRetry(t *testing.T) {
	h, clock := newEngineHarness(t, testPassport(), true)
	h.claimErr = errors.New("storage down")
	h.claim("keynote")
	h.claim("booth")

	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		h.lock.Lock()
		defer h.lock.Unlock()
		return h.engine.Pending() == 0
	}, time.Second, 5*time.Millisecond)
	_, n := h.counts()
	assert.Zero(t, n, "no notification without a claim")

	h.lock.Lock()
	h.claimErr = nil
	h.lock.Unlock()
	assert.Len(t, h.claim("booth"), 1)
}
