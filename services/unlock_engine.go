package services

import (
	"sync"
	"time"

	"event-passport/models"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// DefaultUnlockDelay is the pause between detecting an unlock and claiming it.
const DefaultUnlockDelay = 600 * time.Millisecond

// DefaultUnlockSound is played when neither the badge nor the passport
// names a sound.
const DefaultUnlockSound = "chime"

// SoundPlayer plays a named sound cue.
type SoundPlayer interface {
	Play(name string)
}

// UnlockHooks are the side effects of an unlock, run in order: claim, sound,
// notify. A failed claim skips the rest.
type UnlockHooks struct {
	Claim  func(badge models.Badge) error
	Sound  SoundPlayer
	Notify func(badge models.Badge, sound string)
}

type UnlockEngineConfig struct {
	SecretBadges []models.Badge
	Enabled      bool
	Delay        time.Duration
	Clock        clockwork.Clock
	// Lock is held by every caller of Evaluate, IsUnlocked and Cancel, and is
	// acquired by deferred unlocks before they touch any state.
	Lock     sync.Locker
	Hooks    UnlockHooks
	SoundFor func(badge models.Badge) string
}

// UnlockEngine claims secret badges once their unlock condition holds. One
// engine belongs to one session; its idempotency guard lives and dies with it.
type UnlockEngine struct {
	secrets  []models.Badge
	enabled  bool
	delay    time.Duration
	clock    clockwork.Clock
	lock     sync.Locker
	hooks    UnlockHooks
	soundFor func(models.Badge) string

	unlocking  map[string]bool
	pending    map[string]clockwork.Timer
	generation uint64
}

func NewUnlockEngine(cfg UnlockEngineConfig) *UnlockEngine {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Lock == nil {
		cfg.Lock = &sync.Mutex{}
	}
	if cfg.SoundFor == nil {
		cfg.SoundFor = func(models.Badge) string { return DefaultUnlockSound }
	}
	return &UnlockEngine{
		secrets:   cfg.SecretBadges,
		enabled:   cfg.Enabled,
		delay:     cfg.Delay,
		clock:     cfg.Clock,
		lock:      cfg.Lock,
		hooks:     cfg.Hooks,
		soundFor:  cfg.SoundFor,
		unlocking: map[string]bool{},
		pending:   map[string]clockwork.Timer{},
	}
}

// Evaluate schedules an auto-claim for every secret badge whose condition
// became satisfied, in passport order, and returns them. It is safe to call
// after every change to the claims.
func (e *UnlockEngine) Evaluate(claims map[string]models.BadgeClaim) []models.Badge {
	if !e.enabled {
		return nil
	}
	var scheduled []models.Badge
	for _, secret := range e.secrets {
		if claims[secret.ID].Claimed || e.unlocking[secret.ID] {
			continue
		}
		if !conditionMet(secret, claims) {
			continue
		}
		e.unlocking[secret.ID] = true
		e.schedule(secret)
		scheduled = append(scheduled, secret)
	}
	return scheduled
}

// IsUnlocked reports whether a secret badge is claimed or claimable right
// now. It is always false while the feature is disabled.
func (e *UnlockEngine) IsUnlocked(claims map[string]models.BadgeClaim, badgeID string) bool {
	if !e.enabled {
		return false
	}
	for _, secret := range e.secrets {
		if secret.ID != badgeID {
			continue
		}
		if claims[badgeID].Claimed {
			return true
		}
		return conditionMet(secret, claims)
	}
	return false
}

// Cancel drops every pending auto-claim and clears the guard. Callbacks
// already waiting on the lock see a stale generation and do nothing.
func (e *UnlockEngine) Cancel() {
	e.generation++
	for id, timer := range e.pending {
		timer.Stop()
		delete(e.pending, id)
	}
	e.unlocking = map[string]bool{}
}

// Pending is the number of scheduled auto-claims that have not fired.
func (e *UnlockEngine) Pending() int {
	return len(e.pending)
}

func (e *UnlockEngine) schedule(badge models.Badge) {
	gen := e.generation
	e.pending[badge.ID] = e.clock.AfterFunc(e.delay, func() {
		e.lock.Lock()
		defer e.lock.Unlock()
		e.fire(gen, badge)
	})
}

func (e *UnlockEngine) fire(gen uint64, badge models.Badge) {
	if gen != e.generation {
		return
	}
	delete(e.pending, badge.ID)

	if e.hooks.Claim != nil {
		if err := e.hooks.Claim(badge); err != nil {
			// let a later evaluation try again
			delete(e.unlocking, badge.ID)
			log.WithField("badge", badge.ID).Errorf("[UNLOCK] auto-claim failed: %v", err)
			return
		}
	}
	sound := e.soundFor(badge)
	if e.hooks.Sound != nil {
		e.hooks.Sound.Play(sound)
	}
	if e.hooks.Notify != nil {
		e.hooks.Notify(badge, sound)
	}
	log.WithField("badge", badge.ID).Info("[UNLOCK] secret badge unlocked")
}

// conditionMet is true when every gating badge is claimed. An empty list
// never unlocks.
func conditionMet(badge models.Badge, claims map[string]models.BadgeClaim) bool {
	ids := badge.RequiredBadgeIDs()
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		if !claims[id].Claimed {
			return false
		}
	}
	return true
}
