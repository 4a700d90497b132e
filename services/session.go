package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"event-passport/models"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

var (
	ErrBadgeNotFound             = errors.New("badge not found")
	ErrSecretBadgeManual         = errors.New("secret badges cannot be claimed manually")
	ErrQrScanRequired            = errors.New("this badge must be claimed by scanning its QR code")
	ErrQrNotConfigured           = errors.New("this badge has no QR code")
	ErrHonorConfirmationRequired = errors.New("please confirm you completed this activity")
	ErrSessionClosed             = errors.New("session closed")
)

// SessionConfig holds the timings shared by every session.
type SessionConfig struct {
	UnlockDelay          time.Duration
	NotificationCooldown time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		UnlockDelay:          DefaultUnlockDelay,
		NotificationCooldown: DefaultNotificationCooldown,
	}
}

// SoundCueBuffer collects sound cues until a client drains them.
type SoundCueBuffer struct {
	cues []string
}

func (b *SoundCueBuffer) Play(name string) {
	b.cues = append(b.cues, name)
}

func (b *SoundCueBuffer) Drain() []string {
	out := b.cues
	b.cues = nil
	return out
}

// Session is one visitor's live state for one passport. Every operation and
// every deferred unlock runs under the session mutex, so mutations are
// strictly ordered and each one is persisted before the next starts.
type Session struct {
	PassportID string
	VisitorID  string

	mu       sync.Mutex
	passport *models.Passport
	loc      *time.Location
	clock    clockwork.Clock
	store    *ProgressStore
	engine   *UnlockEngine
	queue    *NotificationQueue
	sounds   *SoundCueBuffer
	lastSeen time.Time
	closed   bool
}

// Snapshot is the visitor-facing view of a session.
type Snapshot struct {
	PassportID          string                `json:"passportId"`
	Record              models.ProgressRecord `json:"record"`
	IsNewUser           bool                  `json:"isNewUser"`
	ClaimedCount        int                   `json:"claimedCount"`
	PrimaryClaimed      int                   `json:"primaryClaimed"`
	PrimaryTotal        int                   `json:"primaryTotal"`
	UnlockedSecrets     []string              `json:"unlockedSecrets"`
	ClaimTimes          map[string]string     `json:"claimTimes"`
	CurrentNotification *Notification         `json:"currentNotification"`
}

// NewSession loads the visitor's record and wires store, engine and queue.
// The engine evaluates once on load so conditions met in an earlier visit
// still unlock.
func NewSession(ctx context.Context, passport *models.Passport, visitorID string, backend ProgressBackend, clock clockwork.Clock, cfg SessionConfig) *Session {
	s := &Session{
		PassportID: passport.ID,
		VisitorID:  visitorID,
		passport:   passport,
		loc:        PassportLocation(passport),
		clock:      clock,
		queue:      NewNotificationQueue(clock, cfg.NotificationCooldown),
		sounds:     &SoundCueBuffer{},
		lastSeen:   clock.Now(),
	}
	s.store = LoadProgressStore(ctx, backend, clock, passport.ID, visitorID)
	s.engine = NewUnlockEngine(UnlockEngineConfig{
		SecretBadges: passport.SecretBadges(),
		Enabled:      passport.Features.SecretBadgesEnabled(),
		Delay:        cfg.UnlockDelay,
		Clock:        clock,
		Lock:         &s.mu,
		Hooks: UnlockHooks{
			Claim:  s.autoClaim,
			Sound:  s.sounds,
			Notify: func(badge models.Badge, sound string) {
				badge.ClaimSecret = ""
				s.queue.Enqueue(badge, sound)
			},
		},
		SoundFor: s.unlockSound,
	})
	s.store.Subscribe(func(record models.ProgressRecord) {
		s.engine.Evaluate(record.Badges)
	})

	s.mu.Lock()
	s.engine.Evaluate(s.store.Record().Badges)
	s.mu.Unlock()
	return s
}

// autoClaim runs inside a deferred unlock, with the session mutex held.
func (s *Session) autoClaim(badge models.Badge) error {
	if s.closed {
		return ErrSessionClosed
	}
	_, err := s.store.Claim(context.Background(), badge.ID, models.ClaimExtras{IsAutoUnlock: true})
	return err
}

func (s *Session) unlockSound(badge models.Badge) string {
	if badge.Sound != "" && s.passport.Features.BadgeSoundsEnabled() {
		return badge.Sound
	}
	if s.passport.Audio.UnlockSound != "" {
		return s.passport.Audio.UnlockSound
	}
	return DefaultUnlockSound
}

// do runs fn under the session mutex.
func (s *Session) do(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.lastSeen = s.clock.Now()
	return fn()
}

// Snapshot returns the visitor-facing view.
func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.do(func() error {
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

func (s *Session) snapshot() Snapshot {
	record := s.store.Record()
	snap := Snapshot{
		PassportID:          s.PassportID,
		Record:              record,
		IsNewUser:           record.IsNewUser(),
		ClaimedCount:        CountClaimed(record),
		UnlockedSecrets:     []string{},
		ClaimTimes:          map[string]string{},
		CurrentNotification: s.queue.Current(),
	}
	for _, b := range s.passport.PrimaryBadges() {
		snap.PrimaryTotal++
		if record.IsClaimed(b.ID) {
			snap.PrimaryClaimed++
		}
	}
	for _, b := range s.passport.SecretBadges() {
		if s.engine.IsUnlocked(record.Badges, b.ID) {
			snap.UnlockedSecrets = append(snap.UnlockedSecrets, b.ID)
		}
	}
	for id := range record.Badges {
		if t, ok := FormatClaimTime(record, id, s.loc); ok {
			snap.ClaimTimes[id] = t
		}
	}
	return snap
}

// SetName stores the visitor's display name.
func (s *Session) SetName(ctx context.Context, name string) (Snapshot, error) {
	return s.mutate(func() error {
		_, err := s.store.SetName(ctx, name)
		return err
	})
}

// ClaimRequest is a manual (honor-system) claim.
type ClaimRequest struct {
	HonorConfirmed bool `json:"honorConfirmed"`
	DontAskAgain   bool `json:"dontAskAgain"`
}

// Claim claims a regular badge on the visitor's word. Secret badges and
// QR-only badges are refused. Until the honor prompt is dismissed the visitor
// must confirm each claim.
func (s *Session) Claim(ctx context.Context, badgeID string, req ClaimRequest) (Snapshot, error) {
	return s.mutate(func() error {
		badge, err := s.badge(badgeID)
		if err != nil {
			return err
		}
		if badge.IsSecret() {
			return ErrSecretBadgeManual
		}
		if badge.RequiresQrScan {
			return ErrQrScanRequired
		}
		record := s.store.Record()
		if s.passport.Features.HonorSystemEnabled() && !record.HonorSystemDismissed && !req.HonorConfirmed {
			return ErrHonorConfirmationRequired
		}
		if _, err := s.store.Claim(ctx, badgeID, models.ClaimExtras{}); err != nil {
			return err
		}
		// the prompt is only dismissed once the claim it confirmed is stored
		if req.DontAskAgain && !record.HonorSystemDismissed {
			if _, err := s.store.DismissHonorSystem(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Unclaim clears a regular badge.
func (s *Session) Unclaim(ctx context.Context, badgeID string) (Snapshot, error) {
	return s.mutate(func() error {
		badge, err := s.badge(badgeID)
		if err != nil {
			return err
		}
		if badge.IsSecret() {
			return ErrSecretBadgeManual
		}
		_, err = s.store.Unclaim(ctx, badgeID)
		return err
	})
}

// Toggle flips a regular badge. QR badges can be toggled off but not on.
func (s *Session) Toggle(ctx context.Context, badgeID string) (Snapshot, error) {
	return s.mutate(func() error {
		badge, err := s.badge(badgeID)
		if err != nil {
			return err
		}
		if badge.IsSecret() {
			return ErrSecretBadgeManual
		}
		if badge.RequiresQrScan && !s.store.Record().IsClaimed(badgeID) {
			return ErrQrScanRequired
		}
		_, err = s.store.Toggle(ctx, badgeID)
		return err
	})
}

// ScanClaim claims a badge from scanned QR data. Scan failures carry their
// visitor-facing reason and can be retried freely.
func (s *Session) ScanClaim(ctx context.Context, badgeID, data string) (Snapshot, error) {
	return s.mutate(func() error {
		badge, err := s.badge(badgeID)
		if err != nil {
			return err
		}
		if badge.ClaimSecret == "" {
			return ErrQrNotConfigured
		}
		expected := ClaimToken{PassportID: s.PassportID, BadgeID: badge.ID, Secret: badge.ClaimSecret}
		if err := ValidateQrScan(data, expected); err != nil {
			log.WithFields(log.Fields{"passport": s.PassportID, "badge": badgeID}).
				Infof("[SCAN] rejected: %v", err)
			return err
		}
		_, err = s.store.Claim(ctx, badgeID, models.ClaimExtras{ViaQrScan: true})
		return err
	})
}

// DismissHonorSystem permanently skips the honor prompt.
func (s *Session) DismissHonorSystem(ctx context.Context) (Snapshot, error) {
	return s.mutate(func() error {
		_, err := s.store.DismissHonorSystem(ctx)
		return err
	})
}

// ResetAll starts over: pending unlocks are cancelled and queued
// celebrations dropped before the record is reset, so nothing from the old
// state can land on the new one.
func (s *Session) ResetAll(ctx context.Context) (Snapshot, error) {
	return s.mutate(func() error {
		s.engine.Cancel()
		s.queue.Clear()
		s.sounds.Drain()
		_, err := s.store.ResetAll(ctx)
		return err
	})
}

// CurrentNotification is the celebration to show now, if any.
func (s *Session) CurrentNotification() (*Notification, error) {
	var n *Notification
	err := s.do(func() error {
		n = s.queue.Current()
		return nil
	})
	return n, err
}

// DismissNotification removes the shown celebration.
func (s *Session) DismissNotification() (Snapshot, error) {
	return s.mutate(func() error {
		s.queue.DismissCurrent()
		return nil
	})
}

// DrainSoundCues returns and clears the pending sound cues.
func (s *Session) DrainSoundCues() ([]string, error) {
	var cues []string
	err := s.do(func() error {
		cues = s.sounds.Drain()
		return nil
	})
	return cues, err
}

// Certificate builds the completion certificate for the current record.
func (s *Session) Certificate() (*Certificate, error) {
	var cert *Certificate
	err := s.do(func() error {
		cert = BuildCertificate(s.passport, s.store.Record(), s.engine, s.loc, s.clock.Now())
		return nil
	})
	return cert, err
}

// IdleSince reports when the session was last used.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Close tears the session down. Pending unlocks are cancelled; later calls
// return ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.engine.Cancel()
	s.queue.Clear()
}

func (s *Session) mutate(fn func() error) (Snapshot, error) {
	var snap Snapshot
	err := s.do(func() error {
		if err := fn(); err != nil {
			return err
		}
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

func (s *Session) badge(badgeID string) (models.Badge, error) {
	badge, ok := s.passport.BadgeByID(badgeID)
	if !ok {
		return models.Badge{}, ErrBadgeNotFound
	}
	return badge, nil
}
