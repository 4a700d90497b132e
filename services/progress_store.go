package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"event-passport/models"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// ErrProgressNotFound is returned by a backend when no record is stored
// under a key. It is a normal condition for first-time visitors.
var ErrProgressNotFound = errors.New("progress record not found")

// ProgressBackend stores serialized progress records by key.
type ProgressBackend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

// ProgressKey namespaces a visitor's record by passport so events never
// collide in storage.
func ProgressKey(passportID, visitorID string) string {
	return fmt.Sprintf("passport-%s:%s", passportID, visitorID)
}

// ProgressStore is the write-through store for one visitor's record of one
// passport. It is not safe for concurrent use; the owning session
// serializes access.
type ProgressStore struct {
	backend     ProgressBackend
	key         string
	clock       clockwork.Clock
	record      models.ProgressRecord
	subscribers []func(models.ProgressRecord)
}

// LoadProgressStore reads the stored record. Missing, corrupt or
// version-mismatched data yields the default record; read failures are
// logged and never returned.
func LoadProgressStore(ctx context.Context, backend ProgressBackend, clock clockwork.Clock, passportID, visitorID string) *ProgressStore {
	s := &ProgressStore{
		backend: backend,
		key:     ProgressKey(passportID, visitorID),
		clock:   clock,
	}
	s.record = s.load(ctx)
	return s
}

func (s *ProgressStore) load(ctx context.Context) models.ProgressRecord {
	data, err := s.backend.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, ErrProgressNotFound) {
			log.WithField("key", s.key).Warnf("[PROGRESS] read failed, starting fresh: %v", err)
		}
		return models.NewProgressRecord()
	}

	var record models.ProgressRecord
	if err := json.Unmarshal(data, &record); err != nil {
		log.WithField("key", s.key).Warnf("[PROGRESS] corrupt record, starting fresh: %v", err)
		return models.NewProgressRecord()
	}
	if record.Version != models.ProgressSchemaVersion {
		log.WithField("key", s.key).Warnf("[PROGRESS] schema version %d != %d, starting fresh",
			record.Version, models.ProgressSchemaVersion)
		return models.NewProgressRecord()
	}
	if record.Badges == nil {
		record.Badges = map[string]models.BadgeClaim{}
	}
	return record
}

// Subscribe registers fn to receive the new record after every successful
// mutation.
func (s *ProgressStore) Subscribe(fn func(models.ProgressRecord)) {
	s.subscribers = append(s.subscribers, fn)
}

// Record returns a copy of the current record.
func (s *ProgressStore) Record() models.ProgressRecord {
	return s.record.Clone()
}

// commit persists next and only then makes it current.
func (s *ProgressStore) commit(ctx context.Context, next models.ProgressRecord) (models.ProgressRecord, error) {
	data, err := json.Marshal(next)
	if err != nil {
		return s.Record(), fmt.Errorf("encode progress: %w", err)
	}
	if err := s.backend.Put(ctx, s.key, data); err != nil {
		return s.Record(), fmt.Errorf("persist progress: %w", err)
	}
	s.record = next
	for _, fn := range s.subscribers {
		fn(s.Record())
	}
	return s.Record(), nil
}

func (s *ProgressStore) now() *time.Time {
	t := s.clock.Now().UTC()
	return &t
}

// SetName sets the display name. CreatedAt is only written the first time.
func (s *ProgressStore) SetName(ctx context.Context, name string) (models.ProgressRecord, error) {
	next := s.record.Clone()
	next.Name = name
	if next.CreatedAt == nil {
		next.CreatedAt = s.now()
	}
	return s.commit(ctx, next)
}

// Claim marks a badge claimed now. Claiming an already claimed badge only
// refreshes ClaimedAt.
func (s *ProgressStore) Claim(ctx context.Context, badgeID string, extras models.ClaimExtras) (models.ProgressRecord, error) {
	next := s.record.Clone()
	next.Badges[badgeID] = models.BadgeClaim{
		Claimed:     true,
		ClaimedAt:   s.now(),
		ClaimExtras: extras,
	}
	return s.commit(ctx, next)
}

// Unclaim marks a badge explicitly unclaimed.
func (s *ProgressStore) Unclaim(ctx context.Context, badgeID string) (models.ProgressRecord, error) {
	next := s.record.Clone()
	next.Badges[badgeID] = models.BadgeClaim{}
	return s.commit(ctx, next)
}

// Toggle flips the claimed state. The store does not know badge types;
// callers must not toggle secret badges.
func (s *ProgressStore) Toggle(ctx context.Context, badgeID string) (models.ProgressRecord, error) {
	next := s.record.Clone()
	if next.Badges[badgeID].Claimed {
		next.Badges[badgeID] = models.BadgeClaim{}
	} else {
		next.Badges[badgeID] = models.BadgeClaim{Claimed: true, ClaimedAt: s.now()}
	}
	return s.commit(ctx, next)
}

// DismissHonorSystem permanently skips the honor-system prompt.
func (s *ProgressStore) DismissHonorSystem(ctx context.Context) (models.ProgressRecord, error) {
	next := s.record.Clone()
	next.HonorSystemDismissed = true
	return s.commit(ctx, next)
}

// ResetAll restores the default record.
func (s *ProgressStore) ResetAll(ctx context.Context) (models.ProgressRecord, error) {
	return s.commit(ctx, models.NewProgressRecord())
}

// ClaimTime formats the claim time like "3:04 PM" in loc. The second result
// is false when the badge has no claim time.
func (s *ProgressStore) ClaimTime(badgeID string, loc *time.Location) (string, bool) {
	return FormatClaimTime(s.record, badgeID, loc)
}

// ClaimedCount counts badges with claimed == true.
func (s *ProgressStore) ClaimedCount() int {
	return CountClaimed(s.record)
}

// FormatClaimTime formats a record's claim time for badgeID.
func FormatClaimTime(record models.ProgressRecord, badgeID string, loc *time.Location) (string, bool) {
	claim, ok := record.Badges[badgeID]
	if !ok || claim.ClaimedAt == nil {
		return "", false
	}
	if loc == nil {
		loc = time.UTC
	}
	return claim.ClaimedAt.In(loc).Format("3:04 PM"), true
}

// CountClaimed counts claimed badges in a record.
func CountClaimed(record models.ProgressRecord) int {
	n := 0
	for _, claim := range record.Badges {
		if claim.Claimed {
			n++
		}
	}
	return n
}
