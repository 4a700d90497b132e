package services

import (
	"time"

	"event-passport/models"

	"github.com/jonboulle/clockwork"
)

// DefaultNotificationCooldown is the gap between two celebrations.
const DefaultNotificationCooldown = time.Second

// Notification is one queued "badge unlocked" celebration. Seq increases
// monotonically per queue so a stream can tell two entries for the same
// badge apart.
type Notification struct {
	Seq   uint64       `json:"seq"`
	Badge models.Badge `json:"badge"`
	Sound string       `json:"sound,omitempty"`
}

// NotificationQueue shows unlock celebrations one at a time. It does not
// deduplicate; the unlock engine guarantees a badge is enqueued once.
// Not safe for concurrent use.
type NotificationQueue struct {
	clock         clockwork.Clock
	cooldown      time.Duration
	entries       []Notification
	nextSeq       uint64
	cooldownUntil time.Time
}

func NewNotificationQueue(clock clockwork.Clock, cooldown time.Duration) *NotificationQueue {
	return &NotificationQueue{clock: clock, cooldown: cooldown}
}

// Enqueue appends a celebration for badge.
func (q *NotificationQueue) Enqueue(badge models.Badge, sound string) Notification {
	q.nextSeq++
	n := Notification{Seq: q.nextSeq, Badge: badge, Sound: sound}
	q.entries = append(q.entries, n)
	return n
}

// Current returns the head of the queue, or nil when the queue is empty or
// a cooldown is running.
func (q *NotificationQueue) Current() *Notification {
	if len(q.entries) == 0 || q.inCooldown() {
		return nil
	}
	head := q.entries[0]
	return &head
}

// DismissCurrent drops the head. If entries remain, the next one is held
// back for the cooldown. Only a shown entry can be dismissed: during a
// cooldown this is a no-op, so a repeated dismiss never skips one.
func (q *NotificationQueue) DismissCurrent() {
	if q.Current() == nil {
		return
	}
	q.entries = q.entries[1:]
	if len(q.entries) > 0 {
		q.cooldownUntil = q.clock.Now().Add(q.cooldown)
	}
}

// Len is the number of queued entries, including one held by a cooldown.
func (q *NotificationQueue) Len() int {
	return len(q.entries)
}

// Clear drops every entry and cancels a running cooldown.
func (q *NotificationQueue) Clear() {
	q.entries = nil
	q.cooldownUntil = time.Time{}
}

func (q *NotificationQueue) inCooldown() bool {
	return !q.cooldownUntil.IsZero() && q.clock.Now().Before(q.cooldownUntil)
}
