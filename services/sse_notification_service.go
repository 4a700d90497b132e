package services

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// DefaultStreamInterval is how often a notification stream polls its session.
const DefaultStreamInterval = 250 * time.Millisecond

// keepAliveEvery is the number of idle ticks between keepalive comments.
const keepAliveEvery = 60

// NotificationStreamService pushes unlock celebrations and sound cues to a
// visitor over server-sent events.
type NotificationStreamService struct {
	Sessions *SessionManager
	Interval time.Duration
}

func NewNotificationStreamService(sessions *SessionManager, interval time.Duration) *NotificationStreamService {
	if interval <= 0 {
		interval = DefaultStreamInterval
	}
	return &NotificationStreamService{Sessions: sessions, Interval: interval}
}

// StreamNotificationsSSE streams "unlock" events whenever a new celebration
// becomes current and "sound" events for drained sound cues. The stream
// survives session reopening after a passport change.
func (s *NotificationStreamService) StreamNotificationsSSE(c *fiber.Ctx, passportID, visitorID string) error {
	// Fail fast on unknown passports before switching to a stream.
	if _, err := s.Sessions.Get(c.UserContext(), passportID, visitorID); err != nil {
		return err
	}

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	logger := log.WithFields(log.Fields{"passport": passportID, "visitor": visitorID})
	done := c.Context().Done()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()

		var current *Session
		var lastSeq uint64
		idle := 0

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}
		logger.Debug("[SSE] stream opened")

		for {
			select {
			case <-ticker.C:
				session, err := s.Sessions.Get(context.Background(), passportID, visitorID)
				if err != nil {
					logger.Warnf("[SSE] session unavailable: %v", err)
					return
				}

				if session != current {
					// a reopened session numbers its queue from scratch
					current, lastSeq = session, 0
				}

				wrote := false
				n, err := session.CurrentNotification()
				if errors.Is(err, ErrSessionClosed) {
					continue
				}
				if n != nil && n.Seq != lastSeq {
					lastSeq = n.Seq
					writeEvent(w, "unlock", n)
					wrote = true
				}

				cues, _ := session.DrainSoundCues()
				for _, cue := range cues {
					writeEvent(w, "sound", fiber.Map{"sound": cue})
					wrote = true
				}

				if !wrote {
					idle++
					if idle < keepAliveEvery {
						continue
					}
					w.WriteString(":\n\n")
				}
				idle = 0

				if err := w.Flush(); err != nil {
					// Client disconnected
					logger.Debug("[SSE] client disconnected")
					return
				}

			case <-done:
				return
			}
		}
	})

	return nil
}

func writeEvent(w *bufio.Writer, event string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Errorf("[SSE] encode %s event: %v", event, err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
