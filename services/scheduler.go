// services/scheduler.go
package services

import (
	"time"

	"github.com/go-co-op/gocron/v2"
	log "github.com/sirupsen/logrus"
)

// StartSessionJanitor closes idle sessions every interval. The returned
// scheduler must be shut down by the caller.
func (m *SessionManager) StartSessionJanitor(interval, idleTTL time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithClock(m.Clock))
	if err != nil {
		return nil, err
	}

	// Every interval: drop sessions nobody touched within idleTTL
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if n := m.EvictIdle(idleTTL); n > 0 {
				log.Printf("[Scheduler] Evicted %d idle sessions", n)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}

	sched.Start()
	return sched, nil
}
