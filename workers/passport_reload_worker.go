// workers/passport_reload_worker.go
package workers

import (
	"context"
	"time"

	"event-passport/services"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// PassportReloadWorker picks up passport.json edits made outside the admin
// editor: when a cached document's modification time changes, the cache
// entry and that passport's sessions are dropped.
type PassportReloadWorker struct {
	catalog  *services.PassportCatalog
	sessions *services.SessionManager
	interval time.Duration
	clock    clockwork.Clock

	seen map[string]time.Time
}

func NewPassportReloadWorker(catalog *services.PassportCatalog, sessions *services.SessionManager, interval time.Duration, clock clockwork.Clock) *PassportReloadWorker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PassportReloadWorker{
		catalog:  catalog,
		sessions: sessions,
		interval: interval,
		clock:    clock,
		seen:     map[string]time.Time{},
	}
}

func (w *PassportReloadWorker) Start(ctx context.Context) {
	log.Printf("🔁 [RELOAD] watching %s every %s", w.catalog.Root, w.interval)
	go w.run(ctx)
}

func (w *PassportReloadWorker) run(ctx context.Context) {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			w.Check()
		case <-ctx.Done():
			log.Println("⏹️ [RELOAD] worker stopped")
			return
		}
	}
}

// Check compares every cached passport against its file once and returns
// the ids that were reloaded.
func (w *PassportReloadWorker) Check() []string {
	var reloaded []string
	for _, id := range w.catalog.CachedIDs() {
		modTime := w.catalog.ModTime(id)
		last, known := w.seen[id]
		w.seen[id] = modTime
		if !known || modTime.Equal(last) {
			continue
		}

		w.catalog.Invalidate(id)
		n := w.sessions.InvalidatePassport(id)
		log.WithField("passport", id).Infof("[RELOAD] passport.json changed, reopened %d sessions", n)
		reloaded = append(reloaded, id)
	}
	return reloaded
}
