package cron

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"camcopy/api"
)

// AlertSource lists policy alerts. Implemented by api.Client.
type AlertSource interface {
	PolicyAlerts(ctx context.Context, q api.AlertQuery) ([]api.Alert, error)
}

// DispatchFunc runs a batch of alerts through the footage pipeline.
type DispatchFunc func(ctx context.Context, alerts []api.Alert)

// Watcher polls the policy alert feed on a schedule and dispatches footage
// jobs for alerts it has not seen before.
type Watcher struct {
	source    AlertSource
	dispatch  DispatchFunc
	query     api.AlertQuery
	schedule  *cron.Cron
	spec      string

	mu       sync.Mutex
	seen     map[string]bool
	lastPoll time.Time
}

// NewWatcher creates an alert watcher. spec is a cron expression (robfig
// syntax, e.g. "*/5 * * * *" or "@every 5m").
func NewWatcher(source AlertSource, dispatch DispatchFunc, query api.AlertQuery, spec string) *Watcher {
	return &Watcher{
		source:   source,
		dispatch: dispatch,
		query:    query,
		spec:     spec,
		seen:     make(map[string]bool),
		lastPoll: time.Now(),
	}
}

// Start runs one poll immediately, then polls on the schedule until the
// context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.pollOnce(ctx)

	w.schedule = cron.New()
	if _, err := w.schedule.AddFunc(w.spec, func() { w.pollOnce(ctx) }); err != nil {
		return err
	}
	w.schedule.Start()
	log.Printf("[watch] Alert watcher started, schedule %q", w.spec)

	<-ctx.Done()
	w.schedule.Stop()
	log.Println("[watch] Alert watcher stopped")
	return nil
}

// pollOnce lists alerts newer than the previous poll and dispatches the
// unseen ones.
func (w *Watcher) pollOnce(ctx context.Context) {
	w.mu.Lock()
	since := w.lastPoll
	w.mu.Unlock()

	q := w.query
	// Reach back one poll interval's worth of slack so a slow feed cannot
	// drop alerts on the boundary; the seen set deduplicates overlap.
	q.AfterMs = since.Add(-time.Minute).UnixMilli()

	alerts, err := w.source.PolicyAlerts(ctx, q)
	if err != nil {
		log.Printf("[watch] Error polling alerts: %v", err)
		return
	}

	w.mu.Lock()
	w.lastPoll = time.Now()
	fresh := make([]api.Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.ID == "" || w.seen[a.ID] {
			continue
		}
		w.seen[a.ID] = true
		fresh = append(fresh, a)
	}
	w.mu.Unlock()

	if len(fresh) == 0 {
		log.Println("[watch] No new alerts")
		return
	}

	log.Printf("[watch] Dispatching %d new alerts", len(fresh))
	w.dispatch(ctx, fresh)
}
