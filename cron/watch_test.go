package cron

import (
	"context"
	"sync"
	"testing"
	"time"

	"camcopy/api"
)

type fakeAlertSource struct {
	mu      sync.Mutex
	alerts  []api.Alert
	queries []api.AlertQuery
	err     error
}

func (f *fakeAlertSource) PolicyAlerts(ctx context.Context, q api.AlertQuery) ([]api.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.alerts, f.err
}

func TestPollOnceDispatchesUnseenAlerts(t *testing.T) {
	source := &fakeAlertSource{alerts: []api.Alert{
		{ID: "a-1", DeviceUUID: "cam-1", TimestampMs: 1700000000000},
		{ID: "a-2", DeviceUUID: "cam-2", TimestampMs: 1700000001000},
	}}

	var dispatched [][]api.Alert
	w := NewWatcher(source, func(ctx context.Context, alerts []api.Alert) {
		dispatched = append(dispatched, alerts)
	}, api.AlertQuery{MaxResults: 100}, "@every 5m")

	w.pollOnce(context.Background())
	if len(dispatched) != 1 || len(dispatched[0]) != 2 {
		t.Fatalf("Expected one dispatch of 2 alerts, got %v", dispatched)
	}

	// The same feed content again: everything is already seen.
	w.pollOnce(context.Background())
	if len(dispatched) != 1 {
		t.Errorf("Seen alerts must not be dispatched again, got %d dispatches", len(dispatched))
	}

	// A new alert joins the feed; only it goes out.
	source.mu.Lock()
	source.alerts = append(source.alerts, api.Alert{ID: "a-3", DeviceUUID: "cam-1", TimestampMs: 1700000002000})
	source.mu.Unlock()
	w.pollOnce(context.Background())
	if len(dispatched) != 2 || len(dispatched[1]) != 1 || dispatched[1][0].ID != "a-3" {
		t.Errorf("Expected only the new alert, got %v", dispatched)
	}
}

func TestPollOnceQueriesWithSlack(t *testing.T) {
	source := &fakeAlertSource{}
	w := NewWatcher(source, func(ctx context.Context, alerts []api.Alert) {
		t.Error("Empty feed must not dispatch")
	}, api.AlertQuery{MaxResults: 100}, "@every 5m")

	before := time.Now()
	w.pollOnce(context.Background())

	source.mu.Lock()
	defer source.mu.Unlock()
	if len(source.queries) != 1 {
		t.Fatalf("Expected 1 query, got %d", len(source.queries))
	}
	q := source.queries[0]
	if q.MaxResults != 100 {
		t.Errorf("MaxResults = %d, want 100", q.MaxResults)
	}
	// The window reaches back a minute behind the last poll time.
	earliest := before.Add(-2 * time.Minute).UnixMilli()
	if q.AfterMs < earliest || q.AfterMs > before.UnixMilli() {
		t.Errorf("AfterMs = %d, outside the expected slack window", q.AfterMs)
	}
}

func TestPollOnceSkipsAlertsWithoutID(t *testing.T) {
	source := &fakeAlertSource{alerts: []api.Alert{
		{ID: "", DeviceUUID: "cam-1", TimestampMs: 1700000000000},
	}}
	w := NewWatcher(source, func(ctx context.Context, alerts []api.Alert) {
		t.Error("Alerts without an id must not be dispatched")
	}, api.AlertQuery{}, "@every 5m")

	w.pollOnce(context.Background())
}
