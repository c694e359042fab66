package keepalive

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ambilio/workspace-console/internal/metrics"
)

// Tracker remembers which instances the user opened recently. The
// keepalive sweep only pings those; an idle workspace is allowed to
// expire on the server's schedule.
type Tracker struct {
	mu     sync.Mutex
	opened map[string]time.Time
	now    func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{opened: make(map[string]time.Time), now: time.Now}
}

func (t *Tracker) MarkOpened(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opened[id] = t.now()
}

func (t *Tracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.opened, id)
}

// Recent returns ids opened within the window and drops the rest.
func (t *Tracker) Recent(window time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	out := make([]string, 0, len(t.opened))
	for id, at := range t.opened {
		if at.Before(cutoff) {
			delete(t.opened, id)
			continue
		}
		out = append(out, id)
	}
	return out
}

// Beater is the advisory liveness call; failures are already swallowed
// by the lifecycle client.
type Beater interface {
	Heartbeat(ctx context.Context, id string) bool
}

// Runner periodically heartbeats recently opened instances so the
// control plane defers their automatic expiry while someone is working.
type Runner struct {
	beater   Beater
	tracker  *Tracker
	interval time.Duration
	window   time.Duration
}

func NewRunner(beater Beater, tracker *Tracker, interval, window time.Duration) *Runner {
	return &Runner{beater: beater, tracker: tracker, interval: interval, window: window}
}

func (r *Runner) Start(ctx context.Context) {
	go r.runEvery(ctx)
}

func (r *Runner) runEvery(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	ids := r.tracker.Recent(r.window)
	if len(ids) == 0 {
		return
	}

	start := time.Now()
	ok := 0
	for _, id := range ids {
		if r.beater.Heartbeat(ctx, id) {
			ok++
		} else {
			// A failed beat stops counting as activity; the next open
			// re-registers it.
			r.tracker.Forget(id)
		}
	}
	durMS := float64(time.Since(start).Milliseconds())

	status := "ok"
	if ok < len(ids) {
		status = "partial"
	}
	log.Printf("keepalive sweep status=%s sent=%d ok=%d duration_ms=%d", status, len(ids), ok, int64(durMS))
	metrics.Default().IncCounter("console_keepalive_runs_total", map[string]string{"status": status})
	metrics.Default().ObserveHistogram("console_keepalive_duration_ms", durMS, nil)
}
