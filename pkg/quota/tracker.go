package quota

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for quota tracking.
var (
	quotaUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collector_quota_used",
		Help: "Requests counted against the daily budget",
	})

	quotaBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_quota_blocks_total",
		Help: "Total number of requests refused locally by the daily budget",
	})

	quotaExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_quota_exhausted_total",
		Help: "Total number of quota exhaustion signals from the provider",
	})
)

// Tracker gates requests against the daily budget.
type Tracker interface {
	// Allow counts one request and reports whether it may be issued.
	Allow(ctx context.Context) (bool, error)

	// MarkExhausted records a provider quota signal; Allow refuses until the given time.
	MarkExhausted(ctx context.Context, until time.Time) error

	// State returns the current quota state.
	State(ctx context.Context) (*State, error)
}

// MemoryTracker keeps the budget in process memory.
type MemoryTracker struct {
	budget int
	now    func() time.Time
	logger zerolog.Logger

	mu        sync.Mutex
	day       string
	used      int
	exhausted time.Time
}

// NewMemoryTracker creates a tracker with the given daily budget (0 = unlimited).
func NewMemoryTracker(budget int, logger zerolog.Logger) *MemoryTracker {
	return &MemoryTracker{
		budget: budget,
		now:    time.Now,
		logger: logger,
	}
}

// Allow implements Tracker.
func (t *MemoryTracker) Allow(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.roll(now)

	if now.Before(t.exhausted) {
		quotaBlocksTotal.Inc()
		return false, nil
	}
	if t.budget > 0 && t.used >= t.budget {
		t.logger.Warn().
			Int("used", t.used).
			Int("budget", t.budget).
			Msg("Daily budget exhausted - blocking request")
		quotaBlocksTotal.Inc()
		return false, nil
	}

	t.used++
	quotaUsed.Set(float64(t.used))
	return true, nil
}

// MarkExhausted implements Tracker.
func (t *MemoryTracker) MarkExhausted(ctx context.Context, until time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if until.After(t.exhausted) {
		t.exhausted = until
	}
	quotaExhaustedTotal.Inc()
	t.logger.Warn().Time("until", until).Msg("Quota exhausted")
	return nil
}

// State implements Tracker.
func (t *MemoryTracker) State(ctx context.Context) (*State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.roll(now)
	return &State{
		Used:           t.used,
		Budget:         t.budget,
		ResetAt:        NextReset(now),
		ExhaustedUntil: t.exhausted,
	}, nil
}

func (t *MemoryTracker) roll(now time.Time) {
	day := now.UTC().Format("20060102")
	if day != t.day {
		t.day = day
		t.used = 0
	}
}
