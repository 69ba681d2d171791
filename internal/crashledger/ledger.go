// Package crashledger counts encoder crashes within a sliding time window and
// decides whether the lifecycle controller is still allowed to restart the
// encoder.
package crashledger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/screencastd/screencastd/internal/logger"
)

// Ledger records crash timestamps over a sliding window and answers
// "should restart?" by comparing the pruned count against a threshold.
type Ledger struct {
	mu        sync.Mutex
	instance  string
	threshold int
	window    time.Duration
	crashes   []time.Time
	now       func() time.Time
}

// New returns a Ledger for the named instance. threshold must be >= 1 and
// window must be positive; callers validate these via internal/config before
// construction.
func New(instanceName string, threshold int, window time.Duration) *Ledger {
	return &Ledger{
		instance:  instanceName,
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

// Record appends now() to the crash history and prunes entries older than
// now-window.
func (l *Ledger) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.crashes = append(l.crashes, l.now())
	l.prune()

	logger.Logger().Info("instance_crash_recorded",
		slog.String("instance", l.instance),
		slog.Int("crash_count", len(l.crashes)),
		slog.Int("threshold", l.threshold),
		slog.Float64("window_seconds", l.window.Seconds()),
	)
}

// ShouldRestart returns true iff the pruned crash count is strictly less
// than the configured threshold.
func (l *Ledger) ShouldRestart() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune()
	ok := len(l.crashes) < l.threshold

	if !ok {
		logger.Logger().Warn("instance_restart_denied",
			slog.String("instance", l.instance),
			slog.Int("crash_count", len(l.crashes)),
			slog.Int("threshold", l.threshold),
			slog.Float64("window_seconds", l.window.Seconds()),
		)
	}
	return ok
}

// Reset empties the crash history. Called once the instance has been
// observed healthy, so long-lived instances do not accumulate ancient
// crashes.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.crashes = nil
}

// Count returns the pruned crash count.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune()
	return len(l.crashes)
}

func (l *Ledger) prune() {
	if len(l.crashes) == 0 {
		return
	}
	cutoff := l.now().Add(-l.window)
	kept := l.crashes[:0]
	for _, t := range l.crashes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.crashes = kept
}
