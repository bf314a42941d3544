package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/echoservice/internal/config"
)

const (
	defaultWindowSeconds = 300
	defaultMinSamples    = 5
)

// FailureRateDetector tracks per-kind verification outcomes in a sliding
// window and warns when the failure rate crosses the threshold.
type FailureRateDetector struct {
	mu        sync.Mutex
	failures  map[string]*slidingWindow
	successes map[string]*slidingWindow
	cfg       config.FailureRateConfig
	logger    *slog.Logger
	now       func() time.Time
}

type slidingWindow struct {
	entries []time.Time
	window  time.Duration
}

// NewFailureRateDetector creates a detector from config.
func NewFailureRateDetector(cfg *config.FailureRateConfig, logger *slog.Logger) *FailureRateDetector {
	c := *cfg
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = defaultWindowSeconds
	}
	if c.MinSamples <= 0 {
		c.MinSamples = defaultMinSamples
	}
	return &FailureRateDetector{
		failures:  make(map[string]*slidingWindow),
		successes: make(map[string]*slidingWindow),
		cfg:       c,
		logger:    logger,
		now:       time.Now,
	}
}

// Record adds one outcome for kind and reports whether the kind's failure
// rate now exceeds the threshold. Only failures can trip the detector.
func (d *FailureRateDetector) Record(kind string, success bool) bool {
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if success {
		d.window(d.successes, kind).add(now)
		return false
	}
	d.window(d.failures, kind).add(now)
	return d.check(kind, now)
}

// Rate returns the failure rate for kind within the window and the number
// of samples it is based on.
func (d *FailureRateDetector) Rate(kind string) (float64, int) {
	if d == nil {
		return 0, 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	failed := d.window(d.failures, kind).count(now)
	total := failed + d.window(d.successes, kind).count(now)
	if total == 0 {
		return 0, 0
	}
	return float64(failed) / float64(total), total
}

// check must be called with d.mu held.
func (d *FailureRateDetector) check(kind string, now time.Time) bool {
	if d.cfg.Threshold <= 0 {
		return false
	}
	failed := d.window(d.failures, kind).count(now)
	total := failed + d.window(d.successes, kind).count(now)
	if total < d.cfg.MinSamples {
		return false
	}
	rate := float64(failed) / float64(total)
	if rate <= d.cfg.Threshold {
		return false
	}
	if d.logger != nil {
		d.logger.Warn("verification failure rate above threshold",
			slog.String("kind", kind),
			slog.Float64("failure_rate", rate),
			slog.Float64("threshold", d.cfg.Threshold),
			slog.Int("failures", failed),
			slog.Int("total", total),
		)
	}
	return true
}

func (d *FailureRateDetector) window(m map[string]*slidingWindow, key string) *slidingWindow {
	w, ok := m[key]
	if !ok {
		w = &slidingWindow{window: time.Duration(d.cfg.WindowSeconds) * time.Second}
		m[key] = w
	}
	return w
}

func (w *slidingWindow) add(now time.Time) {
	w.entries = append(w.entries, now)
	w.prune(now)
}

func (w *slidingWindow) count(now time.Time) int {
	w.prune(now)
	return len(w.entries)
}

// prune removes entries older than the window duration.
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}
