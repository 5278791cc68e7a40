package metrics

import (
	"sync"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

// LatencyRecorder keeps a rolling HDR histogram of operation durations for
// in-process percentile queries (p50/p95/p99), complementing the
// Prometheus histograms above which are for scraping, not ad-hoc queries.
// Grounded in the HdrHistogram usage the wal example pack carries for its
// own latency-sensitive append/fsync path.
type LatencyRecorder struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

// NewLatencyRecorder builds a recorder covering [1us, 10min] with 3
// significant digits of precision, generous enough for merge and search
// paths alike.
func NewLatencyRecorder() *LatencyRecorder {
	return &LatencyRecorder{
		hist: hdrhistogram.New(1, (10 * time.Minute).Microseconds(), 3),
	}
}

// Record adds one observed duration.
func (r *LatencyRecorder) Record(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.hist.RecordValue(d.Microseconds())
}

// ValueAtQuantile returns the duration at the given percentile (0-100).
func (r *LatencyRecorder) ValueAtQuantile(q float64) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.hist.ValueAtQuantile(q)) * time.Microsecond
}

// Reset clears all recorded observations.
func (r *LatencyRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hist.Reset()
}
