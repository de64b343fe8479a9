package stats

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Observer mirrors every recorded request, e.g. into Prometheus.
type Observer interface {
	ObserveRequest(latency time.Duration, failed bool)
}

// Stats holds real-time aggregated metrics
type Stats struct {
	Requests   uint64
	Failed     uint64
	Iterations uint64
	Bytes      uint64

	// Live latency view (microsecond resolution) for progress snapshots.
	Duration *SafeHistogram

	failedClass StatusClass
	observer    Observer

	mu      sync.Mutex
	samples []time.Duration
}

func NewStats(failed StatusClass) *Stats {
	if len(failed) == 0 {
		failed = DefaultFailedStatuses
	}
	return &Stats{
		Duration:    NewSafeHistogram(),
		failedClass: failed,
		samples:     make([]time.Duration, 0, 1024),
	}
}

// SetObserver must be called before the run starts.
func (s *Stats) SetObserver(o Observer) {
	s.observer = o
}

// IsFailure applies the failed-request rule: a transport error, or a response
// whose status falls in the failed class.
func (s *Stats) IsFailure(status int, err error) bool {
	if err != nil {
		return true
	}
	return s.failedClass.Contains(status)
}

// Record folds one request outcome into the aggregates and reports whether it
// counted as failed.
func (s *Stats) Record(status int, latency time.Duration, bytes int64, err error) bool {
	failed := s.IsFailure(status, err)

	atomic.AddUint64(&s.Requests, 1)
	if failed {
		atomic.AddUint64(&s.Failed, 1)
	}
	if bytes > 0 {
		atomic.AddUint64(&s.Bytes, uint64(bytes))
	}

	s.Duration.Record(latency)

	s.mu.Lock()
	s.samples = append(s.samples, latency)
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveRequest(latency, failed)
	}
	return failed
}

func (s *Stats) IterationDone() {
	atomic.AddUint64(&s.Iterations, 1)
}

func (s *Stats) FailureRate() float64 {
	reqs := atomic.LoadUint64(&s.Requests)
	if reqs == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&s.Failed)) / float64(reqs)
}

// Trend summarizes a latency distribution.
type Trend struct {
	Avg time.Duration `json:"avg"`
	Min time.Duration `json:"min"`
	Med time.Duration `json:"med"`
	Max time.Duration `json:"max"`
	P90 time.Duration `json:"p90"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// Summary is the read-only view of a finished run's aggregates.
type Summary struct {
	Requests    uint64        `json:"requests"`
	Failed      uint64        `json:"failed"`
	FailureRate float64       `json:"failure_rate"`
	Iterations  uint64        `json:"iterations"`
	Bytes       uint64        `json:"bytes"`
	Elapsed     time.Duration `json:"elapsed"`
	Duration    Trend         `json:"duration"`

	sorted []time.Duration
}

// Summary computes final aggregates from the exact sample set. Call it after
// all VUs have stopped recording.
func (s *Stats) Summary(elapsed time.Duration) Summary {
	s.mu.Lock()
	sorted := make([]time.Duration, len(s.samples))
	copy(sorted, s.samples)
	s.mu.Unlock()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	sum := Summary{
		Requests:    atomic.LoadUint64(&s.Requests),
		Failed:      atomic.LoadUint64(&s.Failed),
		FailureRate: s.FailureRate(),
		Iterations:  atomic.LoadUint64(&s.Iterations),
		Bytes:       atomic.LoadUint64(&s.Bytes),
		Elapsed:     elapsed,
		sorted:      sorted,
	}
	if len(sorted) > 0 {
		var total time.Duration
		for _, d := range sorted {
			total += d
		}
		sum.Duration = Trend{
			Avg: total / time.Duration(len(sorted)),
			Min: sorted[0],
			Med: percentileSorted(sorted, 50),
			Max: sorted[len(sorted)-1],
			P90: percentileSorted(sorted, 90),
			P95: percentileSorted(sorted, 95),
			P99: percentileSorted(sorted, 99),
		}
	}
	return sum
}

// Percentile returns the nearest-rank p-th percentile of the run's latencies.
func (s Summary) Percentile(p float64) time.Duration {
	return percentileSorted(s.sorted, p)
}

// Percentile computes the nearest-rank p-th percentile (0-100) of samples. The
// input is not modified and its order does not matter.
func Percentile(samples []time.Duration, p float64) time.Duration {
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return percentileSorted(sorted, p)
}

// nearest rank: ceil(p/100 * N), clamped to [1, N]
func percentileSorted(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
