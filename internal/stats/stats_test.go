package stats

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailureRate(t *testing.T) {
	s := NewStats(nil)
	assert.Zero(t, s.FailureRate())
	assert.Zero(t, s.Summary(0).FailureRate)

	outcomes := []struct {
		status int
		err    error
		failed bool
	}{
		{200, nil, false},
		{201, nil, false},
		{302, nil, false},
		{404, nil, true},
		{500, nil, true},
		{0, errors.New("dial tcp: connection refused"), true},
		{200, nil, false},
		{200, nil, false},
	}
	for _, o := range outcomes {
		assert.Equal(t, o.failed, s.Record(o.status, time.Millisecond, 10, o.err))
	}

	sum := s.Summary(time.Second)
	assert.EqualValues(t, 8, sum.Requests)
	assert.EqualValues(t, 3, sum.Failed)
	assert.InDelta(t, 3.0/8.0, sum.FailureRate, 1e-9)
	assert.EqualValues(t, 80, sum.Bytes)
}

func TestCustomFailedClass(t *testing.T) {
	class, err := ParseStatusClass([]string{"500-599", "429"})
	require.NoError(t, err)

	s := NewStats(class)
	assert.False(t, s.Record(404, time.Millisecond, 0, nil))
	assert.True(t, s.Record(429, time.Millisecond, 0, nil))
	assert.True(t, s.Record(503, time.Millisecond, 0, nil))
}

func TestParseStatusClass_Invalid(t *testing.T) {
	for _, spec := range []string{"abc", "600-500", "42", "200-"} {
		_, err := ParseStatusClass([]string{spec})
		assert.Error(t, err, spec)
	}
}

func TestPercentile_NearestRank(t *testing.T) {
	var samples []time.Duration
	for i := 1; i <= 100; i++ {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}

	assert.Equal(t, 95*time.Millisecond, Percentile(samples, 95))
	assert.Equal(t, 50*time.Millisecond, Percentile(samples, 50))
	assert.Equal(t, 1*time.Millisecond, Percentile(samples, 0))
	assert.Equal(t, 100*time.Millisecond, Percentile(samples, 100))
	assert.Zero(t, Percentile(nil, 95))

	small := []time.Duration{15, 20, 35, 40, 50}
	assert.Equal(t, time.Duration(20), Percentile(small, 30))
	assert.Equal(t, time.Duration(35), Percentile(small, 50))
	assert.Equal(t, time.Duration(50), Percentile(small, 95))
}

func TestPercentile_OrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	samples := make([]time.Duration, 500)
	for i := range samples {
		samples[i] = time.Duration(rng.Intn(2000)) * time.Millisecond
	}
	want := map[float64]time.Duration{}
	for _, p := range []float64{50, 90, 95, 99} {
		want[p] = Percentile(samples, p)
	}

	for round := 0; round < 5; round++ {
		rng.Shuffle(len(samples), func(i, j int) { samples[i], samples[j] = samples[j], samples[i] })
		for p, v := range want {
			assert.Equal(t, v, Percentile(samples, p))
		}
	}
}

func TestRecord_Concurrent(t *testing.T) {
	s := NewStats(nil)
	var wg sync.WaitGroup
	for w := 0; w < 50; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				status := 200
				if i%10 == 0 {
					status = 500
				}
				s.Record(status, time.Duration(w+i)*time.Microsecond, 1, nil)
			}
			s.IterationDone()
		}(w)
	}
	wg.Wait()

	sum := s.Summary(time.Second)
	assert.EqualValues(t, 10000, sum.Requests)
	assert.EqualValues(t, 1000, sum.Failed)
	assert.EqualValues(t, 50, sum.Iterations)
	assert.InDelta(t, 0.1, sum.FailureRate, 1e-9)
	assert.EqualValues(t, 10000, s.Duration.TotalCount())
	assert.LessOrEqual(t, sum.Duration.Min, sum.Duration.Med)
	assert.LessOrEqual(t, sum.Duration.P95, sum.Duration.Max)
}

type countingObserver struct {
	mu     sync.Mutex
	total  int
	failed int
}

func (o *countingObserver) ObserveRequest(_ time.Duration, failed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.total++
	if failed {
		o.failed++
	}
}

func TestObserver(t *testing.T) {
	s := NewStats(nil)
	o := &countingObserver{}
	s.SetObserver(o)

	s.Record(200, time.Millisecond, 0, nil)
	s.Record(503, time.Millisecond, 0, nil)

	assert.Equal(t, 2, o.total)
	assert.Equal(t, 1, o.failed)
}
