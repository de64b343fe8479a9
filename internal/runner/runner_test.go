package runner

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vugate/internal/checks"
	"vugate/internal/dummy"
	"vugate/internal/scheduler"
	"vugate/internal/threshold"
)

func isStatus200(r RequestResult) bool { return r.Status == http.StatusOK }

func getAndCheck(url string) Workload {
	return func(vu *VU) {
		res := vu.Get(url)
		vu.Check("is status 200", isStatus200, res)
	}
}

func evaluate(t *testing.T, res Result, spec map[string][]string) threshold.Result {
	t.Helper()
	set, err := threshold.ParseAll(spec)
	require.NoError(t, err)
	passes, total := checks.Sum(res.Checks)
	return set.Evaluate(threshold.Metrics{
		Summary:      res.Summary,
		ChecksPassed: passes,
		ChecksTotal:  total,
		VUsMax:       res.VUsMax,
	})
}

var gates = map[string][]string{
	threshold.MetricHTTPReqFailed:   {"rate<0.01"},
	threshold.MetricHTTPReqDuration: {"p(95)<1000"},
}

func TestRun_NoStagesSingleVU(t *testing.T) {
	srv := httptest.NewServer(dummy.Handler(dummy.ServerConfig{}))
	defer srv.Close()

	r, err := NewRunner(Config{}, getAndCheck(srv.URL+"/"), nil, WithLogger(quietLog()))
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 1, res.Summary.Requests)
	assert.EqualValues(t, 1, res.Summary.Iterations)
	assert.Zero(t, res.Summary.FailureRate)
	assert.Equal(t, 1, res.VUsMax)
	assert.False(t, res.Interrupted)
	require.Len(t, res.Checks, 1)
	assert.EqualValues(t, 1, res.Checks[0].Passes)
	// Pause is skipped once the last iteration is done.
	assert.Less(t, res.Elapsed, DefaultPause)

	verdict := evaluate(t, res, nil)
	assert.True(t, verdict.Passed)
}

func TestRun_StagedRampAllPass(t *testing.T) {
	srv := httptest.NewServer(dummy.Handler(dummy.ServerConfig{}))
	defer srv.Close()

	cfg := Config{
		Stages:          []scheduler.Stage{{Duration: 1500 * time.Millisecond, Target: 10}},
		Pause:           20 * time.Millisecond,
		ControlInterval: 100 * time.Millisecond,
	}
	r, err := NewRunner(cfg, getAndCheck(srv.URL+"/fast"), nil, WithLogger(quietLog()))
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Elapsed, 1500*time.Millisecond)
	assert.Greater(t, res.Summary.Requests, uint64(20))
	assert.Zero(t, res.Summary.FailureRate)
	assert.Less(t, res.Summary.Duration.P95, time.Second)
	assert.GreaterOrEqual(t, res.VUsMax, 5)
	assert.LessOrEqual(t, res.VUsMax, 10)

	verdict := evaluate(t, res, gates)
	assert.True(t, verdict.Passed)
	for _, o := range verdict.Outcomes {
		assert.True(t, o.Passed, o.Metric)
	}
}

func TestRun_FivePercentServerErrorsBreachFailureGate(t *testing.T) {
	var n atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1)%20 == 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := Config{VUs: 5, Duration: time.Second, Pause: 2 * time.Millisecond, ControlInterval: 100 * time.Millisecond}
	r, err := NewRunner(cfg, getAndCheck(srv.URL), nil, WithLogger(quietLog()))
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Greater(t, res.Summary.Requests, uint64(100))
	assert.InDelta(t, 0.05, res.Summary.FailureRate, 0.01)

	verdict := evaluate(t, res, gates)
	assert.False(t, verdict.Passed)
	for _, o := range verdict.Outcomes {
		switch o.Metric {
		case threshold.MetricHTTPReqFailed:
			assert.False(t, o.Passed)
		case threshold.MetricHTTPReqDuration:
			assert.True(t, o.Passed)
		}
	}

	require.Len(t, res.Checks, 1)
	assert.Equal(t, res.Summary.Failed, res.Checks[0].Fails)
}

func TestRun_CheckTalliesExactAcrossVUs(t *testing.T) {
	work := func(vu *VU) {
		vu.Check("is status 200", isStatus200, RequestResult{Status: 200})
		vu.Check("is status 200", isStatus200, RequestResult{Status: 503})
	}
	r, err := NewRunner(Config{VUs: 50}, work, nil, WithLogger(quietLog()))
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Checks, 1)
	assert.EqualValues(t, 50, res.Checks[0].Passes)
	assert.EqualValues(t, 50, res.Checks[0].Fails)
	assert.EqualValues(t, 50, res.Summary.Iterations)
	assert.Equal(t, 50, res.VUsMax)
}

func TestRun_TransportErrorIsRecordedNotRaised(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	var got RequestResult
	work := func(vu *VU) { got = vu.Get(url) }
	r, err := NewRunner(Config{RequestTimeout: time.Second}, work, nil, WithLogger(quietLog()))
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Error(t, got.Err)
	assert.Zero(t, got.Status)
	assert.True(t, got.Failed)
	assert.EqualValues(t, 1, res.Summary.Failed)
	assert.Equal(t, 1.0, res.Summary.FailureRate)
}

func TestRun_RequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	var got RequestResult
	work := func(vu *VU) {
		got = vu.Request(Request{URL: srv.URL, Timeout: 50 * time.Millisecond})
	}
	r, err := NewRunner(Config{}, work, nil, WithLogger(quietLog()))
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, got.Err, context.DeadlineExceeded)
	assert.Less(t, got.Latency, 400*time.Millisecond)
	assert.EqualValues(t, 1, res.Summary.Failed)
}

func TestRun_TimeoutDuringBodyHasNoStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	var got RequestResult
	work := func(vu *VU) {
		got = vu.Request(Request{URL: srv.URL, Timeout: 100 * time.Millisecond})
		vu.Check("is status 200", isStatus200, got)
	}
	r, err := NewRunner(Config{}, work, nil, WithLogger(quietLog()))
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Error(t, got.Err)
	assert.Zero(t, got.Status)
	assert.True(t, got.Failed)
	assert.EqualValues(t, 1, res.Summary.Failed)
	require.Len(t, res.Checks, 1)
	assert.Zero(t, res.Checks[0].Passes)
}

func TestRun_StragglerAfterGracefulStopDoesNotChangeResult(t *testing.T) {
	release := make(chan struct{})
	var first atomic.Bool
	work := func(vu *VU) {
		if first.CompareAndSwap(false, true) {
			<-release
		}
		vu.Check("late", func(RequestResult) bool { return true }, RequestResult{})
	}
	cfg := Config{
		VUs:          1,
		Duration:     100 * time.Millisecond,
		GracefulStop: 50 * time.Millisecond,
	}
	r, err := NewRunner(cfg, work, nil, WithLogger(quietLog()))
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Checks)

	close(release)
	assert.Eventually(t, func() bool {
		passes, _ := r.Checks.Totals()
		return passes == 1
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, res.Checks)
}

func TestRun_CancelLetsInFlightRequestsFinish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := Config{VUs: 3, Duration: time.Minute}
	r, err := NewRunner(cfg, getAndCheck(srv.URL), nil, WithLogger(quietLog()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res, err := r.Run(ctx)
	require.NoError(t, err)

	assert.True(t, res.Interrupted)
	assert.EqualValues(t, 3, res.Summary.Requests)
	assert.Zero(t, res.Summary.Failed)
	assert.EqualValues(t, 3, res.Summary.Iterations)
	assert.GreaterOrEqual(t, res.Elapsed, 300*time.Millisecond)
	assert.Less(t, res.Elapsed, 5*time.Second)
}

func TestRun_NoVUsIsFatal(t *testing.T) {
	r, err := NewRunner(Config{VUs: 2}, func(*VU) {}, nil, WithLogger(quietLog()))
	require.NoError(t, err)
	r.spawn = func(context.Context) vuFactory {
		return func(int) (*VU, error) { return nil, errors.New("out of file descriptors") }
	}

	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoVUs)
}

func TestNewRunner_InvalidStages(t *testing.T) {
	_, err := NewRunner(Config{Stages: []scheduler.Stage{{Duration: -time.Second, Target: 2}}}, func(*VU) {}, nil)
	assert.ErrorIs(t, err, scheduler.ErrInvalidStage)

	_, err = NewRunner(Config{}, nil, nil)
	assert.Error(t, err)
}

func TestRunner_SnapshotUpdates(t *testing.T) {
	srv := httptest.NewServer(dummy.Handler(dummy.ServerConfig{}))
	defer srv.Close()

	updates := make(StatsUpdateChan, 100)
	cfg := Config{VUs: 2, Duration: 600 * time.Millisecond, Pause: 10 * time.Millisecond}
	r, err := NewRunner(cfg, getAndCheck(srv.URL), updates, WithLogger(quietLog()))
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, updates)
	var last StatsSnapshot
	for len(updates) > 0 {
		last = <-updates
	}
	assert.Greater(t, last.Requests, uint64(0))
	assert.Equal(t, 2, last.VUsMax)
	assert.Equal(t, -1, last.Stage)
}
