package threshold

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vugate/internal/stats"
)

func TestParse(t *testing.T) {
	th, err := Parse(MetricHTTPReqDuration, "p(95)<1000")
	require.NoError(t, err)
	assert.Equal(t, "p", th.Agg)
	assert.Equal(t, 95.0, th.Percentile)
	assert.Equal(t, "<", th.Op)
	assert.Equal(t, 1000.0, th.Value)

	th, err = Parse(MetricHTTPReqFailed, " rate <= 0.01 ")
	require.NoError(t, err)
	assert.Equal(t, "rate", th.Agg)
	assert.Equal(t, "<=", th.Op)
	assert.Equal(t, 0.01, th.Value)
	assert.Equal(t, "rate <= 0.01", th.Expr)

	th, err = Parse(MetricHTTPReqDuration, "p(99.9) >= 2.5")
	require.NoError(t, err)
	assert.Equal(t, 99.9, th.Percentile)

	th, err = Parse(MetricHTTPReqDuration, "p(95) < 1000ms")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, th.Value)

	th, err = Parse(MetricHTTPReqDuration, "avg<1.5s")
	require.NoError(t, err)
	assert.Equal(t, 1500.0, th.Value)
}

func TestParse_Invalid(t *testing.T) {
	cases := []struct{ metric, expr string }{
		{"http_req_waiting", "avg<100"},
		{MetricHTTPReqFailed, "rate<"},
		{MetricHTTPReqFailed, "rate 0.01"},
		{MetricHTTPReqFailed, "p(95)<100"},
		{MetricHTTPReqDuration, "rate<0.1"},
		{MetricHTTPReqDuration, "p(101)<100"},
		{MetricHTTPReqDuration, "p95<100"},
		{MetricHTTPReqs, "count=>10"},
		{MetricHTTPReqFailed, "rate<0.01ms"},
		{MetricHTTPReqs, "count>10s"},
		{MetricHTTPReqDuration, "p(95)<1000us"},
	}
	for _, c := range cases {
		_, err := Parse(c.metric, c.expr)
		require.Error(t, err, "%s: %s", c.metric, c.expr)
		assert.True(t, errors.Is(err, ErrInvalidThreshold))
	}
}

func TestParseAll_Ordering(t *testing.T) {
	set, err := ParseAll(map[string][]string{
		MetricHTTPReqFailed:   {"rate<0.01"},
		MetricHTTPReqDuration: {"p(95)<1000", "avg<200"},
	})
	require.NoError(t, err)
	require.Len(t, set, 3)
	assert.Equal(t, "http_req_duration: p(95)<1000", set[0].String())
	assert.Equal(t, "http_req_duration: avg<200", set[1].String())
	assert.Equal(t, "http_req_failed: rate<0.01", set[2].String())
}

func summaryFrom(t *testing.T, statuses []int, latency func(i int) time.Duration) stats.Summary {
	t.Helper()
	s := stats.NewStats(nil)
	for i, code := range statuses {
		s.Record(code, latency(i), 0, nil)
	}
	return s.Summary(10 * time.Second)
}

func TestEvaluate_AllPass(t *testing.T) {
	statuses := make([]int, 100)
	for i := range statuses {
		statuses[i] = 200
	}
	sum := summaryFrom(t, statuses, func(i int) time.Duration { return time.Duration(i+1) * time.Millisecond })

	set, err := ParseAll(map[string][]string{
		MetricHTTPReqFailed:   {"rate<0.01"},
		MetricHTTPReqDuration: {"p(95)<1000", "max<=100"},
		MetricHTTPReqs:        {"count==100", "rate>=10"},
	})
	require.NoError(t, err)

	res := set.Evaluate(Metrics{Summary: sum})
	assert.True(t, res.Passed)
	for _, o := range res.Outcomes {
		assert.True(t, o.Passed, o.Metric+": "+o.Expr)
	}
	assert.Equal(t, 95.0, res.Outcomes[0].Actual)
}

func TestEvaluate_FailureRateBreach(t *testing.T) {
	statuses := make([]int, 100)
	for i := range statuses {
		statuses[i] = 200
		if i%20 == 0 {
			statuses[i] = 500
		}
	}
	sum := summaryFrom(t, statuses, func(int) time.Duration { return 50 * time.Millisecond })

	set, err := ParseAll(map[string][]string{
		MetricHTTPReqFailed:   {"rate<0.01"},
		MetricHTTPReqDuration: {"p(95)<1000"},
	})
	require.NoError(t, err)

	res := set.Evaluate(Metrics{Summary: sum})
	assert.False(t, res.Passed)
	require.Len(t, res.Outcomes, 2)
	assert.True(t, res.Outcomes[0].Passed)
	assert.False(t, res.Outcomes[1].Passed)
	assert.InDelta(t, 0.05, res.Outcomes[1].Actual, 1e-9)
}

func TestEvaluate_EmptySetPasses(t *testing.T) {
	res := Set(nil).Evaluate(Metrics{})
	assert.True(t, res.Passed)
	assert.Empty(t, res.Outcomes)
}

func TestEvaluate_ZeroRequestsRateIsZero(t *testing.T) {
	set, err := ParseAll(map[string][]string{MetricHTTPReqFailed: {"rate==0"}})
	require.NoError(t, err)
	assert.True(t, set.Evaluate(Metrics{}).Passed)
}

func TestEvaluate_ChecksAndVUs(t *testing.T) {
	set, err := ParseAll(map[string][]string{
		MetricChecks: {"rate>0.9"},
		MetricVUsMax: {"value>=50"},
	})
	require.NoError(t, err)

	res := set.Evaluate(Metrics{ChecksPassed: 95, ChecksTotal: 100, VUsMax: 50})
	assert.True(t, res.Passed)

	res = set.Evaluate(Metrics{ChecksPassed: 50, ChecksTotal: 100, VUsMax: 50})
	assert.False(t, res.Passed)
}
