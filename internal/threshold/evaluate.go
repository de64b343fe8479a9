package threshold

import (
	"time"

	"vugate/internal/stats"
)

// Metrics is everything a threshold can be evaluated against.
type Metrics struct {
	Summary      stats.Summary
	ChecksPassed uint64
	ChecksTotal  uint64
	VUsMax       int
}

// Outcome is the verdict of one threshold.
type Outcome struct {
	Metric string  `json:"metric"`
	Expr   string  `json:"expr"`
	Actual float64 `json:"actual"`
	Passed bool    `json:"passed"`
}

// Result is the run-level verdict.
type Result struct {
	Outcomes []Outcome `json:"outcomes"`
	Passed   bool      `json:"passed"`
}

// Evaluate runs every threshold. An empty set passes.
func (s Set) Evaluate(m Metrics) Result {
	res := Result{Passed: true, Outcomes: make([]Outcome, 0, len(s))}
	for _, th := range s {
		actual := th.actual(m)
		ok := compare(actual, th.Op, th.Value)
		res.Outcomes = append(res.Outcomes, Outcome{
			Metric: th.Metric,
			Expr:   th.Expr,
			Actual: actual,
			Passed: ok,
		})
		if !ok {
			res.Passed = false
		}
	}
	return res
}

func (t Threshold) actual(m Metrics) float64 {
	sum := m.Summary
	switch t.Metric {
	case MetricHTTPReqFailed:
		return ratio(sum.Failed, sum.Requests)
	case MetricChecks:
		return ratio(m.ChecksPassed, m.ChecksTotal)
	case MetricHTTPReqs:
		return countOrRate(t.Agg, sum.Requests, sum.Elapsed)
	case MetricIterations:
		return countOrRate(t.Agg, sum.Iterations, sum.Elapsed)
	case MetricDataReceived:
		return countOrRate(t.Agg, sum.Bytes, sum.Elapsed)
	case MetricVUsMax:
		return float64(m.VUsMax)
	case MetricHTTPReqDuration:
		var d time.Duration
		switch t.Agg {
		case "avg":
			d = sum.Duration.Avg
		case "min":
			d = sum.Duration.Min
		case "med":
			d = sum.Duration.Med
		case "max":
			d = sum.Duration.Max
		case "p":
			d = sum.Percentile(t.Percentile)
		}
		return ms(d)
	}
	return 0
}

func ratio(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func countOrRate(agg string, n uint64, elapsed time.Duration) float64 {
	if agg == "count" {
		return float64(n)
	}
	if elapsed <= 0 {
		return 0
	}
	return float64(n) / elapsed.Seconds()
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func compare(actual float64, op string, want float64) bool {
	switch op {
	case "<":
		return actual < want
	case "<=":
		return actual <= want
	case ">":
		return actual > want
	case ">=":
		return actual >= want
	case "==":
		return actual == want
	case "!=":
		return actual != want
	}
	return false
}
