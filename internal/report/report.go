// Package report turns a finished run into the structured verdict that the
// CLI renders, exports and stores.
package report

import (
	"time"

	"github.com/google/uuid"

	"vugate/internal/checks"
	"vugate/internal/runner"
	"vugate/internal/stats"
	"vugate/internal/threshold"
)

const (
	ExitPassed           = 0
	ExitError            = 1
	ExitThresholdsFailed = 99
)

type Counter struct {
	Count uint64  `json:"count"`
	Rate  float64 `json:"rate"`
}

// Rate follows k6: for http_req_failed, Passes counts the failed requests.
type Rate struct {
	Rate   float64 `json:"rate"`
	Passes uint64  `json:"passes"`
	Fails  uint64  `json:"fails"`
}

// Trend values are milliseconds.
type Trend struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Med float64 `json:"med"`
	Max float64 `json:"max"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type Metrics struct {
	HTTPReqs        Counter `json:"http_reqs"`
	HTTPReqFailed   Rate    `json:"http_req_failed"`
	HTTPReqDuration Trend   `json:"http_req_duration"`
	Iterations      Counter `json:"iterations"`
	DataReceived    Counter `json:"data_received"`
	Checks          Rate    `json:"checks"`
	VUsMax          int     `json:"vus_max"`
}

type Report struct {
	ID          string              `json:"id"`
	Target      string              `json:"target,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	Duration    time.Duration       `json:"duration"`
	Passed      bool                `json:"passed"`
	Interrupted bool                `json:"interrupted,omitempty"`
	Metrics     Metrics             `json:"metrics"`
	Checks      []checks.Tally      `json:"checks"`
	Thresholds  []threshold.Outcome `json:"thresholds"`
}

// Build evaluates set against res. IDs are UUIDv7 so that history keys sort
// by start time.
func Build(res runner.Result, set threshold.Set) Report {
	passes, total := checks.Sum(res.Checks)

	verdict := set.Evaluate(threshold.Metrics{
		Summary:      res.Summary,
		ChecksPassed: passes,
		ChecksTotal:  total,
		VUsMax:       res.VUsMax,
	})

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	sum := res.Summary
	return Report{
		ID:          id.String(),
		StartedAt:   res.StartedAt,
		Duration:    res.Elapsed,
		Passed:      verdict.Passed,
		Interrupted: res.Interrupted,
		Metrics: Metrics{
			HTTPReqs: counter(sum.Requests, sum.Elapsed),
			HTTPReqFailed: Rate{
				Rate:   sum.FailureRate,
				Passes: sum.Failed,
				Fails:  sum.Requests - sum.Failed,
			},
			HTTPReqDuration: trend(sum.Duration),
			Iterations:      counter(sum.Iterations, sum.Elapsed),
			DataReceived:    counter(sum.Bytes, sum.Elapsed),
			Checks:          Rate{Rate: rate(passes, total), Passes: passes, Fails: total - passes},
			VUsMax:          res.VUsMax,
		},
		Checks:     res.Checks,
		Thresholds: verdict.Outcomes,
	}
}

// ExitCode maps the verdict to the process exit status. A threshold breach is
// distinct from a crash, which the caller reports as ExitError.
func (r Report) ExitCode() int {
	if r.Passed {
		return ExitPassed
	}
	return ExitThresholdsFailed
}

// FailedThresholds lists the outcomes that did not pass.
func (r Report) FailedThresholds() []threshold.Outcome {
	var out []threshold.Outcome
	for _, o := range r.Thresholds {
		if !o.Passed {
			out = append(out, o)
		}
	}
	return out
}

func counter(n uint64, elapsed time.Duration) Counter {
	c := Counter{Count: n}
	if elapsed > 0 {
		c.Rate = float64(n) / elapsed.Seconds()
	}
	return c
}

func rate(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func trend(t stats.Trend) Trend {
	return Trend{
		Avg: ms(t.Avg),
		Min: ms(t.Min),
		Med: ms(t.Med),
		Max: ms(t.Max),
		P90: ms(t.P90),
		P95: ms(t.P95),
		P99: ms(t.P99),
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
