// Package threshold parses and evaluates run-level pass/fail gates such as
// "http_req_failed: rate<0.01" or "http_req_duration: p(95)<1000".
package threshold

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidThreshold is returned for expressions that cannot be evaluated.
var ErrInvalidThreshold = errors.New("invalid threshold")

// Metric names understood by the evaluator.
const (
	MetricHTTPReqs        = "http_reqs"
	MetricHTTPReqFailed   = "http_req_failed"
	MetricHTTPReqDuration = "http_req_duration"
	MetricChecks          = "checks"
	MetricIterations      = "iterations"
	MetricDataReceived    = "data_received"
	MetricVUsMax          = "vus_max"
)

// Aggregations per metric. Trend values are in milliseconds.
var allowed = map[string][]string{
	MetricHTTPReqs:        {"count", "rate"},
	MetricHTTPReqFailed:   {"rate"},
	MetricHTTPReqDuration: {"avg", "min", "med", "max", "p"},
	MetricChecks:          {"rate"},
	MetricIterations:      {"count", "rate"},
	MetricDataReceived:    {"count", "rate"},
	MetricVUsMax:          {"value", "max"},
}

var exprRe = regexp.MustCompile(`^\s*(rate|count|avg|min|med|max|value|p\(\s*([0-9]+(?:\.[0-9]+)?)\s*\))\s*(<=|>=|==|!=|<|>)\s*(-?[0-9]+(?:\.[0-9]+)?)\s*(ms|s)?\s*$`)

// Threshold is one parsed gate.
type Threshold struct {
	Metric     string
	Expr       string
	Agg        string
	Percentile float64
	Op         string
	Value      float64
}

// Set is an ordered collection of thresholds.
type Set []Threshold

// Parse validates expr against metric.
func Parse(metric, expr string) (Threshold, error) {
	aggs, ok := allowed[metric]
	if !ok {
		return Threshold{}, errors.Wrapf(ErrInvalidThreshold, "unknown metric %q", metric)
	}
	m := exprRe.FindStringSubmatch(expr)
	if m == nil {
		return Threshold{}, errors.Wrapf(ErrInvalidThreshold, "%s: malformed expression %q", metric, expr)
	}

	th := Threshold{Metric: metric, Expr: strings.TrimSpace(expr), Agg: m[1], Op: m[3]}
	if strings.HasPrefix(th.Agg, "p(") {
		th.Agg = "p"
		p, _ := strconv.ParseFloat(m[2], 64)
		if p > 100 {
			return Threshold{}, errors.Wrapf(ErrInvalidThreshold, "%s: percentile %v out of range", metric, p)
		}
		th.Percentile = p
	}
	if !contains(aggs, th.Agg) {
		return Threshold{}, errors.Wrapf(ErrInvalidThreshold, "%s: aggregation %q not supported (use %s)",
			metric, th.Agg, strings.Join(aggs, ", "))
	}
	th.Value, _ = strconv.ParseFloat(m[4], 64)
	if unit := m[5]; unit != "" {
		// Trend values are compared in milliseconds.
		if metric != MetricHTTPReqDuration {
			return Threshold{}, errors.Wrapf(ErrInvalidThreshold, "%s: unit %q is only valid on %s", metric, unit, MetricHTTPReqDuration)
		}
		if unit == "s" {
			th.Value *= 1000
		}
	}
	return th, nil
}

// ParseAll parses a metric -> expressions mapping. The result is ordered by
// metric name, then by declaration order.
func ParseAll(spec map[string][]string) (Set, error) {
	metrics := make([]string, 0, len(spec))
	for m := range spec {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	var set Set
	for _, m := range metrics {
		for _, expr := range spec[m] {
			th, err := Parse(m, expr)
			if err != nil {
				return nil, err
			}
			set = append(set, th)
		}
	}
	return set, nil
}

func (t Threshold) String() string {
	return fmt.Sprintf("%s: %s", t.Metric, t.Expr)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
