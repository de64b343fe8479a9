// Package workload turns a declarative request plus check list into a
// runner.Workload, the equivalent of a script body like
//
//	res = http.get(url); check(res, {"is status 200": r => r.status === 200}); sleep(1)
//
// where the sleep is the runner's inter-iteration pause.
package workload

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/jmespath/go-jmespath"
	"github.com/pkg/errors"

	"vugate/internal/runner"
)

// CheckSpec declares one named check. Every non-empty field must hold for the
// check to pass.
type CheckSpec struct {
	Name         string        `mapstructure:"name" yaml:"name" json:"name" validate:"required"`
	Status       int           `mapstructure:"status" yaml:"status,omitempty" json:"status,omitempty"`
	StatusIn     []int         `mapstructure:"status_in" yaml:"status_in,omitempty" json:"status_in,omitempty"`
	BodyContains string        `mapstructure:"body_contains" yaml:"body_contains,omitempty" json:"body_contains,omitempty"`
	BodyMatches  string        `mapstructure:"body_matches" yaml:"body_matches,omitempty" json:"body_matches,omitempty"`
	JSON         string        `mapstructure:"json" yaml:"json,omitempty" json:"json,omitempty"`
	Equals       any           `mapstructure:"equals" yaml:"equals,omitempty" json:"equals,omitempty"`
	MaxLatency   time.Duration `mapstructure:"max_latency" yaml:"max_latency,omitempty" json:"max_latency,omitempty"`
}

// Predicate decides a check for one response.
type Predicate func(runner.RequestResult) bool

type check struct {
	name string
	pred Predicate
}

// Script issues one request per iteration and applies its checks.
type Script struct {
	req    runner.Request
	checks []check
}

// DefaultChecks is used when a script declares none.
var DefaultChecks = []CheckSpec{{Name: "is status 200", Status: 200}}

// New compiles specs. A bad regex or JMESPath expression is a configuration
// error.
func New(req runner.Request, specs []CheckSpec) (*Script, error) {
	s := &Script{req: req}
	for i, spec := range specs {
		pred, err := spec.Compile()
		if err != nil {
			return nil, errors.Wrapf(err, "check %d (%q)", i, spec.Name)
		}
		s.checks = append(s.checks, check{name: spec.Name, pred: pred})
	}
	return s, nil
}

// Iterate is the runner.Workload of the script.
func (s *Script) Iterate(vu *runner.VU) {
	res := vu.Request(s.req)
	if res.Err != nil {
		vu.Log().WithError(res.Err).Debug("request failed")
	}
	for _, c := range s.checks {
		vu.Check(c.name, c.pred, res)
	}
}

// Compile builds the predicate for spec.
func (c CheckSpec) Compile() (Predicate, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, errors.New("check name is required")
	}
	var preds []Predicate

	if c.Status != 0 {
		want := c.Status
		preds = append(preds, func(r runner.RequestResult) bool { return r.Err == nil && r.Status == want })
	}
	if len(c.StatusIn) > 0 {
		allowed := append([]int(nil), c.StatusIn...)
		preds = append(preds, func(r runner.RequestResult) bool {
			for _, s := range allowed {
				if r.Status == s {
					return r.Err == nil
				}
			}
			return false
		})
	}
	if c.BodyContains != "" {
		needle := c.BodyContains
		preds = append(preds, func(r runner.RequestResult) bool { return strings.Contains(string(r.Body), needle) })
	}
	if c.BodyMatches != "" {
		re, err := regexp.Compile(c.BodyMatches)
		if err != nil {
			return nil, errors.Wrap(err, "body_matches")
		}
		preds = append(preds, func(r runner.RequestResult) bool { return re.Match(r.Body) })
	}
	if c.JSON != "" {
		expr, err := jmespath.Compile(c.JSON)
		if err != nil {
			return nil, errors.Wrap(err, "json")
		}
		want := c.Equals
		preds = append(preds, func(r runner.RequestResult) bool { return matchJSON(expr, want, r.Body) })
	} else if c.Equals != nil {
		return nil, errors.New("equals needs a json expression")
	}
	if c.MaxLatency > 0 {
		limit := c.MaxLatency
		preds = append(preds, func(r runner.RequestResult) bool { return r.Err == nil && r.Latency <= limit })
	}

	if len(preds) == 0 {
		return nil, errors.New("check has no condition")
	}
	return func(r runner.RequestResult) bool {
		for _, p := range preds {
			if !p(r) {
				return false
			}
		}
		return true
	}, nil
}

// matchJSON searches body with expr. Without an expected value the result
// must be truthy; otherwise it must equal want after JSON normalization.
func matchJSON(expr *jmespath.JMESPath, want any, body []byte) bool {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return false
	}
	got, err := expr.Search(doc)
	if err != nil {
		return false
	}
	if want == nil {
		return truthy(got)
	}
	return reflect.DeepEqual(normalize(got), normalize(want))
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// normalize round-trips v through JSON so config values (ints, typed maps)
// compare equal to decoded response values (float64, map[string]any).
func normalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Sprint(v)
	}
	return out
}
