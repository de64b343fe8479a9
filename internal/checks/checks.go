// Package checks tallies named per-request assertions. A failing check is
// data for the report, never an error for the run.
package checks

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Observer mirrors check outcomes, e.g. into Prometheus.
type Observer interface {
	ObserveCheck(name string, passed bool)
}

// Tally is the accumulated outcome of one check name.
type Tally struct {
	Name   string `json:"name"`
	Passes uint64 `json:"passes"`
	Fails  uint64 `json:"fails"`
}

type counter struct {
	passes atomic.Uint64
	fails  atomic.Uint64
}

// Registry is shared by every VU of a run.
type Registry struct {
	mu       sync.RWMutex
	tallies  map[string]*counter
	observer Observer
}

func NewRegistry() *Registry {
	return &Registry{tallies: make(map[string]*counter)}
}

// SetObserver must be called before the run starts.
func (r *Registry) SetObserver(o Observer) {
	r.observer = o
}

// Check evaluates pred against v and tallies the outcome under name. A
// predicate that panics counts as a failed check.
func Check[T any](r *Registry, name string, pred func(T) bool, v T) bool {
	return r.Record(name, eval(pred, v))
}

func eval[T any](pred func(T) bool, v T) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return pred(v)
}

// Record tallies an already evaluated outcome and returns it.
func (r *Registry) Record(name string, passed bool) bool {
	c := r.counter(name)
	if passed {
		c.passes.Add(1)
	} else {
		c.fails.Add(1)
	}
	if r.observer != nil {
		r.observer.ObserveCheck(name, passed)
	}
	return passed
}

func (r *Registry) counter(name string) *counter {
	r.mu.RLock()
	c, ok := r.tallies[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double check
	if c, ok = r.tallies[name]; ok {
		return c
	}
	c = &counter{}
	r.tallies[name] = c
	return c
}

// Tallies returns a snapshot sorted by check name.
func (r *Registry) Tallies() []Tally {
	r.mu.RLock()
	out := make([]Tally, 0, len(r.tallies))
	for name, c := range r.tallies {
		out = append(out, Tally{Name: name, Passes: c.passes.Load(), Fails: c.fails.Load()})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Totals sums passes and evaluations across all checks.
func (r *Registry) Totals() (passes, total uint64) {
	return Sum(r.Tallies())
}

// Sum adds up passes and evaluations of tallies.
func Sum(tallies []Tally) (passes, total uint64) {
	for _, t := range tallies {
		passes += t.Passes
		total += t.Passes + t.Fails
	}
	return passes, total
}
