package runner

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"vugate/internal/checks"
)

// VU is one virtual user. Its methods are only safe to call from the VU's own
// goroutine, i.e. from inside the Workload.
type VU struct {
	ID int
	// Iteration is the zero-based index of the iteration in progress.
	Iteration int64

	ctx    context.Context
	exec   *Executor
	checks *checks.Registry
	log    *logrus.Entry

	stopping atomic.Bool
}

// Request executes req and records its outcome.
func (vu *VU) Request(req Request) RequestResult {
	return vu.exec.Execute(vu.ctx, req, TemplateData{VU: vu.ID, Iter: vu.Iteration})
}

// Get is shorthand for a GET request without headers.
func (vu *VU) Get(url string) RequestResult {
	return vu.Request(Request{Method: http.MethodGet, URL: url})
}

// Check tallies pred(res) under name and returns the outcome.
func (vu *VU) Check(name string, pred func(RequestResult) bool, res RequestResult) bool {
	ok := checks.Check(vu.checks, name, pred, res)
	if !ok {
		vu.log.WithField("check", name).Debug("check failed")
	}
	return ok
}

// Log is scoped to this VU.
func (vu *VU) Log() *logrus.Entry {
	return vu.log
}

// stop asks the VU to exit after its current iteration.
func (vu *VU) stop() {
	vu.stopping.Store(true)
}

func (vu *VU) stopped() bool {
	return vu.stopping.Load()
}
