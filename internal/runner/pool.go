package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"vugate/internal/stats"
)

// VUGauge is told the number of running VUs whenever it changes.
type VUGauge interface {
	SetVUs(n int)
}

type vuFactory func(id int) (*VU, error)

type vuSlot struct {
	vu   *VU
	wake chan struct{}
	once sync.Once
}

// signal asks the VU to exit at its next iteration boundary and cuts short a
// pending pause.
func (s *vuSlot) signal() {
	s.once.Do(func() {
		s.vu.stop()
		close(s.wake)
	})
}

// Pool owns the VUs of one run and reconciles them against a desired count.
type Pool struct {
	runCtx     context.Context
	workload   Workload
	spawn      vuFactory
	pause      time.Duration
	iterations int64
	stats      *stats.Stats
	gauge      VUGauge
	log        *logrus.Entry

	mu     sync.Mutex
	slots  []*vuSlot
	nextID int
	max    int

	running atomic.Int64
	wg      sync.WaitGroup
	gaugeMu sync.Mutex

	// Poked, without blocking, whenever a VU goroutine exits.
	exited chan struct{}
}

func newPool(runCtx context.Context, cfg Config, w Workload, spawn vuFactory, iterations int, st *stats.Stats, gauge VUGauge, log *logrus.Entry) *Pool {
	return &Pool{
		runCtx:     runCtx,
		workload:   w,
		spawn:      spawn,
		pause:      cfg.Pause,
		iterations: int64(iterations),
		stats:      st,
		gauge:      gauge,
		log:        log,
		exited:     make(chan struct{}, 1),
	}
}

// Reconcile grows or shrinks the pool to desired VUs. Growth starts new VU
// goroutines right away; shrinking signals the newest VUs, which finish the
// iteration in flight before exiting.
func (p *Pool) Reconcile(desired int) error {
	if desired < 0 {
		desired = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	before := len(p.slots)
	var spawnErr error
	for len(p.slots) < desired {
		if p.runCtx.Err() != nil {
			break
		}
		p.nextID++
		vu, err := p.spawn(p.nextID)
		if err != nil {
			spawnErr = errors.Wrapf(err, "spawn vu %d", p.nextID)
			break
		}
		slot := &vuSlot{vu: vu, wake: make(chan struct{})}
		p.slots = append(p.slots, slot)
		p.running.Add(1)
		p.wg.Add(1)
		go p.loop(slot)
	}

	for len(p.slots) > desired {
		last := p.slots[len(p.slots)-1]
		p.slots = p.slots[:len(p.slots)-1]
		last.signal()
	}

	if len(p.slots) > p.max {
		p.max = len(p.slots)
	}
	if len(p.slots) != before {
		p.log.WithFields(logrus.Fields{"desired": desired, "vus": len(p.slots)}).Debug("vu pool resized")
	}
	p.publish()
	return spawnErr
}

// StopAll signals every VU. In-flight iterations are left to finish.
func (p *Pool) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		s.signal()
	}
	p.slots = nil
}

// Wait blocks until every VU goroutine has exited or timeout elapses.
func (p *Pool) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Active is the number of VU goroutines still running.
func (p *Pool) Active() int {
	return int(p.running.Load())
}

// Size is the number of VU slots the pool currently holds, including VUs
// that have already used up their iterations.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Max is the peak pool size over the run.
func (p *Pool) Max() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max
}

// publish reads the count under gaugeMu so the last write always wins with
// the latest value.
func (p *Pool) publish() {
	if p.gauge == nil {
		return
	}
	p.gaugeMu.Lock()
	defer p.gaugeMu.Unlock()
	p.gauge.SetVUs(p.Active())
}

func (p *Pool) loop(s *vuSlot) {
	defer func() {
		p.running.Add(-1)
		p.publish()
		s.vu.exec.close()
		p.wg.Done()
		select {
		case p.exited <- struct{}{}:
		default:
		}
	}()

	for {
		if s.vu.stopped() || p.runCtx.Err() != nil {
			return
		}
		p.iterate(s.vu)
		s.vu.Iteration++
		if p.iterations > 0 && s.vu.Iteration >= p.iterations {
			return
		}

		if p.pause > 0 {
			timer := time.NewTimer(p.pause)
			select {
			case <-timer.C:
			case <-s.wake:
				timer.Stop()
				return
			case <-p.runCtx.Done():
				timer.Stop()
				return
			}
		}
	}
}

// iterate runs the workload once. A panicking workload aborts only its own
// iteration.
func (p *Pool) iterate(vu *VU) {
	defer func() {
		if r := recover(); r != nil {
			vu.log.WithField("panic", r).Warn("iteration aborted")
		}
	}()
	p.workload(vu)
	p.stats.IterationDone()
}
