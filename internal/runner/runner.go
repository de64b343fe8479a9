package runner

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"vugate/internal/checks"
	"vugate/internal/scheduler"
	"vugate/internal/stats"
)

// ErrNoVUs means the run wanted VUs but could not start a single one.
var ErrNoVUs = errors.New("no virtual user could be started")

// StatsSnapshot is sent over the channel
type StatsSnapshot struct {
	Elapsed    time.Duration
	Stage      int
	VUs        int
	VUsMax     int
	Requests   uint64
	Failed     uint64
	Iterations uint64
	Bytes      uint64

	// Pre-calculated percentiles for progress output (cheap copy)
	P50Ms float64
	P90Ms float64
	P95Ms float64
	P99Ms float64
	MaxMs float64
}

// StatsUpdateChan is the channel type
type StatsUpdateChan chan StatsSnapshot

type Runner struct {
	Cfg    Config
	Stats  *stats.Stats
	Checks *checks.Registry

	// Event Channel
	Updates StatsUpdateChan

	sched    *scheduler.Scheduler
	workload Workload
	tmpl     *TemplateEngine
	log      *logrus.Entry
	gauge    VUGauge
	spawn    func(ctx context.Context) vuFactory

	pool    atomic.Pointer[Pool]
	started atomic.Int64
}

type Option func(*Runner)

func WithLogger(l *logrus.Entry) Option {
	return func(r *Runner) { r.log = l }
}

// WithVUGauge reports running VU counts, e.g. to Prometheus.
func WithVUGauge(g VUGauge) Option {
	return func(r *Runner) { r.gauge = g }
}

// WithTemplateEngine shares an engine whose templates were validated up front.
func WithTemplateEngine(t *TemplateEngine) Option {
	return func(r *Runner) { r.tmpl = t }
}

// NewRunner validates cfg and prepares a run. A bad stage list is reported
// here, before any VU exists.
func NewRunner(cfg Config, w Workload, updates StatsUpdateChan, opts ...Option) (*Runner, error) {
	if w == nil {
		return nil, errors.New("workload is required")
	}
	cfg = cfg.withDefaults()

	sched, err := scheduler.New(scheduler.Options{
		Stages:     cfg.Stages,
		VUs:        cfg.VUs,
		Duration:   cfg.Duration,
		Iterations: cfg.Iterations,
	})
	if err != nil {
		return nil, err
	}

	if updates == nil {
		// Avoid nil panics if not provided
		updates = make(StatsUpdateChan, 10)
	}

	r := &Runner{
		Cfg:      cfg,
		Stats:    stats.NewStats(cfg.FailedStatuses),
		Checks:   checks.NewRegistry(),
		Updates:  updates,
		sched:    sched,
		workload: w,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logrus.NewEntry(logrus.StandardLogger())
	}
	if r.tmpl == nil {
		r.tmpl = NewTemplateEngine()
	}
	if r.spawn == nil {
		r.spawn = r.defaultSpawn
	}
	return r, nil
}

func (r *Runner) Scheduler() *scheduler.Scheduler {
	return r.sched
}

func (r *Runner) defaultSpawn(ctx context.Context) vuFactory {
	// Requests outlive run cancellation; they end on their own timeout.
	reqCtx := context.WithoutCancel(ctx)
	return func(id int) (*VU, error) {
		exec, err := newExecutor(r.Cfg, r.Stats, r.tmpl)
		if err != nil {
			return nil, err
		}
		return &VU{
			ID:     id,
			ctx:    reqCtx,
			exec:   exec,
			checks: r.Checks,
			log:    r.log.WithField("vu", id),
		}, nil
	}
}

// StartTickLoop starts a goroutine that pushes stats updates
func (r *Runner) StartTickLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sendUpdate()
			}
		}
	}()
}

// Snapshot returns current progress counters.
func (r *Runner) Snapshot() StatsSnapshot {
	s := StatsSnapshot{
		Requests:   atomic.LoadUint64(&r.Stats.Requests),
		Failed:     atomic.LoadUint64(&r.Stats.Failed),
		Iterations: atomic.LoadUint64(&r.Stats.Iterations),
		Bytes:      atomic.LoadUint64(&r.Stats.Bytes),
		Stage:      -1,
		P50Ms:      ms(r.Stats.Duration.Quantile(50)),
		P90Ms:      ms(r.Stats.Duration.Quantile(90)),
		P95Ms:      ms(r.Stats.Duration.Quantile(95)),
		P99Ms:      ms(r.Stats.Duration.Quantile(99)),
		MaxMs:      ms(r.Stats.Duration.Max()),
	}
	if started := r.started.Load(); started > 0 {
		s.Elapsed = time.Since(time.Unix(0, started))
		if r.sched.Staged() {
			s.Stage = r.sched.StageIndex(s.Elapsed)
		}
	}
	if p := r.pool.Load(); p != nil {
		s.VUs = p.Active()
		s.VUsMax = p.Max()
	}
	return s
}

func (r *Runner) sendUpdate() {
	// Non-blocking send
	select {
	case r.Updates <- r.Snapshot():
	default:
		// Drop update if channel full, the consumer acts as backpressure
	}
}

// Run drives the pool until the schedule ends, every single-pass VU is done,
// or ctx is cancelled. It then stops all VUs, waits up to GracefulStop for
// in-flight iterations, and returns the aggregates. Only a run that cannot
// start any VU returns an error.
//
// VUs still busy when GracefulStop runs out are not waited for. They keep
// recording into Stats and Checks until their iteration ends, but the
// returned Result is already fixed.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	r.started.Store(start.UnixNano())

	runCtx, endRun := context.WithCancel(ctx)
	defer endRun()

	pool := newPool(runCtx, r.Cfg, r.workload, r.spawn(runCtx), r.sched.IterationLimit(), r.Stats, r.gauge, r.log)
	r.pool.Store(pool)
	r.StartTickLoop(runCtx, 200*time.Millisecond)

	log := r.log.WithFields(logrus.Fields{
		"staged":   r.sched.Staged(),
		"duration": r.sched.TotalDuration(),
	})
	log.Info("run started")

	if err := r.reconcile(pool, start); err != nil {
		return Result{}, err
	}

	ticker := time.NewTicker(r.Cfg.ControlInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if total := r.sched.TotalDuration(); total > 0 {
		timer := time.NewTimer(total)
		defer timer.Stop()
		deadline = timer.C
	}

	interrupted := false
loop:
	for {
		select {
		case <-ctx.Done():
			interrupted = true
			log.Warn("run interrupted, stopping virtual users")
			break loop
		case <-deadline:
			break loop
		case <-pool.exited:
			if !r.sched.Staged() && r.sched.IterationLimit() > 0 && pool.Active() == 0 {
				break loop
			}
		case <-ticker.C:
			if r.sched.Done(time.Since(start)) {
				break loop
			}
			if err := r.reconcile(pool, start); err != nil {
				return Result{}, err
			}
		}
	}

	endRun()
	pool.StopAll()
	if !pool.Wait(r.Cfg.GracefulStop) {
		log.WithField("still_running", pool.Active()).Warn("graceful stop timed out, reporting partial iterations")
	}

	elapsed := time.Since(start)
	res := Result{
		StartedAt:   start,
		Elapsed:     elapsed,
		Summary:     r.Stats.Summary(elapsed),
		Checks:      r.Checks.Tallies(),
		VUsMax:      pool.Max(),
		Interrupted: interrupted,
	}
	log.WithFields(logrus.Fields{
		"requests": res.Summary.Requests,
		"failed":   res.Summary.Failed,
		"vus_max":  res.VUsMax,
		"elapsed":  elapsed.Round(time.Millisecond),
	}).Info("run finished")
	return res, nil
}

// reconcile applies the scheduler's target. Spawn failures are logged and
// retried on the next tick, unless no VU has ever started.
func (r *Runner) reconcile(pool *Pool, start time.Time) error {
	desired := r.sched.DesiredConcurrency(time.Since(start))
	err := pool.Reconcile(desired)
	if err == nil {
		return nil
	}
	if pool.Max() == 0 {
		pool.StopAll()
		pool.Wait(r.Cfg.GracefulStop)
		return errors.Wrapf(ErrNoVUs, "%v", err)
	}
	r.log.WithError(err).WithField("desired", desired).Warn("could not reach desired VU count")
	return nil
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
