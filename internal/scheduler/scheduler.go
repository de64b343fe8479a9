package scheduler

import (
	"math/bits"
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidStage is returned for stage lists that cannot drive a run.
var ErrInvalidStage = errors.New("invalid stage")

// DefaultVUs is the fixed concurrency of a run without stages.
const DefaultVUs = 1

// Stage ramps VU concurrency from the previous stage's target to Target over Duration.
type Stage struct {
	Duration time.Duration `mapstructure:"duration" json:"duration" validate:"gte=0"`
	Target   int           `mapstructure:"target" json:"target" validate:"gte=0"`
}

// Options selects between stage-based and fixed-VU execution.
type Options struct {
	Stages []Stage

	// Used only when Stages is empty.
	VUs      int
	Duration time.Duration

	// Per-VU iteration cap, 0 means unlimited.
	Iterations int
}

type Scheduler struct {
	stages     []Stage
	vus        int
	duration   time.Duration
	iterations int
	total      time.Duration
}

// Validate rejects negative durations or targets and stage lists that never advance time.
func Validate(stages []Stage) error {
	var total time.Duration
	for i, st := range stages {
		if st.Duration < 0 {
			return errors.Wrapf(ErrInvalidStage, "stage %d: negative duration %s", i, st.Duration)
		}
		if st.Target < 0 {
			return errors.Wrapf(ErrInvalidStage, "stage %d: negative target %d", i, st.Target)
		}
		total += st.Duration
	}
	if len(stages) > 0 && total == 0 {
		return errors.Wrap(ErrInvalidStage, "stages have zero total duration")
	}
	return nil
}

func New(opts Options) (*Scheduler, error) {
	if err := Validate(opts.Stages); err != nil {
		return nil, err
	}
	if opts.VUs < 0 {
		return nil, errors.Wrapf(ErrInvalidStage, "negative vus %d", opts.VUs)
	}
	if opts.Duration < 0 {
		return nil, errors.Wrapf(ErrInvalidStage, "negative duration %s", opts.Duration)
	}
	if opts.Iterations < 0 {
		return nil, errors.Wrapf(ErrInvalidStage, "negative iterations %d", opts.Iterations)
	}

	s := &Scheduler{
		stages:     append([]Stage(nil), opts.Stages...),
		vus:        opts.VUs,
		duration:   opts.Duration,
		iterations: opts.Iterations,
	}
	for _, st := range s.stages {
		s.total += st.Duration
	}

	if !s.Staged() {
		if s.vus == 0 {
			s.vus = DefaultVUs
		}
		// Single-pass mode: one iteration per VU unless told otherwise.
		if s.duration == 0 && s.iterations == 0 {
			s.iterations = 1
		}
	}
	return s, nil
}

func (s *Scheduler) Staged() bool {
	return len(s.stages) > 0
}

// DesiredConcurrency returns the VU target at elapsed time since run start.
// Inside a stage the value is linearly interpolated and truncated toward the
// previous target, so segment boundaries always match the targets exactly.
func (s *Scheduler) DesiredConcurrency(elapsed time.Duration) int {
	if !s.Staged() {
		return s.vus
	}
	if elapsed < 0 {
		elapsed = 0
	}

	prev := 0
	var start time.Duration
	for _, st := range s.stages {
		end := start + st.Duration
		if elapsed < end {
			return prev + ramp(st.Target-prev, elapsed-start, st.Duration)
		}
		prev = st.Target
		start = end
	}
	return prev
}

// ramp is delta*into/dur truncated toward zero. The product is taken in 128
// bits so large targets on long stages cannot overflow.
func ramp(delta int, into, dur time.Duration) int {
	neg := delta < 0
	if neg {
		delta = -delta
	}
	hi, lo := bits.Mul64(uint64(delta), uint64(into))
	q, _ := bits.Div64(hi, lo, uint64(dur))
	if neg {
		return -int(q)
	}
	return int(q)
}

// StageIndex reports which stage is active at elapsed, or -1 once all stages are over.
func (s *Scheduler) StageIndex(elapsed time.Duration) int {
	var start time.Duration
	for i, st := range s.stages {
		start += st.Duration
		if elapsed < start {
			return i
		}
	}
	return -1
}

// Done reports whether the time budget of the run is spent. Single-pass runs
// have no time budget and end when every VU has finished its iterations.
func (s *Scheduler) Done(elapsed time.Duration) bool {
	if s.Staged() {
		return elapsed >= s.total
	}
	if s.duration > 0 {
		return elapsed >= s.duration
	}
	return false
}

// TotalDuration is the planned run length, 0 for single-pass runs.
func (s *Scheduler) TotalDuration() time.Duration {
	if s.Staged() {
		return s.total
	}
	return s.duration
}

// IterationLimit is the per-VU iteration cap, 0 means unlimited.
func (s *Scheduler) IterationLimit() int {
	return s.iterations
}

func (s *Scheduler) Stages() []Stage {
	return append([]Stage(nil), s.stages...)
}
