package runner

import (
	"time"

	"vugate/internal/checks"
	"vugate/internal/scheduler"
	"vugate/internal/stats"
)

const (
	DefaultPause           = time.Second
	DefaultControlInterval = time.Second
	DefaultGracefulStop    = 30 * time.Second
	DefaultRequestTimeout  = 60 * time.Second
)

type Config struct {
	// Ramp profile; empty means fixed VUs.
	Stages []scheduler.Stage

	// Fixed-VU mode (no stages)
	VUs        int
	Iterations int
	Duration   time.Duration

	// Sleep between iterations of one VU.
	Pause time.Duration

	// How often the pool is reconciled against the desired VU count.
	ControlInterval time.Duration

	// Upper bound on waiting for in-flight iterations after the run ends.
	GracefulStop time.Duration

	RequestTimeout     time.Duration
	InsecureSkipVerify bool
	FailedStatuses     stats.StatusClass
}

func (c Config) withDefaults() Config {
	if c.Pause < 0 {
		c.Pause = 0
	}
	if c.ControlInterval <= 0 {
		c.ControlInterval = DefaultControlInterval
	}
	if c.GracefulStop <= 0 {
		c.GracefulStop = DefaultGracefulStop
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if len(c.FailedStatuses) == 0 {
		c.FailedStatuses = stats.DefaultFailedStatuses
	}
	return c
}

// Request describes one HTTP call. URL, Body and header values may contain
// templates such as {{vu}}, {{iter}} or {{uuid}}.
type Request struct {
	Method  string            `mapstructure:"method" json:"method"`
	URL     string            `mapstructure:"url" json:"url" validate:"required"`
	Headers map[string]string `mapstructure:"headers" json:"headers,omitempty"`
	Body    string            `mapstructure:"body" json:"body,omitempty"`
	Timeout time.Duration     `mapstructure:"timeout" json:"timeout,omitempty" validate:"gte=0"`
}

// RequestResult is the outcome of one executed request. It is handed to the
// workload for checks and not retained by the runner.
type RequestResult struct {
	Status  int
	Latency time.Duration
	Bytes   int64
	Body    []byte
	Err     error
	Failed  bool
}

// Workload is the body of one VU iteration. It may issue any number of
// requests and checks through vu.
type Workload func(vu *VU)

// Result is what a finished run hands to thresholds and reporting.
type Result struct {
	StartedAt   time.Time
	Elapsed     time.Duration
	Summary     stats.Summary
	Checks      []checks.Tally
	VUsMax      int
	Interrupted bool
}
