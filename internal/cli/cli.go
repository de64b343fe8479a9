// Package cli runs one load test in headless mode: a progress line while it
// runs, then the summary, exports and history entry.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"vugate/internal/config"
	"vugate/internal/report"
	"vugate/internal/runner"
	"vugate/internal/storage"
	"vugate/internal/telemetry"
)

type Params struct {
	Options config.Options

	// Out receives the header, progress line and summary. Defaults to stdout.
	Out   io.Writer
	Quiet bool

	SummaryExport string
	JSONOut       string

	// HistoryPath is the bbolt file runs are saved to; empty disables history.
	HistoryPath string
	MetricsAddr string

	Log *logrus.Entry
}

// Run executes the test described by p.Options. Only configuration problems
// and a run that cannot start any VU are errors; a breached threshold is a
// normal report with Passed=false.
func Run(ctx context.Context, p Params) (report.Report, error) {
	if p.Out == nil {
		p.Out = os.Stdout
	}
	if p.Log == nil {
		p.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	opts := p.Options

	script, err := opts.Script()
	if err != nil {
		return report.Report{}, err
	}
	set, err := opts.ThresholdSet()
	if err != nil {
		return report.Report{}, err
	}
	cfg, err := opts.RunnerConfig()
	if err != nil {
		return report.Report{}, err
	}

	tmpl := runner.NewTemplateEngine()
	if err := tmpl.ValidateRequest(opts.Request); err != nil {
		return report.Report{}, err
	}

	var collector *telemetry.Collector
	runOpts := []runner.Option{runner.WithLogger(p.Log), runner.WithTemplateEngine(tmpl)}
	if p.MetricsAddr != "" {
		collector = telemetry.NewCollector()
		runOpts = append(runOpts, runner.WithVUGauge(collector))
	}

	updates := make(runner.StatsUpdateChan, 100)
	r, err := runner.NewRunner(cfg, script.Iterate, updates, runOpts...)
	if err != nil {
		return report.Report{}, err
	}

	if collector != nil {
		r.Stats.SetObserver(collector)
		r.Checks.SetObserver(collector)

		metricsCtx, stopMetrics := context.WithCancel(context.Background())
		defer stopMetrics()
		go func() {
			if err := collector.Serve(metricsCtx, p.MetricsAddr, p.Log); err != nil {
				p.Log.WithError(err).Error("metrics endpoint stopped")
			}
		}()
	}

	if !p.Quiet {
		printHeader(p.Out, opts, r)
	}

	monitorDone := make(chan struct{})
	stopMonitor := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor(p.Out, p.Quiet, r.Scheduler().TotalDuration(), updates, stopMonitor)
	}()

	res, runErr := r.Run(ctx)
	close(stopMonitor)
	<-monitorDone
	if runErr != nil {
		return report.Report{}, runErr
	}

	rep := report.Build(res, set)
	rep.Target = opts.Request.URL
	if err := report.Render(p.Out, rep); err != nil {
		return rep, errors.Wrap(err, "render summary")
	}

	if err := handleExports(p, rep); err != nil {
		return rep, err
	}
	saveHistory(p, rep)
	return rep, nil
}

func monitor(out io.Writer, quiet bool, total time.Duration, updates runner.StatsUpdateChan, stop <-chan struct{}) {
	drawn := false
	vus := newSparkline(20)
	for {
		select {
		case <-stop:
			if drawn {
				fmt.Fprintln(out)
			}
			return
		case snap := <-updates:
			if quiet {
				continue
			}
			vus.add(uint64(snap.VUs))
			fmt.Fprintf(out, "\r%s", progressLine(snap, total, vus.String()))
			drawn = true
		}
	}
}

func progressLine(s runner.StatsSnapshot, total time.Duration, vuTrend string) string {
	rps := 0.0
	if s.Elapsed > 0 {
		rps = float64(s.Requests) / s.Elapsed.Seconds()
	}
	head := s.Elapsed.Round(time.Second).String()
	if total > 0 {
		pct := s.Elapsed.Seconds() / total.Seconds()
		if pct > 1.0 {
			pct = 1.0
		}
		head = fmt.Sprintf("%s %3.0f%% | %s/%s", progressBar(pct, 20), pct*100, s.Elapsed.Round(time.Second), total)
	}
	stage := ""
	if s.Stage >= 0 {
		stage = fmt.Sprintf(" | Stage: %d", s.Stage+1)
	}
	return fmt.Sprintf("%s%s | VUs: %3d %s | RPS: %.1f | Reqs: %d | Failed: %d | p95: %.1fms   ",
		head, stage, s.VUs, vuTrend, rps, s.Requests, s.Failed, s.P95Ms)
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

func printHeader(out io.Writer, opts config.Options, r *runner.Runner) {
	sched := r.Scheduler()
	fmt.Fprintf(out, "\n🚀 STARTING VUGATE LOAD TEST\n")
	fmt.Fprintf(out, "======================================================================\n")
	fmt.Fprintf(out, "Target URL : %s\n", opts.Request.URL)
	fmt.Fprintf(out, "Method     : %s\n", opts.Request.Method)
	if sched.Staged() {
		parts := make([]string, 0, len(sched.Stages()))
		for _, st := range sched.Stages() {
			parts = append(parts, fmt.Sprintf("%s→%d", st.Duration, st.Target))
		}
		fmt.Fprintf(out, "Stages     : %s\n", strings.Join(parts, ", "))
	} else {
		fmt.Fprintf(out, "VUs        : %d\n", max(opts.VUs, 1))
		if opts.Duration > 0 {
			fmt.Fprintf(out, "Duration   : %s\n", opts.Duration)
		}
	}
	if n := sched.IterationLimit(); n > 0 {
		fmt.Fprintf(out, "Iterations : %d per VU\n", n)
	}
	fmt.Fprintf(out, "Pause      : %s\n", r.Cfg.Pause)
	fmt.Fprintf(out, "Timeout    : %s\n", r.Cfg.RequestTimeout)
	fmt.Fprintf(out, "======================================================================\n\n")
}

func handleExports(p Params, rep report.Report) error {
	if p.SummaryExport != "" {
		if err := report.ExportSummary(rep, p.SummaryExport); err != nil {
			return err
		}
		p.Log.WithField("path", p.SummaryExport).Info("summary exported")
	}
	if p.JSONOut != "" {
		if err := report.ExportJSON(rep, p.JSONOut); err != nil {
			return err
		}
		p.Log.WithField("path", p.JSONOut).Info("report written")
	}
	return nil
}

// saveHistory never fails the run; a locked or unwritable history file only
// costs the entry.
func saveHistory(p Params, rep report.Report) {
	if p.HistoryPath == "" {
		return
	}
	store, err := storage.Open(p.HistoryPath)
	if err != nil {
		p.Log.WithError(err).Warn("history unavailable, run not saved")
		return
	}
	defer store.Close()
	if err := store.Save(rep); err != nil {
		p.Log.WithError(err).Warn("could not save run to history")
		return
	}
	p.Log.WithField("run_id", rep.ID).Debug("run saved to history")
}
