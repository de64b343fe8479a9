package cmd

import (
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"vugate/internal/cli"
	"vugate/internal/config"
	"vugate/internal/report"
)

var (
	stageFlags     []string
	thresholdFlags []string
	headerFlags    []string

	summaryExport string
	jsonOut       string
	historyDB     string
	noHistory     bool
	metricsAddr   string
	quiet         bool
)

// Flags bound straight into viper keys.
var boundFlags = map[string]string{
	"url":              "request.url",
	"method":           "request.method",
	"body":             "request.body",
	"timeout":          "request.timeout",
	"vus":              "vus",
	"iterations":       "iterations",
	"duration":         "duration",
	"pause":            "pause",
	"control-interval": "control_interval",
	"graceful-stop":    "graceful_stop",
	"failed-status":    "failed_statuses",
	"insecure":         "insecure_skip_verify",
}

var runCmd = &cobra.Command{
	Use:   "run [options-file]",
	Short: "Run a load test",
	Example: `  vugate run vugate.yaml
  vugate run --url http://localhost:5000/test/baseline --stage 30s:50 \
    --threshold 'http_req_failed=rate<0.01' --threshold 'http_req_duration=p(95)<1000'`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}

		v := viper.New()
		if err := bindRunFlags(v, cmd.Flags()); err != nil {
			return err
		}
		opts, err := config.Load(v, path)
		if err != nil {
			return err
		}

		params := cli.Params{
			Options:       opts,
			Quiet:         quiet,
			SummaryExport: summaryExport,
			JSONOut:       jsonOut,
			MetricsAddr:   metricsAddr,
			Log:           log,
		}
		if !noHistory {
			params.HistoryPath = historyDB
			if params.HistoryPath == "" {
				if params.HistoryPath, err = config.HistoryPath(); err != nil {
					log.WithError(err).Warn("run history disabled")
				}
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			// A second signal kills the process.
			<-ctx.Done()
			stop()
		}()

		rep, err := cli.Run(ctx, params)
		if err != nil {
			return err
		}
		exitCode = rep.ExitCode()
		if exitCode == report.ExitThresholdsFailed {
			for _, o := range rep.FailedThresholds() {
				log.WithField("metric", o.Metric).WithField("actual", o.Actual).Errorf("threshold %s crossed", o.Expr)
			}
		}
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.StringP("url", "u", "", "target URL")
	f.StringP("method", "X", "GET", "HTTP method")
	f.StringP("body", "b", "", "request body")
	f.Duration("timeout", 0, "request timeout (default 60s)")
	f.StringArrayVarP(&headerFlags, "header", "H", nil, `HTTP header, e.g. "Accept: application/json" (repeatable)`)

	f.Int("vus", 0, "virtual users when no stages are given (default 1)")
	f.Int("iterations", 0, "iterations per VU, 0 for unlimited")
	f.Duration("duration", 0, "run length when no stages are given")
	f.StringArrayVarP(&stageFlags, "stage", "s", nil, "ramp stage as DURATION:TARGET, e.g. 30s:50 (repeatable)")
	f.StringArrayVar(&thresholdFlags, "threshold", nil, "threshold as METRIC=EXPR, e.g. 'http_req_failed=rate<0.01' (repeatable)")
	f.Duration("pause", 0, "sleep between iterations (default 1s)")
	f.Duration("control-interval", 0, "how often the VU pool is reconciled (default 1s)")
	f.Duration("graceful-stop", 0, "how long in-flight iterations may take to finish (default 30s)")
	f.StringSlice("failed-status", nil, "status codes counted as failed, e.g. 404,500-599 (default 400-599)")
	f.Bool("insecure", false, "skip TLS certificate verification")

	f.StringVar(&summaryExport, "summary-export", "", "write a k6-style JSON summary to this file")
	f.StringVar(&jsonOut, "out", "", "write the full JSON report to this file")
	f.StringVar(&historyDB, "history-db", "", "run history file (default $HOME/.vugate/history.db)")
	f.BoolVar(&noHistory, "no-history", false, "do not save this run to history")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	f.BoolVarP(&quiet, "quiet", "q", false, "print only the summary")
}

// bindRunFlags maps changed flags onto viper so they override file and env.
func bindRunFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range boundFlags {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return errors.Wrapf(err, "bind --%s", name)
		}
	}

	if len(stageFlags) > 0 {
		stages := make([]map[string]any, 0, len(stageFlags))
		for _, s := range stageFlags {
			st, err := parseStageFlag(s)
			if err != nil {
				return err
			}
			stages = append(stages, st)
		}
		v.Set("stages", stages)
	}

	if len(thresholdFlags) > 0 {
		ths := map[string][]string{}
		for _, s := range thresholdFlags {
			metric, expr, ok := strings.Cut(s, "=")
			if !ok || strings.TrimSpace(metric) == "" || strings.TrimSpace(expr) == "" {
				return errors.Errorf("--threshold %q: want METRIC=EXPR", s)
			}
			metric = strings.TrimSpace(metric)
			ths[metric] = append(ths[metric], strings.TrimSpace(expr))
		}
		v.Set("thresholds", ths)
	}

	if len(headerFlags) > 0 {
		headers := map[string]string{}
		for _, h := range headerFlags {
			k, val, ok := strings.Cut(h, ":")
			if !ok {
				return errors.Errorf("--header %q: want \"Key: Value\"", h)
			}
			headers[strings.TrimSpace(k)] = strings.TrimSpace(val)
		}
		v.Set("request.headers", headers)
	}
	return nil
}

func parseStageFlag(s string) (map[string]any, error) {
	dur, target, ok := strings.Cut(s, ":")
	if !ok {
		return nil, errors.Errorf("--stage %q: want DURATION:TARGET", s)
	}
	n, err := strconv.Atoi(strings.TrimSpace(target))
	if err != nil {
		return nil, errors.Wrapf(err, "--stage %q: target", s)
	}
	return map[string]any{"duration": strings.TrimSpace(dur), "target": n}, nil
}
