package cmd

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"vugate/internal/banner"
	"vugate/internal/report"
)

var (
	logLevel  string
	logFormat string

	log *logrus.Entry

	// Set by commands that produce a verdict.
	exitCode = report.ExitPassed
)

var rootCmd = &cobra.Command{
	Use:   "vugate",
	Short: "vugate - staged virtual-user load testing with pass/fail gates",
	Long: `
vugate ramps virtual users through a list of stages, runs a request workload
with named checks in each of them, and judges the run against thresholds
such as http_req_failed rate<0.01 or http_req_duration p(95)<1000.

Exit codes: 0 all thresholds passed, 99 a threshold failed, 1 error.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		entry, err := newLogger(logLevel, logFormat)
		if err != nil {
			return err
		}
		log = entry
		return nil
	},
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	// Custom Help with Banner
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return report.ExitError
	}
	return exitCode
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(runCmd, initCmd, historyCmd, dummyCmd)
}

func newLogger(level, format string) (*logrus.Entry, error) {
	l := logrus.New()
	l.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "--log-level")
	}
	l.SetLevel(lvl)

	switch format {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, errors.Errorf("--log-format: unknown format %q", format)
	}
	return logrus.NewEntry(l), nil
}
