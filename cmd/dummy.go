package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vugate/internal/dummy"
)

// --- Dummy Subcommand ---
var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Run the built-in target server",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		errorRate, _ := cmd.Flags().GetFloat64("error-rate")
		latency, _ := cmd.Flags().GetDuration("baseline-latency")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return dummy.Start(ctx, dummy.ServerConfig{
			Port:            port,
			ErrorRate:       errorRate,
			BaselineLatency: latency,
		}, log)
	},
}

func init() {
	dummyCmd.Flags().IntP("port", "p", 5000, "port to listen on")
	dummyCmd.Flags().Float64("error-rate", 0.05, "share of /error requests answered with 500")
	dummyCmd.Flags().Duration("baseline-latency", 100*time.Millisecond, "latency of /test/baseline")
}
