package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"vugate/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a sample options file",
	Long: `Writes an options file that ramps to 50 VUs over 30s against
` + config.SampleURL + `, checks for a 200 status and gates the run on
http_req_failed rate<0.01 and http_req_duration p(95)<1000.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "vugate.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteSample(path, initForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ wrote %s, run it with: vugate run %s\n", path, path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing file")
}
