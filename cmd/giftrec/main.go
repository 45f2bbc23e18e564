package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "giftrec <room> <minutes>",
		Short: "Record a live room's gifts alongside its video stream",
		Long: `giftrec joins the barrage channel of a live room, records the stream
with the configured capture tool and writes every gift and tiered reward
to a spreadsheet, one row per event with its offset into the video.

Output files share the name [<room>]<YYYY-mm-dd@HH-MM-SS> in the output
directory (./result by default).

Examples:
  giftrec 288016 30
  giftrec --config config/config.yaml --log-level debug 288016 5`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "config/config.yaml", "Configuration file path (defaults are used if it does not exist)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	cmd.Flags().BoolVar(&opts.noCapture, "no-capture", false, "Record gifts only, without starting the capture tool")

	cmd.AddCommand(versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "giftrec %s (commit %s, built %s)\n", version, gitCommit, buildTime)
		},
	}
}
