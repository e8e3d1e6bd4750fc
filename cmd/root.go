// Package cmd defines and implements the CLI commands for the proxygather
// executable.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/proxygather/proxygather/internal/logging"
	"github.com/proxygather/proxygather/internal/termination"
	"github.com/proxygather/proxygather/pkg/config"
)

var verbose bool

// listSentinel is the value --only/--exclude take when passed without
// arguments; it triggers a listing of available sources instead of a run.
const listSentinel = "?"

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxygather",
		Short: "Gathers free proxies from many sources and validates them.",
		Long: `proxygather discovers proxy candidates from list sites, JSON APIs and
browser-only sources, validates them against live proxy judges, and writes
per-protocol output files. Scraping and checking can run separately or as
one streaming pipeline.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logging.InitLogger(verbose)
		},
	}

	cobra.OnInitialize(config.InitConfig)

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newScrapeCmd(), newCheckCmd(), newRunCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupTermination builds the shared termination coordinator and installs
// the signal handlers. The returned restore func detaches them again.
func setupTermination() (*termination.Coordinator, func()) {
	coord := termination.New(logging.L)
	restore := coord.InstallSignals()
	return coord, restore
}

// timestampedPath returns "<prefix>-<timestamp>.txt" the way run outputs are
// named when the user does not pick a path.
func timestampedPath(prefix string) string {
	return fmt.Sprintf("%s-%s.txt", prefix, time.Now().Format("2006-01-02_15-04-05"))
}
