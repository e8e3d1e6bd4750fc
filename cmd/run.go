package cmd

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/proxygather/proxygather/internal/api"
	"github.com/proxygather/proxygather/internal/checker"
	"github.com/proxygather/proxygather/internal/logging"
	"github.com/proxygather/proxygather/internal/pipeline"
	"github.com/proxygather/proxygather/internal/scrape"
	"github.com/proxygather/proxygather/internal/storage"
)

type runFlags struct {
	scrape scrapeFlags
	check  checkFlags

	input       []string
	output      string
	serveStatus bool
	statusAddr  string
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrapes and validates in one streaming pipeline",
		Long: `Runs discovery and validation together: candidates flow into the
checker as source tasks find them, per-source statistics are kept, and both
the raw scrape output and the per-protocol working buckets are written. The
final summary attributes every working proxy to the sources that found it.`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindScrapeFlags(cmd); err != nil {
				return err
			}
			if err := bindCheckFlags(cmd); err != nil {
				return err
			}
			return bindAll(cmd, map[string]string{
				"status.enabled": "serve-status",
				"status.addr":    "status-addr",
			})
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUnifiedCommand(cmd, f)
		},
	}
	addScrapeFlags(cmd, &f.scrape)
	addCheckFlags(cmd, &f.check)
	cmd.Flags().StringSliceVar(&f.input, "input", nil, "additional candidate file glob patterns to validate")
	cmd.Flags().StringVar(&f.output, "output", "", "checker output base (default working-proxies-<timestamp>.txt)")
	cmd.Flags().BoolVar(&f.serveStatus, "serve-status", false, "expose /metrics and /stats over HTTP during the run")
	cmd.Flags().StringVar(&f.statusAddr, "status-addr", ":9090", "status server listen address")
	return cmd
}

func runUnifiedCommand(cmd *cobra.Command, f *runFlags) error {
	if wantsSourceListing(&f.scrape) {
		printSourceListing()
		return nil
	}

	coord, restore := setupTermination()
	defer restore()

	output := f.output
	if output == "" {
		output = timestampedPath("working-proxies")
	}
	scrapedFile := timestampedPath("scraped-proxies")

	checkCfg, err := f.check.dispatcherConfig(output)
	if err != nil {
		return err
	}
	tasks, err := scrape.BuildTasks(f.scrape.taskOptions(), logging.L)
	if err != nil {
		return err
	}
	scrapeDispatcher, err := scrape.NewDispatcher(f.scrape.dispatcherConfig(), coord, logging.L)
	if err != nil {
		return err
	}

	validator, err := checker.New(cmd.Context(), checker.Config{
		Timeout: checkCfg.Timeout,
		Judges:  f.check.judges,
		Verbose: verbose,
	}, logging.L)
	if err != nil {
		return err
	}

	coordinator := pipeline.NewCoordinator(2*checkCfg.Workers, logging.L)

	writer := storage.NewFileWriter(output, checkCfg.PrependProtocol, logging.L)
	checkDispatcher, err := checker.NewDispatcher(checkCfg, validator, writer, coord,
		func(candidate string, usable bool, _ checker.Result) {
			coordinator.OnChecked(candidate, usable)
		}, logging.L)
	if err != nil {
		return err
	}

	runCtx, cancelStatus := context.WithCancel(cmd.Context())
	defer cancelStatus()
	if viper.GetBool("status.enabled") {
		server := api.NewServer(viper.GetString("status.addr"), coordinator, logging.L)
		go func() {
			if err := server.Start(runCtx); err != nil {
				logging.L.Warn("status server stopped", zap.Error(err))
			}
		}()
	}

	if len(f.input) > 0 {
		extra, err := storage.LoadFromPatterns(f.input, logging.L)
		if err == nil && len(extra) > 0 {
			logging.L.Info("seeding candidates from input files", zap.Int("count", len(extra)))
			coordinator.Seed("input-files", extra)
		} else if err != nil {
			logging.L.Warn("input files skipped", zap.Error(err))
		}
	}

	// The sink streams into attribution; reserved-range candidates are
	// dropped here so they never reach validation.
	sink := func(sourceDetail string, candidates []string) {
		routable := candidates[:0:0]
		for _, c := range candidates {
			if scrape.IsRoutable(c) {
				routable = append(routable, c)
			}
		}
		coordinator.OnScraped(sourceDetail, routable)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer coordinator.CloseIntake()
		result, err := scrapeDispatcher.Run(cmd.Context(), tasks, sink)
		if err != nil {
			logging.L.Error("source dispatcher failed", zap.Error(err))
			return
		}
		if len(result.Candidates) > 0 {
			if err := storage.SaveList(scrapedFile, result.Candidates, logging.L); err != nil {
				logging.L.Error("saving scraped candidates failed", zap.Error(err))
			}
		}
	}()

	buckets, err := checkDispatcher.Run(cmd.Context(), nil, coordinator.Candidates())
	wg.Wait()
	if err != nil {
		return err
	}

	printRunSummary(coordinator.Summarize())
	logging.L.Info("run complete", zap.Int("working", buckets.Len(storage.BucketAll)))
	if coord.Terminating() {
		logging.L.Info("run interrupted; partial results saved")
	}
	return nil
}

func printRunSummary(summary pipeline.Summary) {
	fmt.Println()
	fmt.Printf("%-40s | %-10s | %-10s\n", "Source", "Scraped", "Working")
	fmt.Println(strings.Repeat("-", 66))
	for _, row := range summary.Rows {
		name := row.SourceID
		if len(name) > 38 {
			name = name[:38]
		}
		fmt.Printf("%-40s | %-10d | %-10d\n", name, row.Scraped, row.Working)
	}
	fmt.Println(strings.Repeat("-", 66))
	fmt.Printf("%-40s | %-10d | %-10d\n", "TOTAL (unique)", summary.UniqueScraped, summary.UniqueWorking)
}
