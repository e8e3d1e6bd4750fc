package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/proxygather/proxygather/internal/logging"
	"github.com/proxygather/proxygather/internal/scrape"
	"github.com/proxygather/proxygather/internal/storage"
)

type scrapeFlags struct {
	output               string
	threads              int
	automationThreads    int
	fetchTimeout         time.Duration
	sitesFile            string
	sourcesFile          string
	useBrowserAutomation bool
	only                 []string
	exclude              []string
}

func addScrapeFlags(cmd *cobra.Command, f *scrapeFlags) {
	flags := cmd.Flags()
	flags.IntVar(&f.threads, "threads", 50, "worker budget for regular source tasks")
	flags.IntVar(&f.automationThreads, "automation-threads", 3, "concurrent headless browser tasks")
	flags.DurationVar(&f.fetchTimeout, "fetch-timeout", 15*time.Second, "per-request fetch timeout")
	flags.StringVar(&f.sitesFile, "sites-file", "sites-to-get-proxies-from.txt", "explicit target list, url|payload|headers per line")
	flags.StringVar(&f.sourcesFile, "sources-file", "sites-to-get-sources-from.txt", "seed pages to discover fresh target URLs from")
	flags.BoolVar(&f.useBrowserAutomation, "use-browser-automation", false, "enable the browser-backed source tasks")
	flags.StringSliceVar(&f.only, "only", nil, "run only the named sources; pass with no value to list them")
	flags.StringSliceVar(&f.exclude, "exclude", nil, "skip the named sources; pass with no value to list them")
	flags.Lookup("only").NoOptDefVal = listSentinel
	flags.Lookup("exclude").NoOptDefVal = listSentinel
	cmd.MarkFlagsMutuallyExclusive("only", "exclude")
}

// bindScrapeFlags attaches this command's flags to the viper keys. Done in
// PreRun, not at construction, so only the command actually running owns the
// keys.
func bindScrapeFlags(cmd *cobra.Command) error {
	return bindAll(cmd, map[string]string{
		"scraper.threads":                "threads",
		"scraper.automation_threads":     "automation-threads",
		"scraper.sites_file":             "sites-file",
		"scraper.sources_file":           "sources-file",
		"scraper.use_browser_automation": "use-browser-automation",
	})
}

func bindAll(cmd *cobra.Command, keys map[string]string) error {
	for key, flag := range keys {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

// wantsSourceListing reports whether --only/--exclude was passed bare, which
// asks for the source list instead of a run.
func wantsSourceListing(f *scrapeFlags) bool {
	return (len(f.only) == 1 && f.only[0] == listSentinel) ||
		(len(f.exclude) == 1 && f.exclude[0] == listSentinel)
}

func printSourceListing() {
	fmt.Println("Available sources:")
	for _, name := range scrape.SourceNames() {
		fmt.Printf("  %s\n", name)
	}
}

func (f *scrapeFlags) taskOptions() scrape.TaskOptions {
	return scrape.TaskOptions{
		SitesFile:            viper.GetString("scraper.sites_file"),
		SourcesFile:          viper.GetString("scraper.sources_file"),
		Threads:              viper.GetInt("scraper.threads"),
		Timeout:              f.fetchTimeout,
		UseBrowserAutomation: viper.GetBool("scraper.use_browser_automation"),
		Only:                 f.only,
		Exclude:              f.exclude,
	}
}

func (f *scrapeFlags) dispatcherConfig() scrape.Config {
	return scrape.Config{
		RegularWorkers:  viper.GetInt("scraper.threads"),
		HeadlessWorkers: viper.GetInt("scraper.automation_threads"),
		TaskTimeout:     viper.GetDuration("scraper.task_timeout"),
		TotalTimeout:    viper.GetDuration("scraper.total_timeout"),
	}
}

func newScrapeCmd() *cobra.Command {
	f := &scrapeFlags{}
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Discovers proxy candidates from every selected source",
		Long: `Runs all selected source tasks concurrently, unions their results,
drops duplicates and reserved-range addresses and writes the survivors to a
flat text file, one candidate per line.`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindScrapeFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrapeCommand(cmd, f)
		},
	}
	addScrapeFlags(cmd, f)
	cmd.Flags().StringVar(&f.output, "output", "", "output file (default scraped-proxies-<timestamp>.txt)")
	return cmd
}

func runScrapeCommand(cmd *cobra.Command, f *scrapeFlags) error {
	if wantsSourceListing(f) {
		printSourceListing()
		return nil
	}

	coord, restore := setupTermination()
	defer restore()

	tasks, err := scrape.BuildTasks(f.taskOptions(), logging.L)
	if err != nil {
		return err
	}
	dispatcher, err := scrape.NewDispatcher(f.dispatcherConfig(), coord, logging.L)
	if err != nil {
		return err
	}

	result, err := dispatcher.Run(cmd.Context(), tasks, nil)
	if err != nil {
		return err
	}
	printScrapeSummary(result)

	if len(result.Candidates) == 0 {
		logging.L.Warn("no proxies found from any source")
		return nil
	}

	output := f.output
	if output == "" {
		output = timestampedPath("scraped-proxies")
	}
	if err := storage.SaveList(output, result.Candidates, logging.L); err != nil {
		return err
	}
	if coord.Terminating() {
		logging.L.Info("scrape interrupted; partial results saved", zap.String("path", output))
	}
	return nil
}

func printScrapeSummary(result scrape.Result) {
	names := make([]string, 0, len(result.PerSource))
	for name := range result.PerSource {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		logging.L.Info("source finished",
			zap.String("source", name),
			zap.Int("candidates", result.PerSource[name]))
	}
	logging.L.Info("scrape complete",
		zap.Int("unique_valid", len(result.Candidates)),
		zap.Int("reserved_filtered", result.Filtered))
}
