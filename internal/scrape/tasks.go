package scrape

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/proxygather/proxygather/internal/scrape/automation"
	"github.com/proxygather/proxygather/internal/scrape/sources"
)

// Well-known task names. WebsitesTask scrapes the explicit sites file;
// DiscoverTask crawls seed pages for fresh list URLs first.
const (
	WebsitesTask = "Websites"
	DiscoverTask = "Discover"
)

// TaskOptions selects and parameterizes the producer tasks for one run.
type TaskOptions struct {
	SitesFile   string
	SourcesFile string
	Threads     int
	UserAgent   string
	Timeout     time.Duration

	// UseBrowserAutomation enables the browser-backed tasks, which are off
	// by default; naming one in Only also enables it.
	UseBrowserAutomation bool

	// Only and Exclude are mutually exclusive, case-insensitive name
	// filters.
	Only    []string
	Exclude []string
}

// SourceNames returns every task name this build knows, sorted, for the
// listing mode of --only/--exclude.
func SourceNames() []string {
	names := []string{
		WebsitesTask, DiscoverTask,
		"ProxyScrape", "Geonode", "CheckerProxy", "ProxyNova", "Advanced.name",
	}
	for _, site := range automation.Sites {
		names = append(names, site.Name)
	}
	sort.Strings(names)
	return names
}

// BuildTasks assembles the task list for the run, applying the automation
// gate and the Only/Exclude filters. A run that filters down to nothing is a
// configuration error.
func BuildTasks(opts TaskOptions, logger *zap.Logger) ([]Task, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fetcher := sources.NewWebFetcher(sources.WebConfig{
		UserAgent: opts.UserAgent,
		Timeout:   opts.Timeout,
	}, logger)

	tasks := map[string]Task{}

	addAPI := func(name string, fn func(context.Context, *sources.WebFetcher, *zap.Logger) ([]string, error)) {
		tasks[name] = Task{
			Name: name,
			Kind: KindRegular,
			Run: func(ctx context.Context, sink Sink) ([]string, error) {
				candidates, err := fn(ctx, fetcher, logger)
				if err != nil {
					return nil, err
				}
				if sink != nil {
					sink(name, candidates)
				}
				return candidates, nil
			},
		}
	}
	addAPI("ProxyScrape", sources.FetchProxyScrape)
	addAPI("Geonode", sources.FetchGeonode)
	addAPI("CheckerProxy", sources.FetchCheckerProxy)
	addAPI("ProxyNova", sources.FetchProxyNova)
	addAPI("Advanced.name", sources.FetchAdvancedName)

	var siteTargets []sources.Target
	if opts.SitesFile != "" {
		targets, err := sources.ParseSitesFile(opts.SitesFile, logger)
		if err != nil {
			logger.Warn("sites file unavailable, skipping Websites task",
				zap.String("path", opts.SitesFile), zap.Error(err))
		} else if len(targets) > 0 {
			siteTargets = targets
			tasks[WebsitesTask] = Task{
				Name: WebsitesTask,
				Kind: KindRegular,
				Run: func(ctx context.Context, sink Sink) ([]string, error) {
					return fetcher.ScrapeTargets(ctx, targets, opts.Threads, sources.Report(sink)), nil
				},
			}
		}
	}

	if opts.SourcesFile != "" {
		tasks[DiscoverTask] = Task{
			Name: DiscoverTask,
			Kind: KindRegular,
			Run: func(ctx context.Context, sink Sink) ([]string, error) {
				seeds, err := sources.ReadSeedFile(opts.SourcesFile)
				if err != nil {
					return nil, err
				}
				if len(seeds) == 0 {
					return nil, nil
				}
				discovered := sources.DiscoverTargets(ctx, fetcher, seeds, opts.Threads, logger)
				discovered = sources.FilterKnownDomains(discovered, siteTargets, logger)
				targets := make([]sources.Target, 0, len(discovered))
				for _, u := range discovered {
					targets = append(targets, sources.Target{URL: u})
				}
				return fetcher.ScrapeTargets(ctx, targets, opts.Threads, sources.Report(sink)), nil
			},
		}
	}

	for _, site := range automation.Sites {
		site := site
		kind := KindHeadless
		if site.Headful {
			kind = KindHeadful
		}
		tasks[site.Name] = Task{
			Name: site.Name,
			Kind: kind,
			Run: func(ctx context.Context, sink Sink) ([]string, error) {
				candidates, err := automation.Scrape(ctx, site, automation.Config{
					UserAgent:         opts.UserAgent,
					NavigationTimeout: opts.Timeout,
				}, logger)
				if err != nil {
					return nil, err
				}
				if sink != nil {
					sink(site.Name, candidates)
				}
				return candidates, nil
			},
		}
	}

	selected, err := filterTasks(tasks, opts, logger)
	if err != nil {
		return nil, err
	}

	out := make([]Task, 0, len(selected))
	for _, t := range selected {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func filterTasks(tasks map[string]Task, opts TaskOptions, logger *zap.Logger) (map[string]Task, error) {
	byLower := make(map[string]string, len(tasks))
	for name := range tasks {
		byLower[strings.ToLower(name)] = name
	}
	resolve := func(requested []string) map[string]struct{} {
		out := make(map[string]struct{})
		for _, r := range requested {
			if name, ok := byLower[strings.ToLower(r)]; ok {
				out[name] = struct{}{}
			} else {
				logger.Warn("unknown source name ignored", zap.String("name", r))
			}
		}
		return out
	}

	switch {
	case len(opts.Only) > 0:
		keep := resolve(opts.Only)
		for name := range tasks {
			if _, ok := keep[name]; !ok {
				delete(tasks, name)
			}
		}
	case len(opts.Exclude) > 0:
		for name := range resolve(opts.Exclude) {
			delete(tasks, name)
		}
	}

	// Browser tasks stay off unless explicitly enabled or explicitly asked
	// for by name.
	if len(opts.Only) == 0 && !opts.UseBrowserAutomation {
		for _, site := range automation.Sites {
			if _, ok := tasks[site.Name]; ok {
				delete(tasks, site.Name)
				logger.Debug("browser automation task skipped by default", zap.String("task", site.Name))
			}
		}
	}

	if len(tasks) == 0 {
		return nil, fmt.Errorf("no source tasks selected")
	}
	return tasks, nil
}
