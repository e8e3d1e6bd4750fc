package sources

import (
	"bufio"
	"context"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	hrefRe = regexp.MustCompile(`(?i)href=["']([^"']+)["']`)
	// lines like `[25]https://example.com/list` carry a page-count prefix
	pageCountPrefixRe = regexp.MustCompile(`^\[\d+\](.+)$`)
)

// ReadSeedFile loads discovery seed URLs from a file, skipping comments and
// blanks. A missing file is not an error; discovery is optional.
func ReadSeedFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var seeds []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			seeds = append(seeds, line)
		}
	}
	return seeds, scanner.Err()
}

// DiscoverTargets fetches every seed page concurrently and returns the
// sorted union of links found on them, from both HTML hrefs and plain-text
// URL lists.
func DiscoverTargets(ctx context.Context, f *WebFetcher, seeds []string, workers int, logger *zap.Logger) []string {
	if workers <= 0 {
		workers = 20
	}
	var (
		mu         sync.Mutex
		discovered = make(map[string]struct{})
		wg         sync.WaitGroup
	)
	sem := make(chan struct{}, workers)
	for _, seed := range seeds {
		wg.Add(1)
		go func(seed string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			links := discoverFromPage(ctx, f, seed, logger)
			mu.Lock()
			for _, l := range links {
				discovered[l] = struct{}{}
			}
			mu.Unlock()
		}(seed)
	}
	wg.Wait()

	out := sortedKeys(discovered)
	logger.Info("discovery finished", zap.Int("seeds", len(seeds)), zap.Int("links", len(out)))
	return out
}

func discoverFromPage(ctx context.Context, f *WebFetcher, seed string, logger *zap.Logger) []string {
	body, err := f.FetchBody(ctx, seed, nil, nil)
	if err != nil {
		logger.Debug("discovery seed failed", zap.String("seed", seed), zap.Error(err))
		return nil
	}

	base, _ := url.Parse(seed)
	links := make(map[string]struct{})
	for _, m := range hrefRe.FindAllStringSubmatch(body, -1) {
		href := m[1]
		if base != nil {
			if ref, err := url.Parse(href); err == nil {
				href = base.ResolveReference(ref).String()
			}
		}
		if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
			links[href] = struct{}{}
		}
	}
	for _, line := range strings.Split(body, "\n") {
		if u := urlFromListLine(line); u != "" {
			links[u] = struct{}{}
		}
	}

	out := make([]string, 0, len(links))
	for l := range links {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// urlFromListLine extracts a URL from a plain-text list line, dropping
// JavaScript-only entries and stripping page-count prefixes.
func urlFromListLine(line string) string {
	line = strings.TrimSpace(line)
	if strings.Contains(line, "[js]") {
		return ""
	}
	if m := pageCountPrefixRe.FindStringSubmatch(line); m != nil {
		line = strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
		return line
	}
	return ""
}

// FilterKnownDomains drops discovered URLs whose domain is already covered
// by an explicit target, so a site is not scraped twice in one run.
func FilterKnownDomains(discovered []string, targets []Target, logger *zap.Logger) []string {
	known := make(map[string]struct{})
	for _, t := range targets {
		if d := hostOf(t.URL); d != "" {
			known[d] = struct{}{}
		}
	}
	var out []string
	for _, u := range discovered {
		if d := hostOf(u); d != "" {
			if _, dup := known[d]; dup {
				continue
			}
		}
		out = append(out, u)
	}
	if skipped := len(discovered) - len(out); skipped > 0 {
		logger.Debug("discovery skipped already-targeted domains", zap.Int("skipped", skipped))
	}
	return out
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
