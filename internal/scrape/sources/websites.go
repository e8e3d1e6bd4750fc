package sources

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// DefaultUserAgent is sent on every source request unless overridden per
// target.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36"

// pagePlaceholder in a target URL or payload value turns the target into a
// sequential paginated crawl.
const pagePlaceholder = "{page}"

// paginationDelay spaces paginated requests so list sites do not rate-limit
// the crawl.
const paginationDelay = 1500 * time.Millisecond

// Target is one line of the sites file: a URL, an optional POST payload and
// optional extra headers.
type Target struct {
	URL     string
	Payload map[string]string
	Headers map[string]string
}

// paginated reports whether the target must be crawled page by page.
func (t Target) paginated() bool {
	if strings.Contains(t.URL, pagePlaceholder) {
		return true
	}
	for _, v := range t.Payload {
		if strings.Contains(v, pagePlaceholder) {
			return true
		}
	}
	return false
}

// ParseSitesFile reads targets from a `url|payloadJSON|headersJSON` file.
// Blank lines and #-comments are skipped; a target with malformed JSON keeps
// its URL and drops the bad section.
func ParseSitesFile(path string, logger *zap.Logger) ([]Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var targets []Target
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		t := Target{URL: strings.TrimSpace(parts[0])}
		if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
			if err := json.Unmarshal([]byte(parts[1]), &t.Payload); err != nil {
				logger.Warn("invalid payload json in sites file", zap.String("url", t.URL))
			}
		}
		if len(parts) > 2 && strings.TrimSpace(parts[2]) != "" {
			if err := json.Unmarshal([]byte(parts[2]), &t.Headers); err != nil {
				logger.Warn("invalid headers json in sites file", zap.String("url", t.URL))
			}
		}
		targets = append(targets, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return targets, nil
}

// WebConfig controls the shared collector.
type WebConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// WebFetcher fetches source pages through a shared Colly collector. Safe for
// concurrent use; each fetch runs on a clone.
type WebFetcher struct {
	cfg    WebConfig
	base   *colly.Collector
	logger *zap.Logger
}

// NewWebFetcher builds a fetcher with pooled transports.
func NewWebFetcher(cfg WebConfig, logger *zap.Logger) *WebFetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(&http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	})
	return &WebFetcher{cfg: cfg, base: c, logger: logger}
}

// FetchBody performs one GET (or POST when payload is non-nil) and returns
// the response body as a string.
func (f *WebFetcher) FetchBody(ctx context.Context, url string, payload, headers map[string]string) (string, error) {
	collector := f.base.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		body     string
		fetchErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		for k, v := range headers {
			r.Headers.Set(k, v)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		body = string(r.Body)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		if payload != nil {
			done <- collector.Post(url, payload)
		} else {
			done <- collector.Visit(url)
		}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("visit %s: %w", url, err)
		}
		if fetchErr != nil {
			return "", fmt.Errorf("response from %s: %w", url, fetchErr)
		}
		return body, nil
	}
}

// Report receives the candidates a single source URL produced. Called from
// multiple goroutines.
type Report func(sourceDetail string, candidates []string)

// ScrapeTargets fetches every target, extracts candidates and reports them
// per source URL. Single-request targets run concurrently under the workers
// bound; paginated targets run sequentially, stopping when a page yields
// nothing new. Returns the sorted union.
func (f *WebFetcher) ScrapeTargets(ctx context.Context, targets []Target, workers int, report Report) []string {
	if workers <= 0 {
		workers = 10
	}

	var (
		singles   []Target
		paginated []Target
	)
	for _, t := range targets {
		if t.paginated() {
			paginated = append(paginated, t)
		} else {
			singles = append(singles, t)
		}
	}

	var (
		mu    sync.Mutex
		union = make(map[string]struct{})
	)
	record := func(url string, candidates []string) {
		if len(candidates) == 0 {
			return
		}
		mu.Lock()
		for _, c := range candidates {
			union[c] = struct{}{}
		}
		mu.Unlock()
		if report != nil {
			report(url, candidates)
		}
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for _, t := range singles {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			body, err := f.FetchBody(ctx, t.URL, t.Payload, t.Headers)
			if err != nil {
				f.logger.Debug("target fetch failed", zap.String("url", t.URL), zap.Error(err))
				return
			}
			record(t.URL, ExtractCandidates(body))
		}(t)
	}
	wg.Wait()

	for _, t := range paginated {
		f.scrapePaginated(ctx, t, union, &mu, record)
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]string, 0, len(union))
	for c := range union {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// scrapePaginated walks {page}=1,2,... until a page produces no candidates
// at all or nothing the union has not already seen.
func (f *WebFetcher) scrapePaginated(ctx context.Context, t Target, union map[string]struct{}, mu *sync.Mutex, record Report) {
	var collected []string
	for page := 1; ; page++ {
		if ctx.Err() != nil {
			break
		}
		url := strings.ReplaceAll(t.URL, pagePlaceholder, strconv.Itoa(page))
		payload := substitutePage(t.Payload, page)

		body, err := f.FetchBody(ctx, url, payload, t.Headers)
		if err != nil {
			f.logger.Debug("paginated fetch failed", zap.String("url", url), zap.Error(err))
			break
		}
		candidates := ExtractCandidates(body)
		if len(candidates) == 0 {
			break
		}

		mu.Lock()
		fresh := 0
		for _, c := range candidates {
			if _, seen := union[c]; !seen {
				union[c] = struct{}{}
				fresh++
			}
		}
		mu.Unlock()
		collected = append(collected, candidates...)
		if fresh == 0 {
			break
		}

		select {
		case <-ctx.Done():
		case <-time.After(paginationDelay):
		}
	}
	record(t.URL, collected)
}

// substitutePage replaces the page placeholder in every payload value.
func substitutePage(payload map[string]string, page int) map[string]string {
	if payload == nil {
		return nil
	}
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		out[k] = strings.ReplaceAll(v, pagePlaceholder, strconv.Itoa(page))
	}
	return out
}
