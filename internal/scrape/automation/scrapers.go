package automation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/proxygather/proxygather/internal/scrape/sources"
)

// Site describes one browser-backed list site: where to navigate and
// whether the site refuses to render without a visible window.
type Site struct {
	Name    string
	URL     string
	Headful bool
}

// Sites lists the browser-only sources. Hide.mn and Spys.one detect the new
// headless mode and serve empty tables, so they need a real window.
var Sites = []Site{
	{Name: "OpenProxyList", URL: "https://openproxylist.com/proxy/", Headful: false},
	{Name: "Hide.mn", URL: "https://hide.mn/en/proxy-list/", Headful: true},
	{Name: "Spys.one", URL: "https://spys.one/en/free-proxy-list/", Headful: true},
}

// Scrape renders the site in its own disposable browser and extracts
// candidates from the final DOM.
func Scrape(ctx context.Context, site Site, cfg Config, logger *zap.Logger) ([]string, error) {
	cfg.Headful = site.Headful
	browser, err := NewBrowser(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: start browser: %w", site.Name, err)
	}
	defer browser.Close()

	html, err := browser.RenderPage(ctx, site.URL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", site.Name, err)
	}

	candidates := sources.ExtractCandidates(html)
	logger.Info("automation source finished",
		zap.String("source", site.Name),
		zap.Int("candidates", len(candidates)))
	return candidates, nil
}
