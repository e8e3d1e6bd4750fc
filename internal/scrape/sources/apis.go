package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	proxyScrapeURL      = "https://api.proxyscrape.com/v4/free-proxy-list/get?request=displayproxies&timeout=8000&country=all&ssl=all&anonymity=all"
	proxyScrapePageSize = 2000

	geonodeURL      = "https://proxylist.geonode.com/api/proxy-list"
	geonodeLimit    = 500
	geonodeMaxPages = 8

	checkerProxyArchiveURL = "https://api.checkerproxy.net/v1/landing/archive/"
)

// apiLimiter paces API pagination at two requests per second, shared across
// the API sources so none of them hammers its endpoint.
var apiLimiter = rate.NewLimiter(rate.Limit(2), 1)

// FetchProxyScrape pages through the ProxyScrape plain-text API using its
// skip parameter until an empty page comes back.
func FetchProxyScrape(ctx context.Context, f *WebFetcher, logger *zap.Logger) ([]string, error) {
	found := make(map[string]struct{})
	for skip, page := 0, 1; ; skip, page = skip+proxyScrapePageSize, page+1 {
		if err := apiLimiter.Wait(ctx); err != nil {
			break
		}
		body, err := f.FetchBody(ctx, fmt.Sprintf("%s&skip=%d", proxyScrapeURL, skip), nil, nil)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("proxyscrape api: %w", err)
			}
			break
		}
		lines := nonEmptyLines(body)
		if len(lines) == 0 {
			break
		}
		for _, line := range lines {
			found[line] = struct{}{}
		}
		logger.Debug("proxyscrape page fetched", zap.Int("page", page), zap.Int("total", len(found)))
	}
	return sortedKeys(found), nil
}

type geonodeResponse struct {
	Data []struct {
		IP   string       `json:"ip"`
		Port looseString `json:"port"`
	} `json:"data"`
}

// looseString decodes both `"8080"` and `8080`; list APIs are not consistent
// about port types.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	*s = looseString(b)
	return nil
}

// FetchGeonode pages through the Geonode JSON API until a page returns no
// data, capped at a fixed page limit.
func FetchGeonode(ctx context.Context, f *WebFetcher, logger *zap.Logger) ([]string, error) {
	found := make(map[string]struct{})
	for page := 1; page <= geonodeMaxPages; page++ {
		if err := apiLimiter.Wait(ctx); err != nil {
			break
		}
		url := fmt.Sprintf("%s?limit=%d&page=%d&sort_by=lastChecked&sort_type=desc&speed=fast",
			geonodeURL, geonodeLimit, page)
		body, err := f.FetchBody(ctx, url, nil, nil)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("geonode api: %w", err)
			}
			break
		}
		var resp geonodeResponse
		if err := json.Unmarshal([]byte(body), &resp); err != nil {
			return nil, fmt.Errorf("geonode api page %d: %w", page, err)
		}
		if len(resp.Data) == 0 {
			break
		}
		for _, entry := range resp.Data {
			c := entry.IP + ":" + string(entry.Port)
			if candidateRe.MatchString(c) {
				found[c] = struct{}{}
			}
		}
		logger.Debug("geonode page fetched", zap.Int("page", page), zap.Int("total", len(found)))
	}
	return sortedKeys(found), nil
}

type checkerProxyArchive struct {
	Success bool `json:"success"`
	Data    struct {
		Items []struct {
			Date string `json:"date"`
		} `json:"items"`
	} `json:"data"`
}

type checkerProxyDaily struct {
	Success bool `json:"success"`
	Data    struct {
		ProxyList []string `json:"proxyList"`
	} `json:"data"`
}

// FetchCheckerProxy downloads the checkerproxy.net archive: first the list of
// available dates, then each daily proxy list. Individual bad days are
// skipped.
func FetchCheckerProxy(ctx context.Context, f *WebFetcher, logger *zap.Logger) ([]string, error) {
	body, err := f.FetchBody(ctx, checkerProxyArchiveURL, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("checkerproxy archive list: %w", err)
	}
	var archive checkerProxyArchive
	if err := json.Unmarshal([]byte(body), &archive); err != nil {
		return nil, fmt.Errorf("checkerproxy archive list: %w", err)
	}
	if !archive.Success || len(archive.Data.Items) == 0 {
		return nil, fmt.Errorf("checkerproxy archive list returned no dates")
	}

	found := make(map[string]struct{})
	for i, item := range archive.Data.Items {
		if err := apiLimiter.Wait(ctx); err != nil {
			break
		}
		daily, err := f.FetchBody(ctx, checkerProxyArchiveURL+item.Date, nil, nil)
		if err != nil {
			logger.Debug("checkerproxy day skipped", zap.String("date", item.Date), zap.Error(err))
			continue
		}
		var day checkerProxyDaily
		if err := json.Unmarshal([]byte(daily), &day); err != nil || !day.Success {
			logger.Debug("checkerproxy day unreadable", zap.String("date", item.Date))
			continue
		}
		for _, c := range day.Data.ProxyList {
			if candidateRe.MatchString(c) {
				found[c] = struct{}{}
			}
		}
		logger.Debug("checkerproxy day fetched",
			zap.String("date", item.Date),
			zap.Int("progress", i+1),
			zap.Int("total_dates", len(archive.Data.Items)),
			zap.Int("unique", len(found)))
	}
	return sortedKeys(found), nil
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
