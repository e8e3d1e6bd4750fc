package sources

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	proxyNovaBaseURL    = "https://www.proxynova.com/proxy-server-list/"
	advancedNameBaseURL = "https://advanced.name/freeproxy"
)

// proxyNovaPaths are the list pages worth scraping; the anonymity-specific
// lists overlap the main one only partially.
var proxyNovaPaths = []string{"", "elite-proxies/", "anonymous-proxies/", "transparent-proxies/"}

// FetchProxyNova scrapes the ProxyNova server-list tables. The IP cell is
// rendered by an inline document.write, so the address is recovered from the
// script's string literals; the port sits in the next cell.
func FetchProxyNova(ctx context.Context, f *WebFetcher, logger *zap.Logger) ([]string, error) {
	found := make(map[string]struct{})
	limiter := rate.NewLimiter(rate.Limit(1), 1)
	for _, path := range proxyNovaPaths {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		body, err := f.FetchBody(ctx, proxyNovaBaseURL+path, nil, nil)
		if err != nil {
			logger.Debug("proxynova page failed", zap.String("path", path), zap.Error(err))
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			continue
		}
		doc.Find("tr[data-proxy-id]").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() < 2 {
				return
			}
			ip := decodeDocumentWrite(cells.Eq(0).Find("script").Text())
			if ip == "" {
				ip = strings.TrimSpace(cells.Eq(0).Text())
			}
			port := strings.TrimSpace(cells.Eq(1).Text())
			c := ip + ":" + port
			if candidateRe.MatchString(c) {
				found[c] = struct{}{}
			}
		})
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("proxynova yielded no candidates")
	}
	return sortedKeys(found), nil
}

// decodeDocumentWrite recovers the address from ProxyNova's inline
// `document.write('1.2.3' + '.4')` obfuscation by concatenating every quoted
// string literal in source order. Method-call tricks beyond concatenation
// make the result fail candidate validation and get dropped upstream.
func decodeDocumentWrite(script string) string {
	var b strings.Builder
	inString := false
	var quote byte
	for i := 0; i < len(script); i++ {
		ch := script[i]
		if !inString {
			if ch == '\'' || ch == '"' {
				inString = true
				quote = ch
			}
			continue
		}
		if ch == '\\' && i+1 < len(script) {
			b.WriteByte(script[i+1])
			i++
			continue
		}
		if ch == quote {
			inString = false
			continue
		}
		b.WriteByte(ch)
	}
	return strings.TrimSpace(b.String())
}

// FetchAdvancedName scrapes advanced.name, which hides the address and port
// in base64-encoded data attributes, paginating until a page is empty.
func FetchAdvancedName(ctx context.Context, f *WebFetcher, logger *zap.Logger) ([]string, error) {
	found := make(map[string]struct{})
	limiter := rate.NewLimiter(rate.Limit(1), 1)
	for page := 1; ; page++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		body, err := f.FetchBody(ctx, fmt.Sprintf("%s?page=%d", advancedNameBaseURL, page), nil, nil)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("advanced.name: %w", err)
			}
			break
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			break
		}

		before := len(found)
		doc.Find("td[data-ip]").Each(func(_ int, cell *goquery.Selection) {
			encIP, _ := cell.Attr("data-ip")
			encPort, ok := cell.Next().Attr("data-port")
			if !ok {
				return
			}
			c := decodeBase64(encIP) + ":" + decodeBase64(encPort)
			if candidateRe.MatchString(c) {
				found[c] = struct{}{}
			}
		})
		if len(found) == before {
			break
		}
		logger.Debug("advanced.name page fetched", zap.Int("page", page), zap.Int("total", len(found)))
	}
	return sortedKeys(found), nil
}

// decodeBase64 tolerates missing padding; the site is not consistent.
func decodeBase64(s string) string {
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return ""
	}
	return string(raw)
}
