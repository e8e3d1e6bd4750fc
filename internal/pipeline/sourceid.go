// Package pipeline connects the source dispatcher to the checker so
// validation starts while discovery is still running, and keeps
// per-source statistics.
package pipeline

import (
	"net/url"
	"regexp"
	"strings"
)

// githubMirrorRe recognizes the usual github raw/CDN mirrors so lists served
// from the same repository under different hosts collapse to one source.
var githubMirrorRe = regexp.MustCompile(`https?://(?:www\.)?(?:cdn\.jsdelivr\.net/gh|fastly\.jsdelivr\.net/gh|raw\.githubusercontent\.com|github\.com)/([^/]+)/([^/@#?]+)`)

// CanonicalSourceID normalizes a source detail string to a stable reporting
// identifier. URLs become their host (or `github:owner/repo` for code-host
// mirrors); anything else, typically a task name, passes through unchanged.
func CanonicalSourceID(detail string) string {
	if detail == "" {
		return "unknown"
	}
	if m := githubMirrorRe.FindStringSubmatch(detail); m != nil {
		return "github:" + m[1] + "/" + m[2]
	}
	if strings.HasPrefix(detail, "http://") || strings.HasPrefix(detail, "https://") {
		if u, err := url.Parse(detail); err == nil && u.Hostname() != "" {
			return strings.TrimPrefix(u.Hostname(), "www.")
		}
	}
	return detail
}
