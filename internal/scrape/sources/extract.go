// Package sources implements the producer tasks that discover proxy
// candidates: plain web pages, JSON APIs, HTML tables and seed-list
// discovery.
package sources

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
)

// candidateRe validates a complete "ip:port" string.
var candidateRe = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}:\d{1,5}$`)

// dataConfigRe matches candidates embedded in data-config attributes, seen
// on a handful of list sites.
var dataConfigRe = regexp.MustCompile(`data-config="(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}:\d{1,5})"`)

// extractPatterns is ordered from most specific to most generic. Every
// pattern runs and the matches are unioned; the final candidateRe filter
// drops whatever the broad fallbacks pick up wrongly.
var extractPatterns = []*regexp.Regexp{
	// ip:port inside quotes, common in JS and JSON blobs
	regexp.MustCompile(`["'](\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}):(\d{2,5})["']`),
	// table rows with the port in a later, non-adjacent cell
	regexp.MustCompile(`<tr[^>]*>[\s\S]*?<td>\s*(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\s*</td>[\s\S]*?<td>\s*(\d+)\s*</td>`),
	// adjacent table cells, with and without whitespace
	regexp.MustCompile(`<td>\s*(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\s*</td>\s*<td>\s*(\d+)\s*</td>`),
	regexp.MustCompile(`<td>(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})</td>\s*<td>(\d+)</td>`),
	// ip and port separated by non-breaking spaces
	regexp.MustCompile(`(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})&nbsp;&nbsp;(\d+)`),
	// plain ip:port, with and without whitespace around the colon
	regexp.MustCompile(`(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\s*:\s*(\d+)`),
	regexp.MustCompile(`(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}):(\d+)`),
	// ip and port in adjacent tags
	regexp.MustCompile(`>\s*(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\s*<[^>]+>(\d{2,5})<`),
	// ip near the word "port"
	regexp.MustCompile(`(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})[\s\S]{0,50}?port\s*:\s*(\d+)`),
	// broad fallbacks, highest false-positive risk
	regexp.MustCompile(`(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})[\s-]+(\d{2,5})`),
	regexp.MustCompile(`(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})<.*?>(\d+)<`),
	regexp.MustCompile(`(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})[\s<>]+(\d{2,5})`),
}

// jsonAddressKeys hold a complete "ip:port" value.
var jsonAddressKeys = []string{"address", "proxy", "addr", "ip_port"}

// jsonIPKeys hold the address half when the port lives in its own field.
var jsonIPKeys = []string{"ip", "ipAddress", "host", "ip_address"}

// ExtractCandidates pulls proxy candidates out of arbitrary page content.
// JSON documents are walked structurally first; HTML and plain text fall
// back to the ordered pattern list. Returns a sorted, de-duplicated list.
func ExtractCandidates(content string) []string {
	found := make(map[string]struct{})

	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err == nil {
		walkJSON(doc, found)
	}

	if len(found) == 0 {
		for _, m := range dataConfigRe.FindAllStringSubmatch(content, -1) {
			found[m[1]] = struct{}{}
		}
	}

	if len(found) == 0 {
		for _, re := range extractPatterns {
			for _, m := range re.FindAllStringSubmatch(content, -1) {
				found[m[1]+":"+m[2]] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(found))
	for c := range found {
		if candidateRe.MatchString(c) {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// walkJSON recursively searches decoded JSON for candidate fields. An object
// that yields a candidate is not descended further.
func walkJSON(node any, found map[string]struct{}) {
	switch v := node.(type) {
	case map[string]any:
		for _, key := range jsonAddressKeys {
			if s, ok := v[key].(string); ok && candidateRe.MatchString(s) {
				found[s] = struct{}{}
				return
			}
		}
		ip, port := "", ""
		for _, key := range jsonIPKeys {
			if val, ok := v[key]; ok {
				ip = stringify(val)
			}
		}
		if val, ok := v["port"]; ok {
			port = stringify(val)
		}
		if ip != "" && port != "" {
			if c := ip + ":" + port; candidateRe.MatchString(c) {
				found[c] = struct{}{}
				return
			}
		}
		for _, val := range v {
			walkJSON(val, found)
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				if candidateRe.MatchString(s) {
					found[s] = struct{}{}
				}
				continue
			}
			walkJSON(item, found)
		}
	}
}

// stringify renders JSON scalars the way they appear on the wire; ports
// arrive both as numbers and as strings.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
