// Package checker validates proxy candidates against a set of proxy judges
// and classifies the protocols and anonymity level each one supports.
package checker

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Anonymity classes, from worst to best.
const (
	AnonymityTransparent = "Transparent"
	AnonymityAnonymous   = "Anonymous"
	AnonymityElite       = "Elite"
)

// Protocols the checker probes, in probe order.
var protocolOrder = []string{"http", "socks4", "socks5"}

// judgeRetryAttempts is how many times a single protocol probe retries a
// judge before giving up on that protocol.
const judgeRetryAttempts = 3

const (
	livenessCheckURL    = "http://www.google.com/"
	livenessCheckMarker = "Google"
	publicIPURL         = "https://api.ipify.org/"
	judgeProbeTimeout   = 5 * time.Second
	defaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/90.0.4430.93 Safari/537.36"
)

// defaultJudges echo the request environment back, letting the checker see
// which headers a proxy leaks.
var defaultJudges = []string{
	"http://proxyjudge.us/azenv.php",
	"http://mojeip.net.pl/asdfa/azenv.php",
	"http://azenv.net/",
	"http://www.proxy-listen.de/azenv.php",
	"http://httpheader.net/azenv.php",
	"https://www.proxyjudge.info/azenv.php",
}

// privacyHeaders mark a proxy that forwards identifying headers without
// exposing the caller's address outright.
var privacyHeaders = []string{
	"VIA",
	"X-FORWARDED-FOR",
	"X-FORWARDED",
	"FORWARDED-FOR",
	"FORWARDED-FOR-IP",
	"FORWARDED",
	"CLIENT-IP",
	"PROXY-CONNECTION",
}

// Result carries the detail of a usable candidate.
type Result struct {
	Protocols []string
	Anonymity string
	Latency   time.Duration
}

// Validator is the capability the dispatcher consumes: given a candidate
// address, report whether it is usable and, if so, how. Implementations must
// be safe for concurrent use.
type Validator interface {
	Validate(candidate string) (Result, bool)
}

// Config holds the checker's tunables.
type Config struct {
	Timeout   time.Duration
	UserAgent string
	Judges    []string
	Verbose   bool
}

// Checker implements Validator by probing candidates through live proxy
// judges. Construct with New, which verifies judge health and resolves the
// caller's public IP; both are required for anonymity classification.
type Checker struct {
	timeout   time.Duration
	userAgent string
	judges    []string
	publicIP  string
	logger    *zap.Logger
	verbose   bool
}

// New probes the configured judges, keeps the live ones, and resolves the
// public IP. It fails when no judge answers or the IP cannot be determined;
// without either, anonymity results would be meaningless.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Checker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	judges := cfg.Judges
	if len(judges) == 0 {
		judges = defaultJudges
	}

	c := &Checker{
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		logger:    logger,
		verbose:   cfg.Verbose,
	}

	live := c.probeJudges(ctx, judges)
	if len(live) == 0 {
		return nil, fmt.Errorf("no live proxy judges out of %d candidates", len(judges))
	}
	c.judges = live
	logger.Info("proxy judges verified", zap.Int("live", len(live)), zap.Int("probed", len(judges)))

	ip, err := c.fetchPublicIP(ctx)
	if err != nil {
		return nil, fmt.Errorf("determine public ip: %w", err)
	}
	c.publicIP = ip
	logger.Info("public ip resolved", zap.String("ip", ip))
	return c, nil
}

// PublicIP returns the caller's address as seen from the network.
func (c *Checker) PublicIP() string { return c.publicIP }

// probeJudges fetches every judge concurrently and keeps those whose body
// echoes the request environment.
func (c *Checker) probeJudges(ctx context.Context, judges []string) []string {
	var (
		mu   sync.Mutex
		live []string
		wg   sync.WaitGroup
	)
	client := &http.Client{Timeout: judgeProbeTimeout}
	for _, judge := range judges {
		wg.Add(1)
		go func(judge string) {
			defer wg.Done()
			body, _, err := c.fetch(ctx, client, judge)
			if err != nil || !strings.Contains(body, "REMOTE_ADDR") {
				c.logger.Debug("judge rejected", zap.String("judge", judge), zap.Error(err))
				return
			}
			mu.Lock()
			live = append(live, judge)
			mu.Unlock()
			c.logger.Debug("judge verified", zap.String("judge", judge))
		}(judge)
	}
	wg.Wait()
	return live
}

func (c *Checker) fetchPublicIP(ctx context.Context) (string, error) {
	client := &http.Client{Timeout: judgeProbeTimeout}
	body, _, err := c.fetch(ctx, client, publicIPURL)
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(body)
	if ip == "" {
		return "", fmt.Errorf("empty response from %s", publicIPURL)
	}
	return ip, nil
}

// Validate probes the candidate over http, socks4 and socks5. A candidate is
// usable when it passes the liveness gate and at least one protocol reaches a
// judge. Probe failures only disqualify their protocol; network errors never
// escape this method.
func (c *Checker) Validate(candidate string) (Result, bool) {
	if !c.checkLiveness(candidate) {
		return Result{}, false
	}

	var (
		protocols    []string
		totalLatency time.Duration
		lastBody     string
	)
	for _, protocol := range protocolOrder {
		body, latency, ok := c.probeProtocol(candidate, protocol)
		if !ok {
			continue
		}
		protocols = append(protocols, protocol)
		totalLatency += latency
		lastBody = body
	}
	if len(protocols) == 0 {
		return Result{}, false
	}

	return Result{
		Protocols: protocols,
		Anonymity: c.classifyAnonymity(lastBody),
		Latency:   totalLatency / time.Duration(len(protocols)),
	}, true
}

// checkLiveness fetches a known page through the proxy and requires the
// expected marker in the body. A proxy that connects but serves other
// content is treated as hijacking and rejected outright.
func (c *Checker) checkLiveness(candidate string) bool {
	for _, protocol := range protocolOrder {
		client, err := c.newProxyClient(protocol, candidate)
		if err != nil {
			continue
		}
		body, status, err := c.fetch(context.Background(), client, livenessCheckURL)
		if err != nil {
			continue
		}
		if status != http.StatusOK {
			if c.verbose {
				c.logger.Debug("liveness check failed",
					zap.String("candidate", candidate), zap.Int("status", status))
			}
			return false
		}
		if strings.Contains(body, livenessCheckMarker) {
			return true
		}
		if c.verbose {
			c.logger.Warn("possible hijacking proxy",
				zap.String("candidate", candidate), zap.String("protocol", protocol))
		}
		return false
	}
	return false
}

// probeProtocol queries a random judge through the candidate, retrying a few
// times on transient judge-side failures.
func (c *Checker) probeProtocol(candidate, protocol string) (string, time.Duration, bool) {
	client, err := c.newProxyClient(protocol, candidate)
	if err != nil {
		return "", 0, false
	}
	for attempt := 0; attempt < judgeRetryAttempts; attempt++ {
		judge := c.judges[rand.Intn(len(c.judges))]
		start := time.Now()
		body, status, err := c.fetch(context.Background(), client, judge)
		if err != nil {
			// Connection-level failure: this protocol is not supported.
			return "", 0, false
		}
		if status == http.StatusOK {
			return body, time.Since(start), true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return "", 0, false
}

func (c *Checker) classifyAnonymity(judgeBody string) string {
	if c.publicIP != "" && strings.Contains(judgeBody, c.publicIP) {
		return AnonymityTransparent
	}
	upper := strings.ToUpper(judgeBody)
	for _, header := range privacyHeaders {
		if strings.Contains(upper, header) {
			return AnonymityAnonymous
		}
	}
	return AnonymityElite
}

func (c *Checker) fetch(ctx context.Context, client *http.Client, url string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(body), resp.StatusCode, nil
}
