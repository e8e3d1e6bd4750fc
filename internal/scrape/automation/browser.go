// Package automation runs the browser-backed source tasks. Each task gets
// its own Chrome instance with a disposable profile directory that is
// removed when the task exits, whatever the outcome.
package automation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config controls browser sessions.
type Config struct {
	Headful           bool
	UserAgent         string
	NavigationTimeout time.Duration
}

// Browser owns one exec allocator bound to a disposable profile directory.
type Browser struct {
	cfg         Config
	profileDir  string
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewBrowser creates an allocator with a freshly minted profile directory.
// Close removes the directory.
func NewBrowser(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	profileDir := filepath.Join(os.TempDir(), "proxygather-"+uuid.NewString())
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headful {
		opts = append(opts, chromedp.Flag("headless", false))
	} else {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Browser{
		cfg:         cfg,
		profileDir:  profileDir,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close tears down the allocator and removes the profile directory.
func (b *Browser) Close() {
	b.allocCancel()
	if err := os.RemoveAll(b.profileDir); err != nil {
		b.logger.Warn("profile dir cleanup failed", zap.String("dir", b.profileDir), zap.Error(err))
	}
}

// RenderPage navigates to url in a fresh tab and returns the rendered DOM
// after the body is ready and any late scripts have had a moment to run.
func (b *Browser) RenderPage(ctx context.Context, url string) (string, error) {
	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, b.cfg.NavigationTimeout)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			taskCancel()
		case <-stop:
		}
	}()

	var html string
	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if b.cfg.UserAgent == "" {
				return nil
			}
			return emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx)
		}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(2 * time.Second),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	return html, nil
}
