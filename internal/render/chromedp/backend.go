// Package chromerender renders metadata pages in headless Chrome via chromedp.
// One browser is launched per run; every browsing context is a fresh tab.
package chromerender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/fliupa/cni-scrapy/internal/harvest"
)

// Config controls the browser launch and per-page behavior.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	OperationTimeout  time.Duration
	ViewportWidth     int
	ViewportHeight    int
	Headless          bool
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
	// IdleQuiet is how long the network must stay silent to count as idle.
	IdleQuiet time.Duration
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		NavigationTimeout: 45 * time.Second,
		OperationTimeout:  60 * time.Second,
		ViewportWidth:     1280,
		ViewportHeight:    720,
		Headless:          true,
		IdleQuiet:         500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = d.NavigationTimeout
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = d.OperationTimeout
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = d.ViewportWidth
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = d.ViewportHeight
	}
	if c.IdleQuiet <= 0 {
		c.IdleQuiet = d.IdleQuiet
	}
	return c
}

var errNotLaunched = errors.New("browser not launched")

type (
	runFunc    func(ctx context.Context, actions ...chromedp.Action) error
	listenFunc func(ctx context.Context, fn func(ev any))
	tabFunc    func(parent context.Context) (context.Context, context.CancelFunc)
)

func newChromeTab(parent context.Context) (context.Context, context.CancelFunc) {
	return chromedp.NewContext(parent)
}

// Backend implements harvest.Backend on top of a single Chrome process.
type Backend struct {
	cfg    Config
	logger *zap.Logger

	newTab tabFunc
	run    runFunc
	listen listenFunc

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// New returns an unlaunched backend.
func New(cfg Config, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		cfg:    cfg.withDefaults(),
		logger: logger.Named("chromedp"),
		newTab: newChromeTab,
		run:    chromedp.Run,
		listen: chromedp.ListenTarget,
	}
}

// Launch starts Chrome. Any failure wraps harvest.ErrBackendUnavailable.
func (b *Backend) Launch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", harvest.ErrBackendUnavailable, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx != nil {
		return nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(b.cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run allocates the browser and binds its lifetime to browserCtx,
	// so it must not carry a deadline.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("%w: launch chrome: %w", harvest.ErrBackendUnavailable, err)
	}
	b.allocCancel = allocCancel
	b.browserCtx = browserCtx
	b.browserCancel = browserCancel
	b.logger.Info("browser launched",
		zap.Bool("headless", b.cfg.Headless),
		zap.Int("viewport_width", b.cfg.ViewportWidth),
		zap.Int("viewport_height", b.cfg.ViewportHeight),
	)
	return nil
}

// OpenContext opens a new tab and applies the viewport and user agent.
func (b *Backend) OpenContext(ctx context.Context) (harvest.BrowsingContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	b.mu.Lock()
	browserCtx := b.browserCtx
	b.mu.Unlock()
	if browserCtx == nil {
		return nil, fmt.Errorf("open tab: %w: %w", harvest.ErrFatal, errNotLaunched)
	}

	tabCtx, cancel := b.newTab(browserCtx)
	// The first Run attaches the tab and binds its event loop to tabCtx, so it
	// runs on tabCtx itself. ctx and the operation timeout bound it by
	// cancelling the whole tab instead.
	stop := context.AfterFunc(ctx, cancel)
	timer := time.AfterFunc(b.cfg.OperationTimeout, cancel)
	err := b.run(tabCtx, setupAction(b.cfg))
	timer.Stop()
	if !stop() {
		cancel()
		return nil, fmt.Errorf("open tab: %w", ctx.Err())
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &tab{ctx: tabCtx, cancel: cancel, cfg: b.cfg, logger: b.logger, run: b.run, listen: b.listen}, nil
}

// Close shuts the browser down. It is safe to call without Launch.
func (b *Backend) Close(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx == nil {
		return nil
	}
	var err error
	if cerr := chromedp.Cancel(b.browserCtx); cerr != nil && !errors.Is(cerr, context.Canceled) {
		err = fmt.Errorf("close browser: %w", cerr)
	}
	b.browserCancel()
	b.allocCancel()
	b.browserCtx = nil
	return err
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-web-security", true),
		chromedp.Flag("disable-features", "VizDisplayCompositor"),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}
