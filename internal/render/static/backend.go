// Package static fetches metadata pages over plain HTTP with Colly and parses
// them without running scripts. It suits pages whose fields are server
// rendered and local fixture runs.
package static

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/fliupa/cni-scrapy/internal/dom"
	"github.com/fliupa/cni-scrapy/internal/harvest"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout is the transport-level cap and the default navigation bound.
	Timeout time.Duration
}

// Backend implements harvest.Backend with a shared Colly collector.
type Backend struct {
	cfg    Config
	base   *colly.Collector
	logger *zap.Logger
}

// New builds a Backend using a pooled HTTP transport.
func New(cfg Config, logger *zap.Logger) *Backend {
	return NewWithTransport(cfg, newHTTPTransport(), logger)
}

// NewWithTransport builds a Backend on top of rt.
func NewWithTransport(cfg Config, rt http.RoundTripper, logger *zap.Logger) *Backend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if rt != nil {
		c.WithTransport(rt)
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &Backend{cfg: cfg, base: c, logger: logger.Named("static")}
}

// Launch has nothing to start; it only honors ctx.
func (b *Backend) Launch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", harvest.ErrBackendUnavailable, err)
	}
	return nil
}

// OpenContext returns a page session with its own collector clone.
func (b *Backend) OpenContext(ctx context.Context) (harvest.BrowsingContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	return &page{collector: b.base.Clone(), cfg: b.cfg}, nil
}

// Close implements harvest.Backend.
func (b *Backend) Close(context.Context) error {
	return nil
}

type page struct {
	mu        sync.Mutex
	collector *colly.Collector
	cfg       Config
	closed    bool
}

// Navigate fetches url. Non-2xx responses are errors.
func (p *page) Navigate(ctx context.Context, url string, idleTimeout time.Duration) (harvest.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("%w: navigate %s: page closed", harvest.ErrFatal, url)
	}
	if idleTimeout <= 0 {
		idleTimeout = p.cfg.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, idleTimeout)
	defer cancel()
	collector := p.collector.Clone()
	collector.Context = reqCtx

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("http status %d: %w", r.StatusCode, err)
		}
		fetchErr = err
	})

	if err := runCollector(reqCtx, collector, url); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, fetchErr)
	}
	doc, err := dom.NewDocument(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", harvest.ErrFatal, url, err)
	}
	return doc, nil
}

// Close marks the page unusable.
func (p *page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
