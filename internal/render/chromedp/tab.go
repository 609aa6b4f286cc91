package chromerender

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/fliupa/cni-scrapy/internal/dom"
	"github.com/fliupa/cni-scrapy/internal/harvest"
)

const idlePoll = 100 * time.Millisecond

type tab struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       Config
	logger    *zap.Logger
	run       runFunc
	listen    listenFunc
	closeOnce sync.Once
}

// Navigate loads url, waits for the network to go quiet and snapshots the markup.
func (t *tab) Navigate(ctx context.Context, url string, idleTimeout time.Duration) (harvest.Document, error) {
	if idleTimeout <= 0 {
		idleTimeout = t.cfg.NavigationTimeout
	}
	runCtx, cancel := context.WithTimeout(t.ctx, idleTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	idle := newIdleWatcher(time.Now)
	t.listen(runCtx, func(ev any) {
		meta.captureEvent(ev)
		idle.captureEvent(ev)
	})

	var markup string
	err := t.run(runCtx,
		chromedp.Navigate(url),
		waitNetworkIdle(idle, t.cfg.IdleQuiet),
		chromedp.OuterHTML("html", &markup, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("navigate %s: %w", url, ctx.Err())
		}
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	if status, _ := meta.snapshot(); status >= http.StatusBadRequest {
		return nil, fmt.Errorf("navigate %s: http status %d", url, status)
	}

	root, err := dom.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("%w: parse rendered page %s: %w", harvest.ErrFatal, url, err)
	}
	return &document{tab: t, root: root}, nil
}

func setupAction(cfg Config) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		err := emulation.SetDeviceMetricsOverride(int64(cfg.ViewportWidth), int64(cfg.ViewportHeight), 1, false).Do(ctx)
		if err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// Close closes the tab. Calling it more than once is harmless.
func (t *tab) Close() error {
	t.closeOnce.Do(t.cancel)
	return nil
}

// document answers selector lookups against the live tab and markup scans
// against the snapshot taken after navigation.
type document struct {
	tab  *tab
	root *dom.Node
}

func (d *document) Root() *dom.Node {
	return d.root
}

func (d *document) SelectText(selector string) (string, error) {
	expr, err := selectTextExpr(selector)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(d.tab.ctx, d.tab.cfg.OperationTimeout)
	defer cancel()
	var text string
	if err := d.tab.run(ctx, chromedp.Evaluate(expr, &text)); err != nil {
		return "", fmt.Errorf("evaluate %q: %w", selector, err)
	}
	return strings.TrimSpace(text), nil
}

// selectTextExpr builds a script returning the visible text of the first match,
// or "" when nothing matches or the selector is invalid.
func selectTextExpr(selector string) (string, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return "", fmt.Errorf("quote selector: %w", err)
	}
	return fmt.Sprintf(`(() => {
  try {
    const el = document.querySelector(%s);
    return el ? (el.innerText || el.textContent || "") : "";
  } catch (e) {
    return "";
  }
})()`, quoted), nil
}

// idleWatcher tracks in-flight requests of a tab.
type idleWatcher struct {
	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	last     time.Time
	now      func() time.Time
}

func newIdleWatcher(now func() time.Time) *idleWatcher {
	return &idleWatcher{inflight: make(map[network.RequestID]struct{}), last: now(), now: now}
}

func (w *idleWatcher) captureEvent(ev any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		w.inflight[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(w.inflight, e.RequestID)
	case *network.EventLoadingFailed:
		delete(w.inflight, e.RequestID)
	default:
		return
	}
	w.last = w.now()
}

// idle reports whether nothing has been in flight for at least quiet.
func (w *idleWatcher) idle(quiet time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inflight) == 0 && w.now().Sub(w.last) >= quiet
}

func waitNetworkIdle(w *idleWatcher, quiet time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(idlePoll)
		defer ticker.Stop()
		for !w.idle(quiet) {
			select {
			case <-ctx.Done():
				return fmt.Errorf("wait for network idle: %w", ctx.Err())
			case <-ticker.C:
			}
		}
		return nil
	})
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	event, ok := ev.(*network.EventResponseReceived)
	if !ok || event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// The first document response belongs to the main frame.
	if m.url != "" {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) snapshot() (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.url
}
