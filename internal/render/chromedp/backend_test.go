package chromerender

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/require"

	"github.com/fliupa/cni-scrapy/internal/harvest"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{NavigationTimeout: time.Second}.withDefaults()
	require.Equal(t, time.Second, cfg.NavigationTimeout)
	require.Equal(t, 60*time.Second, cfg.OperationTimeout)
	require.Equal(t, 1280, cfg.ViewportWidth)
	require.Equal(t, 720, cfg.ViewportHeight)
	require.Equal(t, 500*time.Millisecond, cfg.IdleQuiet)
}

func TestAllocatorOptionsGrowWithSettings(t *testing.T) {
	t.Parallel()

	base := allocatorOptions(DefaultConfig())
	custom := DefaultConfig()
	custom.UserAgent = "Mozilla/5.0 harvester"
	custom.ExecPath = "/usr/bin/chromium"
	require.Len(t, allocatorOptions(custom), len(base)+2)
}

func TestOpenContextRequiresLaunch(t *testing.T) {
	t.Parallel()

	b := New(DefaultConfig(), nil)
	_, err := b.OpenContext(context.Background())
	require.ErrorIs(t, err, errNotLaunched)
	require.ErrorIs(t, err, harvest.ErrFatal)
	require.NoError(t, b.Close(context.Background()))
}

func TestSelectTextExprQuotesSelector(t *testing.T) {
	t.Parallel()

	expr, err := selectTextExpr(`td.SizeGralTitulo:has(b), a[title="x"]`)
	require.NoError(t, err)
	require.Contains(t, expr, `document.querySelector("td.SizeGralTitulo:has(b), a[title=\"x\"]")`)
	require.True(t, strings.HasPrefix(expr, "(() => {"))
}

func TestIdleWatcher(t *testing.T) {
	t.Parallel()

	now := time.Unix(100, 0)
	clock := func() time.Time { return now }
	w := newIdleWatcher(clock)

	w.captureEvent(&network.EventRequestWillBeSent{RequestID: "1"})
	w.captureEvent(&network.EventRequestWillBeSent{RequestID: "2"})
	now = now.Add(time.Second)
	require.False(t, w.idle(500*time.Millisecond), "requests still in flight")

	w.captureEvent(&network.EventLoadingFinished{RequestID: "1"})
	w.captureEvent(&network.EventLoadingFailed{RequestID: "2"})
	require.False(t, w.idle(500*time.Millisecond), "quiet window not elapsed")

	now = now.Add(600 * time.Millisecond)
	require.True(t, w.idle(500*time.Millisecond))
}

func TestWaitNetworkIdleHonoursDeadline(t *testing.T) {
	t.Parallel()

	w := newIdleWatcher(time.Now)
	w.captureEvent(&network.EventRequestWillBeSent{RequestID: "stuck"})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	err := waitNetworkIdle(w, time.Millisecond).Do(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResponseMetaKeepsMainDocument(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://x/app.js"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://x/missing"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://x/frame"},
	})

	status, url := meta.snapshot()
	require.Equal(t, 404, status)
	require.Equal(t, "https://x/missing", url)
}

// fakeTarget mimics a chromedp target: the first run attaches it and its event
// loop lives only as long as that run's context.
type fakeTarget struct {
	mu        sync.Mutex
	attachCtx context.Context
	calls     int
	deadlines []bool
}

func (f *fakeTarget) run(ctx context.Context, _ ...chromedp.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	_, hasDeadline := ctx.Deadline()
	f.deadlines = append(f.deadlines, hasDeadline)
	if f.attachCtx == nil {
		f.attachCtx = ctx
		return nil
	}
	if f.attachCtx.Err() != nil {
		return errors.New("target event loop stopped")
	}
	return ctx.Err()
}

func launchedWithFake(t *testing.T, cfg Config) (*Backend, *fakeTarget) {
	t.Helper()
	target := &fakeTarget{}
	b := New(cfg, nil)
	b.browserCtx = context.Background()
	b.browserCancel = func() {}
	b.allocCancel = func() {}
	b.newTab = func(parent context.Context) (context.Context, context.CancelFunc) {
		return context.WithCancel(parent)
	}
	b.run = target.run
	b.listen = func(context.Context, func(ev any)) {}
	return b, target
}

func TestSelectTextAfterNavigateReachesLiveTab(t *testing.T) {
	t.Parallel()

	b, target := launchedWithFake(t, DefaultConfig())

	openCtx, cancelOpen := context.WithCancel(context.Background())
	bc, err := b.OpenContext(openCtx)
	require.NoError(t, err)
	cancelOpen()

	doc, err := bc.Navigate(context.Background(), "https://example.test/md", 50*time.Millisecond)
	require.NoError(t, err)

	for _, sel := range []string{"#m_treenomIndicador", "#lbNombreInd", "td.SizeGralTitulo:has(b)"} {
		_, err := doc.SelectText(sel)
		require.NoError(t, err, sel)
	}
	require.Equal(t, 5, target.calls)
	require.False(t, target.deadlines[0], "attaching run must not carry a deadline")
	for _, d := range target.deadlines[1:] {
		require.True(t, d)
	}

	require.NoError(t, bc.Close())
	_, err = doc.SelectText("#lbNombreInd")
	require.Error(t, err)
}

func TestOpenContextHonoursCancellation(t *testing.T) {
	t.Parallel()

	b, _ := launchedWithFake(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.OpenContext(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestOpenContextReportsAttachFailure(t *testing.T) {
	t.Parallel()

	b, _ := launchedWithFake(t, DefaultConfig())
	var tabCtx context.Context
	b.newTab = func(parent context.Context) (context.Context, context.CancelFunc) {
		var cancel context.CancelFunc
		tabCtx, cancel = context.WithCancel(parent)
		return tabCtx, cancel
	}
	b.run = func(context.Context, ...chromedp.Action) error { return errors.New("attach refused") }

	_, err := b.OpenContext(context.Background())
	require.ErrorContains(t, err, "attach refused")
	require.ErrorIs(t, tabCtx.Err(), context.Canceled, "failed tab is released")
}
