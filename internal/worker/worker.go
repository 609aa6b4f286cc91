// Package worker fetches one metadata page and extracts its record, retrying
// transient failures, while holding a slot of the shared concurrency gate.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fliupa/cni-scrapy/internal/harvest"
	"github.com/fliupa/cni-scrapy/internal/metrics"
	"github.com/fliupa/cni-scrapy/internal/progress"
	"github.com/fliupa/cni-scrapy/internal/retry"
)

// Extractor turns a rendered page into record fields.
type Extractor interface {
	Extract(doc harvest.Document) harvest.Record
}

// Config controls Worker behavior.
type Config struct {
	// NavigationTimeout bounds navigation plus the network-idle wait.
	NavigationTimeout time.Duration
}

// Limiter paces requests per site.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Deps are the collaborators a Worker needs. Limiter and Events may be nil.
type Deps struct {
	Backend   harvest.Backend
	Extractor Extractor
	Policy    *retry.Policy
	Gate      *semaphore.Weighted
	Limiter   Limiter
	Events    *progress.RunEmitter
}

// Worker runs fetch-and-extract for single URLs. It is safe for concurrent use.
type Worker struct {
	backend   harvest.Backend
	extractor Extractor
	policy    *retry.Policy
	gate      *semaphore.Weighted
	limiter   Limiter
	events    *progress.RunEmitter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	if deps.Backend == nil {
		return nil, errors.New("backend is required")
	}
	if deps.Extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if deps.Gate == nil {
		return nil, errors.New("concurrency gate is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Policy == nil {
		deps.Policy = retry.New(retry.DefaultConfig(), logger)
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	return &Worker{
		backend:   deps.Backend,
		extractor: deps.Extractor,
		policy:    deps.Policy,
		gate:      deps.Gate,
		limiter:   deps.Limiter,
		events:    deps.Events,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}, nil
}

// Process produces the record for url at index. Terminal failures come back
// as a failure record with a nil error; an error is returned only when ctx
// ends first, in which case no record exists.
func (w *Worker) Process(ctx context.Context, url string, index int) (harvest.Record, error) {
	if err := w.gate.Acquire(ctx, 1); err != nil {
		return harvest.Record{}, fmt.Errorf("acquire slot for %s: %w", url, err)
	}
	defer w.gate.Release(1)
	metrics.IncActiveContexts()
	defer metrics.DecActiveContexts()

	start := time.Now()
	log := w.logger.With(zap.String("url", url), zap.Int("index", index))
	w.events.FetchStarted(url, index)
	log.Debug("fetch started")

	var lastErr error
	res := w.policy.Attempt(ctx, func(ctx context.Context, attempt int) harvest.AttemptOutcome {
		if attempt > 1 {
			w.events.FetchRetry(url, index, attempt-1, lastErr)
		}
		out := w.attempt(ctx, url)
		metrics.ObserveAttempt(url, out.Kind.String())
		if out.Kind != harvest.OutcomeSuccess {
			lastErr = out.Err
			log.Warn("attempt failed", zap.Int("attempt", attempt), zap.Stringer("outcome", out.Kind), zap.Error(out.Err))
		}
		return out
	})

	if !res.Succeeded() && ctx.Err() != nil {
		return harvest.Record{}, fmt.Errorf("process %s: %w", url, ctx.Err())
	}

	if res.Succeeded() {
		rec := res.Record
		rec.Index = index
		rec.URL = url
		if rec.Fields == nil {
			rec.Fields = map[string]string{}
		}
		metrics.ObserveRecord(false)
		w.events.FetchDone(url, index, res.Attempts, time.Since(start))
		log.Debug("record extracted", zap.Int("attempts", res.Attempts), zap.String("name", rec.Name()))
		return rec, nil
	}

	rec := harvest.NewFailureRecord(index, url, res.Attempts, res.Err)
	metrics.ObserveRecord(true)
	w.events.FetchFailed(url, index, res.Attempts, res.Err, time.Since(start))
	log.Error("record failed", zap.Int("attempts", res.Attempts), zap.Error(res.Err))
	return rec, nil
}

// attempt opens a browsing context, navigates and extracts. The context is
// closed before attempt returns, whatever the outcome.
func (w *Worker) attempt(ctx context.Context, url string) harvest.AttemptOutcome {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, url); err != nil {
			return classify(ctx, err)
		}
	}
	bc, err := w.backend.OpenContext(ctx)
	if err != nil {
		return classify(ctx, fmt.Errorf("open browsing context: %w", err))
	}
	defer func() {
		if cerr := bc.Close(); cerr != nil {
			w.logger.Warn("close browsing context", zap.String("url", url), zap.Error(cerr))
		}
	}()

	navStart := time.Now()
	doc, err := bc.Navigate(ctx, url, w.cfg.NavigationTimeout)
	if err != nil {
		return classify(ctx, err)
	}
	metrics.ObserveNavigation(url, time.Since(navStart))
	return harvest.Success(w.extractor.Extract(doc))
}

// classify treats cancellation and errors marked harvest.ErrFatal as fatal and
// everything else, timeouts included, as transient.
func classify(ctx context.Context, err error) harvest.AttemptOutcome {
	if ctx.Err() != nil || errors.Is(err, harvest.ErrFatal) {
		return harvest.FatalFailure(err)
	}
	return harvest.TransientFailure(err)
}
