// Package retry runs one fetch-and-extract attempt at a time with a fixed
// delay between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fliupa/cni-scrapy/internal/harvest"
)

// Config controls the attempt cap and the constant delay between attempts.
type Config struct {
	Attempts int
	Delay    time.Duration
}

// DefaultConfig mirrors the production settings: three attempts, five seconds apart.
func DefaultConfig() Config {
	return Config{Attempts: 3, Delay: 5 * time.Second}
}

// Op is one attempt. attempt starts at 1.
type Op func(ctx context.Context, attempt int) harvest.AttemptOutcome

// Result is what Attempt yields: a record on success, otherwise the last error.
type Result struct {
	Record   harvest.Record
	Attempts int
	Err      error
}

// Succeeded reports whether an attempt produced a record.
func (r Result) Succeeded() bool {
	return r.Err == nil
}

// Policy retries transient failures. It never panics and never returns an error
// of its own; failures are reported through Result.
type Policy struct {
	cfg    Config
	logger *zap.Logger
	wait   func(ctx context.Context, d time.Duration) error
}

// New builds a Policy. Non-positive attempts fall back to one attempt.
func New(cfg Config, logger *zap.Logger) *Policy {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{cfg: cfg, logger: logger, wait: sleep}
}

// Config returns the immutable settings of the policy.
func (p *Policy) Config() Config {
	return p.cfg
}

// Attempt invokes op until it succeeds, fails fatally, or the attempt cap is
// reached. A canceled ctx stops the loop and is reported as the result error.
func (p *Policy) Attempt(ctx context.Context, op Op) Result {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: attempt - 1, Err: err}
		}

		out := p.call(ctx, op, attempt)
		switch out.Kind {
		case harvest.OutcomeSuccess:
			return Result{Record: out.Record, Attempts: attempt}
		case harvest.OutcomeFatal:
			return Result{Attempts: attempt, Err: out.Err}
		}

		lastErr = out.Err
		if lastErr == nil {
			lastErr = errors.New("attempt failed without an error")
		}
		if attempt == p.cfg.Attempts {
			break
		}

		p.logger.Warn("attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.cfg.Attempts),
			zap.Duration("delay", p.cfg.Delay),
			zap.Error(lastErr),
		)
		if err := p.wait(ctx, p.cfg.Delay); err != nil {
			return Result{Attempts: attempt, Err: err}
		}
	}
	return Result{Attempts: p.cfg.Attempts, Err: lastErr}
}

func (p *Policy) call(ctx context.Context, op Op, attempt int) (out harvest.AttemptOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = harvest.FatalFailure(fmt.Errorf("attempt %d panicked: %v", attempt, r))
		}
	}()
	return op(ctx, attempt)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
