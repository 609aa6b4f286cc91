// Package scheduler drives a harvest run: it resumes from the checkpoint,
// fans pending URLs out to workers under a concurrency bound, checkpoints
// progress as records complete and hands the final set to export.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fliupa/cni-scrapy/internal/harvest"
	"github.com/fliupa/cni-scrapy/internal/metrics"
	"github.com/fliupa/cni-scrapy/internal/progress"
	"github.com/fliupa/cni-scrapy/internal/ratelimit"
	"github.com/fliupa/cni-scrapy/internal/retry"
	"github.com/fliupa/cni-scrapy/internal/worker"
)

// Config is the immutable run configuration.
type Config struct {
	MaxConcurrent     int
	CheckpointEvery   int
	Retry             retry.Config
	NavigationTimeout time.Duration
	// RateLimit paces requests per site. The zero value disables pacing.
	RateLimit ratelimit.Config
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     10,
		CheckpointEvery:   10,
		Retry:             retry.DefaultConfig(),
		NavigationTimeout: 45 * time.Second,
	}
}

// Deps are the collaborators of a run. Sink, Emitter, IDs and Clock are optional.
type Deps struct {
	Backend    harvest.Backend
	Extractor  worker.Extractor
	Checkpoint harvest.CheckpointStore
	Sink       harvest.Sink
	Emitter    progress.Emitter
	IDs        harvest.IDGenerator
	Clock      harvest.Clock
}

// Scheduler runs harvests. Runs must not overlap on the same checkpoint store.
type Scheduler struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New validates cfg and deps.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Scheduler, error) {
	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("max concurrent must be > 0, got %d", cfg.MaxConcurrent)
	}
	if cfg.CheckpointEvery <= 0 {
		return nil, fmt.Errorf("checkpoint interval must be > 0, got %d", cfg.CheckpointEvery)
	}
	if deps.Backend == nil || deps.Extractor == nil || deps.Checkpoint == nil {
		return nil, errors.New("backend, extractor and checkpoint store are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{cfg: cfg, deps: deps, logger: logger.Named("scheduler")}, nil
}

type job struct {
	url   string
	index int
}

type result struct {
	rec harvest.Record
	err error
}

// Run harvests every seed URL not already in the checkpoint and returns the
// full record set ordered by Index. If nothing is pending the checkpoint is
// returned unchanged. When ctx ends early the completed records are persisted
// and returned together with the interruption error.
func (s *Scheduler) Run(ctx context.Context, seeds []string) ([]harvest.Record, error) {
	started := time.Now()
	checkpoint := s.loadCheckpoint(ctx)
	jobs := plan(checkpoint, seeds)
	if len(jobs) == 0 {
		s.logger.Info("nothing pending, returning checkpoint", zap.Int("records", len(checkpoint)))
		return checkpoint, nil
	}

	runID := s.newRunID()
	events := progress.ForRun(s.deps.Emitter, runID, s.now)
	log := s.logger.With(zap.String("run_id", runID.String()))

	if err := s.deps.Backend.Launch(ctx); err != nil {
		if !errors.Is(err, harvest.ErrBackendUnavailable) {
			err = fmt.Errorf("%w: %w", harvest.ErrBackendUnavailable, err)
		}
		events.RunError(err, time.Since(started))
		log.Error("rendering backend unavailable", zap.Error(err))
		return nil, err
	}
	defer func() {
		if err := s.deps.Backend.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("close rendering backend", zap.Error(err))
		}
	}()

	var limiter worker.Limiter
	if s.cfg.RateLimit.RPS > 0 {
		limiter = ratelimit.New(s.cfg.RateLimit)
	}
	w, err := worker.New(worker.Deps{
		Backend:   s.deps.Backend,
		Extractor: s.deps.Extractor,
		Policy:    retry.New(s.cfg.Retry, log),
		Gate:      semaphore.NewWeighted(int64(s.cfg.MaxConcurrent)),
		Limiter:   limiter,
		Events:    events,
	}, worker.Config{NavigationTimeout: s.cfg.NavigationTimeout}, log)
	if err != nil {
		return nil, fmt.Errorf("build worker: %w", err)
	}

	log.Info("harvest started",
		zap.Int("seeds", len(seeds)),
		zap.Int("checkpointed", len(checkpoint)),
		zap.Int("pending", len(jobs)),
		zap.Int("max_concurrent", s.cfg.MaxConcurrent),
	)
	events.RunStarted(len(jobs))

	results := make(chan result, len(jobs))
	for _, j := range jobs {
		go func(j job) {
			rec, err := w.Process(ctx, j.url, j.index)
			results <- result{rec: rec, err: err}
		}(j)
	}

	records := append([]harvest.Record(nil), checkpoint...)
	completed := 0
	var interrupted error
	for range jobs {
		r := <-results
		if r.err != nil {
			if interrupted == nil {
				interrupted = r.err
			}
			continue
		}
		records = append(records, r.rec)
		completed++
		if completed%s.cfg.CheckpointEvery == 0 {
			s.save(ctx, records, events, log)
		}
	}

	harvest.SortByIndex(records)
	persistCtx := context.WithoutCancel(ctx)
	s.save(persistCtx, records, events, log)

	if interrupted != nil {
		err := fmt.Errorf("harvest interrupted after %d of %d records: %w", completed, len(jobs), interrupted)
		events.RunError(err, time.Since(started))
		log.Warn("harvest interrupted, progress kept for resume", zap.Int("completed", completed), zap.Error(err))
		return records, err
	}

	if err := s.export(ctx, records); err != nil {
		events.RunError(err, time.Since(started))
		log.Error("export failed, checkpoint kept", zap.Error(err))
		return records, err
	}
	if err := s.deps.Checkpoint.Clear(persistCtx); err != nil {
		log.Warn("clear checkpoint", zap.Error(err))
	}

	summary := Summarize(records)
	events.RunDone(summary.Total, summary.Failed, time.Since(started))
	log.Info("harvest finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", time.Since(started)),
	)
	return records, nil
}

func (s *Scheduler) loadCheckpoint(ctx context.Context) []harvest.Record {
	records, err := s.deps.Checkpoint.Load(ctx)
	if err != nil {
		s.logger.Warn("checkpoint unreadable, starting from scratch", zap.Error(err))
		return nil
	}
	harvest.SortByIndex(records)
	if len(records) > 0 {
		s.logger.Info("resuming from checkpoint", zap.Int("records", len(records)))
	}
	return records
}

func (s *Scheduler) save(ctx context.Context, records []harvest.Record, events *progress.RunEmitter, log *zap.Logger) {
	err := s.deps.Checkpoint.Save(ctx, records)
	metrics.ObserveCheckpoint(err)
	events.Checkpoint(len(records), err)
	if err != nil {
		log.Error("checkpoint save failed", zap.Int("records", len(records)), zap.Error(err))
		return
	}
	log.Debug("checkpoint saved", zap.Int("records", len(records)))
}

func (s *Scheduler) export(ctx context.Context, records []harvest.Record) error {
	if s.deps.Sink == nil {
		return nil
	}
	for _, rec := range records {
		if err := s.deps.Sink.Append(ctx, rec); err != nil {
			return fmt.Errorf("export record %d: %w", rec.Index, err)
		}
	}
	if err := s.deps.Sink.Flush(ctx); err != nil {
		return fmt.Errorf("export flush: %w", err)
	}
	return nil
}

func (s *Scheduler) newRunID() uuid.UUID {
	if s.deps.IDs != nil {
		if id, err := s.deps.IDs.NewRunID(); err == nil {
			return id
		}
	}
	if id, err := uuid.NewV7(); err == nil {
		return id
	}
	return uuid.New()
}

func (s *Scheduler) now() time.Time {
	if s.deps.Clock != nil {
		return s.deps.Clock.Now()
	}
	return time.Now()
}

// plan lists seeds missing from the checkpoint, in seed order, each with the
// smallest Index not already held by a checkpointed record.
func plan(checkpoint []harvest.Record, seeds []string) []job {
	done := make(map[string]struct{}, len(checkpoint))
	used := make(map[int]struct{}, len(checkpoint))
	for _, r := range checkpoint {
		done[r.URL] = struct{}{}
		used[r.Index] = struct{}{}
	}
	var jobs []job
	next := 1
	for _, u := range seeds {
		if _, ok := done[u]; ok {
			continue
		}
		done[u] = struct{}{}
		for {
			if _, taken := used[next]; !taken {
				break
			}
			next++
		}
		jobs = append(jobs, job{url: u, index: next})
		next++
	}
	return jobs
}
