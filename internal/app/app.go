// Package app builds the long-lived services of the harvester from
// configuration and holds them for the lifetime of the process.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fliupa/cni-scrapy/internal/api"
	"github.com/fliupa/cni-scrapy/internal/checkpoint"
	"github.com/fliupa/cni-scrapy/internal/clock/system"
	"github.com/fliupa/cni-scrapy/internal/config"
	"github.com/fliupa/cni-scrapy/internal/export"
	"github.com/fliupa/cni-scrapy/internal/export/postgres"
	"github.com/fliupa/cni-scrapy/internal/extract"
	"github.com/fliupa/cni-scrapy/internal/harvest"
	"github.com/fliupa/cni-scrapy/internal/hash/sha256"
	"github.com/fliupa/cni-scrapy/internal/id/uuid"
	"github.com/fliupa/cni-scrapy/internal/progress"
	"github.com/fliupa/cni-scrapy/internal/progress/sinks"
	pubsubpublisher "github.com/fliupa/cni-scrapy/internal/publisher/pubsub"
	chromerender "github.com/fliupa/cni-scrapy/internal/render/chromedp"
	"github.com/fliupa/cni-scrapy/internal/render/static"
	"github.com/fliupa/cni-scrapy/internal/scheduler"
	"github.com/fliupa/cni-scrapy/internal/storage/gcs"
	"github.com/fliupa/cni-scrapy/internal/storage/local"
	"github.com/fliupa/cni-scrapy/internal/storage/memory"
)

// Option overrides a service App would otherwise build from configuration.
type Option func(*options)

type options struct {
	backend    harvest.Backend
	checkpoint harvest.CheckpointStore
	publisher  harvest.Publisher
	registerer prometheus.Registerer
}

// WithBackend replaces the configured rendering backend.
func WithBackend(b harvest.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithCheckpoint replaces the configured checkpoint store.
func WithCheckpoint(c harvest.CheckpointStore) Option {
	return func(o *options) { o.checkpoint = c }
}

// WithPublisher replaces the Pub/Sub client used for completion notices.
func WithPublisher(p harvest.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithRegisterer registers progress collectors against reg instead of the
// default registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// App holds the shared services of one harvester process.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	scheduler *scheduler.Scheduler
	hub       *progress.Hub
	tracker   *progress.Tracker
	csv       *export.CSVSink
	server    *api.Server

	closers []func(context.Context) error
}

// New wires every service named by cfg. It fails fast when a configured
// dependency cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, logger: logger.Named("app")}
	schema := extract.DefaultSchema()
	clock := system.New()

	backend := o.backend
	if backend == nil {
		backend = a.buildBackend()
	}

	store := o.checkpoint
	if store == nil {
		var err error
		if store, err = a.buildCheckpoint(schema); err != nil {
			return nil, a.abort(ctx, err)
		}
	}

	sink, err := a.buildExport(ctx, schema, clock, o.publisher)
	if err != nil {
		return nil, a.abort(ctx, err)
	}

	a.tracker = progress.NewTracker()
	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return nil, a.abort(ctx, err)
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
		a.tracker,
	)
	a.closers = append(a.closers, a.hub.Close)

	a.scheduler, err = scheduler.New(cfg.SchedulerConfig(), scheduler.Deps{
		Backend:    backend,
		Extractor:  extract.NewDefault(schema, logger),
		Checkpoint: store,
		Sink:       sink,
		Emitter:    a.hub,
		IDs:        uuid.New(),
		Clock:      clock,
	}, logger)
	if err != nil {
		return nil, a.abort(ctx, err)
	}

	if cfg.Server.Port > 0 {
		a.server = api.NewServer(a.tracker, api.Config{}, logger)
	}

	a.logger.Info("services initialized",
		zap.String("render_backend", cfg.Render.Backend),
		zap.String("checkpoint_backend", cfg.Checkpoint.Backend),
		zap.String("export_backend", cfg.Export.Backend),
		zap.Bool("postgres_export", cfg.Export.PostgresDSN != ""),
		zap.Bool("completion_notice", cfg.PubSub.TopicName != ""),
	)
	return a, nil
}

func (a *App) buildBackend() harvest.Backend {
	if a.cfg.Render.Backend == config.BackendStatic {
		return static.New(a.cfg.StaticConfig(), a.logger)
	}
	return chromerender.New(a.cfg.ChromeConfig(), a.logger)
}

func (a *App) buildCheckpoint(schema harvest.Schema) (harvest.CheckpointStore, error) {
	if a.cfg.Checkpoint.Backend == config.CheckpointRedis {
		client := redis.NewClient(&redis.Options{Addr: a.cfg.Checkpoint.RedisAddr})
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		store, err := checkpoint.NewRedisStore(client, a.cfg.Checkpoint.RedisKey, schema)
		if err != nil {
			return nil, fmt.Errorf("redis checkpoint: %w", err)
		}
		return store, nil
	}
	store, err := checkpoint.NewFileStore(a.cfg.Checkpoint.Path, schema, a.logger)
	if err != nil {
		return nil, fmt.Errorf("file checkpoint: %w", err)
	}
	return store, nil
}

func (a *App) buildExport(ctx context.Context, schema harvest.Schema, clock harvest.Clock, pub harvest.Publisher) (harvest.Sink, error) {
	blobs, err := a.buildBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	a.csv, err = export.NewCSVSink(blobs, clock, schema, a.cfg.Export.Prefix, export.WithHasher(sha256.New()))
	if err != nil {
		return nil, err
	}
	chain := []harvest.Sink{a.csv}

	if dsn := a.cfg.Export.PostgresDSN; dsn != "" {
		pg, err := postgres.NewSink(ctx, postgres.Config{DSN: dsn, Table: a.cfg.Export.PostgresTable}, schema)
		if err != nil {
			return nil, fmt.Errorf("postgres export: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { pg.Close(); return nil })
		chain = append(chain, pg)
	}

	if topic := a.cfg.PubSub.TopicName; topic != "" {
		if pub == nil {
			client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
			if err != nil {
				return nil, fmt.Errorf("pubsub client: %w", err)
			}
			p, err := pubsubpublisher.New(client)
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, func(context.Context) error {
				return errors.Join(p.Close(), client.Close())
			})
			pub = p
		}
		notifier, err := export.NewNotifier(pub, topic, a.csv, clock, a.logger)
		if err != nil {
			return nil, err
		}
		chain = append(chain, notifier)
	}
	return export.Multi(chain...), nil
}

func (a *App) buildBlobStore(ctx context.Context) (harvest.BlobStore, error) {
	switch a.cfg.Export.Backend {
	case config.ExportGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Export.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs export: %w", err)
		}
		return store, nil
	case config.ExportMemory:
		return memory.NewBlobStore(), nil
	default:
		store, err := local.New(local.Config{BaseDir: filepath.Clean(a.cfg.Export.Dir)})
		if err != nil {
			return nil, fmt.Errorf("local export: %w", err)
		}
		return store, nil
	}
}

// Harvest runs one harvest over seeds. The status server, when enabled,
// serves for the duration of the run.
func (a *App) Harvest(ctx context.Context, seeds []string) ([]harvest.Record, error) {
	if a.server != nil {
		srvCtx, stop := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			addr := ":" + strconv.Itoa(a.cfg.Server.Port)
			if err := a.server.ListenAndServe(srvCtx, addr); err != nil {
				a.logger.Error("status server failed", zap.Error(err))
			}
		}()
		defer func() {
			stop()
			<-done
		}()
	}
	return a.scheduler.Run(ctx, seeds)
}

// Progress returns the live run snapshot.
func (a *App) Progress() progress.Snapshot {
	return a.tracker.Snapshot()
}

// Artifacts lists the export files written so far.
func (a *App) Artifacts() []export.Artifact {
	if a.csv == nil {
		return nil
	}
	return a.csv.Artifacts()
}

// Close releases every service in reverse order of construction.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown finished with errors", zap.Error(err))
		return err
	}
	return nil
}

func (a *App) abort(ctx context.Context, err error) error {
	_ = a.Close(ctx)
	return err
}
