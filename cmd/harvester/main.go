// Package main wires together the harvester binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fliupa/cni-scrapy/internal/app"
	"github.com/fliupa/cni-scrapy/internal/config"
	"github.com/fliupa/cni-scrapy/internal/harvest"
	"github.com/fliupa/cni-scrapy/internal/logging"
	"github.com/fliupa/cni-scrapy/internal/scheduler"
	"github.com/fliupa/cni-scrapy/internal/seeds"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "", "Path to config file")
	seedPath := flag.String("seeds", "", "Seed URL file (overrides harvest.seed_file)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 1
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	if *seedPath != "" {
		cfg.Harvest.SeedFile = *seedPath
	}
	urls, err := seeds.Read(cfg.Harvest.SeedFile)
	if err != nil {
		logger.Error("seed artifact unavailable", zap.String("path", cfg.Harvest.SeedFile), zap.Error(err))
		return 1
	}
	logger.Info("seeds loaded", zap.Int("urls", len(urls)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("service init failed", zap.Error(err))
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
	}()

	records, err := a.Harvest(ctx, urls)
	if err != nil {
		switch {
		case errors.Is(err, harvest.ErrBackendUnavailable):
			logger.Error("rendering backend unavailable", zap.Error(err))
		case ctx.Err() != nil:
			logger.Warn("harvest interrupted, rerun to resume", zap.Int("records", len(records)), zap.Error(err))
		default:
			logger.Error("harvest failed", zap.Error(err))
		}
		return 1
	}

	logSummary(logger, scheduler.Summarize(records))
	for _, art := range a.Artifacts() {
		logger.Info("export written", zap.String("uri", art.URI), zap.String("digest", art.Digest))
	}
	return 0
}

func logSummary(logger *zap.Logger, s scheduler.Summary) {
	logger.Info("harvest summary",
		zap.Int("total", s.Total),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
	)
	for _, p := range s.Preview {
		logger.Info("record", zap.Int("index", p.Index), zap.String("name", p.Name))
	}
}
