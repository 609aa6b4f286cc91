// Package postgres upserts harvested records into a Postgres table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fliupa/cni-scrapy/internal/harvest"
)

// DefaultTable receives records when Config.Table is empty.
const DefaultTable = "indicator_metadata"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for export rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink writes each appended record as one row keyed by URL. Re-exporting a
// URL replaces its row.
type Sink struct {
	pool   execCloser
	table  string
	schema harvest.Schema
}

// NewSink connects to cfg.DSN and creates the table when missing.
func NewSink(ctx context.Context, cfg Config, schema harvest.Schema) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("export.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewSinkWithPool(pool, cfg.Table, schema)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.EnsureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewSinkWithPool constructs a sink from an existing pool (primarily for testing).
func NewSinkWithPool(pool execCloser, table string, schema harvest.Schema) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Sink{pool: pool, table: table, schema: schema}, nil
}

// EnsureTable creates the export table if it does not exist.
func (s *Sink) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url          TEXT PRIMARY KEY,
	idx          INTEGER NOT NULL,
	failed       BOOLEAN NOT NULL,
	fields       JSONB NOT NULL,
	harvested_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Append upserts rec. Fields are stored as a JSON object keyed by column header.
func (s *Sink) Append(ctx context.Context, rec harvest.Record) error {
	fields, err := json.Marshal(s.columns(rec))
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (url, idx, failed, fields, harvested_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (url) DO UPDATE SET
	idx = EXCLUDED.idx,
	failed = EXCLUDED.failed,
	fields = EXCLUDED.fields,
	harvested_at = EXCLUDED.harvested_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, rec.URL, rec.Index, rec.Failed(), fields); err != nil {
		return fmt.Errorf("upsert record %d: %w", rec.Index, err)
	}
	return nil
}

// Flush is a no-op; rows are written by Append.
func (s *Sink) Flush(context.Context) error { return nil }

// Close releases the underlying pool resources.
func (s *Sink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Sink) columns(rec harvest.Record) map[string]string {
	out := make(map[string]string, len(rec.Fields))
	for _, f := range s.schema.Fields {
		if v, ok := rec.Get(f.Key); ok {
			out[f.Column] = v
		}
	}
	return out
}
