// Package main hosts the harvester entrypoint.
//
// Architecture overview:
//   - Seeds: the line-delimited seed artifact (harvest.seed_file, or -seeds) produced by seed discovery is read by
//     internal/seeds. A missing artifact stops the process before anything else starts.
//   - Scheduler: internal/scheduler resumes from the checkpoint, assigns each pending URL the smallest free index,
//     and runs one worker task per URL behind a semaphore sized by harvest.max_concurrent.
//   - Workers: internal/worker opens an isolated browsing context per attempt on the rendering backend (chromedp by
//     default, colly for pages that need no client rendering), waits for network idle, and extracts the indicator
//     fields. Attempts are retried by internal/retry; an exhausted URL yields a failure record instead of an error.
//   - Checkpoints: the full record set is saved every harvest.checkpoint_every completions and once more at the end,
//     to a CSV file or a Redis key. The checkpoint is cleared only after a successful export.
//   - Export: the final table is written as <prefix>_<timestamp>.csv and <prefix>_completo.csv (local dir, GCS, or
//     memory), optionally upserted into Postgres, and announced on Pub/Sub when a topic is configured.
//   - Observability: zap logs, Prometheus collectors, and the progress hub feeding log, Prometheus, and tracker
//     sinks. With server.port set, /healthz, /readyz, /metrics and /v1/progress are served for the run.
//
// Operational notes:
//   - SIGINT/SIGTERM cancel the run. Completed records are checkpointed before exit and the next run resumes.
//   - Configure through a YAML file (-config) or HARVEST_* environment variables, e.g. HARVEST_RENDER_BACKEND=static,
//     HARVEST_CHECKPOINT_BACKEND=redis, HARVEST_EXPORT_GCS_BUCKET.
//   - Run locally: go run ./cmd/harvester -config config.yaml
package main
