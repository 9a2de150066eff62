// Package main hosts the scrape gateway service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, a synchronous scrape endpoint and async job
//     endpoints. Requests are validated into jobs.Params before anything reaches an engine.
//   - Scrape facade: internal/scrape builds the engine-specific request (chrome-cdp, playwright, tlsclient),
//     dispatches it through internal/dispatcher and waits on internal/poller until the engine reports success,
//     failure, the poll timeout passes or too many anomalies pile up. Timed-out or abandoned remote jobs are
//     deleted best-effort.
//   - Async jobs: POST /v1/jobs persists a job and enqueues it on a bounded in-memory queue sized by
//     worker.queue_depth. A fixed worker pool sized by worker.concurrency drains it, rate-limited per engine.
//   - Persistence & fanout: content and inline screenshots are written to the configured blob store
//     (memory/local/GCS) under sha256 paths. Job records live in memory or Redis. Finished attempts are
//     optionally inserted into Postgres, and a completion event is published to Pub/Sub when a project is set.
//   - Configuration & plumbing: Viper populates config from a file and SCRAPER_* env vars (after an optional
//     .env file); zap provides structured logging; Prometheus metrics are served at /metrics; W3C trace
//     context travels to the engines as request headers.
//
// Quick checklist:
//   - Configure env vars: SCRAPER_ENGINE_BASE_URL (required), SCRAPER_SERVER_PORT or PORT,
//     SCRAPER_ENGINE_TIMEOUT, SCRAPER_ENGINE_MAX_ANOMALIES, SCRAPER_WORKER_CONCURRENCY, storage
//     (SCRAPER_STORAGE_*), SCRAPER_REDIS_ADDR, SCRAPER_DB_DSN and pubsub when persistence beyond memory is required.
//   - Run locally: go run ./cmd/scrapegateway -config config.yaml (or rely solely on env overrides).
//   - Cloud Run: the container listens on PORT and drains the worker pool on SIGTERM.
package main
