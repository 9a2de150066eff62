// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scrape runs one scrape and waits for the result.
//   - POST /v1/jobs queues a scrape; GET /v1/jobs/{job_id} reports on it.
package api
