// Package api hosts the optional status server that runs beside an export.
// Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs, /v1/runs/{run_id} and /v1/runs/{run_id}/days for run
//     progress via the store.RunRepository interface.
package api
