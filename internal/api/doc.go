// Package api hosts the operator status server of a harvest run. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the live run snapshot.
package api
