// Package api exposes job submission, job status, the option universe, and the latest
// dataset manifest over HTTP.
//
// Routes:
//
//	POST /v1/jobs               submit a crawl, 202 {"job_id": ...}
//	GET  /v1/jobs               job history, newest first
//	GET  /v1/jobs/{job_id}      one job, 404 when unknown
//	GET  /v1/options            selectable years, tours, locations, athletes
//	GET  /v1/datasets/latest    manifest of the last assembled run
//	GET  /healthz, /readyz      liveness and readiness
//	GET  /metrics               Prometheus exposition
package api
