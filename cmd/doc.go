// Package cmd defines the CLI commands of the athlete results crawler.
//
// Architecture overview:
//   - HTTP API (serve): internal/api exposes health, metrics, job submission and status, the option universe, and
//     the latest dataset manifest. Submissions are validated into crawler.JobParameters, recorded as queued jobs,
//     and handed to the dispatcher.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by jobs.queue_depth and run
//     jobs.parallel at a time. A full queue blocks the submitter until its request context ends.
//   - Crawl pipeline: each job walks the athlete directory, then fans every athlete out over years, tours, and
//     events on a bounded worker pool. All page loads go through one paced, retrying fetcher per job backed by the
//     Colly transport or, with fetch.backend=headless, by chromedp.
//   - Persistence: the job table, the option universe, and the last run manifest are checkpointed as JSON documents
//     in the configured blob backend (local, gcs, memory), next to the per-run dataset artifacts. Heat rows are
//     optionally mirrored to Postgres and a notification is published to Pub/Sub after each run.
//   - Configuration & plumbing: Viper populates config from an optional file and CRAWLER_ env vars; zap provides
//     structured logging with optional lumberjack rotation; Prometheus metrics are served on /metrics.
//
// Operational notes:
//   - Restart: jobs left running by a previous process are marked interrupted on startup; they are not resumed.
//   - Rate limiting: every fetch waits request_delay_seconds; fetch.max_rps additionally caps the request rate
//     across all jobs.
//   - Shutdown: SIGINT/SIGTERM stops the HTTP server, closes the queue, and waits for the dispatcher.
//
// Quick checklist:
//   - Run the service: athlete-results-crawler serve --config config.yaml
//   - One-off crawl: athlete-results-crawler crawl --years 2024,2025 --countries ESP --entities "Adur Amatriain"
package cmd
