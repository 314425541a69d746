/*
Package metrics provides Prometheus metrics collection and exposition for scanarchiver.

The metrics package defines and registers all scanarchiver metrics using the
Prometheus client library, providing observability into cursor position,
writer throughput, upload queue back-pressure, and the progress of the
backfill, live, and ACS engines. Metrics are exposed via an HTTP endpoint for
scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Cursor: confirmed/remote position, commits │          │
	│  │  Writer: job duration, rows written         │          │
	│  │  Upload: queue depth, retries, dead-letter  │          │
	│  │  Backfill: slice completion, dedup          │          │
	│  │  Live: poll count, lag                      │          │
	│  │  ACS: snapshots completed, contracts        │          │
	│  │  Repair: action counts, verification        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint               │          │
	│  │  - Format: Prometheus text exposition        │          │
	│  │  - Handler: promhttp.Handler()               │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

	import "github.com/cuemby/scanarchiver/pkg/metrics"

	metrics.CursorConfirmedBefore.WithLabelValues("backfill", "4").Set(float64(t.Unix()))
	metrics.UploadsAttemptedTotal.Inc()

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDurationVec(metrics.WriterJobDuration, "updates")

	http.Handle("/metrics", metrics.Handler())

# Design Patterns

All metrics are registered in init() so they exist before any engine starts;
MustRegister panics on duplicate registration. Labels are kept low-cardinality
(stream name, migration id, action kind) — never an update_id or contract_id.

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
