// Package metrics exposes Prometheus counters for crawl, validation and extraction.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kampus_pages_fetched_total",
			Help: "Pages and assets fetched, labeled by fetch mode.",
		},
		[]string{"mode"},
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kampus_fetch_errors_total",
			Help: "Failed fetches, labeled by error category.",
		},
		[]string{"category"},
	)

	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kampus_render_escalations_total",
			Help: "Light fetches escalated to the headless renderer, labeled by reason and whether the rendered page was kept.",
		},
		[]string{"reason", "kept"},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kampus_fetch_cache_hits_total",
			Help: "Fetches answered from the in-memory page cache.",
		},
	)

	OracleCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kampus_oracle_calls_total",
			Help: "Oracle requests, labeled by operation, model and outcome.",
		},
		[]string{"op", "model", "outcome"},
	)

	Candidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kampus_candidates_total",
			Help: "Candidate links emitted by the crawler, labeled by kind.",
		},
		[]string{"kind"},
	)

	Verdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kampus_verdicts_total",
			Help: "Validation verdicts, labeled by verdict and kind.",
		},
		[]string{"verdict", "kind"},
	)

	LocalGateRejects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kampus_local_gate_rejects_total",
			Help: "Candidates rejected by the local gate without an oracle call.",
		},
	)

	ItemsExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kampus_items_extracted_total",
			Help: "Structured items kept after normalization and narrowing.",
		},
	)

	Entities = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kampus_entities_total",
			Help: "Entities processed, labeled by outcome (success, failed, skipped).",
		},
		[]string{"outcome"},
	)

	EntityDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kampus_entity_duration_seconds",
			Help:    "Wall time of one entity pipeline.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200},
		},
	)
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
