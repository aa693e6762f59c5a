// ABOUTME: Prometheus collectors for assistant, provider, and ingest activity
// ABOUTME: Exposes the registry handler for the configured metrics path

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChatRequests counts assistant chat calls by outcome (ok, error).
	ChatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_assistant_chat_requests_total",
		Help: "Assistant chat requests by outcome.",
	}, []string{"outcome"})

	// StreamChunks counts streamed response deltas relayed to clients.
	StreamChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_assistant_stream_chunks_total",
		Help: "Streamed assistant response chunks.",
	})

	// ChatDuration observes end-to-end chat latency.
	ChatDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "beacon_assistant_chat_duration_seconds",
		Help:    "Assistant chat request duration.",
		Buckets: prometheus.DefBuckets,
	})

	// ProviderOperations counts installs/updates/deletes by provider type.
	ProviderOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_provider_operations_total",
		Help: "Provider operations by kind and provider type.",
	}, []string{"operation", "provider_type"})

	// ProvisioningRuns counts provisioning passes.
	ProvisioningRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_provider_provisioning_runs_total",
		Help: "Provider provisioning runs.",
	})

	// IngestEvents counts ingested alert events by result (accepted, duplicate, rejected).
	IngestEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_ingest_events_total",
		Help: "Ingested alert events by result.",
	}, []string{"result"})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
