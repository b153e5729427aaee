// Package metrics defines the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meetloop/backend/internal/relationships"
)

const namespace = "meetloop"

// Relationships records cache and coordinator activity.
type Relationships struct {
	cacheLookups *prometheus.CounterVec
	coalesced    *prometheus.CounterVec
	shards       *prometheus.CounterVec
	shardSize    prometheus.Histogram
	mutations    *prometheus.CounterVec
}

// NewRelationships registers the relationship collectors on reg.
func NewRelationships(reg prometheus.Registerer) *Relationships {
	factory := promauto.With(reg)
	return &Relationships{
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relationships",
			Name:      "cache_lookups_total",
			Help:      "Relationship cache lookups by result.",
		}, []string{"result"}),
		coalesced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relationships",
			Name:      "coalesced_loads_total",
			Help:      "Callers served by a load another caller started.",
		}, []string{"kind"}),
		shards: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relationships",
			Name:      "batch_shards_total",
			Help:      "Batch shards loaded by result.",
		}, []string{"result"}),
		shardSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relationships",
			Name:      "batch_shard_size",
			Help:      "Targets per loaded batch shard.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100},
		}),
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relationships",
			Name:      "mutations_total",
			Help:      "Relationship commands by command and outcome.",
		}, []string{"command", "outcome"}),
	}
}

// CacheLookup counts a cache hit or miss.
func (m *Relationships) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// LoadCoalesced counts a caller served by another caller's load.
func (m *Relationships) LoadCoalesced(kind string) {
	m.coalesced.WithLabelValues(kind).Inc()
}

// BatchShard records one batch shard and whether it failed.
func (m *Relationships) BatchShard(size int, failed bool) {
	result := "ok"
	if failed {
		result = "failed"
	}
	m.shards.WithLabelValues(result).Inc()
	m.shardSize.Observe(float64(size))
}

// Mutation counts a finished command by outcome.
func (m *Relationships) Mutation(command relationships.Command, outcome string) {
	m.mutations.WithLabelValues(string(command), outcome).Inc()
}

// HTTP records request counts and latencies per route pattern.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTP registers the HTTP collectors on reg.
func NewHTTP(reg prometheus.Registerer) *HTTP {
	factory := promauto.With(reg)
	return &HTTP{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Observe records one finished request.
func (m *HTTP) Observe(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler exposes the gathered metrics in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

var _ relationships.Metrics = (*Relationships)(nil)
