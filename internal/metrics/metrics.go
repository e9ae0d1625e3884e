// Package metrics は近傍画像キャッシュのPrometheusメトリクスを定義する
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TileFetchesTotal result: success, error, stale
	TileFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearby_tile_fetches_total",
			Help: "Total number of tile fetches issued to the image source",
		},
		[]string{"result"},
	)

	TileFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nearby_tile_fetch_duration_seconds",
			Help:    "Duration of a single tile fetch in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// TilesEvictedTotal reason: grid_move, budget, clear
	TilesEvictedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearby_tiles_evicted_total",
			Help: "Total number of tiles evicted from the cache",
		},
		[]string{"reason"},
	)

	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearby_cache_requests_total",
			Help: "Load requests by outcome (cached, fetched, coalesced, superseded)",
		},
		[]string{"outcome"},
	)

	CachedRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nearby_cached_records",
			Help: "Records currently held across all browsing sessions",
		},
	)

	OpenSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nearby_open_sessions",
			Help: "Browsing sessions currently held in memory",
		},
	)

	SourceBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nearby_source_breaker_state",
			Help: "Circuit breaker state of the image source (0=closed, 1=half-open, 2=open)",
		},
		[]string{"source"},
	)

	// SourceRequestsTotal result: success, failure, rejected, rate_limited
	SourceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearby_source_requests_total",
			Help: "Requests to the image source through the circuit breaker",
		},
		[]string{"source", "result"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordAPIRequest はAPIリクエストの件数と所要時間を記録する
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordTileFetch はタイル取得1回分の結果と所要時間を記録する
func RecordTileFetch(result string, duration time.Duration) {
	TileFetchesTotal.WithLabelValues(result).Inc()
	TileFetchDuration.Observe(duration.Seconds())
}
