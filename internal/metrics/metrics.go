// Package metrics provides Prometheus instrumentation for FraudShield.
package metrics

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PredictionsTotal counts served predictions by decision.
	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudshield",
			Name:      "predictions_total",
			Help:      "Total predictions served by decision (fraud or legit).",
		},
		[]string{"decision"},
	)

	// PredictionDuration observes end-to-end scoring latency.
	PredictionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fraudshield",
			Name:      "prediction_duration_seconds",
			Help:      "Time to encode, score and explain one transaction.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
	)

	// TrainingRunsTotal counts completed training runs by data source.
	TrainingRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudshield",
			Name:      "training_runs_total",
			Help:      "Total training runs by data source (dataset or synthetic).",
		},
		[]string{"source"},
	)

	// TrainingDuration observes wall time of training runs.
	TrainingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fraudshield",
			Name:      "training_duration_seconds",
			Help:      "Training run duration in seconds.",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// ModelAccuracy tracks held-out accuracy of the model in memory.
	ModelAccuracy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fraudshield",
			Name:      "model_accuracy",
			Help:      "Held-out accuracy measured when the current model was trained.",
		},
	)

	// ModelReady is 1 once a model can serve predictions.
	ModelReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fraudshield",
			Name:      "model_ready",
			Help:      "Whether a trained model is loaded (1) or not (0).",
		},
	)

	// WorkerMessagesTotal counts bus-submitted transactions by outcome.
	WorkerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudshield",
			Name:      "worker_messages_total",
			Help:      "Transactions consumed from the bus by outcome.",
		},
		[]string{"outcome"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudshield",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fraudshield",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PanicsRecovered counts handler panics turned into 500 responses.
	PanicsRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fraudshield", Name: "http_panics_recovered_total",
		Help: "Handler panics recovered by the API.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudshield", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudshield", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// CacheEntries tracks entries held by the in-process cache tier.
	CacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudshield", Name: "cache_entries",
		Help: "Entries held by the local cache.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudshield", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		PredictionsTotal,
		PredictionDuration,
		TrainingRunsTotal,
		TrainingDuration,
		ModelAccuracy,
		ModelReady,
		WorkerMessagesTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PanicsRecovered,
		DBOpenConnections,
		DBInUseConnections,
		CacheEntries,
		GoroutineCount,
	)
}

// Decision returns the predictions_total label for a decision.
func Decision(isFraud bool) string {
	if isFraud {
		return "fraud"
	}
	return "legit"
}

// StartDBStatsCollector periodically samples database pool stats and the
// goroutine count into gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, stats func() sql.DBStats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := stats()
			DBOpenConnections.Set(float64(s.OpenConnections))
			DBInUseConnections.Set(float64(s.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// StartCacheStatsCollector periodically samples the local cache size.
// Call in a goroutine; exits when ctx is done.
func StartCacheStatsCollector(ctx context.Context, stats func() (size, capacity int), interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			size, _ := stats()
			CacheEntries.Set(float64(size))
		}
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StatusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func StatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
