package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "floodrisk"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// prediction service, the request stream and the source adapters.
type Metrics struct {
	MessagesConsumed prometheus.Counter
	MessagesProduced prometheus.Counter
	TransformErrors  prometheus.Counter
	RequestsRejected *prometheus.CounterVec // labels: code
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Source adapter metrics.
	SourceRequests      *prometheus.CounterVec   // labels: source={fema,noaa}, outcome={success,error,stale,cached}
	SourceFetchDuration *prometheus.HistogramVec // labels: source

	// Prediction metrics.
	Predictions        *prometheus.CounterVec // labels: outcome={success,invalid,error}
	PredictionCache    *prometheus.CounterVec // labels: result={hit,miss}
	PredictionDuration prometheus.Histogram
	ModelsLoaded       prometheus.Gauge
	ModelRefreshes     prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total prediction requests read from the source topic.",
		}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_produced_total",
			Help:      "Total prediction results written to the sink topic.",
		}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_errors_total",
			Help:      "Total requests skipped without a result.",
		}),
		RequestsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rejected_total",
			Help:      "Requests answered with an error result, by error code.",
		}, []string{"code"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the request stream is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of requests per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-predict-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		SourceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Upstream source fetches by source and outcome.",
		}, []string{"source", "outcome"}),
		SourceFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Upstream source request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Prediction queries by outcome.",
		}, []string{"outcome"}),
		PredictionCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_cache_total",
			Help:      "Prediction cache lookups by result.",
		}, []string{"result"}),
		PredictionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "Time to compute an uncached prediction.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		ModelsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "models_loaded",
			Help:      "1 once a model set is loaded, 0 otherwise.",
		}),
		ModelRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_refreshes_total",
			Help:      "Total model set swaps.",
		}),
	}

	prometheus.MustRegister(
		m.MessagesConsumed,
		m.MessagesProduced,
		m.TransformErrors,
		m.RequestsRejected,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.SourceRequests,
		m.SourceFetchDuration,
		m.Predictions,
		m.PredictionCache,
		m.PredictionDuration,
		m.ModelsLoaded,
		m.ModelRefreshes,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		MessagesConsumed:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "messages_consumed_total"}),
		MessagesProduced:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "messages_produced_total"}),
		TransformErrors:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "transform_errors_total"}),
		RequestsRejected:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "requests_rejected_total"}, []string{"code"}),
		PipelineRunning:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pipeline_running"}),
		BatchSize:               prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "batch_size"}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "batch_processing_duration_seconds"}),
		SourceRequests:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "source_requests_total"}, []string{"source", "outcome"}),
		SourceFetchDuration:     prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "source_fetch_duration_seconds"}, []string{"source"}),
		Predictions:             prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "predictions_total"}, []string{"outcome"}),
		PredictionCache:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "prediction_cache_total"}, []string{"result"}),
		PredictionDuration:      prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "prediction_duration_seconds"}),
		ModelsLoaded:            prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "models_loaded"}),
		ModelRefreshes:          prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "model_refreshes_total"}),
	}
}
