package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storm_nowcast"

// Metrics holds the Prometheus counters, histograms, and gauges for the nowcasting service.
type Metrics struct {
	SchedulerRunning prometheus.Gauge

	// Cycle metrics.
	Cycles         *prometheus.CounterVec // labels: status={not_ready,no_data,no_cells,completed}
	CycleDuration  prometheus.Histogram
	CellsProcessed prometheus.Counter
	CellErrors     prometheus.Counter

	// Inference metrics.
	Predictions        *prometheus.CounterVec // labels: horizon
	ClassifierOutcomes *prometheus.CounterVec // labels: outcome={present,absent,indeterminate}
	RegressionErrors   *prometheus.CounterVec // labels: role

	// Warning metrics.
	WarningsIssued       prometheus.Counter
	WarningsDeduplicated prometheus.Counter
	Notifications        *prometheus.CounterVec // labels: outcome={sent,failed}
	EventsPublished      *prometheus.CounterVec // labels: record_type, outcome={success,error}

	// Model metrics.
	RegistryEntries *prometheus.GaugeVec   // labels: status={loaded,missing,load_error}
	TrainingJobs    *prometheus.CounterVec // labels: status={completed,failed}

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
	GeocodeEnabled     prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 when the cycle scheduler is active, 0 when stopped.",
		}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Nowcasting cycles by terminal status.",
		}, []string{"status"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete nowcasting cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		CellsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_processed_total",
			Help:      "Storm cells that completed prediction.",
		}),
		CellErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cell_errors_total",
			Help:      "Storm cells whose processing failed.",
		}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Prediction records stored by horizon.",
		}, []string{"horizon"}),
		ClassifierOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_outcomes_total",
			Help:      "Presence classifier results by outcome.",
		}, []string{"outcome"}),
		RegressionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regression_errors_total",
			Help:      "Rain-rate regressions that could not be computed, by role.",
		}, []string{"role"}),
		WarningsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_issued_total",
			Help:      "Heavy-rainfall warnings stored.",
		}),
		WarningsDeduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_deduplicated_total",
			Help:      "Warning candidates discarded as duplicates of an active warning.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Warning notification dispatches by outcome.",
		}, []string{"outcome"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Records published to Kafka by type and outcome.",
		}, []string{"record_type", "outcome"}),
		RegistryEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_entries",
			Help:      "Model registry entries by load status.",
		}, []string{"status"}),
		TrainingJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_jobs_total",
			Help:      "Finished training jobs by status.",
		}, []string{"status"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Reverse geocoding requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when warning locations are reverse geocoded, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SchedulerRunning,
		m.Cycles,
		m.CycleDuration,
		m.CellsProcessed,
		m.CellErrors,
		m.Predictions,
		m.ClassifierOutcomes,
		m.RegressionErrors,
		m.WarningsIssued,
		m.WarningsDeduplicated,
		m.Notifications,
		m.EventsPublished,
		m.RegistryEntries,
		m.TrainingJobs,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

// Register adds the metrics to a specific registry, for tests that scrape them.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
