package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netrisk/pkg/models"
)

// Metrics groups the collectors exported by the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	RecordsTotal        prometheus.Counter
	FindingsTotal       *prometheus.CounterVec
	PipelineDuration    prometheus.Histogram
	FeatureVectorsTotal prometheus.Counter
	PredictionsTotal    *prometheus.CounterVec
	PredictionErrors    *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "netrisk_log_records_total",
			Help: "Firewall log rows processed by the anomaly pipeline",
		}),
		FindingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "netrisk_findings_total",
			Help: "Classified anomaly findings",
		}, []string{"defect_id", "severity", "category"}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "netrisk_pipeline_duration_seconds",
			Help:    "Anomaly pipeline run duration",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		FeatureVectorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "netrisk_feature_vectors_total",
			Help: "Feature vectors computed from telemetry",
		}),
		PredictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "netrisk_predictions_total",
			Help: "Risk predictions by model mode and band",
		}, []string{"mode", "band"}),
		PredictionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "netrisk_prediction_errors_total",
			Help: "Failed risk predictions by model mode",
		}, []string{"mode"}),
	}
}

// ObserveRun records one anomaly pipeline run.
func (m *Metrics) ObserveRun(records int, findings []models.AnomalyFinding, took time.Duration) {
	if m == nil {
		return
	}
	m.RecordsTotal.Add(float64(records))
	m.PipelineDuration.Observe(took.Seconds())
	for i := range findings {
		f := &findings[i]
		m.FindingsTotal.WithLabelValues(f.DefectID, string(f.Severity), string(f.Category)).Inc()
	}
}

// ObserveFeatures records computed feature vectors.
func (m *Metrics) ObserveFeatures(n int) {
	if m == nil {
		return
	}
	m.FeatureVectorsTotal.Add(float64(n))
}

// ObservePrediction records a successful prediction.
func (m *Metrics) ObservePrediction(mode string, band models.RiskBand) {
	if m == nil {
		return
	}
	m.PredictionsTotal.WithLabelValues(mode, string(band)).Inc()
}

// ObservePredictionError records a failed prediction.
func (m *Metrics) ObservePredictionError(mode string) {
	if m == nil {
		return
	}
	m.PredictionErrors.WithLabelValues(mode).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
