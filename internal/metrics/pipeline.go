// Package metrics exposes Prometheus counters for the invoice pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Lllllllleong/invoiceflow/internal/persistence"
)

type PipelineMetrics struct {
	registry *prometheus.Registry

	documentTransitions *prometheus.CounterVec
	collectionStatuses  *prometheus.CounterVec
	publishResults      *prometheus.CounterVec
	batchRecords        *prometheus.CounterVec
	queueSubmit         *prometheus.HistogramVec
	validationFindings  *prometheus.CounterVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	documentTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "invoiceflow",
			Subsystem:   "document",
			Name:        "transitions_total",
			Help:        "Document status transitions by source and target status.",
			ConstLabels: constLabels,
		},
		[]string{"from", "to"},
	)
	collectionStatuses := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "invoiceflow",
			Subsystem:   "collection",
			Name:        "status_changes_total",
			Help:        "Collection status changes by new status.",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	publishResults := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "invoiceflow",
			Subsystem:   "broadcast",
			Name:        "publish_total",
			Help:        "Status event publishes by result.",
			ConstLabels: constLabels,
		},
		[]string{"result"},
	)
	batchRecords := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "invoiceflow",
			Subsystem:   "batch",
			Name:        "records_total",
			Help:        "Records handled by batch persistence calls by operation and outcome.",
			ConstLabels: constLabels,
		},
		[]string{"op", "outcome"},
	)
	queueSubmit := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "invoiceflow",
			Subsystem:   "queue",
			Name:        "submit_duration_seconds",
			Help:        "Extraction task submission duration in seconds by status.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	validationFindings := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "invoiceflow",
			Subsystem:   "validation",
			Name:        "findings_total",
			Help:        "Validation findings by severity.",
			ConstLabels: constLabels,
		},
		[]string{"severity"},
	)

	registry.MustRegister(
		documentTransitions,
		collectionStatuses,
		publishResults,
		batchRecords,
		queueSubmit,
		validationFindings,
	)

	return &PipelineMetrics{
		registry:            registry,
		documentTransitions: documentTransitions,
		collectionStatuses:  collectionStatuses,
		publishResults:      publishResults,
		batchRecords:        batchRecords,
		queueSubmit:         queueSubmit,
		validationFindings:  validationFindings,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) DocumentTransition(from, to string) {
	m.documentTransitions.WithLabelValues(from, to).Inc()
}

func (m *PipelineMetrics) CollectionStatus(status string) {
	m.collectionStatuses.WithLabelValues(status).Inc()
}

func (m *PipelineMetrics) PublishResult(result string) {
	if result == "" {
		result = "unknown"
	}
	m.publishResults.WithLabelValues(result).Inc()
}

func (m *PipelineMetrics) QueueSubmit(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.queueSubmit.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ValidationFindings(errors, warnings int) {
	if errors > 0 {
		m.validationFindings.WithLabelValues("error").Add(float64(errors))
	}
	if warnings > 0 {
		m.validationFindings.WithLabelValues("warning").Add(float64(warnings))
	}
}

// ObserveBatch implements persistence.Recorder.
func (m *PipelineMetrics) ObserveBatch(op string, res *persistence.Result) {
	if res == nil {
		return
	}
	if res.SuccessCount > 0 {
		m.batchRecords.WithLabelValues(op, "success").Add(float64(res.SuccessCount))
	}
	if res.FailureCount > 0 {
		m.batchRecords.WithLabelValues(op, "failure").Add(float64(res.FailureCount))
	}
}
