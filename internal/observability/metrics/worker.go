package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/docdesk/internal/core/ports"
)

type WorkerMetrics struct {
	service  string
	registry *prometheus.Registry

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	stalledTotal    prometheus.Counter
	queueLag        *prometheus.HistogramVec
	breakerOpen     *prometheus.GaugeVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "document_process_total",
			Help:      "Total processing runs by outcome.",
		},
		[]string{"service", "outcome"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "document_process_duration_seconds",
			Help:      "Document processing duration in seconds by outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "outcome"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "document_process_in_flight",
			Help:      "Number of in-flight document processing tasks.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	stalledTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "documents_stalled_total",
			Help:      "Documents left extracted after a failed analysis pass.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between scheduled time and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	breakerOpen := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "circuit_open",
			Help:      "1 when the circuit breaker of an operation is not closed.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(processTotal, processDuration, processInFlight, stalledTotal, queueLag, breakerOpen)

	return &WorkerMetrics{
		service:         service,
		registry:        registry,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
		stalledTotal:    stalledTotal,
		queueLag:        queueLag,
		breakerOpen:     breakerOpen,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *WorkerMetrics) StartDocument() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishDocument() {
	m.processInFlight.Dec()
}

// ObserveProcessing records the outcome of one processing run.
func (m *WorkerMetrics) ObserveProcessing(_ string, outcome ports.ProcessingOutcome, duration time.Duration) {
	m.processTotal.WithLabelValues(m.service, string(outcome)).Inc()
	m.processDuration.WithLabelValues(m.service, string(outcome)).Observe(duration.Seconds())
	if outcome == ports.OutcomeStalled {
		m.stalledTotal.Inc()
	}
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) ObserveBreakerState(operation, state string) {
	value := 0.0
	if state != "closed" {
		value = 1
	}
	m.breakerOpen.WithLabelValues(m.service, operation).Set(value)
}
