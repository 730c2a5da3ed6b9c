package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняла стадия конвейера
	StageDuration *prometheus.HistogramVec

	// Traffic: принятые заявки по итоговому состоянию
	SubmissionsTotal *prometheus.CounterVec

	// Вебхуки и коллбэки по типу и исходу
	CallbacksTotal *prometheus.CounterVec

	// Errors: классификация отказов конвейера
	ErrorTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker движка (0 - ок, 1 - выбило)
	CircuitBreakerState prometheus.Gauge

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		StageDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modbridge_stage_duration_seconds",
			Help:    "Histogram of pipeline stage latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"stage", "status"}),

		SubmissionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "modbridge_submissions_total",
			Help: "Total number of processed submissions by final state.",
		}, []string{"state", "degraded"}),

		CallbacksTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "modbridge_callbacks_total",
			Help: "Total number of received callbacks by kind and outcome.",
		}, []string{"kind", "outcome"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "modbridge_errors_total",
			Help: "Total number of errors by type.",
		}, []string{"type"}), // типы: engine_unavailable, invalid_media, persistence_failure...

		CircuitBreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "modbridge_engine_breaker_state",
			Help: "Current state of the engine circuit breaker (0=closed, 1=open).",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "modbridge_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}
