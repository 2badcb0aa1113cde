// Package metrics exposes ledger counters in the Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"sweepstakes-wallet/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sweepstakes_wallet"

// Prometheus implements ports.Metrics on a private registry.
type Prometheus struct {
	registry *prometheus.Registry

	operations   *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
	violations   *prometheus.CounterVec
	approvals    *prometheus.CounterVec
	duplicates   *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewPrometheus creates and registers every collector.
func NewPrometheus() *Prometheus {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Processed wallet operations by kind, currency and outcome.",
			},
			[]string{"kind", "currency", "outcome"},
		),
		opDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Duration of wallet operations.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"kind"},
		),
		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "compliance",
				Name:      "violations_total",
				Help:      "Operations blocked by the compliance gate.",
			},
			[]string{"violation"},
		),
		approvals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "approval",
				Name:      "transitions_total",
				Help:      "Approval requests entering each status.",
			},
			[]string{"status"},
		),
		duplicates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "idempotency",
				Name:      "duplicates_total",
				Help:      "Requests answered from a stored idempotent result.",
			},
			[]string{"kind"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"method", "path"},
		),
	}

	m.registry.MustRegister(
		m.operations,
		m.opDuration,
		m.violations,
		m.approvals,
		m.duplicates,
		m.httpRequests,
		m.httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Prometheus) ObserveOperation(kind domain.OperationKind, currency domain.Currency, outcome string, elapsed time.Duration) {
	m.operations.WithLabelValues(string(kind), string(currency), outcome).Inc()
	m.opDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

func (m *Prometheus) IncViolation(kind domain.ViolationKind) {
	m.violations.WithLabelValues(string(kind)).Inc()
}

func (m *Prometheus) IncApproval(status domain.ApprovalStatus) {
	m.approvals.WithLabelValues(string(status)).Inc()
}

func (m *Prometheus) IncDuplicate(kind domain.OperationKind) {
	m.duplicates.WithLabelValues(string(kind)).Inc()
}

// ObserveHTTP records one served request. path should be the route template.
func (m *Prometheus) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// Handler serves the registry.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
