/*
Package metrics registers and exposes Prometheus metrics for the
commission engine. Registration is guarded by sync.Once so tests and
multiple constructors cannot double-register; every observe helper is
nil-safe so code paths exercised before Init are simply not recorded.
*/
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "commission_"

	resultOK     = "success"
	resultEmpty  = "empty"
	resultError  = "error"
	resultReplay = "replayed"
)

var (
	registerOnce sync.Once

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	transactionRecordTotal *prometheus.CounterVec

	settlementCreateTotal *prometheus.CounterVec
	settlementPaidTotal   *prometheus.CounterVec

	rateLimitRejects prometheus.Counter
)

// Init registers all engine metrics with the default registry.
func Init() {
	registerOnce.Do(func() {
		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total HTTP requests by route and status class",
			},
			[]string{"route", "status"},
		)
		httpLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_latency_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		)

		transactionRecordTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "transaction_record_total",
				Help: "Total transaction record operations by result",
			},
			[]string{"result"},
		)

		settlementCreateTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_create_total",
				Help: "Total settlement batch attempts by result",
			},
			[]string{"result"},
		)
		settlementPaidTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_paid_total",
				Help: "Total mark-paid attempts by result",
			},
			[]string{"result"},
		)

		rateLimitRejects = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "rate_limit_rejects_total",
				Help: "Total requests rejected by the rate limiter",
			},
		)

		prometheus.MustRegister(
			httpRequests,
			httpLatency,
			transactionRecordTotal,
			settlementCreateTotal,
			settlementPaidTotal,
			rateLimitRejects,
		)
	})
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(route, status string, duration time.Duration) {
	if route == "" {
		route = "unknown"
	}
	if httpRequests != nil {
		httpRequests.WithLabelValues(route, status).Inc()
	}
	if httpLatency != nil {
		httpLatency.WithLabelValues(route).Observe(duration.Seconds())
	}
}

// ObserveTransactionRecord increments the record counter by result.
func ObserveTransactionRecord(result string) {
	if result == "" {
		result = resultOK
	}
	if transactionRecordTotal != nil {
		transactionRecordTotal.WithLabelValues(result).Inc()
	}
}

// ObserveSettlementCreate increments the batch counter by result.
func ObserveSettlementCreate(result string) {
	if result == "" {
		result = resultOK
	}
	if settlementCreateTotal != nil {
		settlementCreateTotal.WithLabelValues(result).Inc()
	}
}

// ObserveSettlementPaid increments the mark-paid counter by result.
func ObserveSettlementPaid(result string) {
	if result == "" {
		result = resultOK
	}
	if settlementPaidTotal != nil {
		settlementPaidTotal.WithLabelValues(result).Inc()
	}
}

// IncRateLimitReject counts one rejected request.
func IncRateLimitReject() {
	if rateLimitRejects != nil {
		rateLimitRejects.Inc()
	}
}

// Exported constants for callers.
const (
	ResultOK     = resultOK
	ResultEmpty  = resultEmpty
	ResultError  = resultError
	ResultReplay = resultReplay
)
