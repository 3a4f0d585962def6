package inject

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// FilterMetrics records the per-stream observables a production deployment
// wants: trigger rate, RPC latency/result distribution, and abort rate.
// Entirely ambient: retries, caching, body parsing, and cross-stream
// ordering are out of scope, but observability is not.
type FilterMetrics interface {
	RecordTriggered()
	RecordRPCResult(result string, duration time.Duration)
	RecordRPCFailure(duration time.Duration)
	RecordAbort()
}

var (
	triggeredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inject_filter_triggered_total",
		Help: "Total number of streams that triggered an enrichment RPC attempt.",
	})

	rpcResultTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inject_filter_rpc_result_total",
		Help: "Total enrichment RPC completions by result string.",
	}, []string{"result"})

	rpcFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inject_filter_rpc_failure_total",
		Help: "Total enrichment RPC failures (status error, timeout, or dispatch failure).",
	})

	rpcLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "inject_filter_rpc_latency_seconds",
		Help:    "Enrichment RPC round-trip latency.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	abortTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inject_filter_abort_total",
		Help: "Total streams short-circuited with a local abort response.",
	})
)

func init() {
	metrics.Registry.MustRegister(triggeredTotal, rpcResultTotal, rpcFailureTotal, rpcLatency, abortTotal)
}

type prometheusMetrics struct{}

// NewFilterMetrics returns the process-wide FilterMetrics recorder.
func NewFilterMetrics() FilterMetrics {
	return prometheusMetrics{}
}

func (prometheusMetrics) RecordTriggered() {
	triggeredTotal.Inc()
}

func (prometheusMetrics) RecordRPCResult(result string, duration time.Duration) {
	rpcResultTotal.WithLabelValues(result).Inc()
	rpcLatency.Observe(duration.Seconds())
}

func (prometheusMetrics) RecordRPCFailure(duration time.Duration) {
	rpcFailureTotal.Inc()
	rpcLatency.Observe(duration.Seconds())
}

func (prometheusMetrics) RecordAbort() {
	abortTotal.Inc()
}
