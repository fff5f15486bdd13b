// Package metrics exports engine events as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hanpama/batchgraph/internal/eventbus"
	"github.com/hanpama/batchgraph/internal/events"
	"github.com/hanpama/batchgraph/internal/invoker"
)

const (
	namespace = "batchgraph"

	MetricBatchCalls        = "batch_calls_total"
	MetricBatchKeys         = "batch_keys"
	MetricBatchErrors       = "batch_errors_total"
	MetricBatchDuration     = "batch_duration_seconds"
	MetricOperations        = "operations_total"
	MetricOperationDuration = "operation_duration_seconds"
)

// Metrics holds the collectors fed by Subscribe.
type Metrics struct {
	BatchCalls        *prometheus.CounterVec
	BatchKeys         *prometheus.HistogramVec
	BatchErrors       *prometheus.CounterVec
	BatchDuration     *prometheus.HistogramVec
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		BatchCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricBatchCalls,
			Help:      "Collaborator calls made by the batch scheduler.",
		}, []string{"collaborator", "remote"}),
		BatchKeys: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricBatchKeys,
			Help:      "Distinct keys per collaborator call.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"collaborator"}),
		BatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricBatchErrors,
			Help:      "Failed collaborator calls by failure kind.",
		}, []string{"collaborator", "kind"}),
		BatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricBatchDuration,
			Help:      "Collaborator call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collaborator"}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricOperations,
			Help:      "Executed GraphQL operations by type and outcome.",
		}, []string{"type", "outcome"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricOperationDuration,
			Help:      "GraphQL operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		gatherer: reg,
	}
	for _, c := range []prometheus.Collector{m.BatchCalls, m.BatchKeys, m.BatchErrors, m.BatchDuration, m.Operations, m.OperationDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, invoker.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, invoker.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "error"
}

// Subscribe feeds m from the global bus until the returned function is called.
func (m *Metrics) Subscribe() func() {
	unsubBatch := eventbus.Subscribe[events.BatchFinish](func(ctx context.Context, e events.BatchFinish) {
		remote := "false"
		if e.Remote {
			remote = "true"
		}
		m.BatchCalls.WithLabelValues(e.Collaborator, remote).Inc()
		m.BatchKeys.WithLabelValues(e.Collaborator).Observe(float64(e.Keys))
		m.BatchDuration.WithLabelValues(e.Collaborator).Observe(e.Duration.Seconds())
		if e.Err != nil {
			m.BatchErrors.WithLabelValues(e.Collaborator, errorKind(e.Err)).Inc()
		}
	})
	unsubOp := eventbus.Subscribe[events.GraphQLFinish](func(ctx context.Context, e events.GraphQLFinish) {
		outcome := "ok"
		switch {
		case e.Aborted:
			outcome = "aborted"
		case len(e.Errors) > 0:
			outcome = "errors"
		}
		m.Operations.WithLabelValues(e.OperationType, outcome).Inc()
		m.OperationDuration.WithLabelValues(e.OperationType).Observe(e.Duration.Seconds())
	})
	return func() {
		unsubBatch()
		unsubOp()
	}
}
