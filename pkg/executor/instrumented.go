package executor

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pay-theory/relorm/pkg/core"
)

// Metrics holds the collectors recorded by Instrumented
type Metrics struct {
	Queries  *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Rows     *prometheus.HistogramVec
}

// NewMetrics registers relorm's query collectors with reg. A nil registerer
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Queries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relorm_queries_total",
				Help: "Total number of statements executed",
			},
			[]string{"operation", "status"},
		),
		Duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relorm_query_duration_seconds",
				Help:    "Statement latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		Rows: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relorm_query_rows",
				Help:    "Rows returned per statement",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"operation"},
		),
	}
}

type operationKey struct{}

// WithOperation labels statements run with ctx, e.g. "eager" or "batch"
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, operationKey{}, operation)
}

// Operation returns the label set by WithOperation, or "query"
func Operation(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey{}).(string); ok && op != "" {
		return op
	}
	return "query"
}

// Instrumented records metrics around another executor
type Instrumented struct {
	next    core.Executor
	metrics *Metrics
}

// NewInstrumented wraps next
func NewInstrumented(next core.Executor, metrics *Metrics) *Instrumented {
	return &Instrumented{next: next, metrics: metrics}
}

// Query implements core.Executor
func (e *Instrumented) Query(ctx context.Context, sql string, args []any) ([]core.Row, error) {
	op := Operation(ctx)
	start := time.Now()
	rows, err := e.next.Query(ctx, sql, args)
	e.metrics.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	status := "ok"
	if err != nil {
		status = "error"
	} else {
		e.metrics.Rows.WithLabelValues(op).Observe(float64(len(rows)))
	}
	e.metrics.Queries.WithLabelValues(op, status).Inc()
	return rows, err
}
