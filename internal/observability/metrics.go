package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for dreamorm instruments.
const MeterName = "dreamorm"

// QueryMetrics holds instruments for query execution and preloading. A nil
// *QueryMetrics is valid and records nothing.
type QueryMetrics struct {
	queryDuration  metric.Float64Histogram
	queryCounter   metric.Int64Counter
	errorCounter   metric.Int64Counter
	rowsReturned   metric.Int64Histogram
	preloadKeys    metric.Int64Histogram
	preloadQueries metric.Int64Counter
	preloadReused  metric.Int64Counter
	sortableShifts metric.Int64Counter
}

// NewQueryMetrics creates the query instruments on the global meter provider.
func NewQueryMetrics() (*QueryMetrics, error) {
	meter := otel.Meter(MeterName)

	queryDuration, err := meter.Float64Histogram(
		"dreamorm.query.duration",
		metric.WithDescription("Duration of SQL statements in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	queryCounter, err := meter.Int64Counter(
		"dreamorm.queries.total",
		metric.WithDescription("Total number of SQL statements executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"dreamorm.errors.total",
		metric.WithDescription("Total number of failed SQL statements"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	rowsReturned, err := meter.Int64Histogram(
		"dreamorm.query.rows",
		metric.WithDescription("Number of rows returned by a query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rows histogram: %w", err)
	}

	preloadKeys, err := meter.Int64Histogram(
		"dreamorm.preload.keys",
		metric.WithDescription("Number of owner keys included in a preload query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create preload keys histogram: %w", err)
	}

	preloadQueries, err := meter.Int64Counter(
		"dreamorm.preload.queries",
		metric.WithDescription("Number of queries issued while preloading"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create preload queries counter: %w", err)
	}

	preloadReused, err := meter.Int64Counter(
		"dreamorm.preload.reused",
		metric.WithDescription("Number of preload steps satisfied by already loaded associations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create preload reused counter: %w", err)
	}

	sortableShifts, err := meter.Int64Counter(
		"dreamorm.sortable.shifts",
		metric.WithDescription("Number of position shift statements issued"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sortable shifts counter: %w", err)
	}

	return &QueryMetrics{
		queryDuration:  queryDuration,
		queryCounter:   queryCounter,
		errorCounter:   errorCounter,
		rowsReturned:   rowsReturned,
		preloadKeys:    preloadKeys,
		preloadQueries: preloadQueries,
		preloadReused:  preloadReused,
		sortableShifts: sortableShifts,
	}, nil
}

// RecordQuery records one executed statement.
func (m *QueryMetrics) RecordQuery(ctx context.Context, duration time.Duration, model, op string, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("op", op),
		attribute.Bool("has_error", err != nil),
	)
	m.queryDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	m.queryCounter.Add(ctx, 1, attrs)
	if err != nil {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("op", op),
		))
	}
}

// RecordRows records how many rows a query produced.
func (m *QueryMetrics) RecordRows(ctx context.Context, count int64, model string) {
	if m == nil {
		return
	}
	m.rowsReturned.Record(ctx, count, metric.WithAttributes(attribute.String("model", model)))
}

// RecordPreload records one preload query and the size of its key list.
func (m *QueryMetrics) RecordPreload(ctx context.Context, keys int64, association string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("association", association))
	m.preloadKeys.Record(ctx, keys, attrs)
	m.preloadQueries.Add(ctx, 1, attrs)
}

// RecordPreloadReuse records a preload step that issued no query.
func (m *QueryMetrics) RecordPreloadReuse(ctx context.Context, association string) {
	if m == nil {
		return
	}
	m.preloadReused.Add(ctx, 1, metric.WithAttributes(attribute.String("association", association)))
}

// RecordShift records a sortable position shift.
func (m *QueryMetrics) RecordShift(ctx context.Context, model, direction string) {
	if m == nil {
		return
	}
	m.sortableShifts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("direction", direction),
	))
}

// InitMetrics initializes the query metrics and logs the outcome.
func InitMetrics(logger *slog.Logger) (*QueryMetrics, error) {
	metrics, err := NewQueryMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize query metrics: %w", err)
	}
	logger.Debug("query metrics initialized")
	return metrics, nil
}

type queryMetricsContextKey struct{}

// ContextWithQueryMetrics stores query metrics in the provided context.
func ContextWithQueryMetrics(ctx context.Context, metrics *QueryMetrics) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, queryMetricsContextKey{}, metrics)
}

// QueryMetricsFromContext retrieves query metrics from the context.
func QueryMetricsFromContext(ctx context.Context) *QueryMetrics {
	if ctx == nil {
		return nil
	}
	metrics, _ := ctx.Value(queryMetricsContextKey{}).(*QueryMetrics)
	return metrics
}
