package query

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func startQuerySpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("dreamorm/query")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func finishQuerySpan(span trace.Span, err error, outcome string) {
	if span == nil {
		return
	}
	if outcome == "" {
		if err != nil {
			outcome = "error"
		} else {
			outcome = "success"
		}
	}
	span.SetAttributes(attribute.String("dreamorm.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// observe logs and records one executed statement.
func (e *Env) observe(ctx context.Context, op, model, sqlText string, started time.Time, rows int, err error) {
	duration := time.Since(started)
	e.Metrics.RecordQuery(ctx, duration, model, op, err)
	if err != nil {
		e.Logger.Error("statement failed",
			slog.String("op", op),
			slog.String("model", model),
			slog.String("sql", sqlText),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return
	}
	if rows >= 0 {
		e.Metrics.RecordRows(ctx, int64(rows), model)
	}
	e.Logger.Debug("statement executed",
		slog.String("op", op),
		slog.String("model", model),
		slog.String("sql", sqlText),
		slog.Duration("duration", duration),
		slog.Int("rows", rows),
	)
}
