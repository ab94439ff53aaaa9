package database

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utafrali/catalogsearch/pkg/database"

type queryKey struct{}

type queryState struct {
	start     time.Time
	operation string
	sql       string
	span      trace.Span
}

// QueryTracer is a pgx.QueryTracer that opens a client span per statement,
// records its duration and logs statements slower than the threshold.
// A zero threshold or nil logger disables slow query logging.
type QueryTracer struct {
	threshold time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer
}

var _ pgx.QueryTracer = (*QueryTracer)(nil)

// NewQueryTracer creates a query tracer.
func NewQueryTracer(slowThreshold time.Duration, logger *slog.Logger) *QueryTracer {
	return &QueryTracer{
		threshold: slowThreshold,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

// TraceQueryStart implements pgx.QueryTracer.
func (t *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	op := operation(data.SQL)
	ctx, span := t.tracer.Start(ctx, "db."+strings.ToLower(op),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", op),
			attribute.String("db.statement", data.SQL),
		),
	)
	return context.WithValue(ctx, queryKey{}, &queryState{
		start:     time.Now(),
		operation: op,
		sql:       data.SQL,
		span:      span,
	})
}

// TraceQueryEnd implements pgx.QueryTracer.
func (t *QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	q, ok := ctx.Value(queryKey{}).(*queryState)
	if !ok {
		return
	}
	elapsed := time.Since(q.start)

	// No rows is an answer, not a failure.
	failed := data.Err != nil && !errors.Is(data.Err, pgx.ErrNoRows)
	if failed {
		q.span.RecordError(data.Err)
		q.span.SetStatus(codes.Error, data.Err.Error())
	} else {
		q.span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	}
	q.span.End()

	status := "ok"
	if failed {
		status = "error"
	}
	queryDuration.WithLabelValues(q.operation, status).Observe(elapsed.Seconds())

	if t.threshold <= 0 || t.logger == nil || elapsed < t.threshold {
		return
	}
	attrs := []any{
		slog.String("operation", q.operation),
		slog.String("statement", q.sql),
		slog.Duration("duration", elapsed),
	}
	if failed {
		attrs = append(attrs, slog.String("error", data.Err.Error()))
	}
	t.logger.WarnContext(ctx, "slow query detected", attrs...)
}

// operation returns the upper-cased leading keyword of a statement.
func operation(sql string) string {
	sql = strings.TrimSpace(sql)
	if i := strings.IndexFunc(sql, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == '('
	}); i >= 0 {
		sql = sql[:i]
	}
	if sql == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(sql)
}
