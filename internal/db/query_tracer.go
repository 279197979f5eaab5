package db

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5"

	"github.com/gitshopapp/grocer/internal/logging"
)

const slowQueryThreshold = 250 * time.Millisecond

type queryTraceKey struct{}

type queryTrace struct {
	span      *sentry.Span
	statement string
	started   time.Time
}

// queryTracer opens a Sentry span per statement when the caller is traced and
// logs statements slower than slowQueryThreshold either way.
type queryTracer struct {
	logger *slog.Logger
	now    func() time.Time
}

func newQueryTracer(logger *slog.Logger) *queryTracer {
	return &queryTracer{logger: logger, now: time.Now}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	trace := &queryTrace{statement: compactStatement(data.SQL), started: t.now()}
	if sentry.SpanFromContext(ctx) != nil {
		trace.span = sentry.StartSpan(ctx, "db.sql.query",
			sentry.WithDescription(trace.statement),
			sentry.WithSpanOrigin(sentry.SpanOriginManual),
		)
		trace.span.SetData("db.system", "postgresql")
		if verb, _, _ := strings.Cut(trace.statement, " "); verb != "" {
			trace.span.SetData("db.operation", strings.ToUpper(verb))
		}
		ctx = trace.span.Context()
	}
	return context.WithValue(ctx, queryTraceKey{}, trace)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	trace, _ := ctx.Value(queryTraceKey{}).(*queryTrace)
	if trace == nil {
		return
	}

	if elapsed := t.now().Sub(trace.started); elapsed >= slowQueryThreshold {
		logging.FromContext(ctx, t.logger).Warn("slow audit log query",
			"statement", trace.statement,
			"duration_ms", elapsed.Milliseconds(),
			"error", data.Err,
		)
	}

	if trace.span == nil {
		return
	}
	trace.span.Status = sentry.SpanStatusOK
	if data.Err != nil {
		trace.span.Status = sentry.SpanStatusInternalError
		trace.span.SetData("db.error", data.Err.Error())
	}
	if rows := data.CommandTag.RowsAffected(); rows >= 0 {
		trace.span.SetData("db.rows_affected", rows)
	}
	trace.span.Finish()
}

// compactStatement collapses whitespace so multi-line SQL reads as one span
// description, capped at 512 bytes.
func compactStatement(sql string) string {
	compact := strings.Join(strings.Fields(sql), " ")
	if compact == "" {
		return "sql.query"
	}
	if len(compact) > 512 {
		return compact[:512]
	}
	return compact
}
