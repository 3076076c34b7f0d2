package database

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
)

const defaultSlowQuery = 200 * time.Millisecond

// QueryHook logs failed and slow bun queries. Everything else is logged at
// debug level.
type QueryHook struct {
	SlowThreshold time.Duration
	logger        *slog.Logger
}

var _ bun.QueryHook = (*QueryHook)(nil)

func NewQueryHook(slow time.Duration) *QueryHook {
	if slow <= 0 {
		slow = defaultSlowQuery
	}
	return &QueryHook{SlowThreshold: slow}
}

func (h *QueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	log := h.logger
	if log == nil {
		log = slog.Default()
	}
	took := time.Since(event.StartTime)
	attrs := []any{
		slog.String("type", "db"),
		slog.String("operation", event.Operation()),
		slog.String("query", event.Query),
		slog.Duration("took", took),
	}

	switch {
	case event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows):
		log.ErrorContext(ctx, "Query failed", append(attrs, slog.Any("error", event.Err))...)
	case took >= h.SlowThreshold:
		log.WarnContext(ctx, "Slow query", attrs...)
	default:
		log.DebugContext(ctx, "Query executed", attrs...)
	}
}
