package logger

import (
	"log/slog"
	"time"
)

// LogGrab logs the outcome of one grab attempt
func LogGrab(activityID int64, userID string, outcome string, duration time.Duration) {
	slog.Info("Grab processed",
		slog.String("type", "grab"),
		slog.Int64("activity_id", activityID),
		slog.String("user_id", userID),
		slog.String("outcome", outcome),
		slog.Duration("took", duration),
	)
}

// LogSettlement logs a ledger credit attempt
func LogSettlement(recordID int64, transactionRef string, err error) {
	attrs := []any{
		slog.String("type", "settle"),
		slog.Int64("record_id", recordID),
		slog.String("transaction_ref", transactionRef),
	}

	if err != nil {
		slog.Warn("Settlement failed", append(attrs, slog.Any("error", err))...)
	} else {
		slog.Info("Settlement applied", attrs...)
	}
}

// LogQuery logs database operations
func LogQuery(query string, duration time.Duration, err error) {
	attrs := []any{
		slog.String("type", "db"),
		slog.Duration("took", duration),
	}

	if err != nil {
		slog.Error("Query failed", append(attrs,
			slog.String("query", query),
			slog.Any("error", err),
		)...)
	} else {
		slog.Debug("Query executed", append(attrs,
			slog.String("query", query),
		)...)
	}
}

// LogSystem logs system events
func LogSystem(msg string, attrs ...any) {
	baseAttrs := []any{slog.String("type", "sys")}
	slog.Info(msg, append(baseAttrs, attrs...)...)
}

// LogError logs error events
func LogError(msg string, err error, attrs ...any) {
	baseAttrs := []any{
		slog.String("type", "error"),
		slog.Any("error", err),
	}
	slog.Error(msg, append(baseAttrs, attrs...)...)
}
