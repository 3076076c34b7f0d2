package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ellavondegurechaff/redpacket/redpacket/logger"
)

// SweepResult counts the transitions one sweep applied.
type SweepResult struct {
	Started int
	Ended   int
}

// Sweep starts NotStarted activities whose start time has passed and ends
// Active activities whose end time has passed. Failures on one activity are
// logged and do not stop the others.
func (c *Controller) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := c.now()

	due, err := c.activities.ListDueToStart(ctx, now)
	if err != nil {
		return result, err
	}
	for _, id := range due {
		if err := c.Start(ctx, id); err != nil {
			if !errors.Is(err, ErrInvalidTransition) {
				logger.LogError("Scheduled start failed", err, slog.Int64("activity_id", id))
			}
			continue
		}
		result.Started++
	}

	expired, err := c.activities.ListDueToEnd(ctx, now)
	if err != nil {
		return result, err
	}
	for _, id := range expired {
		if err := c.End(ctx, id); err != nil {
			if !errors.Is(err, ErrInvalidTransition) {
				logger.LogError("Scheduled end failed", err, slog.Int64("activity_id", id))
			}
			continue
		}
		result.Ended++
	}

	if result.Started+result.Ended > 0 {
		logger.LogSystem("Lifecycle sweep applied transitions",
			slog.Int("started", result.Started),
			slog.Int("ended", result.Ended))
	}
	return result, nil
}

// Run recovers every active pool, then sweeps on the configured interval until
// ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	if _, err := c.RecoverAll(ctx); err != nil {
		logger.LogError("Startup recovery failed", err)
	}

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		if _, err := c.Sweep(ctx); err != nil && ctx.Err() == nil {
			logger.LogError("Lifecycle sweep failed", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
