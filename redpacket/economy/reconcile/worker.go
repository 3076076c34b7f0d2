package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	rand "math/rand/v2"
	"sync"
	"time"

	"github.com/ellavondegurechaff/redpacket/internal/domain/ledger"
	"github.com/ellavondegurechaff/redpacket/redpacket/config"
	"github.com/ellavondegurechaff/redpacket/redpacket/database/models"
	"github.com/ellavondegurechaff/redpacket/redpacket/database/repositories"
	"github.com/ellavondegurechaff/redpacket/redpacket/events"
	"github.com/ellavondegurechaff/redpacket/redpacket/logger"
	"github.com/ellavondegurechaff/redpacket/redpacket/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	ResultSettled = "settled"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

type Config struct {
	Interval      time.Duration
	BatchSize     int
	Concurrency   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	CreditTimeout time.Duration
	// Seed makes retry jitter deterministic when non-zero.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = config.DefaultReconcileInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = config.DefaultReconcileBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = config.DefaultReconcileConcurrency
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = config.DefaultBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = config.DefaultMaxBackoff
	}
	if c.CreditTimeout <= 0 {
		c.CreditTimeout = config.DefaultCreditTimeout
	}
	return c
}

// Summary counts what one sweep did.
type Summary struct {
	Settled int
	Failed  int
	Skipped int
}

// Worker credits the ledger for pending claim records and marks them settled.
// The ledger is keyed by transaction reference, so a record credited before a
// crash but not yet marked settled is simply credited again as a no-op.
type Worker struct {
	claims    repositories.ClaimRepository
	ledger    ledger.Ledger
	publisher events.Publisher
	metrics   metrics.Collector
	cfg       Config

	notify chan struct{}
	sweep  *semaphore.Weighted
	now    func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewWorker(claims repositories.ClaimRepository, l ledger.Ledger, publisher events.Publisher, collector metrics.Collector, cfg Config) *Worker {
	if publisher == nil {
		publisher = events.NewNop()
	}
	if collector == nil {
		collector = metrics.NewNop()
	}
	cfg = cfg.withDefaults()

	return &Worker{
		claims:    claims,
		ledger:    l,
		publisher: publisher,
		metrics:   collector,
		cfg:       cfg,
		notify:    make(chan struct{}, 1),
		sweep:     semaphore.NewWeighted(1),
		rng:       newRetryRNG(cfg.Seed),
		now:       time.Now,
	}
}

// Notify asks the running worker to sweep now. It never blocks.
func (w *Worker) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Start sweeps on every tick and on every Notify until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	logger.LogSystem("Reconciliation worker started",
		slog.Duration("interval", w.cfg.Interval),
		slog.Int("batch_size", w.cfg.BatchSize),
		slog.Int("concurrency", w.cfg.Concurrency))

	w.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.LogSystem("Reconciliation worker stopped")
			return
		case <-ticker.C:
		case <-w.notify:
		}
		w.runLogged(ctx)
	}
}

func (w *Worker) runLogged(ctx context.Context) {
	summary, err := w.RunOnce(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.LogError("Reconciliation sweep failed", err)
		return
	}
	if summary.Settled+summary.Failed > 0 {
		slog.Info("Reconciliation sweep finished",
			slog.String("type", "settle"),
			slog.Int("settled", summary.Settled),
			slog.Int("failed", summary.Failed),
			slog.Int("skipped", summary.Skipped))
	}
}

// RunOnce settles every record that is due, batch by batch in id order, so a
// record is attempted at most once per sweep even when its failure could not be
// recorded. Sweeps never overlap; a second caller waits for the first to finish.
func (w *Worker) RunOnce(ctx context.Context) (Summary, error) {
	if err := w.sweep.Acquire(ctx, 1); err != nil {
		return Summary{}, err
	}
	defer w.sweep.Release(1)

	var total Summary
	var cursor int64
	for {
		batch, err := w.claims.ListPending(ctx, w.now(), cursor, w.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to list pending claims: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}
		cursor = batch[len(batch)-1].ID

		summary, err := w.settleBatch(ctx, batch)
		total.Settled += summary.Settled
		total.Failed += summary.Failed
		total.Skipped += summary.Skipped
		if err != nil {
			return total, err
		}
		if len(batch) < w.cfg.BatchSize {
			return total, nil
		}
	}
}

func (w *Worker) settleBatch(ctx context.Context, batch []*models.ClaimRecord) (Summary, error) {
	results := make([]string, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for i, record := range batch {
		g.Go(func() error {
			result, err := w.settle(gctx, record)
			results[i] = result
			return err
		})
	}
	err := g.Wait()

	var summary Summary
	for _, result := range results {
		switch result {
		case ResultSettled:
			summary.Settled++
		case ResultFailed:
			summary.Failed++
		case ResultSkipped:
			summary.Skipped++
		}
	}
	return summary, err
}

// settle only returns an error when ctx is done; every other failure is
// recorded on the claim and retried on a later sweep.
func (w *Worker) settle(ctx context.Context, record *models.ClaimRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	creditCtx, cancel := context.WithTimeout(ctx, w.cfg.CreditTimeout)
	err := w.ledger.Credit(creditCtx, record.UserID, record.Amount, record.TransactionRef)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		w.recordFailure(ctx, record, err)
		return ResultFailed, nil
	}

	settledAt := w.now()
	ok, err := w.claims.MarkSettled(ctx, record.ID, settledAt)
	if err != nil {
		w.recordFailure(ctx, record, fmt.Errorf("ledger credited but marking settled failed: %w", err))
		return ResultFailed, nil
	}
	if !ok {
		w.metrics.RecordSettlement(ResultSkipped)
		return ResultSkipped, nil
	}

	w.metrics.RecordSettlement(ResultSettled)
	logger.LogSettlement(record.ID, record.TransactionRef, nil)

	if err := w.publisher.PublishSettlement(ctx, events.SettlementEvent{
		ActivityID:     record.ActivityID,
		UserID:         record.UserID,
		Amount:         record.Amount,
		TransactionRef: record.TransactionRef,
		SettledAt:      settledAt,
	}); err != nil {
		slog.Warn("Failed to publish settlement event",
			slog.String("type", "settle"),
			slog.String("transaction_ref", record.TransactionRef),
			slog.Any("error", err))
	}
	return ResultSettled, nil
}

func (w *Worker) recordFailure(ctx context.Context, record *models.ClaimRecord, cause error) {
	w.metrics.RecordSettlement(ResultFailed)
	logger.LogSettlement(record.ID, record.TransactionRef, cause)

	w.rngMu.Lock()
	delay := retryDelay(record.Attempts, w.cfg.BaseBackoff, w.cfg.MaxBackoff, w.rng)
	w.rngMu.Unlock()

	next := w.now().Add(delay)
	if err := w.claims.RecordAttemptFailure(ctx, record.ID, cause.Error(), next); err != nil {
		logger.LogError("Failed to record settlement failure", err,
			slog.Int64("record_id", record.ID))
	}
}
