package grab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ellavondegurechaff/redpacket/redpacket/config"
	"github.com/ellavondegurechaff/redpacket/redpacket/database/models"
	"github.com/ellavondegurechaff/redpacket/redpacket/database/repositories"
	"github.com/ellavondegurechaff/redpacket/redpacket/economy/claim"
	"github.com/ellavondegurechaff/redpacket/redpacket/economy/lifecycle"
	"github.com/ellavondegurechaff/redpacket/redpacket/economy/utils"
	"github.com/ellavondegurechaff/redpacket/redpacket/events"
	"github.com/ellavondegurechaff/redpacket/redpacket/logger"
	"github.com/ellavondegurechaff/redpacket/redpacket/metrics"
	lru "github.com/hashicorp/golang-lru"
)

const publishTimeout = 5 * time.Second

// Recoverer rebuilds a missing claim pool from the store.
type Recoverer interface {
	Recover(ctx context.Context, activityID int64) error
}

// Notifier is poked after every successful claim so settlement starts early.
type Notifier interface {
	Notify()
}

// Manager runs grabs and answers read queries about activities and claims.
type Manager struct {
	activities  repositories.ActivityRepository
	claims      repositories.ClaimRepository
	coordinator *claim.Coordinator
	recoverer   Recoverer
	notifier    Notifier
	publisher   events.Publisher
	metrics     metrics.Collector

	cache *lru.Cache
	now   func() time.Time
}

type Deps struct {
	Activities  repositories.ActivityRepository
	Claims      repositories.ClaimRepository
	Coordinator *claim.Coordinator
	Recoverer   Recoverer
	Notifier    Notifier
	Publisher   events.Publisher
	Metrics     metrics.Collector
	CacheSize   int
}

func NewManager(deps Deps) (*Manager, error) {
	if deps.CacheSize <= 0 {
		deps.CacheSize = config.DefaultActivityCacheSize
	}
	cache, err := lru.New(deps.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create activity cache: %w", err)
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}

	return &Manager{
		activities:  deps.Activities,
		claims:      deps.Claims,
		coordinator: deps.Coordinator,
		recoverer:   deps.Recoverer,
		notifier:    deps.Notifier,
		publisher:   deps.Publisher,
		metrics:     deps.Metrics,
		cache:       cache,
		now:         time.Now,
	}, nil
}

// Invalidate drops the cached snapshot of an activity.
func (m *Manager) Invalidate(activityID int64) {
	m.cache.Remove(activityID)
}

func (m *Manager) activity(ctx context.Context, activityID int64, fresh bool) (*models.Activity, error) {
	if !fresh {
		if cached, ok := m.cache.Get(activityID); ok {
			return cached.(*models.Activity), nil
		}
	}

	activity, err := m.activities.GetByID(ctx, activityID)
	if err != nil {
		if repositories.IsNotFound(err) {
			m.cache.Remove(activityID)
			return nil, nil
		}
		return nil, err
	}
	m.cache.Add(activityID, activity)
	return activity, nil
}

// admission maps an activity's state at now to the status a grab would be
// refused with, or StatusSuccess when claims are open.
func admission(activity *models.Activity, now time.Time) Status {
	if activity == nil {
		return StatusNotFound
	}
	switch activity.Status {
	case models.ActivityStatusNotStarted:
		return StatusNotStarted
	case models.ActivityStatusCancelled:
		return StatusCancelled
	case models.ActivityStatusEnded:
		return StatusEnded
	}
	if now.Before(activity.StartTime) {
		return StatusNotStarted
	}
	if !activity.Open(now) {
		return StatusEnded
	}
	return StatusSuccess
}

// Grab tries to hand one share of the activity to userID. User-visible
// refusals are reported in Result.Status; the error is reserved for
// infrastructure failures, after which no claim exists.
func (m *Manager) Grab(ctx context.Context, activityID int64, userID string) (*Result, error) {
	start := m.now()
	res, err := m.grab(ctx, activityID, userID)

	took := time.Since(start)
	if err != nil {
		m.metrics.RecordGrab("error", took.Seconds())
		logger.LogError("Grab failed", err,
			slog.Int64("activity_id", activityID),
			slog.String("user_id", userID))
		return nil, err
	}
	m.metrics.RecordGrab(res.Status.String(), took.Seconds())
	logger.LogGrab(activityID, userID, res.Status.String(), took)
	return res, nil
}

func (m *Manager) grab(ctx context.Context, activityID int64, userID string) (*Result, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	activity, err := m.activity(ctx, activityID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load activity: %w", err)
	}
	if st := admission(activity, m.now()); st != StatusSuccess {
		return m.refuse(activityID, st, activity), nil
	}

	outcome, err := m.tryClaim(ctx, activityID, userID)
	if err != nil {
		var refused *refusal
		if errors.As(err, &refused) {
			return m.refuse(activityID, refused.status, refused.activity), nil
		}
		return nil, err
	}

	switch outcome.Outcome {
	case claim.OutcomeAlreadyClaimed:
		return m.refuse(activityID, StatusAlreadyClaimed, activity), nil
	case claim.OutcomeNoneLeft:
		return m.refuse(activityID, StatusNoneLeft, activity), nil
	}

	return m.commit(ctx, activityID, userID, outcome)
}

type refusal struct {
	status   Status
	activity *models.Activity
}

func (r *refusal) Error() string { return "grab refused: " + r.status.String() }

// tryClaim asks the coordinator for a share, rebuilding the pool from the
// store once if this process does not hold it.
func (m *Manager) tryClaim(ctx context.Context, activityID int64, userID string) (claim.Result, error) {
	res, err := m.coordinator.TryClaim(ctx, activityID, userID)
	if !errors.Is(err, claim.ErrPoolNotLoaded) && !errors.Is(err, claim.ErrPoolClosed) {
		return res, err
	}

	activity, err := m.activity(ctx, activityID, true)
	if err != nil {
		return claim.Result{}, fmt.Errorf("failed to reload activity: %w", err)
	}
	if st := admission(activity, m.now()); st != StatusSuccess {
		return claim.Result{}, &refusal{status: st, activity: activity}
	}

	if err := m.recoverer.Recover(ctx, activityID); err != nil {
		if errors.Is(err, lifecycle.ErrNotActive) || errors.Is(err, lifecycle.ErrActivityNotFound) {
			activity, _ := m.activity(ctx, activityID, true)
			st := admission(activity, m.now())
			if st == StatusSuccess {
				st = StatusEnded
			}
			return claim.Result{}, &refusal{status: st, activity: activity}
		}
		return claim.Result{}, fmt.Errorf("failed to recover claim pool: %w", err)
	}

	res, err = m.coordinator.TryClaim(ctx, activityID, userID)
	if errors.Is(err, claim.ErrPoolNotLoaded) || errors.Is(err, claim.ErrPoolClosed) {
		// dropped again between recovery and retry, so the activity just closed
		activity, _ := m.activity(ctx, activityID, true)
		st := admission(activity, m.now())
		if st == StatusSuccess {
			return claim.Result{}, fmt.Errorf("claim pool for activity %d unavailable: %w", activityID, err)
		}
		return claim.Result{}, &refusal{status: st, activity: activity}
	}
	return res, err
}

// commit durably records the share the coordinator handed out. Every failure
// path leaves the coordinator consistent with the store.
func (m *Manager) commit(ctx context.Context, activityID int64, userID string, claimed claim.Result) (*Result, error) {
	shareID := claimed.ShareID
	params := repositories.ClaimParams{
		ActivityID:     activityID,
		ShareID:        shareID,
		UserID:         userID,
		TransactionRef: utils.NewTransactionRef(),
		ClaimedAt:      m.now(),
	}

	record, activity, err := m.claims.ClaimShare(ctx, params)
	switch {
	case err == nil:
	case errors.Is(err, repositories.ErrShareUnavailable), errors.Is(err, repositories.ErrAggregateOverflow):
		// The pool disagrees with the store. Drop it so the next grab rebuilds
		// it from the authoritative state.
		m.metrics.IncrementInconsistency()
		m.coordinator.Drop(activityID)
		logger.LogError("Claim pool inconsistent with store", err,
			slog.Int64("activity_id", activityID),
			slog.Int64("share_id", shareID),
			slog.String("user_id", userID))
		return m.refuse(activityID, StatusNoneLeft, nil), nil
	case errors.Is(err, repositories.ErrClaimExists):
		// The share is still free; only the user is a duplicate.
		m.rollback(activityID, "", claimed)
		return m.refuse(activityID, StatusAlreadyClaimed, nil), nil
	case errors.Is(err, repositories.ErrActivityClosed):
		m.rollback(activityID, userID, claimed)
		m.Invalidate(activityID)
		current, _ := m.activity(ctx, activityID, true)
		st := admission(current, m.now())
		if st == StatusSuccess {
			st = StatusEnded
		}
		return m.refuse(activityID, st, current), nil
	default:
		m.rollback(activityID, userID, claimed)
		return nil, fmt.Errorf("failed to record claim: %w", err)
	}

	m.cache.Add(activityID, activity)
	if m.notifier != nil {
		m.notifier.Notify()
	}
	m.publishClaim(ctx, record)

	return &Result{
		Status:          StatusSuccess,
		ActivityID:      activityID,
		Amount:          record.Amount,
		TransactionRef:  record.TransactionRef,
		ClaimedAt:       record.ClaimedAt,
		ShareIndex:      record.ShareIndex,
		RemainingCount:  activity.RemainingCount(),
		RemainingAmount: activity.RemainingAmount(),
	}, nil
}

func (m *Manager) rollback(activityID int64, userID string, claimed claim.Result) {
	// the caller's ctx may already be done; the pool update is in-memory
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := m.coordinator.Rollback(ctx, activityID, userID, claimed); err != nil &&
		!errors.Is(err, claim.ErrPoolNotLoaded) && !errors.Is(err, claim.ErrPoolClosed) {
		logger.LogError("Failed to roll back claim pool", err,
			slog.Int64("activity_id", activityID),
			slog.Int64("share_id", claimed.ShareID))
	}
}

func (m *Manager) publishClaim(ctx context.Context, record *models.ClaimRecord) {
	event := events.ClaimEvent{
		ActivityID:     record.ActivityID,
		UserID:         record.UserID,
		ShareIndex:     record.ShareIndex,
		Amount:         record.Amount,
		TransactionRef: record.TransactionRef,
		ClaimedAt:      record.ClaimedAt,
	}
	go func() {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := m.publisher.PublishClaim(pubCtx, event); err != nil {
			slog.Warn("Failed to publish claim event",
				slog.String("type", "grab"),
				slog.String("transaction_ref", event.TransactionRef),
				slog.Any("error", err))
		}
	}()
}

func (m *Manager) refuse(activityID int64, st Status, activity *models.Activity) *Result {
	res := &Result{Status: st, ActivityID: activityID}
	if activity != nil {
		res.RemainingCount = activity.RemainingCount()
		res.RemainingAmount = activity.RemainingAmount()
	}
	return res
}
