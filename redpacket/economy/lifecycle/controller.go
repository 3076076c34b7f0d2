package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ellavondegurechaff/redpacket/redpacket/config"
	"github.com/ellavondegurechaff/redpacket/redpacket/database/models"
	"github.com/ellavondegurechaff/redpacket/redpacket/database/repositories"
	"github.com/ellavondegurechaff/redpacket/redpacket/economy/allocation"
	"github.com/ellavondegurechaff/redpacket/redpacket/economy/claim"
	"github.com/ellavondegurechaff/redpacket/redpacket/logger"
	"github.com/ellavondegurechaff/redpacket/redpacket/metrics"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/sync/singleflight"
)

var (
	ErrActivityNotFound  = errors.New("activity not found")
	ErrInvalidTransition = errors.New("invalid activity state transition")
	ErrInvalidSchedule   = errors.New("invalid activity schedule")
	ErrInvalidActivity   = errors.New("invalid activity parameters")
	// ErrNotActive is returned by Recover for activities that should not have
	// a claim pool.
	ErrNotActive = errors.New("activity is not active")
)

type Config struct {
	MinShareAmount  int64
	DefaultStrategy string
	SweepInterval   time.Duration
}

// CreateParams describes a new activity. Zero MinAmount and empty Strategy
// take the configured defaults.
type CreateParams struct {
	Name             string
	Description      string
	TotalAmount      int64
	TotalCount       int
	MinAmount        int64
	MaxAmount        int64
	Strategy         string
	StartTime        time.Time
	EndTime          time.Time
	CreatorID        string
	StartImmediately bool
}

// Controller owns activity state transitions and keeps the claim coordinator
// in step with them. Transitions and pool rebuilds are serialized so a pool is
// never loaded for an activity that has just been ended.
type Controller struct {
	activities  repositories.ActivityRepository
	shares      repositories.ShareRepository
	claims      repositories.ClaimRepository
	coordinator *claim.Coordinator
	metrics     metrics.Collector
	cfg         Config

	mu         deadlock.Mutex
	recoveries singleflight.Group
	onChange   []func(activityID int64)
	now        func() time.Time
}

func NewController(
	activities repositories.ActivityRepository,
	shares repositories.ShareRepository,
	claims repositories.ClaimRepository,
	coordinator *claim.Coordinator,
	collector metrics.Collector,
	cfg Config,
) *Controller {
	if cfg.MinShareAmount <= 0 {
		cfg.MinShareAmount = config.DefaultMinShareAmount
	}
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = config.DefaultStrategy
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = config.DefaultSweepInterval
	}
	if collector == nil {
		collector = metrics.NewNop()
	}

	return &Controller{
		activities:  activities,
		shares:      shares,
		claims:      claims,
		coordinator: coordinator,
		metrics:     collector,
		cfg:         cfg,
		now:         time.Now,
	}
}

// OnChange registers fn to be called after every status transition.
func (c *Controller) OnChange(fn func(activityID int64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

func (c *Controller) changed(activityID int64) {
	for _, fn := range c.onChange {
		fn(activityID)
	}
}

// CreateActivity allocates the shares and persists the activity with them in
// one write. With StartImmediately the activity is started straight away.
func (c *Controller) CreateActivity(ctx context.Context, params CreateParams) (*models.Activity, error) {
	now := c.now()
	if params.StartImmediately || params.StartTime.IsZero() {
		params.StartTime = now
	}
	if params.MinAmount == 0 {
		params.MinAmount = c.cfg.MinShareAmount
	}
	if strings.TrimSpace(params.Strategy) == "" {
		params.Strategy = c.cfg.DefaultStrategy
	}
	if err := c.validate(params, now); err != nil {
		return nil, err
	}

	strategy := allocation.Lookup(params.Strategy)
	amounts, err := allocation.Allocate(params.TotalAmount, params.TotalCount, params.MinAmount, strategy)
	if err != nil {
		return nil, err
	}

	activity := &models.Activity{
		Name:        strings.TrimSpace(params.Name),
		Description: params.Description,
		TotalAmount: params.TotalAmount,
		TotalCount:  params.TotalCount,
		Strategy:    strategy.Name(),
		MinAmount:   params.MinAmount,
		MaxAmount:   params.MaxAmount,
		StartTime:   params.StartTime,
		EndTime:     params.EndTime,
		Status:      models.ActivityStatusNotStarted,
		CreatorID:   params.CreatorID,
		CreatedAt:   now,
	}
	if _, err := c.activities.CreateWithShares(ctx, activity, amounts); err != nil {
		return nil, fmt.Errorf("failed to create activity: %w", err)
	}

	logger.LogSystem("Activity created",
		slog.Int64("activity_id", activity.ID),
		slog.String("name", activity.Name),
		slog.Int64("total_amount", activity.TotalAmount),
		slog.Int("total_count", activity.TotalCount),
		slog.String("strategy", activity.Strategy))

	if params.StartImmediately {
		if err := c.Start(ctx, activity.ID); err != nil {
			return activity, fmt.Errorf("activity %d created but failed to start: %w", activity.ID, err)
		}
		activity.Status = models.ActivityStatusActive
	}
	return activity, nil
}

func (c *Controller) validate(p CreateParams, now time.Time) error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidActivity)
	case utf8.RuneCountInString(strings.TrimSpace(p.Name)) > config.MaxNameLength:
		return fmt.Errorf("%w: name is longer than %d characters", ErrInvalidActivity, config.MaxNameLength)
	case utf8.RuneCountInString(p.Description) > config.MaxDescriptionLength:
		return fmt.Errorf("%w: description is longer than %d characters", ErrInvalidActivity, config.MaxDescriptionLength)
	case p.TotalCount > config.MaxShareCount:
		return fmt.Errorf("%w: total count %d exceeds the limit of %d", ErrInvalidActivity, p.TotalCount, config.MaxShareCount)
	case p.TotalAmount > config.MaxTotalAmount:
		return fmt.Errorf("%w: total amount %d exceeds the limit of %d", ErrInvalidActivity, p.TotalAmount, config.MaxTotalAmount)
	case p.CreatorID == "":
		return fmt.Errorf("%w: creator is required", ErrInvalidActivity)
	case p.MaxAmount != 0 && p.MaxAmount < p.MinAmount:
		return fmt.Errorf("%w: max amount %d is below min amount %d", ErrInvalidActivity, p.MaxAmount, p.MinAmount)
	case !p.EndTime.After(p.StartTime):
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidSchedule)
	case !p.EndTime.After(now):
		return fmt.Errorf("%w: end time is in the past", ErrInvalidSchedule)
	}
	return nil
}

func (c *Controller) get(ctx context.Context, activityID int64) (*models.Activity, error) {
	activity, err := c.activities.GetByID(ctx, activityID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %d", ErrActivityNotFound, activityID)
		}
		return nil, err
	}
	return activity, nil
}

// Start moves a NotStarted activity to Active, allocating shares if none exist
// yet, and loads its claim pool. Starting an Active activity only makes sure
// the pool is loaded.
func (c *Controller) Start(ctx context.Context, activityID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	activity, err := c.get(ctx, activityID)
	if err != nil {
		return err
	}

	switch activity.Status {
	case models.ActivityStatusActive:
		if c.coordinator.Loaded(activityID) {
			return nil
		}
		return c.loadPool(ctx, activityID, false)
	case models.ActivityStatusNotStarted:
	default:
		return fmt.Errorf("%w: cannot start %s activity %d", ErrInvalidTransition, activity.Status, activityID)
	}

	now := c.now()
	if !activity.EndTime.After(now) {
		return fmt.Errorf("%w: activity %d ended before it started", ErrInvalidSchedule, activityID)
	}
	if err := c.ensureShares(ctx, activity); err != nil {
		return err
	}

	ok, err := c.activities.TransitionStatus(ctx, activityID,
		[]models.ActivityStatus{models.ActivityStatusNotStarted}, models.ActivityStatusActive, now)
	if err != nil {
		return fmt.Errorf("failed to start activity %d: %w", activityID, err)
	}
	if !ok {
		return fmt.Errorf("%w: activity %d changed state concurrently", ErrInvalidTransition, activityID)
	}

	if err := c.loadPool(ctx, activityID, false); err != nil {
		return err
	}
	c.changed(activityID)

	logger.LogSystem("Activity started", slog.Int64("activity_id", activityID))
	return nil
}

func (c *Controller) ensureShares(ctx context.Context, activity *models.Activity) error {
	count, err := c.shares.CountByActivity(ctx, activity.ID)
	if err != nil {
		return fmt.Errorf("failed to count shares: %w", err)
	}
	if count > 0 {
		return nil
	}

	amounts, err := allocation.Allocate(activity.TotalAmount, activity.TotalCount, activity.MinAmount,
		allocation.Lookup(activity.Strategy))
	if err != nil {
		return err
	}
	_, err = c.shares.CreateBatch(ctx, activity.ID, amounts)
	switch {
	case repositories.IsConflict(err):
		// allocated by another instance between the count and the insert
		slog.Debug("Shares already allocated",
			slog.String("type", "system"),
			slog.Int64("activity_id", activity.ID))
		return nil
	case err != nil:
		return fmt.Errorf("failed to allocate shares: %w", err)
	}
	return nil
}

// End closes an Active activity and discards its claim pool.
func (c *Controller) End(ctx context.Context, activityID int64) error {
	return c.close(ctx, activityID, models.ActivityStatusActive, models.ActivityStatusEnded)
}

// Cancel closes an activity that has not started yet.
func (c *Controller) Cancel(ctx context.Context, activityID int64) error {
	return c.close(ctx, activityID, models.ActivityStatusNotStarted, models.ActivityStatusCancelled)
}

func (c *Controller) close(ctx context.Context, activityID int64, from, to models.ActivityStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok, err := c.activities.TransitionStatus(ctx, activityID, []models.ActivityStatus{from}, to, c.now())
	if err != nil {
		return fmt.Errorf("failed to move activity %d to %s: %w", activityID, to, err)
	}
	if !ok {
		activity, err := c.get(ctx, activityID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: cannot move %s activity %d to %s", ErrInvalidTransition, activity.Status, activityID, to)
	}

	c.coordinator.Drop(activityID)
	c.changed(activityID)

	logger.LogSystem("Activity closed",
		slog.Int64("activity_id", activityID),
		slog.String("status", to.String()))
	return nil
}

// Recover rebuilds the claim pool of an Active activity from the store when
// this process has none. Concurrent calls for the same activity share one rebuild.
func (c *Controller) Recover(ctx context.Context, activityID int64) error {
	_, err, _ := c.recoveries.Do(strconv.FormatInt(activityID, 10), func() (interface{}, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.coordinator.Loaded(activityID) {
			return nil, nil
		}
		activity, err := c.get(ctx, activityID)
		if err != nil {
			return nil, err
		}
		if !activity.Open(c.now()) {
			return nil, fmt.Errorf("%w: activity %d is %s", ErrNotActive, activityID, activity.Status)
		}
		return nil, c.loadPool(ctx, activityID, true)
	})
	return err
}

// RecoverAll loads the pool of every Active activity this process does not
// hold yet. It runs at startup after a crash.
func (c *Controller) RecoverAll(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	active, err := c.activities.ListByStatus(ctx, models.ActivityStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to list active activities: %w", err)
	}

	loaded := 0
	for _, activity := range active {
		if err := c.loadPool(ctx, activity.ID, true); err != nil {
			logger.LogError("Failed to recover claim pool", err, slog.Int64("activity_id", activity.ID))
			continue
		}
		loaded++
	}

	logger.LogSystem("Claim pools recovered",
		slog.Int("active", len(active)),
		slog.Int("loaded", loaded))
	return loaded, nil
}

// loadPool must be called with c.mu held.
func (c *Controller) loadPool(ctx context.Context, activityID int64, onlyIfAbsent bool) error {
	available, err := c.shares.ListByStatus(ctx, activityID, models.ShareStatusAvailable)
	if err != nil {
		c.metrics.RecordRecovery("failed")
		return fmt.Errorf("failed to list available shares: %w", err)
	}
	claimants, err := c.claims.ListClaimantIDs(ctx, activityID)
	if err != nil {
		c.metrics.RecordRecovery("failed")
		return fmt.Errorf("failed to list claimants: %w", err)
	}

	shareIDs := make([]int64, len(available))
	for i, share := range available {
		shareIDs[i] = share.ID
	}

	if onlyIfAbsent {
		c.coordinator.LoadIfAbsent(activityID, shareIDs, claimants)
	} else {
		c.coordinator.Load(activityID, shareIDs, claimants)
	}
	c.metrics.RecordRecovery("loaded")
	return nil
}
