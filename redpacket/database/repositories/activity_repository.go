package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/ellavondegurechaff/redpacket/redpacket/database/models"
	"github.com/uptrace/bun"
)

// ActivityFilter narrows List results. Zero values match everything.
type ActivityFilter struct {
	Status *models.ActivityStatus
	Name   string
}

type ActivityRepository interface {
	// CreateWithShares persists the activity and one available share per
	// amount in a single transaction. IDs are filled in on success.
	CreateWithShares(ctx context.Context, activity *models.Activity, amounts []int64) ([]*models.Share, error)
	GetByID(ctx context.Context, id int64) (*models.Activity, error)
	List(ctx context.Context, filter ActivityFilter, page Page) ([]*models.Activity, int, error)
	ListByStatus(ctx context.Context, status models.ActivityStatus) ([]*models.Activity, error)
	ListDueToStart(ctx context.Context, now time.Time) ([]int64, error)
	ListDueToEnd(ctx context.Context, now time.Time) ([]int64, error)
	// TransitionStatus moves the activity from one of the allowed states to
	// next. It reports false when the current state was not in from.
	TransitionStatus(ctx context.Context, id int64, from []models.ActivityStatus, next models.ActivityStatus, at time.Time) (bool, error)
	// RebuildAggregates recomputes grabbed count/amount from claim records.
	RebuildAggregates(ctx context.Context, id int64) (*models.Activity, error)
}

type activityRepository struct {
	*BaseRepository
}

func NewActivityRepository(db *bun.DB) ActivityRepository {
	return &activityRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *activityRepository) CreateWithShares(ctx context.Context, activity *models.Activity, amounts []int64) ([]*models.Share, error) {
	var shares []*models.Share
	err := r.Transaction(ctx, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now()
		if activity.CreatedAt.IsZero() {
			activity.CreatedAt = now
		}
		activity.UpdatedAt = activity.CreatedAt

		if _, err := tx.NewInsert().Model(activity).Returning("id").Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert activity: %w", err)
		}

		var err error
		shares, err = insertShares(ctx, tx, activity.ID, 1, amounts, activity.CreatedAt)
		return err
	})
	if err != nil {
		return nil, r.HandleError("create", "activity", err)
	}
	return shares, nil
}

func insertShares(ctx context.Context, db bun.IDB, activityID int64, firstIndex int, amounts []int64, at time.Time) ([]*models.Share, error) {
	if len(amounts) == 0 {
		return nil, nil
	}

	shares := make([]*models.Share, len(amounts))
	for i, amount := range amounts {
		shares[i] = &models.Share{
			ActivityID: activityID,
			ShareIndex: firstIndex + i,
			Amount:     amount,
			Status:     models.ShareStatusAvailable,
			CreatedAt:  at,
		}
	}

	if _, err := db.NewInsert().Model(&shares).Returning("id").Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to insert shares: %w", err)
	}
	return shares, nil
}

func (r *activityRepository) GetByID(ctx context.Context, id int64) (*models.Activity, error) {
	activity := new(models.Activity)
	err := r.db.NewSelect().
		Model(activity).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, r.HandleErrorWithID("get", "activity", id, err)
	}
	return activity, nil
}

func (r *activityRepository) List(ctx context.Context, filter ActivityFilter, page Page) ([]*models.Activity, int, error) {
	page = page.Normalize()

	var activities []*models.Activity
	query := r.db.NewSelect().Model(&activities)
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Name != "" {
		query = query.Where("name ILIKE ?", "%"+filter.Name+"%")
	}

	total, err := query.
		OrderExpr("created_at DESC, id DESC").
		Offset(page.Offset).
		Limit(page.Limit).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, r.HandleError("list", "activity", err)
	}
	return activities, total, nil
}

func (r *activityRepository) ListByStatus(ctx context.Context, status models.ActivityStatus) ([]*models.Activity, error) {
	var activities []*models.Activity
	err := r.db.NewSelect().
		Model(&activities).
		Where("status = ?", status).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, r.HandleError("list_by_status", "activity", err)
	}
	return activities, nil
}

func (r *activityRepository) ListDueToStart(ctx context.Context, now time.Time) ([]int64, error) {
	var ids []int64
	err := r.db.NewSelect().
		Model((*models.Activity)(nil)).
		Column("id").
		Where("status = ?", models.ActivityStatusNotStarted).
		Where("start_time <= ?", now).
		Where("end_time > ?", now).
		OrderExpr("start_time ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, r.HandleError("list_due_to_start", "activity", err)
	}
	return ids, nil
}

func (r *activityRepository) ListDueToEnd(ctx context.Context, now time.Time) ([]int64, error) {
	var ids []int64
	err := r.db.NewSelect().
		Model((*models.Activity)(nil)).
		Column("id").
		Where("status = ?", models.ActivityStatusActive).
		Where("end_time <= ?", now).
		OrderExpr("end_time ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, r.HandleError("list_due_to_end", "activity", err)
	}
	return ids, nil
}

func (r *activityRepository) TransitionStatus(ctx context.Context, id int64, from []models.ActivityStatus, next models.ActivityStatus, at time.Time) (bool, error) {
	result, err := r.db.NewUpdate().
		Model((*models.Activity)(nil)).
		Set("status = ?", next).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(from)).
		Exec(ctx)
	if err != nil {
		return false, r.HandleErrorWithID("transition", "activity", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, r.HandleErrorWithID("transition", "activity", id, err)
	}
	return rowsAffected == 1, nil
}

func (r *activityRepository) RebuildAggregates(ctx context.Context, id int64) (*models.Activity, error) {
	activity := new(models.Activity)
	err := r.Transaction(ctx, func(ctx context.Context, tx bun.Tx) error {
		var totals struct {
			Count  int   `bun:"count"`
			Amount int64 `bun:"amount"`
		}
		err := tx.NewSelect().
			Model((*models.ClaimRecord)(nil)).
			ColumnExpr("COUNT(*) AS count").
			ColumnExpr("COALESCE(SUM(amount), 0) AS amount").
			Where("activity_id = ?", id).
			Scan(ctx, &totals)
		if err != nil {
			return err
		}

		_, err = tx.NewUpdate().
			Model(activity).
			Set("grabbed_count = ?", totals.Count).
			Set("grabbed_amount = ?", totals.Amount).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", id).
			Returning("*").
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, r.HandleErrorWithID("rebuild_aggregates", "activity", id, err)
	}
	if activity.ID == 0 {
		return nil, &NotFoundError{Entity: "activity", ID: id}
	}
	return activity, nil
}
