package repositories

import (
	"context"
	"time"

	"github.com/ellavondegurechaff/redpacket/redpacket/database/models"
	"github.com/uptrace/bun"
)

type ShareRepository interface {
	// CreateBatch appends shares to an activity that was created without any.
	// It returns a ConflictError when the activity already has shares.
	CreateBatch(ctx context.Context, activityID int64, amounts []int64) ([]*models.Share, error)
	GetByID(ctx context.Context, id int64) (*models.Share, error)
	// ListByStatus returns shares ordered by share index.
	ListByStatus(ctx context.Context, activityID int64, status models.ShareStatus) ([]*models.Share, error)
	CountByActivity(ctx context.Context, activityID int64) (int, error)
	// CompareAndSetStatus updates the share only while its status still equals
	// expected. A lost race yields (false, nil), never an error.
	CompareAndSetStatus(ctx context.Context, shareID int64, expected, next models.ShareStatus, claimantID string, at time.Time) (bool, error)
}

type shareRepository struct {
	*BaseRepository
}

func NewShareRepository(db *bun.DB) ShareRepository {
	return &shareRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *shareRepository) CreateBatch(ctx context.Context, activityID int64, amounts []int64) ([]*models.Share, error) {
	shares, err := insertShares(ctx, r.db, activityID, 1, amounts, time.Now())
	if isUniqueViolation(err) {
		return nil, &ConflictError{Entity: "share", Field: "activity_id", Value: activityID}
	}
	if err != nil {
		return nil, r.HandleErrorWithID("create_batch", "share", activityID, err)
	}
	return shares, nil
}

func (r *shareRepository) GetByID(ctx context.Context, id int64) (*models.Share, error) {
	share := new(models.Share)
	if err := r.db.NewSelect().Model(share).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, r.HandleErrorWithID("get", "share", id, err)
	}
	return share, nil
}

func (r *shareRepository) ListByStatus(ctx context.Context, activityID int64, status models.ShareStatus) ([]*models.Share, error) {
	var shares []*models.Share
	err := r.db.NewSelect().
		Model(&shares).
		Where("activity_id = ?", activityID).
		Where("status = ?", status).
		OrderExpr("share_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, r.HandleErrorWithID("list_by_status", "share", activityID, err)
	}
	return shares, nil
}

func (r *shareRepository) CountByActivity(ctx context.Context, activityID int64) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.Share)(nil)).
		Where("activity_id = ?", activityID).
		Count(ctx)
	if err != nil {
		return 0, r.HandleErrorWithID("count", "share", activityID, err)
	}
	return count, nil
}

func (r *shareRepository) CompareAndSetStatus(ctx context.Context, shareID int64, expected, next models.ShareStatus, claimantID string, at time.Time) (bool, error) {
	ok, err := compareAndSetShare(ctx, r.db, shareID, expected, next, claimantID, at)
	if err != nil {
		return false, r.HandleErrorWithID("compare_and_set", "share", shareID, err)
	}
	return ok, nil
}

func compareAndSetShare(ctx context.Context, db bun.IDB, shareID int64, expected, next models.ShareStatus, claimantID string, at time.Time) (bool, error) {
	result, err := db.NewUpdate().
		Model((*models.Share)(nil)).
		Set("status = ?", next).
		Set("claimant_id = ?", claimantID).
		Set("claimed_at = ?", at).
		Where("id = ?", shareID).
		Where("status = ?", expected).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}
