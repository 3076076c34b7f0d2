package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ellavondegurechaff/redpacket/redpacket/database/models"
	"github.com/uptrace/bun"
)

// ClaimParams describes one share being durably handed to a user.
type ClaimParams struct {
	ActivityID     int64
	ShareID        int64
	UserID         string
	TransactionRef string
	ClaimedAt      time.Time
}

type ClaimRepository interface {
	// ClaimShare is the commit point of a grab. In one transaction it flips the
	// share from available to claimed, inserts a pending claim record and bumps
	// the activity aggregates, returning the record and the updated activity.
	// It returns ErrShareUnavailable when the share was already claimed,
	// ErrClaimExists when the user already holds a claim and ErrActivityClosed
	// when the activity is no longer Active.
	ClaimShare(ctx context.Context, params ClaimParams) (*models.ClaimRecord, *models.Activity, error)
	GetByTransactionRef(ctx context.Context, ref string) (*models.ClaimRecord, error)
	GetByActivityAndUser(ctx context.Context, activityID int64, userID string) (*models.ClaimRecord, error)
	// ListByUser returns the user's claims, newest first. activityID 0 matches all.
	ListByUser(ctx context.Context, userID string, activityID int64, page Page) ([]*models.ClaimRecord, int, error)
	ListByActivity(ctx context.Context, activityID int64, page Page) ([]*models.ClaimRecord, int, error)
	ListClaimantIDs(ctx context.Context, activityID int64) ([]string, error)
	// ListPending returns pending records whose next attempt is due, in id
	// order starting after afterID.
	ListPending(ctx context.Context, now time.Time, afterID int64, limit int) ([]*models.ClaimRecord, error)
	MarkSettled(ctx context.Context, id int64, at time.Time) (bool, error)
	RecordAttemptFailure(ctx context.Context, id int64, reason string, nextAttemptAt time.Time) error
	ActivityStats(ctx context.Context, activityID int64) (*models.ClaimStats, error)
	UserStats(ctx context.Context, userID string) (*models.ClaimStats, error)
}

type claimRepository struct {
	*BaseRepository
}

func NewClaimRepository(db *bun.DB) ClaimRepository {
	return &claimRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *claimRepository) ClaimShare(ctx context.Context, p ClaimParams) (*models.ClaimRecord, *models.Activity, error) {
	var record *models.ClaimRecord
	activity := new(models.Activity)
	err := r.Transaction(ctx, func(ctx context.Context, tx bun.Tx) error {
		ok, err := compareAndSetShare(ctx, tx, p.ShareID, models.ShareStatusAvailable, models.ShareStatusClaimed, p.UserID, p.ClaimedAt)
		if err != nil {
			return fmt.Errorf("failed to update share: %w", err)
		}
		if !ok {
			return ErrShareUnavailable
		}

		share := new(models.Share)
		if err := tx.NewSelect().Model(share).Where("id = ?", p.ShareID).Scan(ctx); err != nil {
			return fmt.Errorf("failed to load share: %w", err)
		}
		if share.ActivityID != p.ActivityID {
			return fmt.Errorf("%w: share %d belongs to activity %d, not %d", ErrShareMismatch, share.ID, share.ActivityID, p.ActivityID)
		}

		record = &models.ClaimRecord{
			ActivityID:     p.ActivityID,
			ShareID:        share.ID,
			ShareIndex:     share.ShareIndex,
			UserID:         p.UserID,
			Amount:         share.Amount,
			TransactionRef: p.TransactionRef,
			ClaimedAt:      p.ClaimedAt,
			Settlement:     models.SettlementPending,
			NextAttemptAt:  p.ClaimedAt,
			CreatedAt:      p.ClaimedAt,
		}
		if _, err := tx.NewInsert().Model(record).Returning("id").Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return ErrClaimExists
			}
			return fmt.Errorf("failed to insert claim record: %w", err)
		}

		result, err := tx.NewUpdate().
			Model(activity).
			Set("grabbed_count = grabbed_count + 1").
			Set("grabbed_amount = grabbed_amount + ?", share.Amount).
			Set("updated_at = ?", p.ClaimedAt).
			Where("id = ?", p.ActivityID).
			Where("status = ?", models.ActivityStatusActive).
			Where("grabbed_amount + ? <= total_amount", share.Amount).
			Where("grabbed_count < total_count").
			Returning("*").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update activity aggregates: %w", err)
		}
		if rowsAffected, _ := result.RowsAffected(); rowsAffected == 0 {
			var status models.ActivityStatus
			err := tx.NewSelect().
				Model((*models.Activity)(nil)).
				Column("status").
				Where("id = ?", p.ActivityID).
				Scan(ctx, &status)
			if err != nil {
				return fmt.Errorf("failed to load activity status: %w", err)
			}
			if status != models.ActivityStatusActive {
				return ErrActivityClosed
			}
			return ErrAggregateOverflow
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrShareUnavailable) || errors.Is(err, ErrClaimExists) || errors.Is(err, ErrActivityClosed) {
			return nil, nil, err
		}
		return nil, nil, r.HandleErrorWithID("claim_share", "claim", p.ShareID, err)
	}
	return record, activity, nil
}

func (r *claimRepository) GetByTransactionRef(ctx context.Context, ref string) (*models.ClaimRecord, error) {
	record := new(models.ClaimRecord)
	if err := r.db.NewSelect().Model(record).Where("transaction_ref = ?", ref).Scan(ctx); err != nil {
		return nil, r.HandleErrorWithID("get", "claim", ref, err)
	}
	return record, nil
}

func (r *claimRepository) GetByActivityAndUser(ctx context.Context, activityID int64, userID string) (*models.ClaimRecord, error) {
	record := new(models.ClaimRecord)
	err := r.db.NewSelect().
		Model(record).
		Where("activity_id = ?", activityID).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		return nil, r.HandleErrorWithID("get", "claim", fmt.Sprintf("%d/%s", activityID, userID), err)
	}
	return record, nil
}

func (r *claimRepository) ListByUser(ctx context.Context, userID string, activityID int64, page Page) ([]*models.ClaimRecord, int, error) {
	page = page.Normalize()

	var records []*models.ClaimRecord
	query := r.db.NewSelect().Model(&records).Where("user_id = ?", userID)
	if activityID != 0 {
		query = query.Where("activity_id = ?", activityID)
	}

	total, err := query.
		OrderExpr("claimed_at DESC, id DESC").
		Offset(page.Offset).
		Limit(page.Limit).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, r.HandleError("list_by_user", "claim", err)
	}
	return records, total, nil
}

func (r *claimRepository) ListByActivity(ctx context.Context, activityID int64, page Page) ([]*models.ClaimRecord, int, error) {
	page = page.Normalize()

	var records []*models.ClaimRecord
	total, err := r.db.NewSelect().
		Model(&records).
		Where("activity_id = ?", activityID).
		OrderExpr("claimed_at ASC, id ASC").
		Offset(page.Offset).
		Limit(page.Limit).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, r.HandleError("list_by_activity", "claim", err)
	}
	return records, total, nil
}

func (r *claimRepository) ListClaimantIDs(ctx context.Context, activityID int64) ([]string, error) {
	var ids []string
	err := r.db.NewSelect().
		Model((*models.ClaimRecord)(nil)).
		Column("user_id").
		Where("activity_id = ?", activityID).
		Scan(ctx, &ids)
	if err != nil {
		return nil, r.HandleErrorWithID("list_claimants", "claim", activityID, err)
	}
	return ids, nil
}

func (r *claimRepository) ListPending(ctx context.Context, now time.Time, afterID int64, limit int) ([]*models.ClaimRecord, error) {
	var records []*models.ClaimRecord
	err := r.db.NewSelect().
		Model(&records).
		Where("settlement = ?", models.SettlementPending).
		Where("next_attempt_at <= ?", now).
		Where("id > ?", afterID).
		OrderExpr("id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, r.HandleError("list_pending", "claim", err)
	}
	return records, nil
}

func (r *claimRepository) MarkSettled(ctx context.Context, id int64, at time.Time) (bool, error) {
	result, err := r.db.NewUpdate().
		Model((*models.ClaimRecord)(nil)).
		Set("settlement = ?", models.SettlementSettled).
		Set("settled_at = ?", at).
		Set("last_error = NULL").
		Where("id = ?", id).
		Where("settlement = ?", models.SettlementPending).
		Exec(ctx)
	if err != nil {
		return false, r.HandleErrorWithID("mark_settled", "claim", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, r.HandleErrorWithID("mark_settled", "claim", id, err)
	}
	return rowsAffected == 1, nil
}

func (r *claimRepository) RecordAttemptFailure(ctx context.Context, id int64, reason string, nextAttemptAt time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*models.ClaimRecord)(nil)).
		Set("attempts = attempts + 1").
		Set("last_error = ?", reason).
		Set("next_attempt_at = ?", nextAttemptAt).
		Where("id = ?", id).
		Where("settlement = ?", models.SettlementPending).
		Exec(ctx)
	return r.HandleErrorWithID("record_failure", "claim", id, err)
}

func (r *claimRepository) ActivityStats(ctx context.Context, activityID int64) (*models.ClaimStats, error) {
	stats, err := r.stats(ctx, "activity_id = ?", activityID)
	if err != nil || stats.Claims == 0 {
		return stats, err
	}

	var luckiest string
	err = r.db.NewSelect().
		Model((*models.ClaimRecord)(nil)).
		Column("user_id").
		Where("activity_id = ?", activityID).
		OrderExpr("amount DESC, claimed_at ASC, id ASC").
		Limit(1).
		Scan(ctx, &luckiest)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, r.HandleErrorWithID("stats", "claim", activityID, err)
	}
	stats.LuckiestUser = luckiest
	return stats, nil
}

func (r *claimRepository) UserStats(ctx context.Context, userID string) (*models.ClaimStats, error) {
	return r.stats(ctx, "user_id = ?", userID)
}

func (r *claimRepository) stats(ctx context.Context, where string, arg interface{}) (*models.ClaimStats, error) {
	stats := new(models.ClaimStats)
	err := r.db.NewSelect().
		Model((*models.ClaimRecord)(nil)).
		ColumnExpr("COUNT(*) AS claims").
		ColumnExpr("COALESCE(SUM(amount), 0) AS total_amount").
		ColumnExpr("COALESCE(MAX(amount), 0) AS max_amount").
		ColumnExpr("COALESCE(MIN(amount), 0) AS min_amount").
		ColumnExpr("COALESCE(SUM(amount) / NULLIF(COUNT(*), 0), 0) AS avg_amount").
		Where(where, arg).
		Scan(ctx, stats)
	if err != nil {
		return nil, r.HandleError("stats", "claim", err)
	}
	return stats, nil
}
