package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ellavondegurechaff/redpacket/redpacket/database/models"
	"github.com/uptrace/bun"
)

type AccountRepository interface {
	// Credit adds amount to the user's balance once per idempotency key.
	// applied is false when the key was already recorded.
	Credit(ctx context.Context, userID string, amount int64, idempotencyKey, memo string) (applied bool, err error)
	GetBalance(ctx context.Context, userID string) (int64, error)
	GetEntry(ctx context.Context, idempotencyKey string) (*models.LedgerEntry, error)
}

type accountRepository struct {
	*BaseRepository
}

func NewAccountRepository(db *bun.DB) AccountRepository {
	return &accountRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *accountRepository) Credit(ctx context.Context, userID string, amount int64, idempotencyKey, memo string) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	applied := false
	err := r.Transaction(ctx, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now()
		entry := &models.LedgerEntry{
			UserID:         userID,
			Amount:         amount,
			IdempotencyKey: idempotencyKey,
			Memo:           memo,
			CreatedAt:      now,
		}
		result, err := tx.NewInsert().
			Model(entry).
			On("CONFLICT (idempotency_key) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert ledger entry: %w", err)
		}
		if rowsAffected, _ := result.RowsAffected(); rowsAffected == 0 {
			return nil
		}

		account := &models.UserAccount{
			UserID:    userID,
			Balance:   amount,
			CreatedAt: now,
			UpdatedAt: now,
		}
		_, err = tx.NewInsert().
			Model(account).
			On("CONFLICT (user_id) DO UPDATE").
			Set("balance = ua.balance + EXCLUDED.balance").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, r.HandleErrorWithID("credit", "account", userID, err)
	}

	if !applied {
		slog.Debug("Ledger credit already applied",
			slog.String("type", "db"),
			slog.String("user_id", userID),
			slog.String("idempotency_key", idempotencyKey))
	}
	return applied, nil
}

func (r *accountRepository) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.db.NewSelect().
		Model((*models.UserAccount)(nil)).
		Column("balance").
		Where("user_id = ?", userID).
		Scan(ctx, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, r.HandleErrorWithID("get_balance", "account", userID, err)
	}
	return balance, nil
}

func (r *accountRepository) GetEntry(ctx context.Context, idempotencyKey string) (*models.LedgerEntry, error) {
	entry := new(models.LedgerEntry)
	if err := r.db.NewSelect().Model(entry).Where("idempotency_key = ?", idempotencyKey).Scan(ctx); err != nil {
		return nil, r.HandleErrorWithID("get_entry", "ledger_entry", idempotencyKey, err)
	}
	return entry, nil
}
