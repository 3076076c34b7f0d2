package models

import (
	"time"

	"github.com/uptrace/bun"
)

type UserAccount struct {
	bun.BaseModel `bun:"table:user_accounts,alias:ua"`

	UserID    string    `bun:"user_id,pk"`
	Balance   int64     `bun:"balance,notnull,default:0"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// LedgerEntry records one applied credit. IdempotencyKey is unique, which is
// what makes a repeated credit a no-op.
type LedgerEntry struct {
	bun.BaseModel `bun:"table:ledger_entries,alias:le"`

	ID             int64     `bun:"id,pk,autoincrement"`
	UserID         string    `bun:"user_id,notnull"`
	Amount         int64     `bun:"amount,notnull"`
	IdempotencyKey string    `bun:"idempotency_key,notnull,unique"`
	Memo           string    `bun:"memo"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}
