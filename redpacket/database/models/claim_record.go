package models

import (
	"time"

	"github.com/uptrace/bun"
)

type SettlementStatus int

const (
	SettlementPending SettlementStatus = iota
	SettlementSettled
)

func (s SettlementStatus) String() string {
	if s == SettlementSettled {
		return "settled"
	}
	return "pending"
}

type ClaimRecord struct {
	bun.BaseModel `bun:"table:envelope_claims,alias:ec"`

	ID             int64            `bun:"id,pk,autoincrement"`
	ActivityID     int64            `bun:"activity_id,notnull"`
	ShareID        int64            `bun:"share_id,notnull"`
	ShareIndex     int              `bun:"share_index,notnull"`
	UserID         string           `bun:"user_id,notnull"`
	Amount         int64            `bun:"amount,notnull"`
	TransactionRef string           `bun:"transaction_ref,notnull"`
	ClaimedAt      time.Time        `bun:"claimed_at,notnull"`
	Settlement     SettlementStatus `bun:"settlement,notnull,default:0"`
	SettledAt      *time.Time       `bun:"settled_at"`
	Attempts       int              `bun:"attempts,notnull,default:0"`
	NextAttemptAt  time.Time        `bun:"next_attempt_at,notnull"`
	LastError      string           `bun:"last_error,nullzero"`
	CreatedAt      time.Time        `bun:"created_at,notnull"`
}

// ClaimStats aggregates claim records for an activity or a user.
type ClaimStats struct {
	Claims       int    `bun:"claims"`
	TotalAmount  int64  `bun:"total_amount"`
	MaxAmount    int64  `bun:"max_amount"`
	MinAmount    int64  `bun:"min_amount"`
	AvgAmount    int64  `bun:"avg_amount"`
	LuckiestUser string `bun:"-"`
}
