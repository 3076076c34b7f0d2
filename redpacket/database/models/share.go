package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ShareStatus int

const (
	ShareStatusAvailable ShareStatus = iota
	ShareStatusClaimed
)

func (s ShareStatus) String() string {
	if s == ShareStatusClaimed {
		return "claimed"
	}
	return "available"
}

// Share is one pre-computed envelope. Amount never changes after allocation
// and Status moves from available to claimed exactly once.
type Share struct {
	bun.BaseModel `bun:"table:envelope_shares,alias:es"`

	ID         int64       `bun:"id,pk,autoincrement"`
	ActivityID int64       `bun:"activity_id,notnull"`
	ShareIndex int         `bun:"share_index,notnull"`
	Amount     int64       `bun:"amount,notnull"`
	Status     ShareStatus `bun:"status,notnull,default:0"`
	ClaimantID string      `bun:"claimant_id,nullzero"`
	ClaimedAt  *time.Time  `bun:"claimed_at"`
	CreatedAt  time.Time   `bun:"created_at,notnull"`
}
