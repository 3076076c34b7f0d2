package events

import (
	"context"
	"time"
)

// ClaimEvent is emitted once a claim has been durably recorded.
type ClaimEvent struct {
	ActivityID     int64     `json:"activity_id"`
	UserID         string    `json:"user_id"`
	ShareIndex     int       `json:"share_index"`
	Amount         int64     `json:"amount"`
	TransactionRef string    `json:"transaction_ref"`
	ClaimedAt      time.Time `json:"claimed_at"`
}

// SettlementEvent is emitted once the ledger credit for a claim is applied.
type SettlementEvent struct {
	ActivityID     int64     `json:"activity_id"`
	UserID         string    `json:"user_id"`
	Amount         int64     `json:"amount"`
	TransactionRef string    `json:"transaction_ref"`
	SettledAt      time.Time `json:"settled_at"`
}

// Publisher fans engine events out to other systems. Publishing is best
// effort; callers log failures and carry on.
type Publisher interface {
	PublishClaim(ctx context.Context, event ClaimEvent) error
	PublishSettlement(ctx context.Context, event SettlementEvent) error
}

type nopPublisher struct{}

// NewNop returns a Publisher that drops every event.
func NewNop() Publisher { return nopPublisher{} }

func (nopPublisher) PublishClaim(context.Context, ClaimEvent) error { return nil }

func (nopPublisher) PublishSettlement(context.Context, SettlementEvent) error { return nil }
