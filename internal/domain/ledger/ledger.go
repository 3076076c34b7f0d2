package ledger

import (
	"context"
	"errors"
	"fmt"
)

//go:generate mockgen -source=ledger.go -destination=mock/ledger.go -package=mock

// ErrLedgerUnavailable marks a credit that failed for a transient reason and
// should be retried.
var ErrLedgerUnavailable = errors.New("ledger unavailable")

// Ledger is the external account service winnings are credited to. Credit must
// be idempotent per key: repeating a key that was already applied succeeds
// without changing the balance.
type Ledger interface {
	Credit(ctx context.Context, userID string, amount int64, idempotencyKey string) error
}

// Accounts is the storage the AccountLedger adapter writes through.
type Accounts interface {
	Credit(ctx context.Context, userID string, amount int64, idempotencyKey, memo string) (bool, error)
}

// AccountLedger credits the engine's own user_accounts table.
type AccountLedger struct {
	accounts Accounts
	memo     string
}

func NewAccountLedger(accounts Accounts, memo string) *AccountLedger {
	return &AccountLedger{accounts: accounts, memo: memo}
}

func (l *AccountLedger) Credit(ctx context.Context, userID string, amount int64, idempotencyKey string) error {
	if _, err := l.accounts.Credit(ctx, userID, amount, idempotencyKey, l.memo); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return nil
}
