package utils

import (
	"strings"

	"github.com/google/uuid"
)

// TransactionRefPrefix marks references minted by the grab path.
const TransactionRefPrefix = "RP"

// NewTransactionRef returns a globally unique claim reference. It doubles as
// the ledger idempotency key and the event message id.
func NewTransactionRef() string {
	return TransactionRefPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsTransactionRef reports whether ref looks like a value from NewTransactionRef.
func IsTransactionRef(ref string) bool {
	rest, ok := strings.CutPrefix(ref, TransactionRefPrefix)
	if !ok || len(rest) != 32 {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
