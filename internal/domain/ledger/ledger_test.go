package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/ellavondegurechaff/redpacket/internal/domain/ledger/mock"
	"go.uber.org/mock/gomock"
)

func TestAccountLedger_Credit(t *testing.T) {
	tests := []struct {
		name    string
		applied bool
		repoErr error
		wantErr error
	}{
		{name: "Applied", applied: true},
		{name: "Duplicate key is a no-op", applied: false},
		{name: "Store failure", repoErr: errors.New("connection refused"), wantErr: ErrLedgerUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := mock.NewMockAccounts(gomock.NewController(t))
			accounts.EXPECT().
				Credit(gomock.Any(), "u1", int64(250), "RP-1", "envelope").
				Return(tt.applied, tt.repoErr)

			err := NewAccountLedger(accounts, "envelope").Credit(context.Background(), "u1", 250, "RP-1")
			if tt.wantErr == nil && err != nil {
				t.Errorf("AccountLedger.Credit() unexpected error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("AccountLedger.Credit() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
