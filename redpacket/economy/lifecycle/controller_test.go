package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ellavondegurechaff/redpacket/internal/gateways/memory"
	"github.com/ellavondegurechaff/redpacket/redpacket/database/models"
	"github.com/ellavondegurechaff/redpacket/redpacket/database/repositories"
	"github.com/ellavondegurechaff/redpacket/redpacket/economy/allocation"
	"github.com/ellavondegurechaff/redpacket/redpacket/economy/claim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newController(store *memory.Store) (*Controller, *claim.Coordinator) {
	coord := claim.NewCoordinator(16, nil)
	ctrl := NewController(store.Activities(), store.Shares(), store.Claims(), coord, nil, Config{})
	return ctrl, coord
}

func params(start bool) CreateParams {
	return CreateParams{
		Name:             "spring festival",
		TotalAmount:      1000,
		TotalCount:       10,
		EndTime:          time.Now().Add(time.Hour),
		CreatorID:        "operator",
		StartImmediately: start,
	}
}

func TestCreateActivity(t *testing.T) {
	store := memory.NewStore()
	ctrl, coord := newController(store)
	defer coord.Close()
	ctx := context.Background()

	p := params(false)
	p.StartTime = time.Now().Add(10 * time.Minute)
	activity, err := ctrl.CreateActivity(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, models.ActivityStatusNotStarted, activity.Status)
	assert.Equal(t, allocation.StrategyDoubleAverage, activity.Strategy)
	assert.Equal(t, int64(1), activity.MinAmount)
	assert.False(t, coord.Loaded(activity.ID))

	shares, err := store.Shares().ListByStatus(ctx, activity.ID, models.ShareStatusAvailable)
	require.NoError(t, err)
	require.Len(t, shares, 10)
	var sum int64
	for i, sh := range shares {
		assert.Equal(t, i+1, sh.ShareIndex)
		sum += sh.Amount
	}
	assert.Equal(t, int64(1000), sum)
}

func TestCreateActivityStartImmediately(t *testing.T) {
	store := memory.NewStore()
	ctrl, coord := newController(store)
	defer coord.Close()

	var changed []int64
	ctrl.OnChange(func(id int64) { changed = append(changed, id) })

	activity, err := ctrl.CreateActivity(context.Background(), params(true))
	require.NoError(t, err)
	assert.Equal(t, models.ActivityStatusActive, activity.Status)
	assert.True(t, coord.Loaded(activity.ID))
	assert.Equal(t, []int64{activity.ID}, changed)

	remaining, err := coord.Remaining(context.Background(), activity.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, remaining)
}

func TestCreateActivityValidation(t *testing.T) {
	store := memory.NewStore()
	ctrl, coord := newController(store)
	defer coord.Close()

	tests := []struct {
		name    string
		mutate  func(p *CreateParams)
		wantErr error
	}{
		{"below floor", func(p *CreateParams) { p.TotalAmount = 5 }, allocation.ErrInvalidParameters},
		{"zero count", func(p *CreateParams) { p.TotalCount = 0 }, allocation.ErrInvalidParameters},
		{"missing name", func(p *CreateParams) { p.Name = " " }, ErrInvalidActivity},
		{"missing creator", func(p *CreateParams) { p.CreatorID = "" }, ErrInvalidActivity},
		{"name too long", func(p *CreateParams) { p.Name = strings.Repeat("红", 101) }, ErrInvalidActivity},
		{"description too long", func(p *CreateParams) { p.Description = strings.Repeat("d", 501) }, ErrInvalidActivity},
		{"count over limit", func(p *CreateParams) { p.TotalCount = 10001; p.TotalAmount = 1_000_000 }, ErrInvalidActivity},
		{"amount over limit", func(p *CreateParams) { p.TotalAmount = 10_000_001 }, ErrInvalidActivity},
		{"huge count", func(p *CreateParams) { p.TotalAmount = 1 << 61; p.TotalCount = 1 << 59 }, ErrInvalidActivity},
		{"max below min", func(p *CreateParams) { p.MinAmount = 10; p.MaxAmount = 5 }, ErrInvalidActivity},
		{"end in past", func(p *CreateParams) {
			p.StartTime = time.Now().Add(-2 * time.Hour)
			p.EndTime = time.Now().Add(-time.Hour)
		}, ErrInvalidSchedule},
		{"end before start", func(p *CreateParams) {
			p.StartTime = time.Now().Add(2 * time.Hour)
		}, ErrInvalidSchedule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := params(false)
			tt.mutate(&p)
			_, err := ctrl.CreateActivity(context.Background(), p)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTransitions(t *testing.T) {
	store := memory.NewStore()
	ctrl, coord := newController(store)
	defer coord.Close()
	ctx := context.Background()

	p := params(false)
	p.StartTime = time.Now().Add(time.Minute)
	pending, err := ctrl.CreateActivity(ctx, p)
	require.NoError(t, err)

	assert.ErrorIs(t, ctrl.End(ctx, pending.ID), ErrInvalidTransition)

	require.NoError(t, ctrl.Start(ctx, pending.ID))
	require.NoError(t, ctrl.Start(ctx, pending.ID), "starting an active activity is a no-op")
	assert.ErrorIs(t, ctrl.Cancel(ctx, pending.ID), ErrInvalidTransition)

	require.NoError(t, ctrl.End(ctx, pending.ID))
	assert.False(t, coord.Loaded(pending.ID))
	assert.ErrorIs(t, ctrl.Start(ctx, pending.ID), ErrInvalidTransition)

	other, err := ctrl.CreateActivity(ctx, p)
	require.NoError(t, err)
	require.NoError(t, ctrl.Cancel(ctx, other.ID))
	got, err := store.Activities().GetByID(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActivityStatusCancelled, got.Status)

	assert.ErrorIs(t, ctrl.Start(ctx, 9999), ErrActivityNotFound)
	assert.ErrorIs(t, ctrl.Cancel(ctx, 9999), ErrActivityNotFound)
}

func TestStartAllocatesMissingShares(t *testing.T) {
	store := memory.NewStore()
	ctrl, coord := newController(store)
	defer coord.Close()
	ctx := context.Background()

	activity := &models.Activity{
		Name:        "imported",
		TotalAmount: 500,
		TotalCount:  5,
		MinAmount:   10,
		Strategy:    allocation.StrategyEven,
		StartTime:   time.Now(),
		EndTime:     time.Now().Add(time.Hour),
		CreatorID:   "operator",
	}
	_, err := store.Activities().CreateWithShares(ctx, activity, nil)
	require.NoError(t, err)

	require.NoError(t, ctrl.Start(ctx, activity.ID))

	shares, err := store.Shares().ListByStatus(ctx, activity.ID, models.ShareStatusAvailable)
	require.NoError(t, err)
	require.Len(t, shares, 5)
	for _, sh := range shares {
		assert.Equal(t, int64(100), sh.Amount)
	}
}

// countlessShares hides existing shares from CountByActivity, as when another
// instance allocates between the count and the insert.
type countlessShares struct {
	repositories.ShareRepository
}

func (countlessShares) CountByActivity(context.Context, int64) (int, error) { return 0, nil }

func TestStartKeepsSharesAllocatedConcurrently(t *testing.T) {
	store := memory.NewStore()
	coord := claim.NewCoordinator(16, nil)
	defer coord.Close()
	ctrl := NewController(store.Activities(), countlessShares{store.Shares()}, store.Claims(), coord, nil, Config{})
	ctx := context.Background()

	activity := &models.Activity{
		Name:        "raced",
		TotalAmount: 500,
		TotalCount:  5,
		MinAmount:   10,
		Strategy:    allocation.StrategyEven,
		StartTime:   time.Now(),
		EndTime:     time.Now().Add(time.Hour),
		CreatorID:   "operator",
	}
	_, err := store.Activities().CreateWithShares(ctx, activity, nil)
	require.NoError(t, err)
	_, err = store.Shares().CreateBatch(ctx, activity.ID, []int64{100, 100, 100, 100, 100})
	require.NoError(t, err)

	require.NoError(t, ctrl.Start(ctx, activity.ID))

	shares, err := store.Shares().ListByStatus(ctx, activity.ID, models.ShareStatusAvailable)
	require.NoError(t, err)
	assert.Len(t, shares, 5)
	remaining, err := coord.Remaining(ctx, activity.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)
}

func TestSweep(t *testing.T) {
	store := memory.NewStore()
	ctrl, coord := newController(store)
	defer coord.Close()
	ctx := context.Background()

	due := params(false)
	due.StartTime = time.Now().Add(-time.Second)
	dueActivity, err := ctrl.CreateActivity(ctx, due)
	require.NoError(t, err)

	later := params(false)
	later.StartTime = time.Now().Add(30 * time.Minute)
	laterActivity, err := ctrl.CreateActivity(ctx, later)
	require.NoError(t, err)

	res, err := ctrl.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Started: 1}, res)
	assert.True(t, coord.Loaded(dueActivity.ID))
	assert.False(t, coord.Loaded(laterActivity.ID))

	// jump past both end times; the active one ends, the other was never started
	ctrl.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	res, err = ctrl.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Ended: 1}, res)
	assert.False(t, coord.Loaded(dueActivity.ID))

	got, err := store.Activities().GetByID(ctx, laterActivity.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActivityStatusNotStarted, got.Status)
}

func TestRecoverAllAfterCrash(t *testing.T) {
	store := memory.NewStore()
	ctrl, coord := newController(store)
	ctx := context.Background()

	activity, err := ctrl.CreateActivity(ctx, params(true))
	require.NoError(t, err)

	// claim three shares durably, then lose the process
	claimants := []string{"alice", "bob", "carol"}
	for _, user := range claimants {
		res, err := coord.TryClaim(ctx, activity.ID, user)
		require.NoError(t, err)
		_, _, err = store.Claims().ClaimShare(ctx, repositories.ClaimParams{
			ActivityID: activity.ID, ShareID: res.ShareID, UserID: user,
			TransactionRef: "RP-" + user, ClaimedAt: time.Now(),
		})
		require.NoError(t, err)
	}
	coord.Close()

	restarted, newCoord := newController(store)
	defer newCoord.Close()
	loaded, err := restarted.RecoverAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	remaining, err := newCoord.Remaining(ctx, activity.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, remaining)

	available, err := store.Shares().ListByStatus(ctx, activity.ID, models.ShareStatusAvailable)
	require.NoError(t, err)
	availableIDs := make(map[int64]bool, len(available))
	for _, sh := range available {
		availableIDs[sh.ID] = true
	}

	for _, user := range claimants {
		res, err := newCoord.TryClaim(ctx, activity.ID, user)
		require.NoError(t, err)
		assert.Equal(t, claim.OutcomeAlreadyClaimed, res.Outcome)
	}
	for i := 0; i < 7; i++ {
		res, err := newCoord.TryClaim(ctx, activity.ID, fmt.Sprintf("new-%d", i))
		require.NoError(t, err)
		require.Equal(t, claim.OutcomeClaimed, res.Outcome)
		assert.True(t, availableIDs[res.ShareID], "share %d was already claimed", res.ShareID)
		delete(availableIDs, res.ShareID)
	}
	assert.Empty(t, availableIDs)
}

func TestRecover(t *testing.T) {
	store := memory.NewStore()
	ctrl, coord := newController(store)
	defer coord.Close()
	ctx := context.Background()

	active, err := ctrl.CreateActivity(ctx, params(true))
	require.NoError(t, err)
	coord.Drop(active.ID)

	require.NoError(t, ctrl.Recover(ctx, active.ID))
	assert.True(t, coord.Loaded(active.ID))
	require.NoError(t, ctrl.Recover(ctx, active.ID))

	p := params(false)
	p.StartTime = time.Now().Add(time.Minute)
	pending, err := ctrl.CreateActivity(ctx, p)
	require.NoError(t, err)
	assert.ErrorIs(t, ctrl.Recover(ctx, pending.ID), ErrNotActive)
	assert.ErrorIs(t, ctrl.Recover(ctx, 4242), ErrActivityNotFound)

	// started early: Active, but nothing is admitted before its start time
	require.NoError(t, ctrl.Start(ctx, pending.ID))
	coord.Drop(pending.ID)
	assert.ErrorIs(t, ctrl.Recover(ctx, pending.ID), ErrNotActive)
	assert.False(t, coord.Loaded(pending.ID))
}
