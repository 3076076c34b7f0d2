package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ellavondegurechaff/redpacket/redpacket/database/models"
	"github.com/ellavondegurechaff/redpacket/redpacket/database/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Store, amounts ...int64) (*models.Activity, []*models.Share) {
	t.Helper()
	var total int64
	for _, a := range amounts {
		total += a
	}
	activity := &models.Activity{
		Name:        "launch",
		TotalAmount: total,
		TotalCount:  len(amounts),
		MinAmount:   1,
		Strategy:    "double_average",
		StartTime:   time.Now().Add(-time.Minute),
		EndTime:     time.Now().Add(time.Hour),
		Status:      models.ActivityStatusActive,
	}
	shares, err := s.Activities().CreateWithShares(context.Background(), activity, amounts)
	require.NoError(t, err)
	return activity, shares
}

func TestCompareAndSetStatus(t *testing.T) {
	s := NewStore()
	_, shares := seed(t, s, 10, 20)
	ctx := context.Background()

	ok, err := s.Shares().CompareAndSetStatus(ctx, shares[0].ID, models.ShareStatusAvailable, models.ShareStatusClaimed, "u1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Shares().CompareAndSetStatus(ctx, shares[0].ID, models.ShareStatusAvailable, models.ShareStatusClaimed, "u2", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	available, err := s.Shares().ListByStatus(ctx, shares[0].ActivityID, models.ShareStatusAvailable)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, 2, available[0].ShareIndex)
}

func TestClaimShareUniqueness(t *testing.T) {
	s := NewStore()
	activity, shares := seed(t, s, 10, 20, 30)
	ctx := context.Background()

	record, updated, err := s.Claims().ClaimShare(ctx, repositories.ClaimParams{
		ActivityID: activity.ID, ShareID: shares[0].ID, UserID: "u1", TransactionRef: "RP-a", ClaimedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), record.Amount)
	assert.Equal(t, models.SettlementPending, record.Settlement)
	assert.Equal(t, int64(50), updated.RemainingAmount())

	_, _, err = s.Claims().ClaimShare(ctx, repositories.ClaimParams{
		ActivityID: activity.ID, ShareID: shares[0].ID, UserID: "u2", TransactionRef: "RP-b", ClaimedAt: time.Now(),
	})
	assert.ErrorIs(t, err, repositories.ErrShareUnavailable)

	_, _, err = s.Claims().ClaimShare(ctx, repositories.ClaimParams{
		ActivityID: activity.ID, ShareID: shares[1].ID, UserID: "u1", TransactionRef: "RP-c", ClaimedAt: time.Now(),
	})
	assert.ErrorIs(t, err, repositories.ErrClaimExists)

	// the failed claim must not have consumed the share
	sh, err := s.Shares().GetByID(ctx, shares[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShareStatusAvailable, sh.Status)

	got, err := s.Activities().GetByID(ctx, activity.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.GrabbedCount)
	assert.Equal(t, int64(10), got.GrabbedAmount)
}

func TestClaimShareConcurrent(t *testing.T) {
	s := NewStore()
	activity, shares := seed(t, s, 5)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.Claims().ClaimShare(ctx, repositories.ClaimParams{
				ActivityID: activity.ID, ShareID: shares[0].ID, UserID: string(rune('a' + i)),
				TransactionRef: "RP-" + string(rune('a'+i)), ClaimedAt: time.Now(),
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestClaimShareRejectsForeignShare(t *testing.T) {
	s := NewStore()
	first, _ := seed(t, s, 10)
	second, foreign := seed(t, s, 40)
	ctx := context.Background()

	_, _, err := s.Claims().ClaimShare(ctx, repositories.ClaimParams{
		ActivityID: first.ID, ShareID: foreign[0].ID, UserID: "u1", TransactionRef: "RP-1", ClaimedAt: time.Now(),
	})
	assert.ErrorIs(t, err, repositories.ErrShareMismatch)

	sh, err := s.Shares().GetByID(ctx, foreign[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShareStatusAvailable, sh.Status)

	for _, id := range []int64{first.ID, second.ID} {
		a, err := s.Activities().GetByID(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, a.GrabbedCount)
		assert.Zero(t, a.GrabbedAmount)
	}
	_, err = s.Claims().GetByActivityAndUser(ctx, first.ID, "u1")
	assert.True(t, repositories.IsNotFound(err))
}

func TestClaimShareActivityClosed(t *testing.T) {
	s := NewStore()
	activity, shares := seed(t, s, 10)
	ctx := context.Background()

	ok, err := s.Activities().TransitionStatus(ctx, activity.ID,
		[]models.ActivityStatus{models.ActivityStatusActive}, models.ActivityStatusEnded, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = s.Claims().ClaimShare(ctx, repositories.ClaimParams{
		ActivityID: activity.ID, ShareID: shares[0].ID, UserID: "u1", TransactionRef: "RP-1", ClaimedAt: time.Now(),
	})
	assert.ErrorIs(t, err, repositories.ErrActivityClosed)

	sh, err := s.Shares().GetByID(ctx, shares[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShareStatusAvailable, sh.Status)
}

func TestSettlementAndStats(t *testing.T) {
	s := NewStore()
	activity, shares := seed(t, s, 10, 50, 40)
	ctx := context.Background()
	now := time.Now()

	for i, user := range []string{"u1", "u2", "u3"} {
		_, _, err := s.Claims().ClaimShare(ctx, repositories.ClaimParams{
			ActivityID: activity.ID, ShareID: shares[i].ID, UserID: user,
			TransactionRef: "RP-" + user, ClaimedAt: now.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	pending, err := s.Claims().ListPending(ctx, now.Add(time.Minute), 0, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, s.Claims().RecordAttemptFailure(ctx, pending[0].ID, "boom", now.Add(time.Hour)))
	ok, err := s.Claims().MarkSettled(ctx, pending[1].ID, now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Claims().MarkSettled(ctx, pending[1].ID, now)
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err = s.Claims().ListPending(ctx, now.Add(time.Minute), 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "u3", pending[0].UserID)

	st, err := s.Claims().ActivityStats(ctx, activity.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Claims)
	assert.Equal(t, int64(100), st.TotalAmount)
	assert.Equal(t, int64(50), st.MaxAmount)
	assert.Equal(t, int64(10), st.MinAmount)
	assert.Equal(t, int64(33), st.AvgAmount)
	assert.Equal(t, "u2", st.LuckiestUser)
}

func TestAccountCreditIdempotent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	applied, err := s.Accounts().Credit(ctx, "u1", 100, "RP-1", "envelope")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.Accounts().Credit(ctx, "u1", 100, "RP-1", "envelope")
	require.NoError(t, err)
	assert.False(t, applied)

	balance, err := s.Accounts().GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestRebuildAggregates(t *testing.T) {
	s := NewStore()
	activity, shares := seed(t, s, 10, 20)
	ctx := context.Background()

	_, _, err := s.Claims().ClaimShare(ctx, repositories.ClaimParams{
		ActivityID: activity.ID, ShareID: shares[1].ID, UserID: "u1", TransactionRef: "RP-1", ClaimedAt: time.Now(),
	})
	require.NoError(t, err)
	s.SetAggregates(activity.ID, 2, 999)

	rebuilt, err := s.Activities().RebuildAggregates(ctx, activity.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rebuilt.GrabbedCount)
	assert.Equal(t, int64(20), rebuilt.GrabbedAmount)

	_, err = s.Activities().RebuildAggregates(ctx, 404)
	assert.True(t, repositories.IsNotFound(err))
}
