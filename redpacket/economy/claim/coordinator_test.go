package claim

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryClaimSequence(t *testing.T) {
	c := NewCoordinator(8, nil)
	defer c.Close()
	ctx := context.Background()

	c.Load(1, []int64{10, 11}, nil)

	res, err := c.TryClaim(ctx, 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, Result{Outcome: OutcomeClaimed, ShareID: 10}, res)

	res, err = c.TryClaim(ctx, 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyClaimed, res.Outcome)

	res, err = c.TryClaim(ctx, 1, "bob")
	require.NoError(t, err)
	assert.Equal(t, Result{Outcome: OutcomeClaimed, ShareID: 11}, res)

	res, err = c.TryClaim(ctx, 1, "carol")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoneLeft, res.Outcome)

	// an existing claimant is told AlreadyClaimed even once the pool is empty
	res, err = c.TryClaim(ctx, 1, "bob")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyClaimed, res.Outcome)
}

func TestTryClaimNotLoaded(t *testing.T) {
	c := NewCoordinator(8, nil)
	_, err := c.TryClaim(context.Background(), 42, "alice")
	assert.ErrorIs(t, err, ErrPoolNotLoaded)
}

func TestTryClaimExclusiveUnderContention(t *testing.T) {
	c := NewCoordinator(64, nil)
	defer c.Close()

	const shares, users = 100, 5000
	ids := make([]int64, shares)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	c.Load(7, ids, nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     = make(map[int64]string)
		noneCnt int
	)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			res, err := c.TryClaim(context.Background(), 7, user)
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			switch res.Outcome {
			case OutcomeClaimed:
				_, dup := won[res.ShareID]
				assert.False(t, dup, "share %d handed out twice", res.ShareID)
				won[res.ShareID] = user
			case OutcomeNoneLeft:
				noneCnt++
			default:
				t.Errorf("unexpected outcome %s", res.Outcome)
			}
		}(fmt.Sprintf("user-%d", i))
	}
	wg.Wait()

	assert.Len(t, won, shares)
	assert.Equal(t, users-shares, noneCnt)
}

func TestTryClaimSameUserRacing(t *testing.T) {
	c := NewCoordinator(16, nil)
	defer c.Close()
	c.Load(3, []int64{1, 2, 3, 4, 5}, nil)

	var wg sync.WaitGroup
	outcomes := make(chan Outcome, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.TryClaim(context.Background(), 3, "same-user")
			assert.NoError(t, err)
			outcomes <- res.Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	claimed := 0
	for o := range outcomes {
		if o == OutcomeClaimed {
			claimed++
		} else {
			assert.Equal(t, OutcomeAlreadyClaimed, o)
		}
	}
	assert.Equal(t, 1, claimed)

	remaining, err := c.Remaining(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)
}

func TestLoadSeedsClaimants(t *testing.T) {
	c := NewCoordinator(8, nil)
	defer c.Close()
	c.Load(5, []int64{30}, []string{"alice"})

	res, err := c.TryClaim(context.Background(), 5, "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyClaimed, res.Outcome)
}

func TestRollback(t *testing.T) {
	c := NewCoordinator(8, nil)
	defer c.Close()
	ctx := context.Background()
	c.Load(1, []int64{10, 11}, nil)

	res, err := c.TryClaim(ctx, 1, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(10), res.ShareID)

	require.NoError(t, c.Rollback(ctx, 1, "alice", res))

	// the share goes back to the front and alice may try again
	res, err = c.TryClaim(ctx, 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomeClaimed, res.Outcome)
	assert.Equal(t, int64(10), res.ShareID)
}

func TestRollbackIgnoredByRebuiltPool(t *testing.T) {
	c := NewCoordinator(8, nil)
	defer c.Close()
	ctx := context.Background()
	c.Load(1, []int64{10, 11}, nil)

	stale, err := c.TryClaim(ctx, 1, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(10), stale.ShareID)

	// rebuilt from the store while alice's write was failing: 10 is still free
	c.Load(1, []int64{10, 11}, nil)
	assert.ErrorIs(t, c.Rollback(ctx, 1, "alice", stale), ErrPoolClosed)

	remaining, err := c.Remaining(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	seen := make(map[int64]bool)
	for _, user := range []string{"bob", "carol", "dave"} {
		res, err := c.TryClaim(ctx, 1, user)
		require.NoError(t, err)
		if res.Outcome == OutcomeClaimed {
			assert.False(t, seen[res.ShareID], "share %d handed out twice", res.ShareID)
			seen[res.ShareID] = true
		}
	}
	assert.Len(t, seen, 2)
}

func TestRollbackIntoFullPool(t *testing.T) {
	c := NewCoordinator(8, nil)
	defer c.Close()
	ctx := context.Background()
	c.Load(1, []int64{11}, nil)

	require.NoError(t, c.Rollback(ctx, 1, "ghost", Result{Outcome: OutcomeClaimed, ShareID: 10}))
	remaining, err := c.Remaining(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	res, err := c.TryClaim(ctx, 1, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.ShareID)
}

func TestLoadIfAbsent(t *testing.T) {
	c := NewCoordinator(8, nil)
	defer c.Close()

	assert.True(t, c.LoadIfAbsent(1, []int64{1}, nil))
	assert.False(t, c.LoadIfAbsent(1, []int64{1, 2, 3}, nil))

	remaining, err := c.Remaining(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestDrop(t *testing.T) {
	c := NewCoordinator(8, nil)
	c.Load(1, []int64{1, 2}, nil)
	require.True(t, c.Loaded(1))

	c.Drop(1)
	assert.False(t, c.Loaded(1))

	_, err := c.TryClaim(context.Background(), 1, "alice")
	assert.ErrorIs(t, err, ErrPoolNotLoaded)
}

func TestSubmitToStoppedPool(t *testing.T) {
	p := newPool(1, 1, []int64{1}, nil, 1)
	p.stop()
	<-p.done

	err := p.submit(context.Background(), request{op: opClaim, userID: "alice", reply: make(chan Result, 1)})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestTryClaimContextCancelledBeforeQueue(t *testing.T) {
	c := NewCoordinator(1, nil)
	defer c.Close()
	c.Load(1, []int64{1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// a cancelled context may or may not win the race into the queue; either
	// way the call must not hang and must not report a bogus claim
	res, err := c.TryClaim(ctx, 1, "alice")
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	} else {
		assert.Equal(t, OutcomeClaimed, res.Outcome)
	}
}
