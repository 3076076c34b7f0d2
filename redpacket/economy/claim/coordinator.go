package claim

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ellavondegurechaff/redpacket/redpacket/config"
	"github.com/ellavondegurechaff/redpacket/redpacket/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrPoolNotLoaded means the activity has no pool in this process; the
	// caller should rebuild it from the store.
	ErrPoolNotLoaded = errors.New("claim pool not loaded")
	// ErrPoolClosed means the pool was dropped while the request was in flight.
	ErrPoolClosed = errors.New("claim pool closed")
)

type Outcome int

const (
	OutcomeClaimed Outcome = iota
	OutcomeAlreadyClaimed
	OutcomeNoneLeft
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClaimed:
		return "claimed"
	case OutcomeAlreadyClaimed:
		return "already_claimed"
	case OutcomeNoneLeft:
		return "none_left"
	default:
		return "unknown"
	}
}

type Result struct {
	Outcome Outcome
	ShareID int64
	// Generation identifies the pool instance that handed out ShareID.
	Generation uint64
}

// Coordinator hands out shares for every loaded activity. Each activity is
// owned by one goroutine that processes requests strictly in arrival order, so
// the check-pop-insert sequence never interleaves.
type Coordinator struct {
	pools       *xsync.MapOf[int64, *pool]
	queueSize   int
	metrics     metrics.Collector
	generations atomic.Uint64
}

func NewCoordinator(queueSize int, collector metrics.Collector) *Coordinator {
	if queueSize <= 0 {
		queueSize = config.DefaultGrabQueueSize
	}
	if collector == nil {
		collector = metrics.NewNop()
	}
	return &Coordinator{
		pools:     xsync.NewMapOf[int64, *pool](),
		queueSize: queueSize,
		metrics:   collector,
	}
}

// Load installs a pool for the activity with shareIDs in FIFO order and
// claimants pre-seeded into the dedupe set, replacing any existing pool.
func (c *Coordinator) Load(activityID int64, shareIDs []int64, claimants []string) {
	p := newPool(activityID, c.generations.Add(1), shareIDs, claimants, c.queueSize)
	if old, loaded := c.pools.LoadAndStore(activityID, p); loaded {
		old.stop()
	}
	c.metrics.SetActivePools(c.pools.Size())
	slog.Debug("Claim pool loaded",
		slog.String("type", "grab"),
		slog.Int64("activity_id", activityID),
		slog.Int("shares", len(shareIDs)),
		slog.Int("claimants", len(claimants)))
}

// LoadIfAbsent installs a pool only when none exists and reports whether it did.
func (c *Coordinator) LoadIfAbsent(activityID int64, shareIDs []int64, claimants []string) bool {
	_, loaded := c.pools.LoadOrCompute(activityID, func() *pool {
		return newPool(activityID, c.generations.Add(1), shareIDs, claimants, c.queueSize)
	})
	if !loaded {
		c.metrics.SetActivePools(c.pools.Size())
	}
	return !loaded
}

// TryClaim pops one share for userID unless the user already claimed or the
// pool is empty. Once the request is queued the call waits for the answer
// even if ctx is cancelled, so a popped share is never orphaned by a caller
// that gave up.
func (c *Coordinator) TryClaim(ctx context.Context, activityID int64, userID string) (Result, error) {
	p, ok := c.pools.Load(activityID)
	if !ok {
		return Result{}, ErrPoolNotLoaded
	}

	req := request{op: opClaim, userID: userID, reply: make(chan Result, 1)}
	if err := p.submit(ctx, req); err != nil {
		return Result{}, err
	}
	res, err := p.await(req)
	if err == nil && res.Outcome == OutcomeClaimed {
		res.Generation = p.generation
	}
	return res, err
}

// Rollback returns the claimed share to the front of the pool and forgets
// userID, undoing a claim whose durable write failed. An empty userID keeps the
// dedupe set as is. When the pool that handed the share out has since been
// replaced, the rebuilt pool already reflects the store and ErrPoolClosed is
// returned without touching it. A zero Generation targets the current pool.
func (c *Coordinator) Rollback(ctx context.Context, activityID int64, userID string, claimed Result) error {
	p, ok := c.pools.Load(activityID)
	if !ok {
		return ErrPoolNotLoaded
	}
	if claimed.Generation != 0 && claimed.Generation != p.generation {
		return ErrPoolClosed
	}

	req := request{op: opRollback, userID: userID, shareID: claimed.ShareID, reply: make(chan Result, 1)}
	if err := p.submit(ctx, req); err != nil {
		return err
	}
	_, err := p.await(req)
	return err
}

// Remaining reports how many shares the activity's pool still holds.
func (c *Coordinator) Remaining(ctx context.Context, activityID int64) (int, error) {
	p, ok := c.pools.Load(activityID)
	if !ok {
		return 0, ErrPoolNotLoaded
	}

	req := request{op: opRemaining, reply: make(chan Result, 1)}
	if err := p.submit(ctx, req); err != nil {
		return 0, err
	}
	res, err := p.await(req)
	return int(res.ShareID), err
}

func (c *Coordinator) Loaded(activityID int64) bool {
	_, ok := c.pools.Load(activityID)
	return ok
}

// Drop discards the activity's pool. Requests still queued fail with ErrPoolClosed.
func (c *Coordinator) Drop(activityID int64) {
	if p, ok := c.pools.LoadAndDelete(activityID); ok {
		p.stop()
		c.metrics.SetActivePools(c.pools.Size())
		slog.Debug("Claim pool dropped",
			slog.String("type", "grab"),
			slog.Int64("activity_id", activityID))
	}
}

func (c *Coordinator) Close() {
	c.pools.Range(func(id int64, p *pool) bool {
		c.pools.Delete(id)
		p.stop()
		return true
	})
	c.metrics.SetActivePools(0)
}

type op int

const (
	opClaim op = iota
	opRollback
	opRemaining
)

type request struct {
	op      op
	userID  string
	shareID int64
	reply   chan Result
}

type pool struct {
	activityID int64
	generation uint64
	requests   chan request
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once

	// owned by run
	fifo    []int64
	head    int
	claimed map[string]struct{}
}

func newPool(activityID int64, generation uint64, shareIDs []int64, claimants []string, queueSize int) *pool {
	p := &pool{
		activityID: activityID,
		generation: generation,
		requests:   make(chan request, queueSize),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		fifo:       append([]int64(nil), shareIDs...),
		claimed:    make(map[string]struct{}, len(claimants)),
	}
	for _, userID := range claimants {
		p.claimed[userID] = struct{}{}
	}
	go p.run()
	return p
}

func (p *pool) run() {
	defer close(p.done)
	for {
		select {
		case <-p.quit:
			return
		case req := <-p.requests:
			req.reply <- p.handle(req)
		}
	}
}

func (p *pool) handle(req request) Result {
	switch req.op {
	case opClaim:
		if _, ok := p.claimed[req.userID]; ok {
			return Result{Outcome: OutcomeAlreadyClaimed}
		}
		if p.head == len(p.fifo) {
			return Result{Outcome: OutcomeNoneLeft}
		}
		shareID := p.fifo[p.head]
		p.head++
		p.claimed[req.userID] = struct{}{}
		return Result{Outcome: OutcomeClaimed, ShareID: shareID}

	case opRollback:
		if req.userID != "" {
			delete(p.claimed, req.userID)
		}
		if p.head > 0 {
			p.head--
			p.fifo[p.head] = req.shareID
		} else {
			p.fifo = append([]int64{req.shareID}, p.fifo...)
		}
		return Result{Outcome: OutcomeClaimed, ShareID: req.shareID}

	case opRemaining:
		return Result{ShareID: int64(len(p.fifo) - p.head)}
	}
	return Result{}
}

func (p *pool) submit(ctx context.Context, req request) error {
	select {
	case <-p.quit:
		return ErrPoolClosed
	default:
	}

	select {
	case p.requests <- req:
		return nil
	case <-p.quit:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pool) await(req request) (Result, error) {
	select {
	case res := <-req.reply:
		return res, nil
	case <-p.done:
		select {
		case res := <-req.reply:
			return res, nil
		default:
			return Result{}, ErrPoolClosed
		}
	}
}

func (p *pool) stop() {
	p.stopOnce.Do(func() { close(p.quit) })
}
