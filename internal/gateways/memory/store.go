// Package memory holds in-process implementations of the repository
// interfaces. They enforce the same conditional updates and uniqueness rules
// as the Postgres schema and back the engine tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ellavondegurechaff/redpacket/redpacket/database/models"
	"github.com/ellavondegurechaff/redpacket/redpacket/database/repositories"
)

type claimKey struct {
	activityID int64
	userID     string
}

// Store is a single-mutex in-memory database.
type Store struct {
	mu sync.Mutex

	nextID int64

	activities map[int64]*models.Activity
	shares     map[int64]*models.Share
	claims     map[int64]*models.ClaimRecord
	accounts   map[string]*models.UserAccount
	entries    map[string]*models.LedgerEntry

	claimsByUser  map[claimKey]int64
	claimsByShare map[int64]int64
	claimsByRef   map[string]int64

	// FailClaims makes ClaimShare fail with the returned error when non-nil.
	FailClaims func(params repositories.ClaimParams) error

	// FailAttemptFailures makes RecordAttemptFailure fail when non-nil.
	FailAttemptFailures func(id int64) error
}

func NewStore() *Store {
	return &Store{
		activities:    make(map[int64]*models.Activity),
		shares:        make(map[int64]*models.Share),
		claims:        make(map[int64]*models.ClaimRecord),
		accounts:      make(map[string]*models.UserAccount),
		entries:       make(map[string]*models.LedgerEntry),
		claimsByUser:  make(map[claimKey]int64),
		claimsByShare: make(map[int64]int64),
		claimsByRef:   make(map[string]int64),
	}
}

func (s *Store) Activities() repositories.ActivityRepository { return activityStore{s} }
func (s *Store) Shares() repositories.ShareRepository         { return shareStore{s} }
func (s *Store) Claims() repositories.ClaimRepository         { return claimStore{s} }
func (s *Store) Accounts() repositories.AccountRepository     { return accountStore{s} }

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// SetShareStatus overwrites a share's status without any checks. Tests use it
// to simulate a coordinator rebuilt from stale data.
func (s *Store) SetShareStatus(shareID int64, status models.ShareStatus, claimantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if share, ok := s.shares[shareID]; ok {
		share.Status = status
		share.ClaimantID = claimantID
	}
}

// SetAggregates overwrites an activity's denormalized counters.
func (s *Store) SetAggregates(activityID int64, count int, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.activities[activityID]; ok {
		a.GrabbedCount = count
		a.GrabbedAmount = amount
	}
}

func copyActivity(a *models.Activity) *models.Activity {
	c := *a
	return &c
}

func copyShare(sh *models.Share) *models.Share {
	c := *sh
	return &c
}

func copyClaim(r *models.ClaimRecord) *models.ClaimRecord {
	c := *r
	return &c
}

func paginate[T any](items []T, page repositories.Page) []T {
	page = page.Normalize()
	if page.Offset >= len(items) {
		return nil
	}
	end := min(page.Offset+page.Limit, len(items))
	return items[page.Offset:end]
}

type activityStore struct{ s *Store }

func (r activityStore) CreateWithShares(_ context.Context, activity *models.Activity, amounts []int64) ([]*models.Share, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now()
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = now
	}
	activity.UpdatedAt = activity.CreatedAt
	activity.ID = r.s.id()
	r.s.activities[activity.ID] = copyActivity(activity)

	return r.s.insertShares(activity.ID, amounts, activity.CreatedAt), nil
}

func (s *Store) insertShares(activityID int64, amounts []int64, at time.Time) []*models.Share {
	shares := make([]*models.Share, len(amounts))
	for i, amount := range amounts {
		share := &models.Share{
			ID:         s.id(),
			ActivityID: activityID,
			ShareIndex: i + 1,
			Amount:     amount,
			Status:     models.ShareStatusAvailable,
			CreatedAt:  at,
		}
		s.shares[share.ID] = share
		shares[i] = copyShare(share)
	}
	return shares
}

func (r activityStore) GetByID(_ context.Context, id int64) (*models.Activity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.activities[id]
	if !ok {
		return nil, &repositories.NotFoundError{Entity: "activity", ID: id}
	}
	return copyActivity(a), nil
}

func (r activityStore) sorted(match func(*models.Activity) bool) []*models.Activity {
	var out []*models.Activity
	for _, a := range r.s.activities {
		if match(a) {
			out = append(out, copyActivity(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r activityStore) List(_ context.Context, filter repositories.ActivityFilter, page repositories.Page) ([]*models.Activity, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	name := strings.ToLower(filter.Name)
	matches := r.sorted(func(a *models.Activity) bool {
		if filter.Status != nil && a.Status != *filter.Status {
			return false
		}
		return name == "" || strings.Contains(strings.ToLower(a.Name), name)
	})
	// newest first
	for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
		matches[i], matches[j] = matches[j], matches[i]
	}
	return paginate(matches, page), len(matches), nil
}

func (r activityStore) ListByStatus(_ context.Context, status models.ActivityStatus) ([]*models.Activity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.sorted(func(a *models.Activity) bool { return a.Status == status }), nil
}

func ids(activities []*models.Activity) []int64 {
	out := make([]int64, len(activities))
	for i, a := range activities {
		out[i] = a.ID
	}
	return out
}

func (r activityStore) ListDueToStart(_ context.Context, now time.Time) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return ids(r.sorted(func(a *models.Activity) bool {
		return a.Status == models.ActivityStatusNotStarted && !a.StartTime.After(now) && a.EndTime.After(now)
	})), nil
}

func (r activityStore) ListDueToEnd(_ context.Context, now time.Time) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return ids(r.sorted(func(a *models.Activity) bool {
		return a.Status == models.ActivityStatusActive && !a.EndTime.After(now)
	})), nil
}

func (r activityStore) TransitionStatus(_ context.Context, id int64, from []models.ActivityStatus, next models.ActivityStatus, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.activities[id]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if a.Status == status {
			a.Status = next
			a.UpdatedAt = at
			return true, nil
		}
	}
	return false, nil
}

func (r activityStore) RebuildAggregates(_ context.Context, id int64) (*models.Activity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.activities[id]
	if !ok {
		return nil, &repositories.NotFoundError{Entity: "activity", ID: id}
	}
	a.GrabbedCount, a.GrabbedAmount = 0, 0
	for _, c := range r.s.claims {
		if c.ActivityID == id {
			a.GrabbedCount++
			a.GrabbedAmount += c.Amount
		}
	}
	a.UpdatedAt = time.Now()
	return copyActivity(a), nil
}

type shareStore struct{ s *Store }

func (r shareStore) CreateBatch(_ context.Context, activityID int64, amounts []int64) ([]*models.Share, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, sh := range r.s.shares {
		if sh.ActivityID == activityID {
			return nil, &repositories.ConflictError{Entity: "share", Field: "activity_id", Value: activityID}
		}
	}
	return r.s.insertShares(activityID, amounts, time.Now()), nil
}

func (r shareStore) GetByID(_ context.Context, id int64) (*models.Share, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sh, ok := r.s.shares[id]
	if !ok {
		return nil, &repositories.NotFoundError{Entity: "share", ID: id}
	}
	return copyShare(sh), nil
}

func (r shareStore) ListByStatus(_ context.Context, activityID int64, status models.ShareStatus) ([]*models.Share, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*models.Share
	for _, sh := range r.s.shares {
		if sh.ActivityID == activityID && sh.Status == status {
			out = append(out, copyShare(sh))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShareIndex < out[j].ShareIndex })
	return out, nil
}

func (r shareStore) CountByActivity(_ context.Context, activityID int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for _, sh := range r.s.shares {
		if sh.ActivityID == activityID {
			n++
		}
	}
	return n, nil
}

func (r shareStore) CompareAndSetStatus(_ context.Context, shareID int64, expected, next models.ShareStatus, claimantID string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.s.compareAndSetShare(shareID, expected, next, claimantID, at), nil
}

func (s *Store) compareAndSetShare(shareID int64, expected, next models.ShareStatus, claimantID string, at time.Time) bool {
	sh, ok := s.shares[shareID]
	if !ok || sh.Status != expected {
		return false
	}
	sh.Status = next
	sh.ClaimantID = claimantID
	claimedAt := at
	sh.ClaimedAt = &claimedAt
	return true
}

type claimStore struct{ s *Store }

func (r claimStore) ClaimShare(_ context.Context, p repositories.ClaimParams) (*models.ClaimRecord, *models.Activity, error) {
	if r.s.FailClaims != nil {
		if err := r.s.FailClaims(p); err != nil {
			return nil, nil, err
		}
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sh, ok := r.s.shares[p.ShareID]
	if !ok || sh.Status != models.ShareStatusAvailable {
		return nil, nil, repositories.ErrShareUnavailable
	}
	if sh.ActivityID != p.ActivityID {
		return nil, nil, fmt.Errorf("%w: share %d belongs to activity %d, not %d",
			repositories.ErrShareMismatch, sh.ID, sh.ActivityID, p.ActivityID)
	}
	if _, exists := r.s.claimsByUser[claimKey{p.ActivityID, p.UserID}]; exists {
		return nil, nil, repositories.ErrClaimExists
	}
	if _, exists := r.s.claimsByShare[p.ShareID]; exists {
		return nil, nil, repositories.ErrClaimExists
	}
	a, ok := r.s.activities[p.ActivityID]
	if !ok {
		return nil, nil, &repositories.NotFoundError{Entity: "activity", ID: p.ActivityID}
	}
	if a.Status != models.ActivityStatusActive {
		return nil, nil, repositories.ErrActivityClosed
	}
	if a.GrabbedAmount+sh.Amount > a.TotalAmount || a.GrabbedCount >= a.TotalCount {
		return nil, nil, repositories.ErrAggregateOverflow
	}

	r.s.compareAndSetShare(p.ShareID, models.ShareStatusAvailable, models.ShareStatusClaimed, p.UserID, p.ClaimedAt)

	record := &models.ClaimRecord{
		ID:             r.s.id(),
		ActivityID:     p.ActivityID,
		ShareID:        sh.ID,
		ShareIndex:     sh.ShareIndex,
		UserID:         p.UserID,
		Amount:         sh.Amount,
		TransactionRef: p.TransactionRef,
		ClaimedAt:      p.ClaimedAt,
		Settlement:     models.SettlementPending,
		NextAttemptAt:  p.ClaimedAt,
		CreatedAt:      p.ClaimedAt,
	}
	r.s.claims[record.ID] = record
	r.s.claimsByUser[claimKey{p.ActivityID, p.UserID}] = record.ID
	r.s.claimsByShare[p.ShareID] = record.ID
	r.s.claimsByRef[p.TransactionRef] = record.ID

	a.GrabbedCount++
	a.GrabbedAmount += sh.Amount
	a.UpdatedAt = p.ClaimedAt

	return copyClaim(record), copyActivity(a), nil
}

func (r claimStore) GetByTransactionRef(_ context.Context, ref string) (*models.ClaimRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.claimsByRef[ref]
	if !ok {
		return nil, &repositories.NotFoundError{Entity: "claim", ID: ref}
	}
	return copyClaim(r.s.claims[id]), nil
}

func (r claimStore) GetByActivityAndUser(_ context.Context, activityID int64, userID string) (*models.ClaimRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.claimsByUser[claimKey{activityID, userID}]
	if !ok {
		return nil, &repositories.NotFoundError{Entity: "claim", ID: userID}
	}
	return copyClaim(r.s.claims[id]), nil
}

func (r claimStore) filter(match func(*models.ClaimRecord) bool) []*models.ClaimRecord {
	var out []*models.ClaimRecord
	for _, c := range r.s.claims {
		if match(c) {
			out = append(out, copyClaim(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r claimStore) ListByUser(_ context.Context, userID string, activityID int64, page repositories.Page) ([]*models.ClaimRecord, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	matches := r.filter(func(c *models.ClaimRecord) bool {
		return c.UserID == userID && (activityID == 0 || c.ActivityID == activityID)
	})
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].ID > matches[j].ID })
	return paginate(matches, page), len(matches), nil
}

func (r claimStore) ListByActivity(_ context.Context, activityID int64, page repositories.Page) ([]*models.ClaimRecord, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	matches := r.filter(func(c *models.ClaimRecord) bool { return c.ActivityID == activityID })
	return paginate(matches, page), len(matches), nil
}

func (r claimStore) ListClaimantIDs(_ context.Context, activityID int64) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []string
	for _, c := range r.filter(func(c *models.ClaimRecord) bool { return c.ActivityID == activityID }) {
		out = append(out, c.UserID)
	}
	return out, nil
}

func (r claimStore) ListPending(_ context.Context, now time.Time, afterID int64, limit int) ([]*models.ClaimRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := r.filter(func(c *models.ClaimRecord) bool {
		return c.ID > afterID && c.Settlement == models.SettlementPending && !c.NextAttemptAt.After(now)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r claimStore) MarkSettled(_ context.Context, id int64, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.claims[id]
	if !ok || c.Settlement != models.SettlementPending {
		return false, nil
	}
	settledAt := at
	c.Settlement = models.SettlementSettled
	c.SettledAt = &settledAt
	c.LastError = ""
	return true, nil
}

func (r claimStore) RecordAttemptFailure(_ context.Context, id int64, reason string, nextAttemptAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.FailAttemptFailures != nil {
		if err := r.s.FailAttemptFailures(id); err != nil {
			return err
		}
	}
	if c, ok := r.s.claims[id]; ok && c.Settlement == models.SettlementPending {
		c.Attempts++
		c.LastError = reason
		c.NextAttemptAt = nextAttemptAt
	}
	return nil
}

func stats(records []*models.ClaimRecord) *models.ClaimStats {
	out := &models.ClaimStats{}
	var luckiest *models.ClaimRecord
	for _, c := range records {
		out.Claims++
		out.TotalAmount += c.Amount
		if out.Claims == 1 || c.Amount < out.MinAmount {
			out.MinAmount = c.Amount
		}
		if c.Amount > out.MaxAmount {
			out.MaxAmount = c.Amount
		}
		if luckiest == nil || c.Amount > luckiest.Amount ||
			(c.Amount == luckiest.Amount && c.ClaimedAt.Before(luckiest.ClaimedAt)) {
			luckiest = c
		}
	}
	if out.Claims > 0 {
		out.AvgAmount = out.TotalAmount / int64(out.Claims)
		out.LuckiestUser = luckiest.UserID
	}
	return out
}

func (r claimStore) ActivityStats(_ context.Context, activityID int64) (*models.ClaimStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return stats(r.filter(func(c *models.ClaimRecord) bool { return c.ActivityID == activityID })), nil
}

func (r claimStore) UserStats(_ context.Context, userID string) (*models.ClaimStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	s := stats(r.filter(func(c *models.ClaimRecord) bool { return c.UserID == userID }))
	s.LuckiestUser = ""
	return s, nil
}

type accountStore struct{ s *Store }

func (r accountStore) Credit(_ context.Context, userID string, amount int64, idempotencyKey, memo string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.entries[idempotencyKey]; ok {
		return false, nil
	}
	now := time.Now()
	r.s.entries[idempotencyKey] = &models.LedgerEntry{
		ID:             r.s.id(),
		UserID:         userID,
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
		Memo:           memo,
		CreatedAt:      now,
	}

	account, ok := r.s.accounts[userID]
	if !ok {
		account = &models.UserAccount{UserID: userID, CreatedAt: now}
		r.s.accounts[userID] = account
	}
	account.Balance += amount
	account.UpdatedAt = now
	return true, nil
}

func (r accountStore) GetBalance(_ context.Context, userID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if account, ok := r.s.accounts[userID]; ok {
		return account.Balance, nil
	}
	return 0, nil
}

func (r accountStore) GetEntry(_ context.Context, idempotencyKey string) (*models.LedgerEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entry, ok := r.s.entries[idempotencyKey]
	if !ok {
		return nil, &repositories.NotFoundError{Entity: "ledger_entry", ID: idempotencyKey}
	}
	c := *entry
	return &c, nil
}
