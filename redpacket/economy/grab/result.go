package grab

import (
	"time"

	"github.com/ellavondegurechaff/redpacket/redpacket/database/models"
)

// Status is the user-visible outcome of a grab.
type Status int

const (
	StatusSuccess Status = iota
	StatusAlreadyClaimed
	StatusNoneLeft
	StatusNotStarted
	StatusEnded
	StatusCancelled
	StatusNotFound
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusAlreadyClaimed:
		return "already_claimed"
	case StatusNoneLeft:
		return "none_left"
	case StatusNotStarted:
		return "not_started"
	case StatusEnded:
		return "ended"
	case StatusCancelled:
		return "cancelled"
	case StatusNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Result is what a grab caller sees. Amount, TransactionRef, ClaimedAt and
// ShareIndex are only set on success.
type Result struct {
	Status          Status
	ActivityID      int64
	Amount          int64
	TransactionRef  string
	ClaimedAt       time.Time
	ShareIndex      int
	RemainingCount  int
	RemainingAmount int64
}

// Snapshot is an activity's state with its derived remaining counters.
type Snapshot struct {
	ID              int64
	Name            string
	Description     string
	Status          models.ActivityStatus
	Strategy        string
	TotalAmount     int64
	TotalCount      int
	GrabbedAmount   int64
	GrabbedCount    int
	RemainingAmount int64
	RemainingCount  int
	MinAmount       int64
	MaxAmount       int64
	StartTime       time.Time
	EndTime         time.Time
	CreatorID       string
	// PoolLoaded reports whether this process holds a claim pool for the activity.
	PoolLoaded bool
}

func newSnapshot(a *models.Activity, poolLoaded bool) *Snapshot {
	return &Snapshot{
		ID:              a.ID,
		Name:            a.Name,
		Description:     a.Description,
		Status:          a.Status,
		Strategy:        a.Strategy,
		TotalAmount:     a.TotalAmount,
		TotalCount:      a.TotalCount,
		GrabbedAmount:   a.GrabbedAmount,
		GrabbedCount:    a.GrabbedCount,
		RemainingAmount: a.RemainingAmount(),
		RemainingCount:  a.RemainingCount(),
		MinAmount:       a.MinAmount,
		MaxAmount:       a.MaxAmount,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		CreatorID:       a.CreatorID,
		PoolLoaded:      poolLoaded,
	}
}

// Detail is an activity as seen by one user.
type Detail struct {
	*Snapshot
	HasClaimed     bool
	ClaimedAmount  int64
	TransactionRef string
	CanGrab        bool
	// CannotGrabReason is meaningful only when CanGrab is false.
	CannotGrabReason Status
}
