package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ActivityStatus int

const (
	ActivityStatusNotStarted ActivityStatus = iota
	ActivityStatusActive
	ActivityStatusEnded
	ActivityStatusCancelled
)

func (s ActivityStatus) String() string {
	switch s {
	case ActivityStatusNotStarted:
		return "not_started"
	case ActivityStatusActive:
		return "active"
	case ActivityStatusEnded:
		return "ended"
	case ActivityStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Activity is one funded giveaway. Amounts are minor currency units.
type Activity struct {
	bun.BaseModel `bun:"table:envelope_activities,alias:ea"`

	ID            int64          `bun:"id,pk,autoincrement"`
	Name          string         `bun:"name,notnull"`
	Description   string         `bun:"description"`
	TotalAmount   int64          `bun:"total_amount,notnull"`
	TotalCount    int            `bun:"total_count,notnull"`
	GrabbedCount  int            `bun:"grabbed_count,notnull,default:0"`
	GrabbedAmount int64          `bun:"grabbed_amount,notnull,default:0"`
	Strategy      string         `bun:"strategy,notnull"`
	MinAmount     int64          `bun:"min_amount,notnull"`
	MaxAmount     int64          `bun:"max_amount,nullzero"`
	StartTime     time.Time      `bun:"start_time,notnull"`
	EndTime       time.Time      `bun:"end_time,notnull"`
	Status        ActivityStatus `bun:"status,notnull,default:0"`
	CreatorID     string         `bun:"creator_id,notnull"`
	CreatedAt     time.Time      `bun:"created_at,notnull"`
	UpdatedAt     time.Time      `bun:"updated_at,notnull"`
}

func (a *Activity) RemainingCount() int {
	return a.TotalCount - a.GrabbedCount
}

func (a *Activity) RemainingAmount() int64 {
	return a.TotalAmount - a.GrabbedAmount
}

// Open reports whether claims may be admitted at the given instant: the
// activity is Active and now falls in [StartTime, EndTime). An operator may
// start an activity early, but it still admits nothing before StartTime.
func (a *Activity) Open(now time.Time) bool {
	return a.Status == ActivityStatusActive && !now.Before(a.StartTime) && now.Before(a.EndTime)
}
