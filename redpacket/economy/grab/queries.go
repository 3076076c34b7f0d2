package grab

import (
	"context"
	"fmt"

	"github.com/ellavondegurechaff/redpacket/redpacket/database/models"
	"github.com/ellavondegurechaff/redpacket/redpacket/database/repositories"
	"github.com/ellavondegurechaff/redpacket/redpacket/economy/lifecycle"
)

func (m *Manager) mustActivity(ctx context.Context, activityID int64) (*models.Activity, error) {
	activity, err := m.activity(ctx, activityID, true)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, fmt.Errorf("%w: %d", lifecycle.ErrActivityNotFound, activityID)
	}
	return activity, nil
}

// ActivityStatus reads the activity from the store, never from the cache.
func (m *Manager) ActivityStatus(ctx context.Context, activityID int64) (*Snapshot, error) {
	activity, err := m.mustActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	return newSnapshot(activity, m.coordinator.Loaded(activityID)), nil
}

// ActivityDetail reports the activity together with whether userID has
// claimed from it and whether a grab could succeed right now.
func (m *Manager) ActivityDetail(ctx context.Context, activityID int64, userID string) (*Detail, error) {
	activity, err := m.mustActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	detail := &Detail{Snapshot: newSnapshot(activity, m.coordinator.Loaded(activityID))}

	record, err := m.claims.GetByActivityAndUser(ctx, activityID, userID)
	switch {
	case err == nil:
		detail.HasClaimed = true
		detail.ClaimedAmount = record.Amount
		detail.TransactionRef = record.TransactionRef
	case !repositories.IsNotFound(err):
		return nil, err
	}

	switch st := admission(activity, m.now()); {
	case st != StatusSuccess:
		detail.CannotGrabReason = st
	case detail.HasClaimed:
		detail.CannotGrabReason = StatusAlreadyClaimed
	case activity.RemainingCount() <= 0:
		detail.CannotGrabReason = StatusNoneLeft
	default:
		detail.CanGrab = true
	}
	return detail, nil
}

// UserClaimHistory lists the user's claims, newest first. activityID 0 lists
// claims across all activities.
func (m *Manager) UserClaimHistory(ctx context.Context, userID string, activityID int64, page repositories.Page) ([]*models.ClaimRecord, int, error) {
	return m.claims.ListByUser(ctx, userID, activityID, page)
}

func (m *Manager) ActivityClaims(ctx context.Context, activityID int64, page repositories.Page) ([]*models.ClaimRecord, int, error) {
	if _, err := m.mustActivity(ctx, activityID); err != nil {
		return nil, 0, err
	}
	return m.claims.ListByActivity(ctx, activityID, page)
}

func (m *Manager) ActivityStats(ctx context.Context, activityID int64) (*models.ClaimStats, error) {
	if _, err := m.mustActivity(ctx, activityID); err != nil {
		return nil, err
	}
	return m.claims.ActivityStats(ctx, activityID)
}

func (m *Manager) UserStats(ctx context.Context, userID string) (*models.ClaimStats, error) {
	return m.claims.UserStats(ctx, userID)
}

func (m *Manager) ListActivities(ctx context.Context, filter repositories.ActivityFilter, page repositories.Page) ([]*Snapshot, int, error) {
	activities, total, err := m.activities.List(ctx, filter, page)
	if err != nil {
		return nil, 0, err
	}

	out := make([]*Snapshot, len(activities))
	for i, a := range activities {
		out[i] = newSnapshot(a, m.coordinator.Loaded(a.ID))
	}
	return out, total, nil
}
