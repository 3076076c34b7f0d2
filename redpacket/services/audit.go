package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ellavondegurechaff/redpacket/redpacket/config"
	"github.com/ellavondegurechaff/redpacket/redpacket/database/models"
	"github.com/ellavondegurechaff/redpacket/redpacket/database/repositories"
	"github.com/ellavondegurechaff/redpacket/redpacket/logger"
)

// ReportSink persists a rendered audit report and returns where it went.
type ReportSink interface {
	UploadReport(ctx context.Context, name string, data []byte) (string, error)
}

type Aggregates struct {
	Count  int   `json:"count"`
	Amount int64 `json:"amount"`
}

// AuditReport compares an activity's denormalized counters with what its
// shares and claim records say.
type AuditReport struct {
	ActivityID     int64      `json:"activity_id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	TotalAmount    int64      `json:"total_amount"`
	TotalCount     int        `json:"total_count"`
	Before         Aggregates `json:"before"`
	After          Aggregates `json:"after"`
	ClaimedShares  Aggregates `json:"claimed_shares"`
	AllocatedCount int        `json:"allocated_count"`
	AllocatedSum   int64      `json:"allocated_sum"`
	PendingClaims  int        `json:"pending_claims"`
	LuckiestUser   string     `json:"luckiest_user,omitempty"`
	Drift          bool       `json:"drift"`
	Issues         []string   `json:"issues,omitempty"`
	GeneratedAt    time.Time  `json:"generated_at"`
	Location       string     `json:"location,omitempty"`
}

func (r *AuditReport) Healthy() bool {
	return len(r.Issues) == 0
}

type AuditService struct {
	activities repositories.ActivityRepository
	shares     repositories.ShareRepository
	claims     repositories.ClaimRepository
	sink       ReportSink
}

// NewAuditService builds an auditor. sink may be nil, in which case reports
// are only returned.
func NewAuditService(activities repositories.ActivityRepository, shares repositories.ShareRepository, claims repositories.ClaimRepository, sink ReportSink) *AuditService {
	return &AuditService{activities: activities, shares: shares, claims: claims, sink: sink}
}

// Audit rebuilds the activity's aggregates from its claim records, checks the
// share and claim invariants and uploads the report when a sink is configured.
func (s *AuditService) Audit(ctx context.Context, activityID int64) (*AuditReport, error) {
	before, err := s.activities.GetByID(ctx, activityID)
	if err != nil {
		return nil, err
	}

	available, err := s.shares.ListByStatus(ctx, activityID, models.ShareStatusAvailable)
	if err != nil {
		return nil, err
	}
	claimed, err := s.shares.ListByStatus(ctx, activityID, models.ShareStatusClaimed)
	if err != nil {
		return nil, err
	}

	after, err := s.activities.RebuildAggregates(ctx, activityID)
	if err != nil {
		return nil, err
	}
	stats, err := s.claims.ActivityStats(ctx, activityID)
	if err != nil {
		return nil, err
	}
	pending, err := s.countPending(ctx, activityID)
	if err != nil {
		return nil, err
	}

	report := &AuditReport{
		ActivityID:   activityID,
		Name:         after.Name,
		Status:       after.Status.String(),
		TotalAmount:  after.TotalAmount,
		TotalCount:   after.TotalCount,
		Before:       Aggregates{Count: before.GrabbedCount, Amount: before.GrabbedAmount},
		After:        Aggregates{Count: after.GrabbedCount, Amount: after.GrabbedAmount},
		LuckiestUser: stats.LuckiestUser,
		GeneratedAt:  time.Now().UTC(),
	}
	report.Drift = report.Before != report.After

	for _, sh := range claimed {
		report.ClaimedShares.Count++
		report.ClaimedShares.Amount += sh.Amount
	}
	report.AllocatedCount = len(available) + len(claimed)
	report.AllocatedSum = report.ClaimedShares.Amount
	for _, sh := range available {
		report.AllocatedSum += sh.Amount
	}
	report.PendingClaims = pending

	report.check()

	if report.Drift {
		slog.Warn("Activity aggregates drifted and were rebuilt",
			slog.String("type", "db"),
			slog.Int64("activity_id", activityID),
			slog.Int64("before_amount", report.Before.Amount),
			slog.Int64("after_amount", report.After.Amount))
	}
	for _, issue := range report.Issues {
		logger.LogError("Audit found inconsistency", fmt.Errorf("%s", issue), slog.Int64("activity_id", activityID))
	}

	if s.sink != nil {
		if err := s.upload(ctx, report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (s *AuditService) countPending(ctx context.Context, activityID int64) (int, error) {
	pending := 0
	page := repositories.Page{Limit: config.MaxPageSize}
	for {
		records, total, err := s.claims.ListByActivity(ctx, activityID, page)
		if err != nil {
			return 0, err
		}
		for _, r := range records {
			if r.Settlement == models.SettlementPending {
				pending++
			}
		}
		page.Offset += len(records)
		if len(records) == 0 || page.Offset >= total {
			return pending, nil
		}
	}
}

func (r *AuditReport) check() {
	if r.AllocatedCount > 0 && r.AllocatedCount != r.TotalCount {
		r.Issues = append(r.Issues, fmt.Sprintf("allocated %d shares, activity funds %d", r.AllocatedCount, r.TotalCount))
	}
	if r.AllocatedCount > 0 && r.AllocatedSum != r.TotalAmount {
		r.Issues = append(r.Issues, fmt.Sprintf("shares sum to %d, activity funds %d", r.AllocatedSum, r.TotalAmount))
	}
	if r.ClaimedShares != r.After {
		r.Issues = append(r.Issues, fmt.Sprintf("claimed shares %d/%d do not match claim records %d/%d",
			r.ClaimedShares.Count, r.ClaimedShares.Amount, r.After.Count, r.After.Amount))
	}
	if r.After.Amount > r.TotalAmount || r.After.Count > r.TotalCount {
		r.Issues = append(r.Issues, fmt.Sprintf("claims %d/%d exceed funding %d/%d",
			r.After.Count, r.After.Amount, r.TotalCount, r.TotalAmount))
	}
}

func (s *AuditService) upload(ctx context.Context, report *AuditReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode audit report: %w", err)
	}

	name := fmt.Sprintf("activity-%d/%s.json", report.ActivityID, report.GeneratedAt.Format("20060102T150405Z"))
	location, err := s.sink.UploadReport(ctx, name, data)
	if err != nil {
		return err
	}
	report.Location = location
	return nil
}
