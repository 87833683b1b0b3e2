// Package contribution implements the contribution lifecycle: a member
// submits a claimed contribution against the open period, and a
// different member approves or rejects it. Both resolutions are
// terminal and one-way.
//
// Approval never posts to the ledger directly. It emits
// contribution.approved, which the period-close orchestrator consumes
// when it aggregates patronage; the lifecycle stays decoupled from
// ledger internals.
package contribution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/coopledger/patronage/internal/domain"
	"github.com/coopledger/patronage/internal/event"
	"github.com/coopledger/patronage/internal/policy"
	"github.com/coopledger/patronage/internal/store"
)

// Service governs contribution state transitions and emits lifecycle
// events.
type Service struct {
	store  *store.Store
	bus    *event.Bus
	policy policy.Policy
	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates a contribution service.
func New(st *store.Store, bus *event.Bus, pol policy.Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, bus: bus, policy: pol, logger: logger, now: time.Now}
}

// Submit records a pending contribution against an open period.
//
// Validation failures (unknown member or period, unknown type, zero
// amount) reject synchronously before any state change. A period that
// exists but is not open fails with ErrClosedPeriod.
func (s *Service) Submit(ctx context.Context, memberID, periodID string, ctype domain.ContributionType, amount domain.Money, description string) (domain.Contribution, error) {
	if !s.policy.KnowsType(ctype) {
		return domain.Contribution{}, fmt.Errorf("type %q: %w", ctype, ErrUnknownContributionType)
	}
	if amount.IsZero() {
		return domain.Contribution{}, ErrZeroAmount
	}
	if _, err := s.store.GetMember(ctx, memberID); err != nil {
		return domain.Contribution{}, err
	}
	period, err := s.store.GetPeriod(ctx, periodID)
	if err != nil {
		return domain.Contribution{}, err
	}
	if !period.AcceptsContributions() {
		return domain.Contribution{}, fmt.Errorf("period %s is %s: %w", periodID, period.Status, ErrClosedPeriod)
	}

	c := domain.Contribution{
		ID:          uuid.Must(uuid.NewV7()).String(),
		MemberID:    memberID,
		PeriodID:    periodID,
		Type:        ctype,
		Amount:      amount,
		Description: description,
		Status:      domain.ContributionPending,
		SubmittedAt: s.now(),
	}
	if err := s.store.InsertContribution(ctx, c); err != nil {
		return domain.Contribution{}, err
	}
	s.logger.Info("contribution submitted",
		"contribution", c.ID, "member", memberID, "period", periodID,
		"type", ctype, "amount", amount.String())

	s.emit(ctx, event.TypeContributionSubmitted, c, "", "")
	return c, nil
}

// Approve performs the one-way pending → approved transition and emits
// contribution.approved carrying the valued amount.
//
// The approver must be a different member than the contributor; the
// transition itself is an atomic status-guarded update, so concurrent
// resolutions see exactly one winner.
func (s *Service) Approve(ctx context.Context, contributionID, approverID string) (domain.Contribution, error) {
	return s.resolve(ctx, contributionID, approverID, domain.ContributionApproved, "")
}

// Reject performs the one-way pending → rejected transition and emits
// contribution.rejected. Rejected contributions never post to the
// ledger.
func (s *Service) Reject(ctx context.Context, contributionID, approverID, reason string) (domain.Contribution, error) {
	return s.resolve(ctx, contributionID, approverID, domain.ContributionRejected, reason)
}

func (s *Service) resolve(ctx context.Context, contributionID, approverID string, status domain.ContributionStatus, reason string) (domain.Contribution, error) {
	c, err := s.store.GetContribution(ctx, contributionID)
	if err != nil {
		return domain.Contribution{}, err
	}
	if c.MemberID == approverID {
		return domain.Contribution{}, fmt.Errorf("member %s: %w", approverID, ErrSelfApproval)
	}
	if _, err := s.store.GetMember(ctx, approverID); err != nil {
		return domain.Contribution{}, err
	}
	if c.Resolved() {
		return domain.Contribution{}, fmt.Errorf("contribution %s is %s: %w", contributionID, c.Status, ErrAlreadyResolved)
	}

	at := s.now()
	ok, err := s.store.ResolveContribution(ctx, contributionID, status, approverID, at, reason)
	if err != nil {
		return domain.Contribution{}, err
	}
	if !ok {
		// Lost the race to a concurrent resolution.
		return domain.Contribution{}, fmt.Errorf("contribution %s: %w", contributionID, ErrAlreadyResolved)
	}

	c.Status = status
	c.ResolvedBy = approverID
	c.ResolvedAt = at
	c.Reason = reason
	s.logger.Info("contribution resolved",
		"contribution", c.ID, "status", status, "by", approverID)

	eventType := event.TypeContributionApproved
	if status == domain.ContributionRejected {
		eventType = event.TypeContributionRejected
	}
	s.emit(ctx, eventType, c, approverID, reason)
	return c, nil
}

// Pending returns the pending-contribution queue for a period.
func (s *Service) Pending(ctx context.Context, periodID string) ([]domain.Contribution, error) {
	return s.store.ListContributions(ctx, periodID, domain.ContributionPending)
}

// emit publishes a lifecycle event. Emission failure is logged, not
// returned: the state transition already committed, and the event log
// insert is retried by the next publication for the same fact.
func (s *Service) emit(ctx context.Context, eventType string, c domain.Contribution, by, reason string) {
	var payload any
	if eventType == event.TypeContributionSubmitted {
		payload = event.ContributionSubmitted{
			ContributionID: c.ID, MemberID: c.MemberID, PeriodID: c.PeriodID,
			Type: string(c.Type), Amount: c.Amount.Amount.String(),
		}
	} else {
		payload = event.ContributionResolved{
			ContributionID: c.ID, MemberID: c.MemberID, PeriodID: c.PeriodID,
			Type: string(c.Type), Amount: c.Amount.Amount.String(),
			ResolvedBy: by, Reason: reason,
		}
	}
	ev, err := event.New(eventType, c.ID, s.now(), payload)
	if err != nil {
		s.logger.Error("encode event failed", "type", eventType, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("event publication incomplete", "type", eventType, "error", err)
	}
}
