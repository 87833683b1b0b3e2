// Package close implements the period close workflow: a persisted step
// machine that aggregates approved contributions, computes allocations,
// waits for governance approval, posts the allocation transactions, and
// locks the period behind a compliance gate.
//
// Every completed step is recorded before the next one starts, so a
// crash mid-close resumes from the last recorded step instead of
// starting over. Posting is idempotent end to end: allocation
// transactions carry content-addressed IDs, so a resumed posting pass
// re-posts the whole batch and the ledger suppresses the duplicates.
package close

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coopledger/patronage/internal/allocation"
	"github.com/coopledger/patronage/internal/compliance"
	"github.com/coopledger/patronage/internal/domain"
	"github.com/coopledger/patronage/internal/event"
	"github.com/coopledger/patronage/internal/ledger"
	"github.com/coopledger/patronage/internal/policy"
	"github.com/coopledger/patronage/internal/store"
)

// Workflow steps in execution order.
const (
	StepAggregatePatronage   = "aggregate_patronage"
	StepApplyWeights         = "apply_weights"
	StepCalculateAllocations = "calculate_allocations"
	StepProposeAllocations   = "propose_allocations"
	StepAwaitApproval        = "await_approval"
	StepPostAllocations      = "post_allocations"
	StepLockPeriod           = "lock_period"
)

// Steps lists the workflow in order, for status reporting.
var Steps = []string{
	StepAggregatePatronage,
	StepApplyWeights,
	StepCalculateAllocations,
	StepProposeAllocations,
	StepAwaitApproval,
	StepPostAllocations,
	StepLockPeriod,
}

var (
	// ErrPeriodNotOpen reports an Initiate against a period that is not
	// open: either it is already closing (a concurrent initiation won)
	// or already closed.
	ErrPeriodNotOpen = errors.New("period is not open")

	// ErrPeriodNotClosing reports Approve, Reject, or Resume against a
	// period with no close in progress.
	ErrPeriodNotClosing = errors.New("period is not closing")

	// ErrApprovalPending reports a Resume that reached the governance
	// gate: the workflow is parked until Approve or Reject.
	ErrApprovalPending = errors.New("close awaits governance approval")

	// ErrPeriodCloseFailed reports a posting failure during
	// post_allocations. Every transaction posted in the failed batch
	// has been reversed; the period stays closing for a retry.
	ErrPeriodCloseFailed = errors.New("period close failed")

	// ErrComplianceViolation reports that the lock_period gate found
	// violations. The period stays closing until they are remedied.
	ErrComplianceViolation = errors.New("compliance violations block period lock")
)

// Orchestrator drives the close workflow.
type Orchestrator struct {
	store   *store.Store
	ledger  *ledger.Service
	checker *compliance.Checker
	bus     *event.Bus
	policy  policy.Policy
	logger  *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates a close orchestrator.
func New(st *store.Store, led *ledger.Service, chk *compliance.Checker, bus *event.Bus, pol policy.Policy, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:   st,
		ledger:  led,
		checker: chk,
		bus:     bus,
		policy:  pol,
		logger:  logger.With("component", "close"),
		now:     time.Now,
	}
}

// aggregateOutput is persisted with the aggregate_patronage step so a
// resumed close recovers the surplus it was initiated with.
type aggregateOutput struct {
	Surplus       string `json:"surplus"`
	Currency      string `json:"currency"`
	Contributions int    `json:"contributions"`
}

// Initiate starts closing a period against the given distributable
// surplus. The open → closing transition is a single conditional
// update, so exactly one of any concurrent initiations wins; the rest
// get ErrPeriodNotOpen.
//
// On success the workflow runs through propose_allocations and parks at
// the governance gate (returned error is ErrApprovalPending).
func (o *Orchestrator) Initiate(ctx context.Context, periodID string, surplus domain.Money) error {
	ok, err := o.store.TransitionPeriod(ctx, periodID, domain.PeriodOpen, domain.PeriodClosing)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("period %s: %w", periodID, ErrPeriodNotOpen)
	}
	o.logger.Info("period close initiated", "period", periodID, "surplus", surplus.String())
	o.emit(ctx, event.TypePeriodClosingInitiated, periodID, event.PeriodTransition{
		PeriodID: periodID, Status: string(domain.PeriodClosing),
	})

	if err := o.aggregate(ctx, periodID, surplus); err != nil {
		return err
	}
	// Parking at the governance gate is the expected outcome of a
	// successful initiation.
	if err := o.run(ctx, periodID); err != nil && !errors.Is(err, ErrApprovalPending) {
		return err
	}
	return nil
}

// Resume continues an interrupted close from the last recorded step.
// Returns ErrApprovalPending when the workflow is parked at the
// governance gate.
func (o *Orchestrator) Resume(ctx context.Context, periodID string) error {
	if err := o.requireClosing(ctx, periodID); err != nil {
		return err
	}
	return o.run(ctx, periodID)
}

// Approve records the governance approval of the proposed allocations
// and drives the workflow through posting and the period lock.
func (o *Orchestrator) Approve(ctx context.Context, periodID string) error {
	if err := o.requireClosing(ctx, periodID); err != nil {
		return err
	}
	steps, err := o.store.CloseSteps(ctx, periodID)
	if err != nil {
		return err
	}
	if _, ok := steps[StepProposeAllocations]; !ok {
		return fmt.Errorf("period %s has no proposed allocations: %w", periodID, ErrPeriodNotClosing)
	}
	if _, ok := steps[StepAwaitApproval]; !ok {
		if err := o.store.RecordCloseStep(ctx, periodID, StepAwaitApproval, "", o.now()); err != nil {
			return err
		}
		surplus, err := o.surplusFor(ctx, periodID)
		if err != nil {
			return err
		}
		set, err := o.allocationSet(ctx, periodID, surplus)
		if err != nil {
			return err
		}
		o.emit(ctx, event.TypeAllocationApproved, periodID, set)
		o.logger.Info("allocations approved", "period", periodID)
	}
	return o.run(ctx, periodID)
}

// Reject abandons a close in progress: the period reverts to open, the
// proposed allocations and all workflow progress are discarded. Nothing
// ledger-visible happens.
func (o *Orchestrator) Reject(ctx context.Context, periodID, reason string) error {
	ok, err := o.store.TransitionPeriod(ctx, periodID, domain.PeriodClosing, domain.PeriodOpen)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("period %s: %w", periodID, ErrPeriodNotClosing)
	}
	if err := o.store.DeleteAllocations(ctx, periodID); err != nil {
		return err
	}
	if err := o.store.ClearCloseSteps(ctx, periodID); err != nil {
		return err
	}
	o.logger.Info("period close rejected", "period", periodID, "reason", reason)
	return nil
}

// Abort is Reject without a governance reason, for operator use.
func (o *Orchestrator) Abort(ctx context.Context, periodID string) error {
	return o.Reject(ctx, periodID, "aborted")
}

// Status reports the completed steps for a period in workflow order.
func (o *Orchestrator) Status(ctx context.Context, periodID string) ([]store.CloseStep, error) {
	recorded, err := o.store.CloseSteps(ctx, periodID)
	if err != nil {
		return nil, err
	}
	var out []store.CloseStep
	for _, name := range Steps {
		if cs, ok := recorded[name]; ok {
			out = append(out, cs)
		}
	}
	return out, nil
}

func (o *Orchestrator) requireClosing(ctx context.Context, periodID string) error {
	p, err := o.store.GetPeriod(ctx, periodID)
	if err != nil {
		return err
	}
	if p.Status != domain.PeriodClosing {
		return fmt.Errorf("period %s is %s: %w", periodID, p.Status, ErrPeriodNotClosing)
	}
	return nil
}

// aggregate records the first step, capturing the surplus so later
// steps (and resumed runs) read it back from durable state.
func (o *Orchestrator) aggregate(ctx context.Context, periodID string, surplus domain.Money) error {
	approved, err := o.store.ListContributions(ctx, periodID, domain.ContributionApproved)
	if err != nil {
		return err
	}
	out, err := json.Marshal(aggregateOutput{
		Surplus:       surplus.Amount.String(),
		Currency:      surplus.Currency,
		Contributions: len(approved),
	})
	if err != nil {
		return err
	}
	return o.store.RecordCloseStep(ctx, periodID, StepAggregatePatronage, string(out), o.now())
}

// surplusFor recovers the distributable surplus from the persisted
// aggregate_patronage step, so resumed runs use the value the close was
// initiated with.
func (o *Orchestrator) surplusFor(ctx context.Context, periodID string) (domain.Money, error) {
	steps, err := o.store.CloseSteps(ctx, periodID)
	if err != nil {
		return domain.Money{}, err
	}
	agg, ok := steps[StepAggregatePatronage]
	if !ok {
		return domain.Money{}, fmt.Errorf("period %s close has no aggregate step: %w", periodID, ErrPeriodNotClosing)
	}
	var aggOut aggregateOutput
	if err := json.Unmarshal([]byte(agg.Output), &aggOut); err != nil {
		return domain.Money{}, fmt.Errorf("corrupt aggregate output for %s: %w", periodID, err)
	}
	surplus, err := domain.MoneyFromString(aggOut.Surplus, aggOut.Currency)
	if err != nil {
		return domain.Money{}, fmt.Errorf("corrupt surplus for %s: %w", periodID, err)
	}
	return surplus, nil
}

// run executes every step not yet recorded, in order, stopping at the
// governance gate until Approve records await_approval.
func (o *Orchestrator) run(ctx context.Context, periodID string) error {
	surplus, err := o.surplusFor(ctx, periodID)
	if err != nil {
		return err
	}
	steps, err := o.store.CloseSteps(ctx, periodID)
	if err != nil {
		return err
	}

	done := func(name string) bool { _, ok := steps[name]; return ok }

	if !done(StepProposeAllocations) {
		if err := o.propose(ctx, periodID, surplus, done); err != nil {
			return err
		}
	}
	if !done(StepAwaitApproval) {
		return fmt.Errorf("period %s: %w", periodID, ErrApprovalPending)
	}
	if !done(StepPostAllocations) {
		if err := o.postAllocations(ctx, periodID, surplus); err != nil {
			return err
		}
	}
	if !done(StepLockPeriod) {
		if err := o.lockPeriod(ctx, periodID, surplus); err != nil {
			return err
		}
	}
	return nil
}

// propose computes the allocation set and stores it, recording the
// three computation steps along the way.
func (o *Orchestrator) propose(ctx context.Context, periodID string, surplus domain.Money, done func(string) bool) error {
	approved, err := o.store.ListContributions(ctx, periodID, domain.ContributionApproved)
	if err != nil {
		return err
	}

	weights := o.policy.Weights
	allocs, notes := allocation.Compute(periodID, approved, weights, surplus)
	for _, n := range notes {
		o.logger.Warn("allocation note", "period", periodID,
			"code", n.Code, "member", n.MemberID, "detail", n.Detail)
	}

	if !done(StepApplyWeights) {
		total := allocation.Sum(allocs, surplus.Currency)
		out, _ := json.Marshal(map[string]any{"members": len(allocs), "allocated": total.Amount.String()})
		if err := o.store.RecordCloseStep(ctx, periodID, StepApplyWeights, string(out), o.now()); err != nil {
			return err
		}
	}
	if !done(StepCalculateAllocations) {
		if err := o.store.RecordCloseStep(ctx, periodID, StepCalculateAllocations, "", o.now()); err != nil {
			return err
		}
	}

	if err := o.store.ReplaceAllocations(ctx, periodID, allocs); err != nil {
		return err
	}
	if err := o.store.RecordCloseStep(ctx, periodID, StepProposeAllocations, "", o.now()); err != nil {
		return err
	}
	set, err := o.allocationSet(ctx, periodID, surplus)
	if err != nil {
		return err
	}
	o.emit(ctx, event.TypeAllocationProposed, periodID, set)
	o.logger.Info("allocations proposed", "period", periodID, "members", len(allocs))
	return nil
}

// postAllocations posts one balanced transaction per allocation per
// basis: credit the member capital account, debit retained surplus.
// The batch is all-or-nothing; on any failure every transaction posted
// so far is reversed and the period stays closing.
func (o *Orchestrator) postAllocations(ctx context.Context, periodID string, surplus domain.Money) error {
	allocs, err := o.store.AllocationsForPeriod(ctx, periodID)
	if err != nil {
		return err
	}

	var posted []string
	for _, a := range allocs {
		if a.Amount.IsZero() {
			continue
		}
		for _, basis := range domain.Bases {
			tx, err := o.allocationTx(ctx, periodID, a, basis)
			if err == nil {
				err = o.ledger.Post(ctx, tx)
			}
			if err != nil {
				o.compensate(ctx, posted)
				return fmt.Errorf("post allocation for %s on %s basis: %v: %w",
					a.MemberID, basis, err, ErrPeriodCloseFailed)
			}
			posted = append(posted, tx.ID)
		}
	}

	out, _ := json.Marshal(map[string]any{"transactions": len(posted)})
	if err := o.store.RecordCloseStep(ctx, periodID, StepPostAllocations, string(out), o.now()); err != nil {
		return err
	}
	set, err := o.allocationSet(ctx, periodID, surplus)
	if err != nil {
		return err
	}
	o.emit(ctx, event.TypeAllocationPosted, periodID, set)
	o.logger.Info("allocations posted", "period", periodID, "transactions", len(posted))
	return nil
}

// allocationTx builds the content-addressed allocation transaction for
// one member on one basis. The same period, member, basis, and amount
// produce the same ID, so a crash-resumed posting pass is a no-op for
// transactions that already landed.
//
// A transaction that landed but was then reversed (failed batch
// compensation) must not collapse into the suppressed duplicate on
// retry: the retry walks to the first identity that is either unused or
// posted-and-standing.
func (o *Orchestrator) allocationTx(ctx context.Context, periodID string, a domain.Allocation, basis domain.Basis) (domain.Transaction, error) {
	memo := fmt.Sprintf("patronage allocation %s %s (%s)", periodID, a.MemberID, basis)
	lines := []domain.Line{
		{AccountID: domain.MemberAccountID(a.MemberID, basis), Amount: a.Amount},
		{AccountID: o.policy.SurplusAccountID(basis), Amount: a.Amount.Neg()},
	}
	base := fmt.Sprintf("allocation/%s/%s/%s", periodID, a.MemberID, basis)

	for attempt := 0; ; attempt++ {
		sourceKey := base
		if attempt > 0 {
			sourceKey = fmt.Sprintf("%s/retry/%d", base, attempt)
		}
		id, err := domain.TransactionID(sourceKey, domain.CategoryAllocation, memo, lines, "")
		if err != nil {
			return domain.Transaction{}, err
		}
		tx := domain.Transaction{
			ID:         id,
			Category:   domain.CategoryAllocation,
			Memo:       memo,
			Lines:      lines,
			OccurredAt: o.now(),
		}

		_, err = o.store.GetTransaction(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return tx, nil
		}
		if err != nil {
			return domain.Transaction{}, err
		}
		reversed, err := o.store.HasReversal(ctx, id)
		if err != nil {
			return domain.Transaction{}, err
		}
		if !reversed {
			// Already posted and standing: the duplicate append will
			// be suppressed, which is the resume semantics we want.
			return tx, nil
		}
	}
}

// compensate reverses every transaction of a failed posting batch.
// Reversal is itself idempotent, so a repeated failure path cannot
// double-reverse.
func (o *Orchestrator) compensate(ctx context.Context, posted []string) {
	for _, id := range posted {
		if _, err := o.ledger.Reverse(ctx, id, "allocation posting batch failed"); err != nil {
			o.logger.Error("compensating reversal failed", "transaction", id, "error", err)
		}
	}
}

// lockPeriod runs the compliance gate and, if clean, performs the final
// closing → closed transition.
func (o *Orchestrator) lockPeriod(ctx context.Context, periodID string, surplus domain.Money) error {
	violations, err := o.checker.RunAll(ctx, periodID, surplus)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		for _, v := range violations {
			o.logger.Error("compliance violation blocks lock", "period", periodID, "violation", v.String())
		}
		return fmt.Errorf("period %s: %d violations: %w", periodID, len(violations), ErrComplianceViolation)
	}

	ok, err := o.store.TransitionPeriod(ctx, periodID, domain.PeriodClosing, domain.PeriodClosed)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("period %s: %w", periodID, ErrPeriodNotClosing)
	}
	if err := o.store.RecordCloseStep(ctx, periodID, StepLockPeriod, "", o.now()); err != nil {
		return err
	}
	o.emit(ctx, event.TypePeriodClosed, periodID, event.PeriodTransition{
		PeriodID: periodID, Status: string(domain.PeriodClosed),
	})
	o.logger.Info("period closed", "period", periodID)
	return nil
}

func (o *Orchestrator) allocationSet(ctx context.Context, periodID string, surplus domain.Money) (event.AllocationSet, error) {
	allocs, err := o.store.AllocationsForPeriod(ctx, periodID)
	if err != nil {
		return event.AllocationSet{}, err
	}
	amounts := map[string]string{}
	for _, a := range allocs {
		amounts[a.MemberID] = a.Amount.Amount.String()
	}
	return event.AllocationSet{
		PeriodID: periodID,
		Surplus:  surplus.Amount.String(),
		Amounts:  amounts,
	}, nil
}

// emit publishes a workflow event. Emission failure is logged, not
// returned: the state transition already committed.
func (o *Orchestrator) emit(ctx context.Context, eventType, periodID string, payload any) {
	ev, err := event.New(eventType, periodID, o.now(), payload)
	if err != nil {
		o.logger.Error("encode event failed", "type", eventType, "error", err)
		return
	}
	if err := o.bus.Publish(ctx, ev); err != nil {
		o.logger.Warn("event publication incomplete", "type", eventType, "error", err)
	}
}
