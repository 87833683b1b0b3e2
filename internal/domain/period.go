package domain

import "time"

// PeriodStatus is the lifecycle state of an allocation period.
//
// At most one period is open or closing at any time. closing is a
// transient, exclusive state held by the close orchestrator; the
// open → closing transition is a single conditional update and acts
// as the system-wide close lock.
type PeriodStatus string

const (
	PeriodOpen    PeriodStatus = "open"
	PeriodClosing PeriodStatus = "closing"
	PeriodClosed  PeriodStatus = "closed"
)

// Period is a bounded time window that contributions target and that
// the close workflow finalizes into posted allocations.
type Period struct {
	ID       string
	Name     string
	StartsAt time.Time
	EndsAt   time.Time
	Status   PeriodStatus
}

// AcceptsContributions reports whether new contributions may target
// this period.
func (p Period) AcceptsContributions() bool {
	return p.Status == PeriodOpen
}

// Allocation is the per-member output of the formula engine for one
// period. Immutable once the period is closed.
type Allocation struct {
	PeriodID string
	MemberID string
	Raw      Money // unweighted contribution total
	Weighted Money // Σ(amount × weight[type])
	Score    string // weighted / total, decimal string at full precision
	Amount   Money // rounded share of the distributable surplus
}
