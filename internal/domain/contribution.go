package domain

import "time"

// ContributionType names what kind of value a member contributed.
//
// The vocabulary is open: the allocation policy's weight table defines
// which types a deployment accepts (labor, capital, property, revenue,
// cash, community, ...). Submission validates the type against the
// policy rather than a fixed enum.
type ContributionType string

// ContributionStatus is the lifecycle state of a contribution.
// Both approved and rejected are terminal.
type ContributionStatus string

const (
	ContributionPending  ContributionStatus = "pending"
	ContributionApproved ContributionStatus = "approved"
	ContributionRejected ContributionStatus = "rejected"
)

// Contribution is a member's claimed contribution to a period, awaiting
// approval by a different member before it counts toward patronage.
type Contribution struct {
	ID          string
	MemberID    string
	PeriodID    string
	Type        ContributionType
	Amount      Money
	Description string
	Status      ContributionStatus
	SubmittedAt time.Time
	ResolvedBy  string // approver or rejecter member ID
	ResolvedAt  time.Time
	Reason      string // rejection reason, if rejected
}

// Resolved reports whether the contribution reached a terminal state.
func (c Contribution) Resolved() bool {
	return c.Status != ContributionPending
}
