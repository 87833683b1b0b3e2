// Package event implements the distribution channel connecting the
// patronage subsystems: an immutable event envelope, an in-process bus
// with at-least-once delivery, and idempotency bookkeeping so consumers
// survive redelivery without duplicate side effects.
//
// Idempotency is structural, not a special replay mode. The same code
// path handles first delivery and redelivery:
//
//  1. Before invoking a handler, the bus checks the processed-event
//     record for (event id, consumer). A hit means the delivery is a
//     duplicate and is treated as success with no side effect.
//  2. After a handler succeeds, the bus records (event id, consumer,
//     outcome) atomically (insert-if-absent).
//  3. A crash between handler and record re-runs the handler on the
//     next delivery. Handlers whose side effect is a ledger post are
//     safe because transaction IDs are content-addressed and the store
//     suppresses duplicate appends.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Canonical event types crossing subsystem boundaries.
const (
	TypeContributionSubmitted = "contribution.submitted"
	TypeContributionApproved  = "contribution.approved"
	TypeContributionRejected  = "contribution.rejected"
	TypePeriodClosingInitiated = "period.closing.initiated"
	TypeAllocationProposed    = "allocation.proposed"
	TypeAllocationApproved    = "allocation.approved"
	TypeAllocationPosted      = "allocation.posted"
	TypePeriodClosed          = "period.closed"
)

// Envelope is an immutable record of a fact that has already happened.
// It is the sole channel by which subsystems learn of each other's
// state changes.
type Envelope struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregateId"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Payload     json.RawMessage `json:"payload"`
	Seq         int64           `json:"seq,omitempty"` // assigned by the store
}

// New builds an envelope with a fresh UUIDv7 ID (time-sortable, which
// keeps event listings readable) and a marshaled payload.
func New(eventType, aggregateID string, at time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Type:        eventType,
		AggregateID: aggregateID,
		OccurredAt:  at,
		Payload:     raw,
	}, nil
}

// ContributionResolved is the payload of contribution.approved and
// contribution.rejected.
type ContributionResolved struct {
	ContributionID string `json:"contributionId"`
	MemberID       string `json:"memberId"`
	PeriodID       string `json:"periodId"`
	Type           string `json:"type"`
	Amount         string `json:"amount"` // decimal string, valued amount
	ResolvedBy     string `json:"resolvedBy"`
	Reason         string `json:"reason,omitempty"`
}

// ContributionSubmitted is the payload of contribution.submitted.
type ContributionSubmitted struct {
	ContributionID string `json:"contributionId"`
	MemberID       string `json:"memberId"`
	PeriodID       string `json:"periodId"`
	Type           string `json:"type"`
	Amount         string `json:"amount"`
}

// PeriodTransition is the payload of period.closing.initiated and
// period.closed.
type PeriodTransition struct {
	PeriodID string `json:"periodId"`
	Status   string `json:"status"`
}

// AllocationSet is the payload of allocation.proposed, allocation.approved,
// and allocation.posted.
type AllocationSet struct {
	PeriodID string            `json:"periodId"`
	Surplus  string            `json:"surplus"`
	Amounts  map[string]string `json:"amounts"` // member ID → decimal string
}
