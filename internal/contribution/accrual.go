package contribution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/coopledger/patronage/internal/domain"
	"github.com/coopledger/patronage/internal/event"
	"github.com/coopledger/patronage/internal/policy"
	"github.com/coopledger/patronage/internal/store"
)

// AccrualConsumer is the idempotency scope of the pending-patronage
// projection. One outcome row per approved contribution.
const AccrualConsumer = "pending-accrual"

// RegisterAccrual subscribes the pending-patronage projector to
// contribution.approved. Each approval adds amount times the policy
// weight to the member's running accrual for the period, giving reports
// a weighted-patronage view before the period closes. The close
// recomputes from the contributions table, so the projection is
// advisory and safe to rebuild.
//
// Redelivery safety comes from the bus's processed-event record; the
// handler itself is additive and must not run twice for one event.
func RegisterAccrual(bus *event.Bus, st *store.Store, pol policy.Policy, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	bus.Subscribe(event.TypeContributionApproved, AccrualConsumer, func(ctx context.Context, ev event.Envelope) error {
		var p event.ContributionResolved
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", ev.Type, err)
		}
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil {
			return fmt.Errorf("contribution %s: bad amount %q: %w", p.ContributionID, p.Amount, err)
		}
		weighted := amount.Mul(pol.Weight(domain.ContributionType(p.Type)))
		if err := st.AccruePendingPatronage(ctx, p.PeriodID, p.MemberID, weighted); err != nil {
			return err
		}
		logger.Debug("pending patronage accrued",
			"member", p.MemberID, "period", p.PeriodID, "weighted", weighted.String())
		return nil
	})
}
