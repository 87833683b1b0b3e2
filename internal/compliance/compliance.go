// Package compliance validates ledger state, capital accounts, and
// allocation sets. Validators are read-only: they report violations
// and never mutate anything. The close orchestrator runs them as a
// gate before locking a period, and the CLI exposes them directly.
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coopledger/patronage/internal/domain"
	"github.com/coopledger/patronage/internal/store"
)

// Violation codes.
const (
	CodeUnbalancedTransaction = "unbalanced-transaction"
	CodeIndexDrift            = "index-drift"
	CodeNegativeCapital       = "negative-capital-account"
	CodeAllocationOverrun     = "allocation-overrun"
	CodeNegativeAllocation    = "negative-allocation"
)

// Violation is a single finding. Subject identifies the transaction,
// account, or member the finding is about.
type Violation struct {
	Code    string `json:"code"`
	Subject string `json:"subject"`
	Detail  string `json:"detail"`
}

func (v Violation) String() string {
	return v.Code + " " + v.Subject + ": " + v.Detail
}

// Checker runs the validators against a store.
type Checker struct {
	store    *store.Store
	currency string
	logger   *slog.Logger
}

func NewChecker(st *store.Store, currency string, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{store: st, currency: currency, logger: logger.With("component", "compliance")}
}

// CheckDoubleEntry verifies the two ledger ground truths: every
// transaction's lines sum to zero, and every account's indexed balance
// matches a full replay of the log.
func (c *Checker) CheckDoubleEntry(ctx context.Context) ([]Violation, error) {
	var out []Violation

	txs, err := c.store.ListTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	for _, t := range txs {
		if sum := t.Sum(); !sum.IsZero() {
			out = append(out, Violation{
				Code:    CodeUnbalancedTransaction,
				Subject: t.ID,
				Detail:  "lines sum to " + sum.String(),
			})
		}
	}

	accounts, err := c.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	for _, a := range accounts {
		indexed, err := c.store.IndexedBalance(ctx, a.ID, c.currency)
		if err != nil {
			return nil, fmt.Errorf("indexed balance %s: %w", a.ID, err)
		}
		replayed, err := c.store.ReplayBalance(ctx, a.ID, c.currency, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("replay balance %s: %w", a.ID, err)
		}
		if !indexed.Equal(replayed) {
			out = append(out, Violation{
				Code:    CodeIndexDrift,
				Subject: a.ID,
				Detail:  "indexed " + indexed.String() + " != replayed " + replayed.String(),
			})
		}
	}
	return out, nil
}

// CheckCapitalAccounts flags member capital accounts with a negative
// balance where the member carries neither a deficit-restoration
// obligation nor a qualified-income-offset provision.
func (c *Checker) CheckCapitalAccounts(ctx context.Context) ([]Violation, error) {
	members, err := c.store.ListMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	var out []Violation
	for _, m := range members {
		if m.DRO || m.QIO {
			continue
		}
		for _, basis := range domain.Bases {
			id := domain.MemberAccountID(m.ID, basis)
			bal, err := c.store.IndexedBalance(ctx, id, c.currency)
			if err != nil {
				return nil, fmt.Errorf("balance %s: %w", id, err)
			}
			if bal.IsNegative() {
				out = append(out, Violation{
					Code:    CodeNegativeCapital,
					Subject: id,
					Detail:  "balance " + bal.String() + " with no DRO or QIO provision for member " + m.ID,
				})
			}
		}
	}
	return out, nil
}

// CheckAllocations verifies a period's stored allocation set against
// the surplus it was computed from: no negative amounts, and the total
// never exceeds the surplus. A shortfall below one minor unit per
// member is rounding and is not a violation.
func (c *Checker) CheckAllocations(ctx context.Context, periodID string, surplus domain.Money) ([]Violation, error) {
	allocs, err := c.store.AllocationsForPeriod(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("allocations for %s: %w", periodID, err)
	}

	var out []Violation
	total := domain.NewMoney(decimal.Zero, c.currency)
	for _, a := range allocs {
		if a.Amount.IsNegative() {
			out = append(out, Violation{
				Code:    CodeNegativeAllocation,
				Subject: a.MemberID,
				Detail:  "allocation " + a.Amount.String(),
			})
		}
		total = total.Add(a.Amount)
	}
	if total.Cmp(surplus) > 0 {
		out = append(out, Violation{
			Code:    CodeAllocationOverrun,
			Subject: periodID,
			Detail:  "allocated " + total.String() + " exceeds surplus " + surplus.String(),
		})
	}
	return out, nil
}

// RunAll runs every validator and concatenates the findings.
// periodID may be empty to skip the allocation check.
func (c *Checker) RunAll(ctx context.Context, periodID string, surplus domain.Money) ([]Violation, error) {
	var out []Violation

	v, err := c.CheckDoubleEntry(ctx)
	if err != nil {
		return nil, err
	}
	out = append(out, v...)

	v, err = c.CheckCapitalAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out = append(out, v...)

	if periodID != "" {
		v, err = c.CheckAllocations(ctx, periodID, surplus)
		if err != nil {
			return nil, err
		}
		out = append(out, v...)
	}

	if len(out) > 0 {
		c.logger.Warn("compliance check found violations", "count", len(out))
	}
	return out, nil
}
