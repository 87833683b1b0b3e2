// Package allocation implements the patronage allocation formula as
// pure computation: weighted contribution totals, patronage scores, and
// largest-remainder rounding so the rounded shares sum exactly to the
// distributable surplus.
//
// Nothing here touches storage or emits events, which keeps the formula
// independently testable against worked examples.
package allocation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/coopledger/patronage/internal/domain"
)

// Note codes attached to a computation.
const (
	// NoteNegativeScoreClamped marks a member whose weighted total was
	// negative (corrections exceeded contributions) and was floored at
	// zero so it cannot distort other members' scores.
	NoteNegativeScoreClamped = "NegativeScoreClamped"

	// NoteNoDistribution marks a computation where the total weighted
	// contribution or the surplus was not positive: scores are zero
	// and no surplus is distributed.
	NoteNoDistribution = "NoDistribution"
)

// Note is a non-fatal observation from a computation. Callers log them.
type Note struct {
	Code     string
	MemberID string
	Detail   string
}

// divScale is the working precision for score and share computation,
// comfortably beyond any currency's minor unit.
const divScale = 24

// Compute turns a period's approved contributions into per-member
// allocations of the distributable surplus.
//
// For each member: weighted = Σ(amount × weight[type]); then
// score = weighted / Σ(all weighted) and allocation = surplus × score,
// computed at full precision and rounded to the currency's minor unit
// with the largest-remainder method, so that the rounded amounts sum
// exactly to surplus whenever anything is distributed.
//
// Zero contributions yield an empty allocation set. A non-positive
// weighted total (every member clamped, or no surplus) yields zero
// amounts and a NoDistribution note.
func Compute(periodID string, contribs []domain.Contribution, weights map[string]decimal.Decimal, surplus domain.Money) ([]domain.Allocation, []Note) {
	if len(contribs) == 0 {
		return []domain.Allocation{}, nil
	}

	currency := surplus.Currency
	scale := surplus.Scale()

	type memberTotals struct {
		raw      decimal.Decimal
		weighted decimal.Decimal
	}
	totals := map[string]*memberTotals{}
	var memberIDs []string
	for _, c := range contribs {
		mt, ok := totals[c.MemberID]
		if !ok {
			mt = &memberTotals{raw: decimal.Zero, weighted: decimal.Zero}
			totals[c.MemberID] = mt
			memberIDs = append(memberIDs, c.MemberID)
		}
		mt.raw = mt.raw.Add(c.Amount.Amount)
		mt.weighted = mt.weighted.Add(c.Amount.Amount.Mul(weights[string(c.Type)]))
	}
	sort.Strings(memberIDs)

	// Floor each member's weighted total at zero before summing, so a
	// net-negative member cannot inflate or invert anyone's score.
	var notes []Note
	total := decimal.Zero
	for _, id := range memberIDs {
		mt := totals[id]
		if mt.weighted.IsNegative() {
			notes = append(notes, Note{
				Code:     NoteNegativeScoreClamped,
				MemberID: id,
				Detail:   "weighted total " + mt.weighted.String() + " floored at 0",
			})
			mt.weighted = decimal.Zero
		}
		total = total.Add(mt.weighted)
	}

	distribute := total.IsPositive() && surplus.Amount.IsPositive()
	if !distribute {
		notes = append(notes, Note{Code: NoteNoDistribution,
			Detail: "total weighted " + total.String() + ", surplus " + surplus.Amount.String()})
	}

	type share struct {
		idx       int
		remainder decimal.Decimal
	}
	allocs := make([]domain.Allocation, len(memberIDs))
	shares := make([]share, 0, len(memberIDs))
	distributed := decimal.Zero

	for i, id := range memberIDs {
		mt := totals[id]
		a := domain.Allocation{
			PeriodID: periodID,
			MemberID: id,
			Raw:      domain.NewMoney(mt.raw, currency),
			Weighted: domain.NewMoney(mt.weighted, currency),
			Score:    "0",
			Amount:   domain.NewMoney(decimal.Zero, currency),
		}
		if distribute {
			a.Score = mt.weighted.DivRound(total, divScale).String()
			exact := surplus.Amount.Mul(mt.weighted).DivRound(total, divScale)
			floor := exact.RoundDown(scale)
			a.Amount = domain.NewMoney(floor, currency)
			distributed = distributed.Add(floor)
			shares = append(shares, share{idx: i, remainder: exact.Sub(floor)})
		}
		allocs[i] = a
	}

	if distribute {
		// Assign the residual minor units to the largest fractional
		// remainders; ties break by member ID order (already sorted).
		minor := decimal.New(1, -scale)
		residualUnits := surplus.Amount.Sub(distributed).DivRound(minor, 0).IntPart()
		sort.SliceStable(shares, func(i, j int) bool {
			return shares[i].remainder.GreaterThan(shares[j].remainder)
		})
		for i := int64(0); i < residualUnits && i < int64(len(shares)); i++ {
			idx := shares[i].idx
			allocs[idx].Amount = allocs[idx].Amount.Add(domain.NewMoney(minor, currency))
		}
	}

	return allocs, notes
}

// Sum returns the total allocated amount of a set.
func Sum(allocs []domain.Allocation, currency string) domain.Money {
	sum := domain.NewMoney(decimal.Zero, currency)
	for _, a := range allocs {
		sum = sum.Add(a.Amount)
	}
	return sum
}
