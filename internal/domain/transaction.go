package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category is the business reason for a transaction.
type Category string

const (
	CategoryContribution Category = "contribution"
	CategoryAllocation   Category = "allocation"
	CategoryDistribution Category = "distribution"
	CategoryRevaluation  Category = "revaluation"
)

// ValidCategory reports whether c is a known transaction category.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryContribution, CategoryAllocation, CategoryDistribution, CategoryRevaluation:
		return true
	}
	return false
}

// Line is a single signed posting against one account.
type Line struct {
	AccountID string
	Amount    Money
}

// Transaction is an immutable, balanced set of line items.
//
// Once appended to the log a transaction is permanent. Corrections are
// expressed as new reversing transactions (Reverses carries the original
// transaction ID), never as edits.
type Transaction struct {
	ID         string
	Category   Category
	Memo       string
	Lines      []Line
	OccurredAt time.Time
	Seq        int64  // assigned by the store on append
	Reverses   string // ID of the transaction this one reverses, if any
}

// Sum returns the signed sum of all line amounts.
func (t Transaction) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range t.Lines {
		sum = sum.Add(l.Amount.Amount)
	}
	return sum
}

// Balanced reports whether the transaction satisfies the double-entry
// invariant: line amounts sum to exactly zero.
func (t Transaction) Balanced() bool {
	return t.Sum().IsZero()
}

// Reversal builds the reversing transaction: same category and lines with
// every sign negated. The caller assigns the new ID and timestamp.
func (t Transaction) Reversal(id, reason string, at time.Time) Transaction {
	lines := make([]Line, len(t.Lines))
	for i, l := range t.Lines {
		lines[i] = Line{AccountID: l.AccountID, Amount: l.Amount.Neg()}
	}
	return Transaction{
		ID:         id,
		Category:   t.Category,
		Memo:       reason,
		Lines:      lines,
		OccurredAt: at,
		Reverses:   t.ID,
	}
}

// Accounts returns the distinct account IDs referenced by the lines,
// in first-appearance order.
func (t Transaction) Accounts() []string {
	seen := make(map[string]bool, len(t.Lines))
	var ids []string
	for _, l := range t.Lines {
		if !seen[l.AccountID] {
			seen[l.AccountID] = true
			ids = append(ids, l.AccountID)
		}
	}
	return ids
}
