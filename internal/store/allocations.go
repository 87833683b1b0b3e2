package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/coopledger/patronage/internal/domain"
)

// ReplaceAllocations swaps the proposed allocation set for a period in
// one database transaction. Called when the close workflow proposes (or
// re-proposes after resume) its calculated allocations.
func (s *Store) ReplaceAllocations(ctx context.Context, periodID string, allocs []domain.Allocation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM allocations WHERE period_id = ?`, periodID); err != nil {
			return fmt.Errorf("clear allocations: %w", err)
		}
		for _, a := range allocs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO allocations (period_id, member_id, raw, weighted, score, amount, currency)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, a.PeriodID, a.MemberID, a.Raw.Amount.String(), a.Weighted.Amount.String(),
				a.Score, a.Amount.Amount.String(), a.Amount.Currency)
			if err != nil {
				return fmt.Errorf("insert allocation: %w", err)
			}
		}
		return nil
	})
}

// AllocationsForPeriod returns the allocation set ordered by member ID.
func (s *Store) AllocationsForPeriod(ctx context.Context, periodID string) ([]domain.Allocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT period_id, member_id, raw, weighted, score, amount, currency
		FROM allocations WHERE period_id = ? ORDER BY member_id ASC
	`, periodID)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	allocs := []domain.Allocation{}
	for rows.Next() {
		var a domain.Allocation
		var raw, weighted, amount, currency string
		if err := rows.Scan(&a.PeriodID, &a.MemberID, &raw, &weighted, &a.Score, &amount, &currency); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		if a.Raw, err = domain.MoneyFromString(raw, currency); err != nil {
			return nil, err
		}
		if a.Weighted, err = domain.MoneyFromString(weighted, currency); err != nil {
			return nil, err
		}
		if a.Amount, err = domain.MoneyFromString(amount, currency); err != nil {
			return nil, err
		}
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

// DeleteAllocations discards a period's proposed allocations (close
// rejection or abort).
func (s *Store) DeleteAllocations(ctx context.Context, periodID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM allocations WHERE period_id = ?`, periodID); err != nil {
		return fmt.Errorf("delete allocations: %w", err)
	}
	return nil
}
