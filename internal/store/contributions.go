package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coopledger/patronage/internal/domain"
)

// InsertContribution persists a new pending contribution.
func (s *Store) InsertContribution(ctx context.Context, c domain.Contribution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contributions
		(id, member_id, period_id, type, amount, currency, description, status, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.MemberID, c.PeriodID, string(c.Type), c.Amount.Amount.String(), c.Amount.Currency,
		c.Description, string(c.Status), formatTime(c.SubmittedAt))
	if err != nil {
		return fmt.Errorf("insert contribution: %w", err)
	}
	return nil
}

// GetContribution retrieves a contribution by ID.
func (s *Store) GetContribution(ctx context.Context, id string) (domain.Contribution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, member_id, period_id, type, amount, currency, description,
		       status, submitted_at, resolved_by, resolved_at, reason
		FROM contributions WHERE id = ?
	`, id)
	c, err := scanContribution(row)
	if err == sql.ErrNoRows {
		return domain.Contribution{}, fmt.Errorf("contribution %s: %w", id, ErrNotFound)
	}
	return c, err
}

// ResolveContribution performs the one-way pending → approved/rejected
// transition as an atomic status-guarded update. Returns false if the
// contribution was not pending (already resolved, or missing).
func (s *Store) ResolveContribution(ctx context.Context, id string, status domain.ContributionStatus, by string, at time.Time, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contributions
		SET status = ?, resolved_by = ?, resolved_at = ?, reason = ?
		WHERE id = ? AND status = 'pending'
	`, string(status), by, formatTime(at), reason, id)
	if err != nil {
		return false, fmt.Errorf("resolve contribution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListContributions returns contributions for a period, optionally
// filtered by status. Ordered by submission time, then ID.
func (s *Store) ListContributions(ctx context.Context, periodID string, status domain.ContributionStatus) ([]domain.Contribution, error) {
	query := `
		SELECT id, member_id, period_id, type, amount, currency, description,
		       status, submitted_at, resolved_by, resolved_at, reason
		FROM contributions WHERE period_id = ?`
	args := []any{periodID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY submitted_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	defer rows.Close()

	contribs := []domain.Contribution{}
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, err
		}
		contribs = append(contribs, c)
	}
	return contribs, rows.Err()
}

func scanContribution(row rowScanner) (domain.Contribution, error) {
	var c domain.Contribution
	var typ, amount, currency, status, submitted string
	var resolvedBy, resolvedAt, reason sql.NullString
	err := row.Scan(&c.ID, &c.MemberID, &c.PeriodID, &typ, &amount, &currency,
		&c.Description, &status, &submitted, &resolvedBy, &resolvedAt, &reason)
	if err != nil {
		return domain.Contribution{}, err
	}
	c.Type = domain.ContributionType(typ)
	c.Status = domain.ContributionStatus(status)
	var perr error
	if c.Amount, perr = domain.MoneyFromString(amount, currency); perr != nil {
		return domain.Contribution{}, perr
	}
	if c.SubmittedAt, perr = parseTime(submitted); perr != nil {
		return domain.Contribution{}, perr
	}
	if resolvedBy.Valid {
		c.ResolvedBy = resolvedBy.String
	}
	if resolvedAt.Valid {
		if c.ResolvedAt, perr = parseTime(resolvedAt.String); perr != nil {
			return domain.Contribution{}, perr
		}
	}
	if reason.Valid {
		c.Reason = reason.String
	}
	return c, nil
}

// AccruePendingPatronage adds delta to the member's accrued weighted
// patronage for the period. Read-modify-write inside one database
// transaction; decimal arithmetic never happens in SQL.
func (s *Store) AccruePendingPatronage(ctx context.Context, periodID, memberID string, delta decimal.Decimal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("accrue patronage: %w", err)
	}
	defer tx.Rollback()

	cur := decimal.Zero
	var raw string
	err = tx.QueryRowContext(ctx, `
		SELECT accrued FROM pending_patronage WHERE period_id = ? AND member_id = ?
	`, periodID, memberID).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		// first accrual for this pair
	case err != nil:
		return fmt.Errorf("accrue patronage: %w", err)
	default:
		if cur, err = decimal.NewFromString(raw); err != nil {
			return fmt.Errorf("accrue patronage: corrupt accrued %q: %w", raw, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pending_patronage (period_id, member_id, accrued)
		VALUES (?, ?, ?)
		ON CONFLICT(period_id, member_id) DO UPDATE SET accrued = excluded.accrued
	`, periodID, memberID, cur.Add(delta).String())
	if err != nil {
		return fmt.Errorf("accrue patronage: %w", err)
	}
	return tx.Commit()
}

// PendingPatronage returns the accrued weighted patronage for one
// member in a period, zero if nothing has accrued.
func (s *Store) PendingPatronage(ctx context.Context, periodID, memberID string) (decimal.Decimal, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT accrued FROM pending_patronage WHERE period_id = ? AND member_id = ?
	`, periodID, memberID).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("pending patronage: %w", err)
	}
	return decimal.NewFromString(raw)
}

// ListPendingPatronage returns every member's accrued weighted
// patronage for a period, ordered by member ID.
func (s *Store) ListPendingPatronage(ctx context.Context, periodID string) (map[string]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT member_id, accrued FROM pending_patronage
		WHERE period_id = ? ORDER BY member_id
	`, periodID)
	if err != nil {
		return nil, fmt.Errorf("list pending patronage: %w", err)
	}
	defer rows.Close()

	out := map[string]decimal.Decimal{}
	for rows.Next() {
		var member, raw string
		if err := rows.Scan(&member, &raw); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("list pending patronage: corrupt accrued %q: %w", raw, err)
		}
		out[member] = d
	}
	return out, rows.Err()
}
