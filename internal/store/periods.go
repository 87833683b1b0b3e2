package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/coopledger/patronage/internal/domain"
)

// InsertPeriod creates a period. When status is open, the single-active
// index rejects the insert if another period is already open or
// closing; that case is reported as ErrActivePeriodExists.
func (s *Store) InsertPeriod(ctx context.Context, p domain.Period) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO periods (id, name, starts_at, ends_at, status)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.Name, formatTime(p.StartsAt), formatTime(p.EndsAt), string(p.Status))
	if err != nil {
		if isUniqueViolation(err, "idx_periods_single_active") {
			return ErrActivePeriodExists
		}
		return fmt.Errorf("insert period: %w", err)
	}
	return nil
}

// ErrActivePeriodExists reports a second open/closing period.
var ErrActivePeriodExists = fmt.Errorf("another period is already open or closing")

// GetPeriod retrieves a period by ID. Returns ErrNotFound if absent.
func (s *Store) GetPeriod(ctx context.Context, id string) (domain.Period, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, starts_at, ends_at, status FROM periods WHERE id = ?
	`, id)
	return scanPeriod(row)
}

// ActivePeriod returns the period currently open or closing, or
// ErrNotFound if none exists.
func (s *Store) ActivePeriod(ctx context.Context) (domain.Period, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, starts_at, ends_at, status FROM periods
		WHERE status IN ('open', 'closing')
	`)
	return scanPeriod(row)
}

// ListPeriods returns all periods ordered by start time, then ID.
func (s *Store) ListPeriods(ctx context.Context) ([]domain.Period, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, starts_at, ends_at, status FROM periods
		ORDER BY starts_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	defer rows.Close()

	periods := []domain.Period{}
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// TransitionPeriod performs the atomic conditional status update that
// serializes the close workflow: the transition succeeds only if the
// period's current status equals from. Returns false when the guard
// fails (row missing or status moved), with no change made.
func (s *Store) TransitionPeriod(ctx context.Context, id string, from, to domain.PeriodStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE periods SET status = ? WHERE id = ? AND status = ?
	`, string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("transition period: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeriod(row rowScanner) (domain.Period, error) {
	var p domain.Period
	var starts, ends, status string
	err := row.Scan(&p.ID, &p.Name, &starts, &ends, &status)
	if err == sql.ErrNoRows {
		return domain.Period{}, ErrNotFound
	}
	if err != nil {
		return domain.Period{}, fmt.Errorf("scan period: %w", err)
	}
	p.Status = domain.PeriodStatus(status)
	if p.StartsAt, err = parseTime(starts); err != nil {
		return domain.Period{}, err
	}
	if p.EndsAt, err = parseTime(ends); err != nil {
		return domain.Period{}, err
	}
	return p, nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure
// mentioning the given index or column name.
func isUniqueViolation(err error, name string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") &&
		strings.Contains(msg, name)
}
