package store

import (
	"context"
	"fmt"
	"time"
)

// CloseStep is one persisted row of close-workflow progress.
type CloseStep struct {
	PeriodID    string
	Step        string
	CompletedAt time.Time
	Output      string // JSON blob of the step's output
}

// RecordCloseStep persists a completed step. Re-recording the same step
// (resume after a crash that lost the in-memory state but not the row)
// keeps the first row.
func (s *Store) RecordCloseStep(ctx context.Context, periodID, step, output string, at time.Time) error {
	if output == "" {
		output = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO close_steps (period_id, step, completed_at, output)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(period_id, step) DO NOTHING
	`, periodID, step, formatTime(at), output)
	if err != nil {
		return fmt.Errorf("record close step: %w", err)
	}
	return nil
}

// CloseSteps returns the completed steps for a period keyed by name.
func (s *Store) CloseSteps(ctx context.Context, periodID string) (map[string]CloseStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT period_id, step, completed_at, output
		FROM close_steps WHERE period_id = ?
	`, periodID)
	if err != nil {
		return nil, fmt.Errorf("list close steps: %w", err)
	}
	defer rows.Close()

	steps := map[string]CloseStep{}
	for rows.Next() {
		var cs CloseStep
		var completed string
		if err := rows.Scan(&cs.PeriodID, &cs.Step, &completed, &cs.Output); err != nil {
			return nil, fmt.Errorf("scan close step: %w", err)
		}
		if cs.CompletedAt, err = parseTime(completed); err != nil {
			return nil, err
		}
		steps[cs.Step] = cs
	}
	return steps, rows.Err()
}

// ClearCloseSteps discards all workflow progress for a period (close
// rejection or abort).
func (s *Store) ClearCloseSteps(ctx context.Context, periodID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM close_steps WHERE period_id = ?`, periodID); err != nil {
		return fmt.Errorf("clear close steps: %w", err)
	}
	return nil
}
