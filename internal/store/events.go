package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/coopledger/patronage/internal/event"
)

// InsertEvent appends an envelope to the event log. Duplicate IDs are
// silently ignored (inserted=false), making re-publication safe.
func (s *Store) InsertEvent(ctx context.Context, ev event.Envelope) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, type, aggregate_id, occurred_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, ev.ID, ev.Type, ev.AggregateID, formatTime(ev.OccurredAt), string(ev.Payload))
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetEvent retrieves an envelope by ID.
func (s *Store) GetEvent(ctx context.Context, id string) (event.Envelope, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, id, type, aggregate_id, occurred_at, payload
		FROM events WHERE id = ?
	`, id)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return event.Envelope{}, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return ev, err
}

// ListEvents returns envelopes after the given seq, optionally filtered
// by type, in append order. limit <= 0 means no limit.
func (s *Store) ListEvents(ctx context.Context, eventType string, afterSeq int64, limit int) ([]event.Envelope, error) {
	query := `
		SELECT seq, id, type, aggregate_id, occurred_at, payload
		FROM events WHERE seq > ?`
	args := []any{afterSeq}
	if eventType != "" {
		query += ` AND type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY seq ASC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []event.Envelope{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AlreadyProcessed reports whether the consumer has recorded an outcome
// for the event.
func (s *Store) AlreadyProcessed(ctx context.Context, eventID, consumer string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM processed_events WHERE event_id = ? AND consumer = ?
	`, eventID, consumer).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check processed: %w", err)
	}
	return count > 0, nil
}

// MarkProcessed records the consumer's outcome, insert-if-absent. A
// concurrent or repeated mark keeps the first row (inserted=false).
func (s *Store) MarkProcessed(ctx context.Context, eventID, consumer, outcome string) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, consumer, outcome, processed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(event_id, consumer) DO NOTHING
	`, eventID, consumer, outcome, formatTime(time.Now()))
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanEvent(row rowScanner) (event.Envelope, error) {
	var ev event.Envelope
	var occurred, payload string
	err := row.Scan(&ev.Seq, &ev.ID, &ev.Type, &ev.AggregateID, &occurred, &payload)
	if err != nil {
		return event.Envelope{}, err
	}
	ev.Payload = []byte(payload)
	if ev.OccurredAt, err = parseTime(occurred); err != nil {
		return event.Envelope{}, err
	}
	return ev, nil
}
