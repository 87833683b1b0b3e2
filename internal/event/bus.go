package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Outcomes recorded against a processed-event row.
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
)

// Recorder is the persistence the bus needs: an append-only event log
// and the idempotency table keyed by (event id, consumer).
type Recorder interface {
	// InsertEvent appends the envelope to the event log. Duplicate IDs
	// are ignored (inserted=false), which makes re-publication safe.
	InsertEvent(ctx context.Context, ev Envelope) (inserted bool, err error)

	// AlreadyProcessed reports whether the consumer has a recorded
	// outcome for the event.
	AlreadyProcessed(ctx context.Context, eventID, consumer string) (bool, error)

	// MarkProcessed records the consumer's outcome, insert-if-absent.
	MarkProcessed(ctx context.Context, eventID, consumer, outcome string) (inserted bool, err error)
}

// Handler consumes a delivered envelope. Handlers must be idempotent:
// the bus guarantees at-least-once delivery, not exactly-once.
type Handler func(ctx context.Context, ev Envelope) error

type subscription struct {
	consumer string
	handler  Handler
}

// Bus is a synchronous in-process dispatcher with at-least-once
// semantics. Publish persists the envelope, then delivers to every
// subscriber of the type; a failed handler does not stop delivery to
// the remaining subscribers, and its outcome is left unrecorded so a
// re-publication retries it.
//
// Thread-safety: Subscribe is expected at wiring time; Publish is safe
// for concurrent use.
type Bus struct {
	rec    Recorder
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string][]subscription
}

// NewBus creates a bus backed by the given recorder.
func NewBus(rec Recorder, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		rec:    rec,
		logger: logger,
		subs:   make(map[string][]subscription),
	}
}

// Subscribe registers a named consumer for an event type. The consumer
// name is the idempotency scope: two subscriptions sharing a name share
// duplicate suppression.
func (b *Bus) Subscribe(eventType, consumer string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], subscription{consumer: consumer, handler: h})
}

// Publish appends the envelope to the log and delivers it to all
// subscribers of its type. Duplicate deliveries (same event id already
// processed by a consumer) are suppressed and counted as success.
//
// Returns a joined error of all handler failures; partial failure
// leaves the failed consumers unrecorded for retry via Redeliver.
func (b *Bus) Publish(ctx context.Context, ev Envelope) error {
	if _, err := b.rec.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("persist event %s: %w", ev.ID, err)
	}
	publishedTotal.WithLabelValues(ev.Type).Inc()
	return b.deliver(ctx, ev)
}

// Redeliver re-runs delivery for an already persisted envelope. Used
// after a crash or a handler failure; consumers that already recorded
// an outcome are skipped.
func (b *Bus) Redeliver(ctx context.Context, ev Envelope) error {
	return b.deliver(ctx, ev)
}

func (b *Bus) deliver(ctx context.Context, ev Envelope) error {
	b.mu.RLock()
	subs := b.subs[ev.Type]
	b.mu.RUnlock()

	var errs []error
	for _, sub := range subs {
		done, err := b.rec.AlreadyProcessed(ctx, ev.ID, sub.consumer)
		if err != nil {
			errs = append(errs, fmt.Errorf("idempotency check %s/%s: %w", ev.ID, sub.consumer, err))
			continue
		}
		if done {
			duplicatesTotal.WithLabelValues(sub.consumer).Inc()
			b.logger.Debug("duplicate delivery suppressed",
				"event", ev.ID, "type", ev.Type, "consumer", sub.consumer)
			continue
		}

		if err := sub.handler(ctx, ev); err != nil {
			failuresTotal.WithLabelValues(sub.consumer).Inc()
			b.logger.Warn("event handler failed",
				"event", ev.ID, "type", ev.Type, "consumer", sub.consumer, "error", err)
			errs = append(errs, fmt.Errorf("consumer %s: %w", sub.consumer, err))
			continue
		}

		if _, err := b.rec.MarkProcessed(ctx, ev.ID, sub.consumer, OutcomeApplied); err != nil {
			errs = append(errs, fmt.Errorf("record outcome %s/%s: %w", ev.ID, sub.consumer, err))
			continue
		}
		deliveredTotal.WithLabelValues(sub.consumer).Inc()
	}
	return errors.Join(errs...)
}
