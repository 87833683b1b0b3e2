// Package ledger implements the Ledger Core: the authoritative,
// append-only history of financial facts and the only writer of account
// balances.
//
// Failure semantics: an invalid transaction is rejected before anything
// is appended; once appended, a transaction is permanent and the only
// remedy is a reversing transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coopledger/patronage/internal/domain"
	"github.com/coopledger/patronage/internal/store"
)

// Service validates and appends transactions and answers balance
// queries. Incremental balance maintenance lives in the store, inside
// the same database transaction as the append.
type Service struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a ledger service.
func New(st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger, now: time.Now}
}

// Post validates the double-entry invariant and appends the transaction
// to the log. A duplicate content-addressed ID is treated as success
// with no side effect, which makes consumers of at-least-once delivery
// safe to re-run.
func (s *Service) Post(ctx context.Context, t domain.Transaction) error {
	if len(t.Lines) == 0 {
		rejectedTotal.WithLabelValues("empty").Inc()
		return ErrEmptyTransaction
	}
	if !domain.ValidCategory(t.Category) {
		rejectedTotal.WithLabelValues("category").Inc()
		return fmt.Errorf("invalid category %q", t.Category)
	}
	if sum := t.Sum(); !sum.IsZero() {
		rejectedTotal.WithLabelValues("unbalanced").Inc()
		return &UnbalancedTransactionError{TransactionID: t.ID, Sum: sum}
	}
	for _, id := range t.Accounts() {
		if _, err := s.store.GetAccount(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				rejectedTotal.WithLabelValues("unknown_account").Inc()
				return fmt.Errorf("line references %s: %w", id, ErrUnknownAccount)
			}
			return err
		}
	}

	inserted, err := s.store.AppendTransaction(ctx, t)
	if err != nil {
		return fmt.Errorf("append transaction %s: %w", t.ID, err)
	}
	if !inserted {
		duplicatePostsTotal.Inc()
		s.logger.Debug("duplicate post suppressed", "transaction", t.ID)
		return nil
	}
	postedTotal.WithLabelValues(string(t.Category)).Inc()
	s.logger.Info("transaction posted",
		"transaction", t.ID, "category", t.Category, "lines", len(t.Lines))
	return nil
}

// Reverse appends a new transaction with every line sign negated,
// referencing the original. The original is untouched. Reversing the
// same original for the same reason twice collapses into one reversal
// (content-addressed ID).
func (s *Service) Reverse(ctx context.Context, transactionID, reason string) (domain.Transaction, error) {
	orig, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Transaction{}, fmt.Errorf("reverse %s: %w", transactionID, ErrUnknownTransaction)
		}
		return domain.Transaction{}, err
	}

	rev := orig.Reversal("", reason, s.now())
	rev.ID, err = domain.TransactionID("reversal/"+transactionID, rev.Category, reason, rev.Lines, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := s.Post(ctx, rev); err != nil {
		return domain.Transaction{}, err
	}
	return rev, nil
}

// Balance reads the incrementally maintained balance for an account.
// This is the fast, eventually-consistent read; validators use
// BalanceAsOf replay as ground truth.
func (s *Service) Balance(ctx context.Context, accountID, currency string) (domain.Money, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Money{}, fmt.Errorf("%s: %w", accountID, ErrUnknownAccount)
		}
		return domain.Money{}, err
	}
	return s.store.IndexedBalance(ctx, accountID, currency)
}

// BalanceAsOf replays the transaction log up to the given time. A zero
// time means the full history. Supports temporal audit queries.
func (s *Service) BalanceAsOf(ctx context.Context, accountID, currency string, asOf time.Time) (domain.Money, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Money{}, fmt.Errorf("%s: %w", accountID, ErrUnknownAccount)
		}
		return domain.Money{}, err
	}
	return s.store.ReplayBalance(ctx, accountID, currency, asOf)
}

// History returns all transactions touching an account in append order.
func (s *Service) History(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", accountID, ErrUnknownAccount)
		}
		return nil, err
	}
	return s.store.TransactionsForAccount(ctx, accountID)
}
