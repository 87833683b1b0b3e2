package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coopledger/patronage/internal/domain"
)

// AppendTransaction appends a transaction and its lines to the log and
// incrementally updates the balance index, all in one database
// transaction. Re-appending the same content-addressed ID is a no-op
// (inserted=false): either every row lands or none do, and a duplicate
// leaves the log and balances untouched.
//
// The store does not re-validate the double-entry invariant; that is
// the ledger's job before calling here.
func (s *Store) AppendTransaction(ctx context.Context, t domain.Transaction) (inserted bool, err error) {
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var reverses any
		if t.Reverses != "" {
			reverses = t.Reverses
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (id, category, memo, occurred_at, reverses)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, t.ID, string(t.Category), t.Memo, formatTime(t.OccurredAt), reverses)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Duplicate append: already in the log with lines and
			// balances applied.
			return nil
		}
		inserted = true

		var seq int64
		if err := tx.QueryRowContext(ctx,
			`SELECT seq FROM transactions WHERE id = ?`, t.ID).Scan(&seq); err != nil {
			return fmt.Errorf("read seq: %w", err)
		}

		for i, l := range t.Lines {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO transaction_lines (tx_id, line_no, account_id, amount, currency)
				VALUES (?, ?, ?, ?, ?)
			`, t.ID, i, l.AccountID, l.Amount.Amount.String(), l.Amount.Currency)
			if err != nil {
				return fmt.Errorf("insert line %d: %w", i, err)
			}
			if err := applyToBalance(ctx, tx, l, seq); err != nil {
				return err
			}
		}
		return nil
	})
	return inserted, err
}

// applyToBalance folds one line into the incremental balance index.
// Decimal arithmetic happens in Go; the single-connection pool makes
// the read-modify-write race-free.
func applyToBalance(ctx context.Context, tx *sql.Tx, l domain.Line, seq int64) error {
	var current string
	err := tx.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE account_id = ?`, l.AccountID).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO balances (account_id, amount, currency, as_of_seq)
			VALUES (?, ?, ?, ?)
		`, l.AccountID, l.Amount.Amount.String(), l.Amount.Currency, seq)
		if err != nil {
			return fmt.Errorf("insert balance: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read balance: %w", err)
	default:
		d, perr := decimal.NewFromString(current)
		if perr != nil {
			return fmt.Errorf("corrupt balance for %s: %w", l.AccountID, perr)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE balances SET amount = ?, as_of_seq = ? WHERE account_id = ?
		`, d.Add(l.Amount.Amount).String(), seq, l.AccountID)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
	}
	return nil
}

// GetTransaction retrieves a transaction with its lines.
func (s *Store) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, id, category, memo, occurred_at, reverses
		FROM transactions WHERE id = ?
	`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Transaction{}, err
	}
	if t.Lines, err = s.linesFor(ctx, t.ID); err != nil {
		return domain.Transaction{}, err
	}
	return t, nil
}

// ListTransactions returns the full log in append order.
func (s *Store) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT seq, id, category, memo, occurred_at, reverses
		FROM transactions ORDER BY seq ASC, id ASC
	`)
}

// TransactionsForAccount returns all transactions touching an account,
// in append order.
func (s *Store) TransactionsForAccount(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT DISTINCT t.seq, t.id, t.category, t.memo, t.occurred_at, t.reverses
		FROM transactions t
		JOIN transaction_lines l ON l.tx_id = t.id
		WHERE l.account_id = ?
		ORDER BY t.seq ASC, t.id ASC
	`, accountID)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txs := []domain.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range txs {
		if txs[i].Lines, err = s.linesFor(ctx, txs[i].ID); err != nil {
			return nil, err
		}
	}
	return txs, nil
}

func (s *Store) linesFor(ctx context.Context, txID string) ([]domain.Line, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, amount, currency FROM transaction_lines
		WHERE tx_id = ? ORDER BY line_no ASC
	`, txID)
	if err != nil {
		return nil, fmt.Errorf("query lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.Line
	for rows.Next() {
		var l domain.Line
		var amount, currency string
		if err := rows.Scan(&l.AccountID, &amount, &currency); err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		if l.Amount, err = domain.MoneyFromString(amount, currency); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// IndexedBalance reads the incrementally maintained balance for an
// account. Missing rows mean no activity: zero.
func (s *Store) IndexedBalance(ctx context.Context, accountID, currency string) (domain.Money, error) {
	var amount, cur string
	err := s.db.QueryRowContext(ctx,
		`SELECT amount, currency FROM balances WHERE account_id = ?`, accountID).
		Scan(&amount, &cur)
	if err == sql.ErrNoRows {
		return domain.NewMoney(decimal.Zero, currency), nil
	}
	if err != nil {
		return domain.Money{}, fmt.Errorf("read balance: %w", err)
	}
	return domain.MoneyFromString(amount, cur)
}

// ReplayBalance recomputes an account balance by summing every line in
// the log, optionally bounded to transactions at or before asOf. This
// is the ground truth the validators compare the index against.
func (s *Store) ReplayBalance(ctx context.Context, accountID, currency string, asOf time.Time) (domain.Money, error) {
	query := `
		SELECT l.amount FROM transaction_lines l
		JOIN transactions t ON t.id = l.tx_id
		WHERE l.account_id = ?`
	args := []any{accountID}
	if !asOf.IsZero() {
		query += ` AND t.occurred_at <= ?`
		args = append(args, formatTime(asOf))
	}
	query += ` ORDER BY t.seq ASC, l.line_no ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.Money{}, fmt.Errorf("replay balance: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return domain.Money{}, fmt.Errorf("scan amount: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return domain.Money{}, fmt.Errorf("corrupt amount: %w", err)
		}
		sum = sum.Add(d)
	}
	if err := rows.Err(); err != nil {
		return domain.Money{}, err
	}
	return domain.NewMoney(sum, currency), nil
}

// HasReversal reports whether any transaction in the log reverses the
// given one. The close workflow uses this to tell a crash-resumed post
// (duplicate, suppress) from a retry after a reversed batch (needs a
// fresh identity).
func (s *Store) HasReversal(ctx context.Context, txID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE reverses = ?`, txID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check reversal: %w", err)
	}
	return count > 0, nil
}

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var t domain.Transaction
	var category, memo, occurred string
	var reverses sql.NullString
	err := row.Scan(&t.Seq, &t.ID, &category, &memo, &occurred, &reverses)
	if err != nil {
		return domain.Transaction{}, err
	}
	t.Category = domain.Category(category)
	t.Memo = memo
	if t.OccurredAt, err = parseTime(occurred); err != nil {
		return domain.Transaction{}, err
	}
	if reverses.Valid {
		t.Reverses = reverses.String
	}
	return t, nil
}
