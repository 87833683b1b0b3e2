package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// UnbalancedTransactionError reports a violated double-entry invariant:
// the signed line amounts of the rejected transaction did not sum to
// zero. The transaction was not appended.
type UnbalancedTransactionError struct {
	TransactionID string
	Sum           decimal.Decimal
}

func (e *UnbalancedTransactionError) Error() string {
	return fmt.Sprintf("unbalanced transaction %s: line sum %s, want 0", e.TransactionID, e.Sum)
}

// IsUnbalanced reports whether err is an UnbalancedTransactionError,
// unwrapping as needed.
func IsUnbalanced(err error) bool {
	var ub *UnbalancedTransactionError
	return errors.As(err, &ub)
}

// ErrUnknownAccount is returned when a line references an account that
// does not exist. The transaction is rejected before append.
var ErrUnknownAccount = errors.New("unknown account")

// ErrUnknownTransaction is returned by Reverse for a missing original.
var ErrUnknownTransaction = errors.New("unknown transaction")

// ErrEmptyTransaction is returned for a transaction with no lines.
var ErrEmptyTransaction = errors.New("transaction has no lines")
