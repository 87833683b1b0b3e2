package contribution

import "errors"

// State-conflict errors: precondition violations surfaced to the
// caller, never retried automatically.
var (
	// ErrClosedPeriod rejects a submission targeting a period that is
	// not open.
	ErrClosedPeriod = errors.New("period is not open for contributions")

	// ErrSelfApproval rejects approval or rejection by the contributor
	// themselves.
	ErrSelfApproval = errors.New("contributor cannot resolve their own contribution")

	// ErrAlreadyResolved rejects a second transition on a contribution
	// that already reached a terminal state.
	ErrAlreadyResolved = errors.New("contribution already resolved")
)

// Validation errors: malformed input rejected before any state change.
var (
	// ErrUnknownContributionType rejects a type missing from the
	// policy's weight table.
	ErrUnknownContributionType = errors.New("contribution type not in policy weight table")

	// ErrZeroAmount rejects zero-amount submissions. Negative amounts
	// are allowed as corrections; the allocation engine clamps any
	// member whose weighted total would go negative.
	ErrZeroAmount = errors.New("contribution amount must be non-zero")
)
