package api

import (
	"errors"
	"net/http"

	"github.com/coopledger/patronage/internal/contribution"
	"github.com/coopledger/patronage/internal/ledger"
	"github.com/coopledger/patronage/internal/store"

	periodclose "github.com/coopledger/patronage/internal/close"
)

// errBadRequest marks malformed request input (bad JSON, unparsable
// amounts or timestamps) for the status mapper.
var errBadRequest = errors.New("bad request")

// statusFor maps domain errors onto the response taxonomy: validation
// failures 400, state conflicts 409, compliance failures 422, missing
// resources 404, everything else 500.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, ledger.ErrUnknownAccount),
		errors.Is(err, ledger.ErrUnknownTransaction):
		return http.StatusNotFound

	case errors.Is(err, errBadRequest),
		errors.Is(err, contribution.ErrUnknownContributionType),
		errors.Is(err, contribution.ErrZeroAmount),
		errors.Is(err, ledger.ErrEmptyTransaction),
		ledger.IsUnbalanced(err):
		return http.StatusBadRequest

	case errors.Is(err, contribution.ErrClosedPeriod),
		errors.Is(err, contribution.ErrSelfApproval),
		errors.Is(err, contribution.ErrAlreadyResolved),
		errors.Is(err, store.ErrActivePeriodExists),
		errors.Is(err, periodclose.ErrPeriodNotOpen),
		errors.Is(err, periodclose.ErrPeriodNotClosing),
		errors.Is(err, periodclose.ErrApprovalPending):
		return http.StatusConflict

	case errors.Is(err, periodclose.ErrComplianceViolation):
		return http.StatusUnprocessableEntity

	default:
		return http.StatusInternalServerError
	}
}
