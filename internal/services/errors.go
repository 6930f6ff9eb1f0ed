package services

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/lib/pq"
)

// Sentinel errors for the ledger core. Handlers map them to HTTP statuses;
// everything storage-level is wrapped in ErrStorage so callers can decide to
// retry transient faults.
var (
	ErrValidation         = errors.New("validation failed")
	ErrUnbalancedPair     = errors.New("ledger batch does not sum to zero")
	ErrInvalidTransition  = errors.New("invalid car status transition")
	ErrNotSold            = errors.New("car is not sold")
	ErrNoProfit           = errors.New("car has no profit to distribute")
	ErrAlreadyDistributed = errors.New("profit already distributed for this car")
	ErrForbidden          = errors.New("operation not permitted for this role")
	ErrNotFound           = errors.New("record not found")
	ErrStorage            = errors.New("storage failure")
)

const pqUniqueViolation = "23505"

// storageErr wraps persistence failures, translating the ones that carry
// domain meaning. A unique violation on a payout index is the losing side of
// a concurrent distribute and surfaces as ErrAlreadyDistributed, not as a
// generic storage error.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		switch pqErr.Constraint {
		case "ledger_txns_payout_once":
			return fmt.Errorf("%s: %w", op, ErrAlreadyDistributed)
		}
		return fmt.Errorf("%s: duplicate: %w", op, ErrValidation)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStorage, err)
}

// HTTPStatus maps core errors onto response codes for the thin HTTP layer.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyDistributed):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrNotSold),
		errors.Is(err, ErrNoProfit):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnbalancedPair):
		// Invariant violation: a bug, never user error.
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}
