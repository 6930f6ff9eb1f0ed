package services

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestStorageErr(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, storageErr("op", nil))
	})

	t.Run("no rows becomes not found", func(t *testing.T) {
		err := storageErr("car.get", sql.ErrNoRows)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("payout unique violation is the losing racer", func(t *testing.T) {
		pqErr := &pq.Error{Code: "23505", Constraint: "ledger_txns_payout_once"}
		err := storageErr("ledger.insert", pqErr)
		assert.ErrorIs(t, err, ErrAlreadyDistributed)
	})

	t.Run("wrapped unique violation still translates", func(t *testing.T) {
		pqErr := &pq.Error{Code: "23505", Constraint: "ledger_txns_payout_once"}
		err := storageErr("ledger.insert", fmt.Errorf("exec: %w", pqErr))
		assert.ErrorIs(t, err, ErrAlreadyDistributed)
	})

	t.Run("other unique violation is a validation error", func(t *testing.T) {
		pqErr := &pq.Error{Code: "23505", Constraint: "cars_org_id_vin_key"}
		err := storageErr("car.create", pqErr)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("anything else is a storage failure", func(t *testing.T) {
		err := storageErr("op", errors.New("connection reset"))
		assert.ErrorIs(t, err, ErrStorage)
	})
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrValidation, http.StatusBadRequest},
		{ErrForbidden, http.StatusForbidden},
		{ErrNotFound, http.StatusNotFound},
		{ErrAlreadyDistributed, http.StatusConflict},
		{ErrInvalidTransition, http.StatusBadRequest},
		{ErrNotSold, http.StatusBadRequest},
		{ErrNoProfit, http.StatusBadRequest},
		{ErrUnbalancedPair, http.StatusInternalServerError},
		{ErrStorage, http.StatusInternalServerError},
		{errors.New("unmapped"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(fmt.Errorf("ctx: %w", tc.err)), "for %v", tc.err)
	}
}
