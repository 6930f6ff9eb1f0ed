package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cartrade/backend/internal/models"
	"github.com/cartrade/backend/internal/services"
)

// CapitalHandler exposes the tenant's capital accounts, balances, manual
// entries and per-account ledger history.
type CapitalHandler struct {
	capital   *services.CapitalService
	validator *services.ValidationHelper
}

func NewCapitalHandler(capital *services.CapitalService) *CapitalHandler {
	return &CapitalHandler{capital: capital, validator: services.NewValidationHelper()}
}

// ListAccounts lists accounts with folded balances
// @Summary List capital accounts
// @Tags capital
// @Produce json
// @Security BearerAuth
// @Success 200 {array} services.AccountWithBalance
// @Router /accounts [get]
func (h *CapitalHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	accounts, err := h.capital.ListAccounts(r.Context(), actor.OrgID)
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, accounts)
}

// GetBalance returns one account's balance
// @Summary Get account balance
// @Description Balance is the fold of the account's ledger entries, optionally as of a date
// @Tags capital
// @Produce json
// @Security BearerAuth
// @Param accountId path string true "Account ID"
// @Param asOf query string false "Balance as of date (YYYY-MM-DD)"
// @Success 200 {object} models.Money
// @Failure 404 {object} services.ErrorResponse
// @Router /accounts/{accountId}/balance [get]
func (h *CapitalHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	var asOf *time.Time
	if q := r.URL.Query().Get("asOf"); q != "" {
		t, err := time.Parse("2006-01-02", q)
		if err != nil {
			services.SendErrorResponse(w, "asOf must be YYYY-MM-DD", http.StatusBadRequest, nil)
			return
		}
		asOf = &t
	}

	balance, err := h.capital.Balance(r.Context(), actor.OrgID, chi.URLParam(r, "accountId"), asOf)
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, balance)
}

// GetHistory returns one account's ledger history
// @Summary Get account history
// @Tags capital
// @Produce json
// @Security BearerAuth
// @Param accountId path string true "Account ID"
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date (YYYY-MM-DD)"
// @Param reason query string false "Filter by reason"
// @Param carId query string false "Filter by car"
// @Param limit query int false "Max rows"
// @Success 200 {array} models.LedgerTxn
// @Failure 404 {object} services.ErrorResponse
// @Router /accounts/{accountId}/history [get]
func (h *CapitalHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	var f services.HistoryFilter
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			services.SendErrorResponse(w, "from must be YYYY-MM-DD", http.StatusBadRequest, nil)
			return
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			services.SendErrorResponse(w, "to must be YYYY-MM-DD", http.StatusBadRequest, nil)
			return
		}
		f.To = &t
	}
	if v := q.Get("reason"); v != "" {
		reason := models.TxnReason(v)
		if !reason.Valid() {
			services.SendErrorResponse(w, "Unknown reason", http.StatusBadRequest, nil)
			return
		}
		f.Reason = &reason
	}
	if v := q.Get("carId"); v != "" {
		f.CarID = &v
	}
	f.Limit = queryInt(r, "limit", 0)

	txns, err := h.capital.History(r.Context(), actor.OrgID, chi.URLParam(r, "accountId"), f)
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, txns)
}

// RecordManualTxn records a deposit, withdrawal or adjustment
// @Summary Record manual entry
// @Description Single adjusting ledger entry; adjust and owner-withdrawal reasons are owner-only
// @Tags capital
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.ManualTxnInput true "Entry data"
// @Success 200 {object} models.LedgerTxn
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /ledger/manual [post]
func (h *CapitalHandler) RecordManualTxn(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	var in services.ManualTxnInput
	if !decodeBody(w, r, &in) {
		return
	}
	if err := h.validator.ValidateStruct(&in); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txn, err := h.capital.RecordManualTxn(r.Context(), actor, in)
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, txn)
}

type bindAccountRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
}

// BindAccountUser attaches a user to an account
// @Summary Bind account user
// @Tags capital
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param accountId path string true "Account ID"
// @Param request body bindAccountRequest true "User"
// @Success 200 {object} map[string]string
// @Failure 403 {object} services.ErrorResponse
// @Router /accounts/{accountId}/user [put]
func (h *CapitalHandler) BindAccountUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}
	if actor.Role != models.RoleOwner {
		services.SendErrorResponse(w, "Only the owner may bind account users", http.StatusForbidden, nil)
		return
	}

	var req bindAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.capital.BindAccountUser(r.Context(), actor.OrgID, chi.URLParam(r, "accountId"), req.UserID); err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, map[string]string{"message": "Account user updated"})
}
