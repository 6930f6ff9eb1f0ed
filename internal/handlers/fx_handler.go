package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cartrade/backend/internal/models"
	"github.com/cartrade/backend/internal/services"
)

// FXHandler manages the currency rate table used to convert foreign amounts
// into base currency minor units at record time.
type FXHandler struct {
	fx        *services.FXService
	validator *services.ValidationHelper
}

func NewFXHandler(fx *services.FXService) *FXHandler {
	return &FXHandler{fx: fx, validator: services.NewValidationHelper()}
}

type upsertRateRequest struct {
	Currency string `json:"currency" validate:"required,len=3,uppercase"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Rate     string `json:"rate" validate:"required"`
}

// UpsertRate sets the rate for a currency and date
// @Summary Upsert fx rate
// @Description Rates apply to future conversions only; amounts already recorded keep their stored rate
// @Tags fx
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body upsertRateRequest true "Rate data"
// @Success 200 {object} map[string]string
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /fx-rates [put]
func (h *FXHandler) UpsertRate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}
	if actor.Role != models.RoleOwner && actor.Role != models.RoleAssistant {
		services.SendErrorResponse(w, "Insufficient role", http.StatusForbidden, nil)
		return
	}

	var req upsertRateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		services.SendErrorResponse(w, "rate must be a decimal string", http.StatusBadRequest, nil)
		return
	}
	date, _ := time.Parse("2006-01-02", req.Date)

	if err := h.fx.Upsert(r.Context(), req.Currency, date, rate); err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, map[string]string{"message": "Rate saved"})
}

// GetRate resolves the effective rate for a currency and date
// @Summary Get fx rate
// @Tags fx
// @Produce json
// @Security BearerAuth
// @Param currency path string true "Currency code"
// @Param asOf query string false "Effective date (YYYY-MM-DD), defaults to today"
// @Success 200 {object} map[string]string
// @Failure 404 {object} services.ErrorResponse
// @Router /fx-rates/{currency} [get]
func (h *FXHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorOrFail(w, r); !ok {
		return
	}

	asOf := time.Now().UTC()
	if q := r.URL.Query().Get("asOf"); q != "" {
		t, err := time.Parse("2006-01-02", q)
		if err != nil {
			services.SendErrorResponse(w, "asOf must be YYYY-MM-DD", http.StatusBadRequest, nil)
			return
		}
		asOf = t
	}

	currency := strings.ToUpper(chi.URLParam(r, "currency"))
	rate, err := h.fx.Rate(r.Context(), currency, asOf)
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, map[string]string{"currency": currency, "asOf": asOf.Format("2006-01-02"), "rate": rate.String()})
}
