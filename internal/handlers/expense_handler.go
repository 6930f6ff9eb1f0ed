package handlers

import (
	"net/http"
	"time"

	"github.com/cartrade/backend/internal/models"
	"github.com/cartrade/backend/internal/services"
)

// ExpenseHandler exposes expense recording, allocation previews and the
// tenant's overhead allocation rule.
type ExpenseHandler struct {
	expenses   *services.ExpenseService
	allocation *services.AllocationService
	validator  *services.ValidationHelper
}

func NewExpenseHandler(expenses *services.ExpenseService, allocation *services.AllocationService) *ExpenseHandler {
	return &ExpenseHandler{
		expenses:   expenses,
		allocation: allocation,
		validator:  services.NewValidationHelper(),
	}
}

// RecordExpense records an expense and its ledger debit
// @Summary Record expense
// @Description Record a car, overhead or personal expense; shared scopes are allocated across active cars in the same transaction
// @Tags expenses
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.RecordExpenseInput true "Expense data"
// @Success 200 {object} services.RecordExpenseResult
// @Failure 400 {object} services.ErrorResponse
// @Router /expenses [post]
func (h *ExpenseHandler) RecordExpense(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	var in services.RecordExpenseInput
	if !decodeBody(w, r, &in) {
		return
	}
	if err := h.validator.ValidateStruct(&in); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.expenses.RecordExpense(r.Context(), actor, in)
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, result)
}

// ListExpenses lists recent expenses
// @Summary List expenses
// @Tags expenses
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max rows"
// @Success 200 {array} models.Expense
// @Router /expenses [get]
func (h *ExpenseHandler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	expenses, err := h.expenses.ListExpenses(r.Context(), actor.OrgID, queryInt(r, "limit", 100))
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, expenses)
}

type previewRequest struct {
	AmountFils int64  `json:"amountFils" validate:"required,gt=0"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
}

// PreviewAllocation shows how a shared amount would split today
// @Summary Preview allocation
// @Description Dry-run of the overhead split across currently active cars; commits nothing
// @Tags expenses
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body previewRequest true "Amount and date"
// @Success 200 {object} services.AllocationPreview
// @Failure 400 {object} services.ErrorResponse
// @Router /expenses/preview-allocation [post]
func (h *ExpenseHandler) PreviewAllocation(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	var req previewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	date, _ := time.Parse("2006-01-02", req.Date)

	preview, err := h.expenses.PreviewAllocation(r.Context(), actor.OrgID, req.AmountFils, date)
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, preview)
}

// GetRule returns the tenant's overhead allocation rule
// @Summary Get allocation rule
// @Tags expenses
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.OverheadRule
// @Router /allocation-rule [get]
func (h *ExpenseHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	rule, err := h.allocation.Rule(r.Context(), actor.OrgID)
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, rule)
}

type setRuleRequest struct {
	Method    string `json:"method" validate:"required,oneof=per_car proportional"`
	WeightKey string `json:"weightKey,omitempty" validate:"omitempty,oneof=cost_basis days_held"`
}

// SetRule replaces the tenant's overhead allocation rule
// @Summary Set allocation rule
// @Description Changes apply to future allocations only; committed lines stay as written
// @Tags expenses
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body setRuleRequest true "Rule"
// @Success 200 {object} models.OverheadRule
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /allocation-rule [put]
func (h *ExpenseHandler) SetRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}
	if actor.Role != models.RoleOwner {
		services.SendErrorResponse(w, "Only the owner may change the allocation rule", http.StatusForbidden, nil)
		return
	}

	var req setRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	weightKey := models.WeightKey(req.WeightKey)
	if weightKey == "" {
		weightKey = models.WeightCostBasis
	}
	if err := h.allocation.SetRule(r.Context(), actor.OrgID, models.AllocationMethod(req.Method), weightKey); err != nil {
		services.SendCoreError(w, err)
		return
	}

	rule, err := h.allocation.Rule(r.Context(), actor.OrgID)
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, rule)
}
