package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cartrade/backend/internal/middleware"
	"github.com/cartrade/backend/internal/models"
	"github.com/cartrade/backend/internal/services"
)

// CarHandler is the thin HTTP layer over the car, cost, sale and
// distribution services. All amounts cross this boundary as integer minor
// units.
type CarHandler struct {
	cars         *services.CarService
	cost         *services.CostService
	sale         *services.SaleService
	distribution *services.DistributionService
	validator    *services.ValidationHelper
}

func NewCarHandler(cars *services.CarService, cost *services.CostService, sale *services.SaleService, distribution *services.DistributionService) *CarHandler {
	return &CarHandler{
		cars:         cars,
		cost:         cost,
		sale:         sale,
		distribution: distribution,
		validator:    services.NewValidationHelper(),
	}
}

func actorOrFail(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return models.Actor{}, false
	}
	return actor, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// CreateCar registers a purchased car
// @Summary Create a car
// @Description Register a purchased car and its funding ledger entry
// @Tags cars
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.CreateCarInput true "Car data"
// @Success 200 {object} models.Car
// @Failure 400 {object} services.ErrorResponse
// @Router /cars [post]
func (h *CarHandler) CreateCar(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	var in services.CreateCarInput
	if !decodeBody(w, r, &in) {
		return
	}
	if err := h.validator.ValidateStruct(&in); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	car, err := h.cars.CreateCar(r.Context(), actor, in)
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, car)
}

// ListCars lists cars with metrics
// @Summary List cars
// @Tags cars
// @Produce json
// @Security BearerAuth
// @Param status query string false "Filter by status"
// @Success 200 {object} services.ListCarsResult
// @Router /cars [get]
func (h *CarHandler) ListCars(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	var status *models.CarStatus
	if q := r.URL.Query().Get("status"); q != "" {
		s := models.CarStatus(q)
		if !s.Valid() {
			services.SendErrorResponse(w, "Unknown status", http.StatusBadRequest, nil)
			return
		}
		status = &s
	}
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "pageSize", 20)

	result, err := h.cars.ListCars(r.Context(), actor.OrgID, status, page, pageSize)
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, result)
}

// GetCar returns a single car
// @Summary Get car
// @Tags cars
// @Produce json
// @Security BearerAuth
// @Param carId path string true "Car ID"
// @Success 200 {object} models.Car
// @Failure 404 {object} services.ErrorResponse
// @Router /cars/{carId} [get]
func (h *CarHandler) GetCar(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	car, err := h.cars.GetCar(r.Context(), actor.OrgID, chi.URLParam(r, "carId"))
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, car)
}

// GetCostBasis returns a car's cost breakdown
// @Summary Get cost basis
// @Tags cars
// @Produce json
// @Security BearerAuth
// @Param carId path string true "Car ID"
// @Success 200 {object} services.CostBasisResult
// @Router /cars/{carId}/cost-basis [get]
func (h *CarHandler) GetCostBasis(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	basis, err := h.cost.CostBasis(r.Context(), actor.OrgID, chi.URLParam(r, "carId"))
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, basis)
}

// UpdateStatus advances a car along its lifecycle
// @Summary Update car status
// @Tags cars
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param carId path string true "Car ID"
// @Param request body object{status=string} true "Target status"
// @Success 200 {object} models.Car
// @Failure 400 {object} services.ErrorResponse
// @Router /cars/{carId}/status [put]
func (h *CarHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status" validate:"required"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	car, err := h.cars.UpdateStatus(r.Context(), actor, chi.URLParam(r, "carId"), models.CarStatus(req.Status))
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, car)
}

// SellCar records or re-records a sale
// @Summary Sell a car
// @Description Idempotent per car: re-selling updates the existing sale
// @Tags cars
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param carId path string true "Car ID"
// @Param request body services.SellInput true "Sale data"
// @Success 200 {object} models.Car
// @Failure 400 {object} services.ErrorResponse
// @Router /cars/{carId}/sell [post]
func (h *CarHandler) SellCar(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	var in services.SellInput
	if !decodeBody(w, r, &in) {
		return
	}
	if err := h.validator.ValidateStruct(&in); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	car, err := h.sale.Sell(r.Context(), actor, chi.URLParam(r, "carId"), in)
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, car)
}

// DistributeProfit pays out a sold car's profit
// @Summary Distribute profit
// @Description Exactly-once 50/25/25 split of a sold car's profit
// @Tags cars
// @Produce json
// @Security BearerAuth
// @Param carId path string true "Car ID"
// @Success 200 {object} services.DistributionResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /cars/{carId}/distribute-profit [post]
func (h *CarHandler) DistributeProfit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	result, err := h.distribution.Distribute(r.Context(), actor, chi.URLParam(r, "carId"))
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, result)
}

// GetSnapshot returns the stored deal snapshot of a sold car
// @Summary Get deal snapshot
// @Tags cars
// @Produce json
// @Security BearerAuth
// @Param carId path string true "Car ID"
// @Success 200 {object} models.DealSnapshot
// @Failure 404 {object} services.ErrorResponse
// @Router /cars/{carId}/snapshot [get]
func (h *CarHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	snap, err := h.sale.Snapshot(r.Context(), actor.OrgID, chi.URLParam(r, "carId"))
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, snap)
}
