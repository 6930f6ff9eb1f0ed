package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AllocationMethod string

const (
	// MethodPerCar splits a shared expense equally across eligible cars.
	MethodPerCar AllocationMethod = "per_car"
	// MethodProportional weights each eligible car by the configured key.
	MethodProportional AllocationMethod = "proportional"
)

type WeightKey string

const (
	WeightCostBasis WeightKey = "cost_basis"
	WeightDaysHeld  WeightKey = "days_held"
)

func (m AllocationMethod) Valid() bool {
	return m == MethodPerCar || m == MethodProportional
}

// AllocationLine is one car's share of a shared expense. Lines for a single
// expense always sum to the expense amount to the minor unit.
type AllocationLine struct {
	ID         string           `json:"id" db:"id"`
	OrgID      string           `json:"orgId" db:"org_id"`
	ExpenseID  string           `json:"expenseId" db:"expense_id"`
	CarID      string           `json:"carId" db:"car_id"`
	CarVIN     string           `json:"carVin"` // filled from the car row, not stored
	AmountFils int64            `json:"amountFils" db:"amount_fils"` // base currency minor units
	Ratio      decimal.Decimal  `json:"ratio" db:"ratio"`
	Method     AllocationMethod `json:"method" db:"method"`
	CreatedAt  time.Time        `json:"createdAt" db:"created_at"`
}

// OverheadRule is the per-tenant allocation configuration.
type OverheadRule struct {
	OrgID     string           `json:"orgId" db:"org_id"`
	Method    AllocationMethod `json:"method" db:"method"`
	WeightKey WeightKey        `json:"weightKey" db:"weight_key"`
	UpdatedAt time.Time        `json:"updatedAt" db:"updated_at"`
}
