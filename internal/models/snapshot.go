package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CostBasis breaks down what a car has cost in base currency minor units.
// TotalFils is always the simple sum of the three components; a car with no
// expenses reports zeros, never absent values.
type CostBasis struct {
	PurchaseFils          int64 `json:"purchaseFils"`
	DirectExpensesFils    int64 `json:"directExpensesFils"`
	AllocatedOverheadFils int64 `json:"allocatedOverheadFils"`
	TotalFils             int64 `json:"totalFils"`
}

// DealSnapshot is the point-in-time copy of a sold car's figures, written by
// the sale engine and updated only by a re-sell of the same car. Reports read
// it instead of live aggregates so history stays stable after corrections.
type DealSnapshot struct {
	CarID                 string           `json:"carId" db:"car_id"`
	OrgID                 string           `json:"orgId" db:"org_id"`
	SoldPriceFils         int64            `json:"soldPriceFils" db:"sold_price_fils"`
	CommissionFils        int64            `json:"commissionFils" db:"commission_fils"`
	PurchaseFils          int64            `json:"purchaseFils" db:"purchase_fils"`
	DirectExpensesFils    int64            `json:"directExpensesFils" db:"direct_expenses_fils"`
	AllocatedOverheadFils int64            `json:"allocatedOverheadFils" db:"allocated_overhead_fils"`
	TotalCostFils         int64            `json:"totalCostFils" db:"total_cost_fils"`
	ProfitFils            int64            `json:"profitFils" db:"profit_fils"`
	MarginPct             *decimal.Decimal `json:"marginPct,omitempty" db:"margin_pct"` // nil when sold price is zero
	DaysOnLot             int              `json:"daysOnLot" db:"days_on_lot"`
	Anomalous             bool             `json:"anomalous" db:"anomalous"` // sold before purchase date
	CreatedAt             time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt             time.Time        `json:"updatedAt" db:"updated_at"`
}
