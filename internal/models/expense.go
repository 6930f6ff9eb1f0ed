package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ScopeKind string

const (
	ScopeCar      ScopeKind = "CAR"
	ScopeOverhead ScopeKind = "OVERHEAD"
	ScopePersonal ScopeKind = "PERSONAL"
)

// ExpenseScope is the tagged variant deciding allocation eligibility. CarID
// is set only for ScopeCar.
type ExpenseScope struct {
	Kind  ScopeKind `json:"kind"`
	CarID string    `json:"carId,omitempty"`
}

func CarScope(carID string) ExpenseScope { return ExpenseScope{Kind: ScopeCar, CarID: carID} }
func OverheadScope() ExpenseScope        { return ExpenseScope{Kind: ScopeOverhead} }
func PersonalScope() ExpenseScope        { return ExpenseScope{Kind: ScopePersonal} }

func (s ExpenseScope) Valid() bool {
	switch s.Kind {
	case ScopeCar:
		return s.CarID != ""
	case ScopeOverhead, ScopePersonal:
		return s.CarID == ""
	}
	return false
}

// Expense keeps both the original-currency amount and the base-currency
// minor-unit figure computed once at record time, so cost sums never depend
// on later FX table edits.
type Expense struct {
	ID         string          `json:"id" db:"id"`
	OrgID      string          `json:"orgId" db:"org_id"`
	CarID      *string         `json:"carId,omitempty" db:"car_id"`
	Category   string          `json:"category" db:"category"`
	Amount     int64           `json:"amount" db:"amount"` // original currency minor units
	Currency   string          `json:"currency" db:"currency"`
	FxRate     decimal.Decimal `json:"fxRate" db:"fx_rate"`
	AmountFils int64           `json:"amountFils" db:"amount_fils"` // base currency minor units
	Date       time.Time       `json:"date" db:"date"`
	IsPersonal bool            `json:"isPersonal" db:"is_personal"`
	PaidFromID string          `json:"paidFromId" db:"paid_from_id"`
	Notes      string          `json:"notes,omitempty" db:"notes"`
	CreatedAt  time.Time       `json:"createdAt" db:"created_at"`
}

// Scope reconstructs the tagged scope from the stored row.
func (e Expense) Scope() ExpenseScope {
	switch {
	case e.CarID != nil:
		return CarScope(*e.CarID)
	case e.IsPersonal:
		return PersonalScope()
	}
	return OverheadScope()
}
