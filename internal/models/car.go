package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type CarStatus string

const (
	StatusInTransit CarStatus = "IN_TRANSIT"
	StatusAvailable CarStatus = "AVAILABLE"
	StatusRepair    CarStatus = "REPAIR"
	StatusListed    CarStatus = "LISTED"
	StatusSold      CarStatus = "SOLD"
	StatusArchived  CarStatus = "ARCHIVED"
)

// statusRank orders the lifecycle. Available and Repair share a rank so a car
// can bounce between them; every other move is forward-only and at most one
// rank at a time.
var statusRank = map[CarStatus]int{
	StatusInTransit: 0,
	StatusAvailable: 1,
	StatusRepair:    1,
	StatusListed:    2,
	StatusSold:      3,
	StatusArchived:  4,
}

func (s CarStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanTransition reports whether from -> to is a legal status move: same rank
// (Available <-> Repair) or exactly one rank forward. Backward moves and rank
// skips (e.g. Available -> Sold) are rejected.
func CanTransition(from, to CarStatus) error {
	fr, ok := statusRank[from]
	if !ok {
		return fmt.Errorf("unknown status %q", from)
	}
	tr, ok := statusRank[to]
	if !ok {
		return fmt.Errorf("unknown status %q", to)
	}
	if from == to {
		return fmt.Errorf("car already %s", to)
	}
	if tr == fr && fr == statusRank[StatusAvailable] {
		return nil
	}
	if tr != fr+1 {
		return fmt.Errorf("cannot move %s -> %s", from, to)
	}
	return nil
}

// Car is the traded unit. Purchase and sale amounts keep their original
// currency, minor units and the FX rate resolved at record time; the rate is
// stored immutably so historical figures never shift if the rate table is
// corrected later.
type Car struct {
	ID          string          `json:"id" db:"id"`
	OrgID       string          `json:"orgId" db:"org_id"`
	VIN         string          `json:"vin" db:"vin"`
	Make        string          `json:"make" db:"make"`
	Model       string          `json:"model" db:"model"`
	Year        int             `json:"year" db:"year"`
	Status      CarStatus       `json:"status" db:"status"`
	BuyDate     time.Time       `json:"buyDate" db:"buy_date"`
	BuyPrice    int64           `json:"buyPrice" db:"buy_price"` // original currency minor units
	BuyCurrency string          `json:"buyCurrency" db:"buy_currency"`
	BuyRate     decimal.Decimal `json:"buyRate" db:"buy_rate"`

	SoldDate       *time.Time       `json:"soldDate,omitempty" db:"sold_date"`
	SoldPrice      *int64           `json:"soldPrice,omitempty" db:"sold_price"` // original currency minor units
	SoldCurrency   *string          `json:"soldCurrency,omitempty" db:"sold_currency"`
	SoldRate       *decimal.Decimal `json:"soldRate,omitempty" db:"sold_rate"`
	CommissionFils *int64           `json:"commission,omitempty" db:"commission_fils"` // base currency minor units

	Source    string    `json:"source,omitempty" db:"source"`
	Notes     string    `json:"notes,omitempty" db:"notes"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Active reports whether the car participates in overhead allocation:
// anything not yet sold or archived.
func (c Car) Active() bool {
	return c.Status != StatusSold && c.Status != StatusArchived
}
