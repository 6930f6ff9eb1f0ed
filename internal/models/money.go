package models

import (
	"errors"
	"fmt"
	"math"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

var (
	ErrAmountOverflow   = errors.New("money: amount overflows minor units")
	ErrUnknownCurrency  = errors.New("money: unknown currency code")
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
	ErrInvalidAmount    = errors.New("money: amount is not a finite number")
)

// Money is an exact, signed count of minor currency units (e.g. AED fils).
// It is the only monetary representation that is ever persisted; floating
// point values exist only at the conversion boundary in FromDecimal.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// NewMoney wraps an already-exact minor-unit amount.
func NewMoney(minorUnits int64, currency string) Money {
	return Money{Amount: minorUnits, Currency: currency}
}

// minorDigits returns the number of minor-unit digits for a currency
// (2 for AED, USD; 0 for JPY), from the go-money currency table.
func minorDigits(code string) (int32, error) {
	cur := gomoney.GetCurrency(code)
	if cur == nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return int32(cur.Fraction), nil
}

// FromDecimal converts an original-currency amount into base-currency minor
// units: amount * fxRateToBase, shifted to minor units and rounded half away
// from zero. The result is exact or an error; there is no silent truncation.
func FromDecimal(amount decimal.Decimal, fxRateToBase decimal.Decimal, baseCurrency string) (Money, error) {
	digits, err := minorDigits(baseCurrency)
	if err != nil {
		return Money{}, err
	}
	if fxRateToBase.Sign() <= 0 {
		return Money{}, fmt.Errorf("%w: fx rate must be positive", ErrInvalidAmount)
	}
	minor := amount.Mul(fxRateToBase).Shift(digits).Round(0)
	if !minor.BigInt().IsInt64() {
		return Money{}, fmt.Errorf("%w: %s %s", ErrAmountOverflow, minor, baseCurrency)
	}
	return Money{Amount: minor.IntPart(), Currency: baseCurrency}, nil
}

// FromMinorUnits converts an amount given in the original currency's own
// minor units (how amounts cross the API boundary) into base-currency minor
// units at the given rate.
func FromMinorUnits(minor int64, currency string, fxRateToBase decimal.Decimal, baseCurrency string) (Money, error) {
	digits, err := minorDigits(currency)
	if err != nil {
		return Money{}, err
	}
	major := decimal.New(minor, 0).Shift(-digits)
	return FromDecimal(major, fxRateToBase, baseCurrency)
}

// FromFloat is the boundary for callers that only have a float64 in hand.
// Non-finite inputs are rejected before any decimal conversion.
func FromFloat(amount float64, fxRateToBase float64, baseCurrency string) (Money, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || math.IsNaN(fxRateToBase) || math.IsInf(fxRateToBase, 0) {
		return Money{}, ErrInvalidAmount
	}
	return FromDecimal(decimal.NewFromFloat(amount), decimal.NewFromFloat(fxRateToBase), baseCurrency)
}

func (m Money) IsZero() bool     { return m.Amount == 0 }
func (m Money) IsPositive() bool { return m.Amount > 0 }
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Add returns m + n with overflow detection.
func (m Money) Add(n Money) (Money, error) {
	if err := m.sameCurrency(n); err != nil {
		return Money{}, err
	}
	sum := m.Amount + n.Amount
	if (n.Amount > 0 && sum < m.Amount) || (n.Amount < 0 && sum > m.Amount) {
		return Money{}, ErrAmountOverflow
	}
	return Money{Amount: sum, Currency: m.Currency}, nil
}

// Sub returns m - n with overflow detection.
func (m Money) Sub(n Money) (Money, error) {
	neg, err := n.Neg()
	if err != nil {
		return Money{}, err
	}
	return m.Add(neg)
}

// Neg returns -m. Negating MinInt64 has no int64 representation.
func (m Money) Neg() (Money, error) {
	if m.Amount == math.MinInt64 {
		return Money{}, ErrAmountOverflow
	}
	return Money{Amount: -m.Amount, Currency: m.Currency}, nil
}

// Compare returns -1, 0 or 1.
func (m Money) Compare(n Money) (int, error) {
	if err := m.sameCurrency(n); err != nil {
		return 0, err
	}
	switch {
	case m.Amount < n.Amount:
		return -1, nil
	case m.Amount > n.Amount:
		return 1, nil
	}
	return 0, nil
}

// MulPercent returns m * pct/100 rounded half away from zero, used for
// profit shares. The arithmetic stays in decimal so 50% of an odd fils
// count rounds the same way FromDecimal rounds.
func (m Money) MulPercent(pct int64) Money {
	share := decimal.NewFromInt(m.Amount).
		Mul(decimal.NewFromInt(pct)).
		DivRound(decimal.NewFromInt(100), 0)
	return Money{Amount: share.IntPart(), Currency: m.Currency}
}

// Decimal returns the amount in major units for display and serialization
// at reporting boundaries. Persistence always uses Amount.
func (m Money) Decimal() (decimal.Decimal, error) {
	digits, err := minorDigits(m.Currency)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromInt(m.Amount).Shift(-digits), nil
}

func (m Money) String() string {
	d, err := m.Decimal()
	if err != nil {
		return fmt.Sprintf("%d %s(minor)", m.Amount, m.Currency)
	}
	return fmt.Sprintf("%s %s", d.StringFixed(2), m.Currency)
}

func (m Money) sameCurrency(n Money) error {
	if m.Currency != n.Currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, n.Currency)
	}
	return nil
}
