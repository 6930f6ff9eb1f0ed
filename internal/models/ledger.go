package models

import (
	"encoding/json"
	"time"
)

type TxnReason string

const (
	ReasonDepositInvestor TxnReason = "DEPOSIT_INVESTOR"
	ReasonBuyCar          TxnReason = "BUY_CAR"
	ReasonExpenseCar      TxnReason = "EXPENSE_CAR"
	ReasonExpenseGeneral  TxnReason = "EXPENSE_GENERAL"
	ReasonIncomeSale      TxnReason = "INCOME_SALE"
	ReasonPayoutInvestor  TxnReason = "PAYOUT_INVESTOR"
	ReasonPayoutOwner     TxnReason = "PAYOUT_OWNER"
	ReasonPayoutAssistant TxnReason = "PAYOUT_ASSISTANT"
	ReasonWithdrawOwner   TxnReason = "WITHDRAW_OWNER"
	ReasonAdjust          TxnReason = "ADJUST"
	ReasonOther           TxnReason = "OTHER"
)

// PayoutReasons are the reasons covered by the exactly-once distribution
// guard and its (car_id, reason) unique index.
var PayoutReasons = []TxnReason{ReasonPayoutInvestor, ReasonPayoutOwner, ReasonPayoutAssistant}

func (r TxnReason) IsPayout() bool {
	for _, p := range PayoutReasons {
		if r == p {
			return true
		}
	}
	return false
}

func (r TxnReason) Valid() bool {
	switch r {
	case ReasonDepositInvestor, ReasonBuyCar, ReasonExpenseCar, ReasonExpenseGeneral,
		ReasonIncomeSale, ReasonPayoutInvestor, ReasonPayoutOwner, ReasonPayoutAssistant,
		ReasonWithdrawOwner, ReasonAdjust, ReasonOther:
		return true
	}
	return false
}

// LedgerTxn is an immutable, append-only ledger row. Amount is signed base
// currency minor units. Movements between two accounts are always written as
// pairs whose amounts are exact negatives sharing reason, date and car id;
// single rows represent money entering or leaving the tenant (deposits,
// purchases, expenses, sale income, withdrawals, adjustments).
type LedgerTxn struct {
	ID        int64           `json:"id" db:"id"`
	OrgID     string          `json:"orgId" db:"org_id"`
	AccountID string          `json:"accountId" db:"account_id"`
	Amount    int64           `json:"amount" db:"amount"` // base currency minor units
	Currency  string          `json:"currency" db:"currency"`
	Date      time.Time       `json:"date" db:"date"`
	Reason    TxnReason       `json:"reason" db:"reason"`
	CarID     *string         `json:"carId,omitempty" db:"car_id"`
	ExpenseID *string         `json:"expenseId,omitempty" db:"expense_id"`
	IncomeID  *string         `json:"incomeId,omitempty" db:"income_id"`
	Meta      json.RawMessage `json:"meta,omitempty" db:"meta"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

func (t LedgerTxn) Money() Money {
	return Money{Amount: t.Amount, Currency: t.Currency}
}
