package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cartrade/backend/internal/config"
	"github.com/cartrade/backend/internal/logger"
	"github.com/cartrade/backend/internal/models"
)

type PaidFrom string

const (
	PaidFromBusiness PaidFrom = "BUSINESS_FUNDS"
	PaidFromPersonal PaidFrom = "MY_PERSONAL"
	PaidFromInvestor PaidFrom = "INVESTOR_FUNDS"
)

// ExpenseService records expenses and their ledger debit. Car-scoped
// expenses feed the car's direct cost; overhead and personal expenses are
// allocated across active cars in the same transaction.
type ExpenseService struct {
	db         *sql.DB
	ledger     *LedgerService
	allocation *AllocationService
	fx         *FXService
	cfg        *config.LedgerConfig
}

func NewExpenseService(db *sql.DB, ledger *LedgerService, allocation *AllocationService, fx *FXService, cfg *config.LedgerConfig) *ExpenseService {
	return &ExpenseService{db: db, ledger: ledger, allocation: allocation, fx: fx, cfg: cfg}
}

// RecordExpenseInput crosses the boundary in original-currency minor units.
type RecordExpenseInput struct {
	Scope     string   `json:"scope" validate:"required,oneof=car overhead personal"`
	CarID     string   `json:"carId,omitempty"`
	Category  string   `json:"category" validate:"required"`
	Amount    int64    `json:"amount" validate:"required,gt=0"` // minor units
	Currency  string   `json:"currency" validate:"required,len=3"`
	FxRate    string   `json:"fxRate,omitempty"` // decimal string; resolved from fx table when empty
	Date      string   `json:"date" validate:"required,datetime=2006-01-02"`
	PaidFrom  PaidFrom `json:"paidFrom" validate:"required,oneof=BUSINESS_FUNDS MY_PERSONAL INVESTOR_FUNDS"`
	AccountID string   `json:"accountId,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}

func (in RecordExpenseInput) scope() (models.ExpenseScope, error) {
	var s models.ExpenseScope
	switch in.Scope {
	case "car":
		s = models.CarScope(in.CarID)
	case "overhead":
		s = models.OverheadScope()
	case "personal":
		s = models.PersonalScope()
	}
	if !s.Valid() {
		return s, fmt.Errorf("scope %q requires matching carId: %w", in.Scope, ErrValidation)
	}
	return s, nil
}

// RecordExpenseResult returns the stored expense and, for shared scopes, the
// allocation that was committed alongside it.
type RecordExpenseResult struct {
	Expense    models.Expense     `json:"expense"`
	Allocation *AllocationPreview `json:"allocation,omitempty"`
}

// RecordExpense writes the expense row, its ledger debit, and (for shared
// scopes) the allocation lines, all-or-nothing.
func (s *ExpenseService) RecordExpense(ctx context.Context, actor models.Actor, in RecordExpenseInput) (*RecordExpenseResult, error) {
	if err := ensureCanManage(actor); err != nil {
		return nil, err
	}
	scope, err := in.scope()
	if err != nil {
		return nil, err
	}

	date, err := time.Parse("2006-01-02", in.Date)
	if err != nil {
		return nil, fmt.Errorf("bad expense date: %w", ErrValidation)
	}

	var rate decimal.Decimal
	if in.FxRate != "" {
		rate, err = decimal.NewFromString(in.FxRate)
		if err != nil || rate.Sign() <= 0 {
			return nil, fmt.Errorf("bad fx rate %q: %w", in.FxRate, ErrValidation)
		}
	} else {
		rate, err = s.fx.Rate(ctx, in.Currency, date)
		if err != nil {
			return nil, err
		}
	}

	amountBase, err := models.FromMinorUnits(in.Amount, in.Currency, rate, s.cfg.BaseCurrency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	debit, err := amountBase.Neg()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("expense.record", err)
	}
	defer tx.Rollback()

	accountID, err := s.resolvePaidFrom(ctx, tx, actor.OrgID, in, scope)
	if err != nil {
		return nil, err
	}

	expense := models.Expense{
		ID:         uuid.NewString(),
		OrgID:      actor.OrgID,
		Category:   in.Category,
		Amount:     in.Amount,
		Currency:   in.Currency,
		FxRate:     rate,
		AmountFils: amountBase.Amount,
		Date:       date,
		IsPersonal: scope.Kind == models.ScopePersonal,
		PaidFromID: accountID,
		Notes:      in.Notes,
	}
	var carID *string
	if scope.Kind == models.ScopeCar {
		carID = &scope.CarID
		expense.CarID = carID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO expenses (id, org_id, car_id, category, amount, currency, fx_rate, amount_fils, date, is_personal, paid_from_id, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())`,
		expense.ID, expense.OrgID, expense.CarID, expense.Category, expense.Amount,
		expense.Currency, expense.FxRate, expense.AmountFils, expense.Date,
		expense.IsPersonal, expense.PaidFromID, expense.Notes)
	if err != nil {
		return nil, storageErr("expense.record", err)
	}

	reason := models.ReasonExpenseGeneral
	if scope.Kind == models.ScopeCar {
		reason = models.ReasonExpenseCar
	}
	meta, _ := json.Marshal(map[string]string{
		"currency": in.Currency,
		"amount":   decimal.New(in.Amount, 0).String(),
		"fxRate":   rate.String(),
	})
	debitTxn := models.LedgerTxn{
		OrgID:     actor.OrgID,
		AccountID: accountID,
		Amount:    debit.Amount,
		Currency:  s.cfg.BaseCurrency,
		Date:      date,
		Reason:    reason,
		CarID:     carID,
		ExpenseID: &expense.ID,
		Meta:      meta,
	}
	if err := s.ledger.RecordTx(ctx, tx, debitTxn); err != nil {
		return nil, err
	}

	result := &RecordExpenseResult{Expense: expense}
	if scope.Kind != models.ScopeCar {
		alloc, err := s.allocation.CommitTx(ctx, tx, actor.OrgID, expense.ID, amountBase.Amount, date)
		if err != nil {
			return nil, err
		}
		result.Allocation = &alloc
		if alloc.Unallocated {
			logger.Log.Warn("shared expense recorded with no eligible cars",
				zap.String("expenseId", expense.ID), zap.Int64("amountFils", amountBase.Amount))
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("expense.record", err)
	}
	return result, nil
}

// PreviewAllocation exposes the pure preview for the UI before an expense is
// committed.
func (s *ExpenseService) PreviewAllocation(ctx context.Context, orgID string, amountFils int64, date time.Time) (AllocationPreview, error) {
	if amountFils <= 0 {
		return AllocationPreview{}, fmt.Errorf("amount must be positive: %w", ErrValidation)
	}
	return s.allocation.Preview(ctx, orgID, amountFils, date)
}

// resolvePaidFrom mirrors the account fallback chain: explicit account first,
// then by paid-from kind (business, owner personal, or the investor who
// funded the car's purchase).
func (s *ExpenseService) resolvePaidFrom(ctx context.Context, q querier, orgID string, in RecordExpenseInput, scope models.ExpenseScope) (string, error) {
	if in.AccountID != "" {
		var id string
		err := q.QueryRowContext(ctx, `
			SELECT id FROM capital_accounts WHERE id = $1 AND org_id = $2`,
			in.AccountID, orgID).Scan(&id)
		if err != nil {
			return "", storageErr("expense.account", err)
		}
		return id, nil
	}

	byType := func(typ models.AccountType) (string, error) {
		var id string
		err := q.QueryRowContext(ctx, `
			SELECT id FROM capital_accounts WHERE org_id = $1 AND type = $2`,
			orgID, string(typ)).Scan(&id)
		if err != nil {
			return "", storageErr("expense.account", err)
		}
		return id, nil
	}

	switch in.PaidFrom {
	case PaidFromBusiness:
		return byType(models.AccountBusiness)
	case PaidFromPersonal:
		return byType(models.AccountOwner)
	case PaidFromInvestor:
		if scope.Kind == models.ScopeCar {
			var id string
			err := q.QueryRowContext(ctx, `
				SELECT account_id FROM ledger_txns
				WHERE org_id = $1 AND car_id = $2 AND reason = 'BUY_CAR'
				ORDER BY id LIMIT 1`,
				orgID, scope.CarID).Scan(&id)
			if err == nil {
				return id, nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return "", storageErr("expense.account", err)
			}
		}
		return byType(models.AccountInvestor)
	}
	return "", fmt.Errorf("unknown paid-from %q: %w", in.PaidFrom, ErrValidation)
}

// ListExpenses returns the most recent expenses for the tenant.
func (s *ExpenseService) ListExpenses(ctx context.Context, orgID string, limit int) ([]models.Expense, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, car_id, category, amount, currency, fx_rate, amount_fils, date, is_personal, paid_from_id, notes, created_at
		FROM expenses WHERE org_id = $1
		ORDER BY date DESC, created_at DESC LIMIT $2`,
		orgID, limit)
	if err != nil {
		return nil, storageErr("expense.list", err)
	}
	defer rows.Close()

	var out []models.Expense
	for rows.Next() {
		var e models.Expense
		if err := rows.Scan(&e.ID, &e.OrgID, &e.CarID, &e.Category, &e.Amount, &e.Currency,
			&e.FxRate, &e.AmountFils, &e.Date, &e.IsPersonal, &e.PaidFromID, &e.Notes, &e.CreatedAt); err != nil {
			return nil, storageErr("expense.list.scan", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
