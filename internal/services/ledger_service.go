package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cartrade/backend/internal/logger"
	"github.com/cartrade/backend/internal/models"
)

// LedgerService is the single entry point for writing ledger rows and the
// only place the zero-sum pair invariant is enforced. Callers never insert
// into ledger_txns directly.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// querier is satisfied by *sql.DB and *sql.Tx so reads can run standalone or
// inside a caller's transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Record writes a batch of ledger rows atomically. A single row is an
// adjusting entry; any batch of two or more must sum to zero across accounts
// or the whole batch is rejected with ErrUnbalancedPair before any insert.
func (s *LedgerService) Record(ctx context.Context, entries ...models.LedgerTxn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("ledger.record", err)
	}
	defer tx.Rollback()

	if err := s.RecordTx(ctx, tx, entries...); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("ledger.record", err)
	}
	return nil
}

// RecordTx is Record inside an existing transaction; multi-entry operations
// (sell, distribute, expense+allocation) compose through it so they stay
// all-or-nothing.
func (s *LedgerService) RecordTx(ctx context.Context, tx querier, entries ...models.LedgerTxn) error {
	if len(entries) == 0 {
		return fmt.Errorf("ledger.record: empty batch: %w", ErrValidation)
	}
	if len(entries) > 1 {
		var sum int64
		for _, e := range entries {
			sum += e.Amount
		}
		if sum != 0 {
			logger.Log.Error("unbalanced ledger batch rejected",
				zap.Int("entries", len(entries)), zap.Int64("sum", sum))
			return fmt.Errorf("ledger.record: batch sums to %d: %w", sum, ErrUnbalancedPair)
		}
	}
	for _, e := range entries {
		if !e.Reason.Valid() {
			return fmt.Errorf("ledger.record: unknown reason %q: %w", e.Reason, ErrValidation)
		}
		if e.AccountID == "" || e.OrgID == "" {
			return fmt.Errorf("ledger.record: missing account or org: %w", ErrValidation)
		}
		if err := s.insert(ctx, tx, e); err != nil {
			return err
		}
	}
	return nil
}

// RecordPairTx writes one money movement between two accounts as an exact
// negative pair sharing reason, date and car id.
func (s *LedgerService) RecordPairTx(ctx context.Context, tx querier, from, to string, amount models.Money, date time.Time, reason models.TxnReason, orgID string, carID *string, meta json.RawMessage) error {
	neg, err := amount.Neg()
	if err != nil {
		return fmt.Errorf("ledger.pair: %w: %v", ErrValidation, err)
	}
	debit := models.LedgerTxn{
		OrgID:     orgID,
		AccountID: from,
		Amount:    neg.Amount,
		Currency:  amount.Currency,
		Date:      date,
		Reason:    reason,
		CarID:     carID,
		Meta:      meta,
	}
	credit := models.LedgerTxn{
		OrgID:     orgID,
		AccountID: to,
		Amount:    amount.Amount,
		Currency:  amount.Currency,
		Date:      date,
		Reason:    reason,
		CarID:     carID,
		Meta:      meta,
	}
	return s.RecordTx(ctx, tx, debit, credit)
}

func (s *LedgerService) insert(ctx context.Context, tx querier, e models.LedgerTxn) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_txns (org_id, account_id, amount, currency, date, reason, car_id, expense_id, income_id, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.OrgID, e.AccountID, e.Amount, e.Currency, e.Date, string(e.Reason),
		e.CarID, e.ExpenseID, e.IncomeID, nullableJSON(e.Meta), time.Now())
	if err != nil {
		return storageErr("ledger.insert", err)
	}
	return nil
}

// Balance folds all transactions for the account up to asOf (or all of them
// when asOf is nil). The balance is recomputed from the log on every call;
// there is no stored balance column that could diverge.
func (s *LedgerService) Balance(ctx context.Context, accountID string, asOf *time.Time) (models.Money, error) {
	return s.BalanceTx(ctx, s.db, accountID, asOf)
}

func (s *LedgerService) BalanceTx(ctx context.Context, tx querier, accountID string, asOf *time.Time) (models.Money, error) {
	var amount int64
	var currency sql.NullString
	var err error
	if asOf != nil {
		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(amount), 0), MAX(currency)
			FROM ledger_txns WHERE account_id = $1 AND date <= $2`,
			accountID, *asOf).Scan(&amount, &currency)
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(amount), 0), MAX(currency)
			FROM ledger_txns WHERE account_id = $1`,
			accountID).Scan(&amount, &currency)
	}
	if err != nil {
		return models.Money{}, storageErr("ledger.balance", err)
	}
	return models.Money{Amount: amount, Currency: currency.String}, nil
}

// HistoryFilter narrows History output.
type HistoryFilter struct {
	From   *time.Time
	To     *time.Time
	Reason *models.TxnReason
	CarID  *string
	Limit  int
}

// History returns a lazy, finite iterator over the account's transactions
// ordered by date then insertion id. The iterator streams rows; Close must be
// called, and a fresh call restarts from the beginning.
func (s *LedgerService) History(ctx context.Context, accountID string, f HistoryFilter) (*HistoryIterator, error) {
	query := `
		SELECT id, org_id, account_id, amount, currency, date, reason, car_id, expense_id, income_id, meta, created_at
		FROM ledger_txns WHERE account_id = $1`
	args := []any{accountID}

	if f.From != nil {
		args = append(args, *f.From)
		query += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		query += fmt.Sprintf(" AND date <= $%d", len(args))
	}
	if f.Reason != nil {
		args = append(args, string(*f.Reason))
		query += fmt.Sprintf(" AND reason = $%d", len(args))
	}
	if f.CarID != nil {
		args = append(args, *f.CarID)
		query += fmt.Sprintf(" AND car_id = $%d", len(args))
	}
	query += " ORDER BY date, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("ledger.history", err)
	}
	return &HistoryIterator{rows: rows}, nil
}

// HistoryIterator streams ledger rows in database/sql style.
type HistoryIterator struct {
	rows *sql.Rows
	cur  models.LedgerTxn
	err  error
}

func (it *HistoryIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	var t models.LedgerTxn
	var reason string
	var meta []byte
	if err := it.rows.Scan(&t.ID, &t.OrgID, &t.AccountID, &t.Amount, &t.Currency,
		&t.Date, &reason, &t.CarID, &t.ExpenseID, &t.IncomeID, &meta, &t.CreatedAt); err != nil {
		it.err = storageErr("ledger.history.scan", err)
		return false
	}
	t.Reason = models.TxnReason(reason)
	t.Meta = meta
	it.cur = t
	return true
}

func (it *HistoryIterator) Txn() models.LedgerTxn { return it.cur }

func (it *HistoryIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *HistoryIterator) Close() error { return it.rows.Close() }

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
