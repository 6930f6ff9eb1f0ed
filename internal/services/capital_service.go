package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cartrade/backend/internal/config"
	"github.com/cartrade/backend/internal/models"
)

// CapitalService manages the four singleton accounts per tenant and manual
// capital movements (investor deposits, owner withdrawals, adjustments).
type CapitalService struct {
	db     *sql.DB
	ledger *LedgerService
	cfg    *config.LedgerConfig
}

func NewCapitalService(db *sql.DB, ledger *LedgerService, cfg *config.LedgerConfig) *CapitalService {
	return &CapitalService{db: db, ledger: ledger, cfg: cfg}
}

// ownerOnlyReasons may only be recorded by the tenant owner.
var ownerOnlyReasons = map[models.TxnReason]bool{
	models.ReasonAdjust:        true,
	models.ReasonWithdrawOwner: true,
}

// SetupTenant creates the four accounts once. Existing accounts are left
// untouched; accounts are never deleted.
func (s *CapitalService) SetupTenant(ctx context.Context, orgID string, names map[models.AccountType]string) error {
	for _, typ := range []models.AccountType{
		models.AccountBusiness, models.AccountInvestor, models.AccountOwner, models.AccountAssistant,
	} {
		name := names[typ]
		if name == "" {
			name = string(typ)
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO capital_accounts (id, org_id, type, name, created_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (org_id, type) DO NOTHING`,
			uuid.NewString(), orgID, string(typ), name)
		if err != nil {
			return storageErr("capital.setup", err)
		}
	}
	return nil
}

// BindAccountUser attaches a user to an investor/owner/assistant account.
func (s *CapitalService) BindAccountUser(ctx context.Context, orgID, accountID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE capital_accounts SET user_id = $1
		WHERE id = $2 AND org_id = $3 AND type <> 'BUSINESS'`,
		userID, accountID, orgID)
	if err != nil {
		return storageErr("capital.bind", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return nil
}

// AccountWithBalance pairs an account with its folded balance.
type AccountWithBalance struct {
	Account models.CapitalAccount `json:"account"`
	Balance models.Money          `json:"balance"`
}

// ListAccounts returns the tenant's accounts with balances computed as the
// fold of their ledger transactions.
func (s *CapitalService) ListAccounts(ctx context.Context, orgID string) ([]AccountWithBalance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.org_id, a.type, a.name, a.user_id, a.created_at,
			COALESCE(SUM(t.amount), 0)
		FROM capital_accounts a
		LEFT JOIN ledger_txns t ON t.account_id = a.id
		WHERE a.org_id = $1
		GROUP BY a.id, a.org_id, a.type, a.name, a.user_id, a.created_at
		ORDER BY a.created_at`,
		orgID)
	if err != nil {
		return nil, storageErr("capital.list", err)
	}
	defer rows.Close()

	var out []AccountWithBalance
	for rows.Next() {
		var item AccountWithBalance
		var typ string
		if err := rows.Scan(&item.Account.ID, &item.Account.OrgID, &typ, &item.Account.Name,
			&item.Account.UserID, &item.Account.CreatedAt, &item.Balance.Amount); err != nil {
			return nil, storageErr("capital.list.scan", err)
		}
		item.Account.Type = models.AccountType(typ)
		item.Balance.Currency = s.cfg.BaseCurrency
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("capital.list", err)
	}
	return out, nil
}

// verifyAccount confirms the account belongs to the tenant before any
// balance or history read crosses org lines.
func (s *CapitalService) verifyAccount(ctx context.Context, orgID, accountID string) error {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM capital_accounts WHERE id = $1 AND org_id = $2`,
		accountID, orgID).Scan(&id)
	if err != nil {
		return storageErr("capital.verify", err)
	}
	return nil
}

// Balance returns the account's folded balance, optionally as of a date.
// An account with no transactions yet folds to zero in the base currency.
func (s *CapitalService) Balance(ctx context.Context, orgID, accountID string, asOf *time.Time) (models.Money, error) {
	if err := s.verifyAccount(ctx, orgID, accountID); err != nil {
		return models.Money{}, err
	}
	balance, err := s.ledger.Balance(ctx, accountID, asOf)
	if err != nil {
		return models.Money{}, err
	}
	if balance.Currency == "" {
		balance.Currency = s.cfg.BaseCurrency
	}
	return balance, nil
}

// History returns one page of the account's transactions, oldest first.
func (s *CapitalService) History(ctx context.Context, orgID, accountID string, f HistoryFilter) ([]models.LedgerTxn, error) {
	if err := s.verifyAccount(ctx, orgID, accountID); err != nil {
		return nil, err
	}
	if f.Limit < 1 || f.Limit > s.cfg.HistoryPageMaxRows {
		f.Limit = s.cfg.HistoryPageMaxRows
	}

	it, err := s.ledger.History(ctx, accountID, f)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []models.LedgerTxn
	for it.Next() {
		out = append(out, it.Txn())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ManualTxnInput is a manual capital movement in base currency minor units.
type ManualTxnInput struct {
	AccountID  string `json:"accountId" validate:"required,uuid"`
	AmountFils int64  `json:"amountFils" validate:"required"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Reason     string `json:"reason" validate:"required"`
	CarID      string `json:"carId,omitempty"`
	Note       string `json:"note,omitempty"`
}

// RecordManualTxn writes a single adjusting entry: deposits, withdrawals and
// corrections. Adjust/WithdrawOwner are owner-only.
func (s *CapitalService) RecordManualTxn(ctx context.Context, actor models.Actor, in ManualTxnInput) (*models.LedgerTxn, error) {
	reason := models.TxnReason(in.Reason)
	if !reason.Valid() || reason.IsPayout() || reason == models.ReasonIncomeSale || reason == models.ReasonBuyCar {
		return nil, fmt.Errorf("reason %q not allowed for manual entries: %w", in.Reason, ErrValidation)
	}
	if ownerOnlyReasons[reason] && actor.Role != models.RoleOwner {
		return nil, fmt.Errorf("reason %s is owner-only: %w", reason, ErrForbidden)
	}
	if err := ensureCanManage(actor); err != nil {
		return nil, err
	}

	date, err := time.Parse("2006-01-02", in.Date)
	if err != nil {
		return nil, fmt.Errorf("bad date: %w", ErrValidation)
	}

	var accountID string
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM capital_accounts WHERE id = $1 AND org_id = $2`,
		in.AccountID, actor.OrgID).Scan(&accountID)
	if err != nil {
		return nil, storageErr("capital.manual", err)
	}

	txn := models.LedgerTxn{
		OrgID:     actor.OrgID,
		AccountID: accountID,
		Amount:    in.AmountFils,
		Currency:  s.cfg.BaseCurrency,
		Date:      date,
		Reason:    reason,
	}
	if in.CarID != "" {
		txn.CarID = &in.CarID
	}
	if in.Note != "" {
		meta, _ := json.Marshal(map[string]string{"note": in.Note})
		txn.Meta = meta
	}

	if err := s.ledger.Record(ctx, txn); err != nil {
		return nil, err
	}
	return &txn, nil
}
