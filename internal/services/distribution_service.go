package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cartrade/backend/internal/config"
	"github.com/cartrade/backend/internal/logger"
	"github.com/cartrade/backend/internal/models"
)

// DistributionService performs the exactly-once profit split for a sold car.
// The payout check runs inside the same transaction as the inserts, and the
// partial unique index on (car_id, reason, account_id) makes the second of
// two racing calls fail with ErrAlreadyDistributed rather than double-pay.
type DistributionService struct {
	db     *sql.DB
	ledger *LedgerService
	sale   *SaleService
	cars   *CarService
	cfg    *config.LedgerConfig
}

func NewDistributionService(db *sql.DB, ledger *LedgerService, sale *SaleService, cars *CarService, cfg *config.LedgerConfig) *DistributionService {
	return &DistributionService{db: db, ledger: ledger, sale: sale, cars: cars, cfg: cfg}
}

// DistributionResult reports the three rounded shares in base currency minor
// units. Their sum is exactly what the business account was debited, even
// when rounding means it differs from profit by a fils or two.
type DistributionResult struct {
	InvestorShareFils  int64 `json:"investorShareFils"`
	AssistantShareFils int64 `json:"assistantShareFils"`
	OwnerShareFils     int64 `json:"ownerShareFils"`
	ProfitFils         int64 `json:"profitFils"`
}

// Distribute pays out a sold car's profit at the configured percentages.
// Guard order: Forbidden, NotSold, NoProfit, AlreadyDistributed.
func (s *DistributionService) Distribute(ctx context.Context, actor models.Actor, carID string) (*DistributionResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("distribute", err)
	}
	defer tx.Rollback()

	if err := s.authorize(ctx, tx, actor); err != nil {
		return nil, err
	}

	car, err := s.cars.getCarTx(ctx, tx, actor.OrgID, carID, true)
	if err != nil {
		return nil, err
	}
	if car.Status != models.StatusSold {
		return nil, fmt.Errorf("car %s is %s: %w", carID, car.Status, ErrNotSold)
	}

	profit, err := s.sale.ProfitTx(ctx, tx, actor.OrgID, carID)
	if err != nil {
		return nil, err
	}
	if !profit.IsPositive() {
		return nil, fmt.Errorf("profit is %d fils: %w", profit.Amount, ErrNoProfit)
	}

	var distributed bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_txns
			WHERE org_id = $1 AND car_id = $2
			AND reason IN ('PAYOUT_INVESTOR', 'PAYOUT_OWNER', 'PAYOUT_ASSISTANT'))`,
		actor.OrgID, carID).Scan(&distributed)
	if err != nil {
		return nil, storageErr("distribute.check", err)
	}
	if distributed {
		return nil, fmt.Errorf("car %s: %w", carID, ErrAlreadyDistributed)
	}

	accounts, err := s.payoutAccounts(ctx, tx, actor.OrgID, carID)
	if err != nil {
		return nil, err
	}

	investorShare := profit.MulPercent(s.cfg.InvestorSharePct)
	assistantShare := profit.MulPercent(s.cfg.AssistantSharePct)
	ownerShare := profit.MulPercent(s.cfg.OwnerSharePct)

	payoutDate := time.Now().UTC()
	meta, _ := json.Marshal(map[string]string{"profitFils": fmt.Sprint(profit.Amount)})

	pairs := []struct {
		to     string
		share  models.Money
		reason models.TxnReason
	}{
		{accounts.investor, investorShare, models.ReasonPayoutInvestor},
		{accounts.assistant, assistantShare, models.ReasonPayoutAssistant},
		{accounts.owner, ownerShare, models.ReasonPayoutOwner},
	}
	for _, p := range pairs {
		if err := s.ledger.RecordPairTx(ctx, tx, accounts.business, p.to, p.share,
			payoutDate, p.reason, actor.OrgID, &carID, meta); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("distribute", err)
	}

	logger.Log.Info("profit distributed",
		zap.String("carId", carID),
		zap.Int64("profitFils", profit.Amount),
		zap.Int64("investorFils", investorShare.Amount),
		zap.Int64("assistantFils", assistantShare.Amount),
		zap.Int64("ownerFils", ownerShare.Amount))

	return &DistributionResult{
		InvestorShareFils:  investorShare.Amount,
		AssistantShareFils: assistantShare.Amount,
		OwnerShareFils:     ownerShare.Amount,
		ProfitFils:         profit.Amount,
	}, nil
}

// authorize allows the owner always, and an assistant only when the
// assistant account is bound to them.
func (s *DistributionService) authorize(ctx context.Context, q querier, actor models.Actor) error {
	switch actor.Role {
	case models.RoleOwner:
		return nil
	case models.RoleAssistant:
		var bound bool
		err := q.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM capital_accounts
				WHERE org_id = $1 AND type = 'ASSISTANT' AND user_id = $2)`,
			actor.OrgID, actor.UserID).Scan(&bound)
		if err != nil {
			return storageErr("distribute.authz", err)
		}
		if bound {
			return nil
		}
	}
	return fmt.Errorf("role %s may not distribute profit: %w", actor.Role, ErrForbidden)
}

type payoutAccounts struct {
	business  string
	investor  string
	owner     string
	assistant string
}

// payoutAccounts resolves the four parties. The investor side prefers the
// account that funded the car's purchase, falling back to the tenant's
// investor account.
func (s *DistributionService) payoutAccounts(ctx context.Context, q querier, orgID, carID string) (payoutAccounts, error) {
	var out payoutAccounts

	byType := func(typ models.AccountType) (string, error) {
		var id string
		err := q.QueryRowContext(ctx, `
			SELECT id FROM capital_accounts WHERE org_id = $1 AND type = $2`,
			orgID, string(typ)).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("tenant has no %s account: %w", typ, ErrValidation)
		}
		if err != nil {
			return "", storageErr("distribute.accounts", err)
		}
		return id, nil
	}

	var err error
	if out.business, err = byType(models.AccountBusiness); err != nil {
		return out, err
	}
	if out.owner, err = byType(models.AccountOwner); err != nil {
		return out, err
	}
	if out.assistant, err = byType(models.AccountAssistant); err != nil {
		return out, err
	}

	err = q.QueryRowContext(ctx, `
		SELECT t.account_id FROM ledger_txns t
		JOIN capital_accounts a ON a.id = t.account_id
		WHERE t.org_id = $1 AND t.car_id = $2 AND t.reason = 'BUY_CAR' AND a.type = 'INVESTOR'
		ORDER BY t.id LIMIT 1`,
		orgID, carID).Scan(&out.investor)
	if errors.Is(err, sql.ErrNoRows) {
		if out.investor, err = byType(models.AccountInvestor); err != nil {
			return out, err
		}
	} else if err != nil {
		return out, storageErr("distribute.accounts", err)
	}
	return out, nil
}
