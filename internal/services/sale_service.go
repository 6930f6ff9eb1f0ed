package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cartrade/backend/internal/config"
	"github.com/cartrade/backend/internal/logger"
	"github.com/cartrade/backend/internal/models"
)

// SaleService is the single source of truth for whether a car is sold and
// what its realized profit is. Selling is an idempotent upsert per car: a
// re-sell updates the existing INCOME_SALE row and DealSnapshot instead of
// inserting duplicates.
type SaleService struct {
	db     *sql.DB
	ledger *LedgerService
	cost   *CostService
	cars   *CarService
	fx     *FXService
	cfg    *config.LedgerConfig
}

func NewSaleService(db *sql.DB, ledger *LedgerService, cost *CostService, cars *CarService, fx *FXService, cfg *config.LedgerConfig) *SaleService {
	return &SaleService{db: db, ledger: ledger, cost: cost, cars: cars, fx: fx, cfg: cfg}
}

// SellInput crosses the boundary in original-currency minor units.
type SellInput struct {
	SoldDate       string `json:"soldDate" validate:"required,datetime=2006-01-02"`
	SoldPrice      int64  `json:"soldPrice" validate:"gte=0"` // minor units
	SoldCurrency   string `json:"soldCurrency" validate:"required,len=3"`
	FxRate         string `json:"fxRate,omitempty"` // decimal string; resolved from fx table when empty
	CommissionFils int64  `json:"commissionFils" validate:"gte=0"`
	BuyerName      string `json:"buyerName,omitempty"`
}

// Sell records or re-records the sale of a car: writes/updates the
// INCOME_SALE ledger row, moves the car to Sold, and writes the DealSnapshot
// from the cost basis at sale time. All in one transaction.
func (s *SaleService) Sell(ctx context.Context, actor models.Actor, carID string, in SellInput) (*models.Car, error) {
	if err := ensureCanManage(actor); err != nil {
		return nil, err
	}

	soldDate, err := time.Parse("2006-01-02", in.SoldDate)
	if err != nil {
		return nil, fmt.Errorf("bad sold date: %w", ErrValidation)
	}
	if in.CommissionFils < 0 {
		return nil, fmt.Errorf("negative commission: %w", ErrValidation)
	}

	var rate decimal.Decimal
	if in.FxRate != "" {
		rate, err = decimal.NewFromString(in.FxRate)
		if err != nil || rate.Sign() <= 0 {
			return nil, fmt.Errorf("bad fx rate %q: %w", in.FxRate, ErrValidation)
		}
	} else {
		rate, err = s.fx.Rate(ctx, in.SoldCurrency, soldDate)
		if err != nil {
			return nil, err
		}
	}

	priceBase, err := models.FromMinorUnits(in.SoldPrice, in.SoldCurrency, rate, s.cfg.BaseCurrency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("sale.sell", err)
	}
	defer tx.Rollback()

	car, err := s.cars.getCarTx(ctx, tx, actor.OrgID, carID, true)
	if err != nil {
		return nil, err
	}

	resell := car.Status == models.StatusSold
	if !resell {
		if err := models.CanTransition(car.Status, models.StatusSold); err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrInvalidTransition)
		}
	}

	incomeAccount, err := s.businessAccount(ctx, tx, actor.OrgID)
	if err != nil {
		return nil, err
	}

	meta, _ := json.Marshal(map[string]string{
		"currency":  in.SoldCurrency,
		"amount":    decimal.New(in.SoldPrice, 0).String(),
		"fxRate":    rate.String(),
		"buyerName": in.BuyerName,
	})

	// Upsert against the partial unique index: re-selling replaces the
	// single INCOME_SALE row for this car instead of adding a second one.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_txns (org_id, account_id, amount, currency, date, reason, car_id, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, 'INCOME_SALE', $6, $7, now())
		ON CONFLICT (car_id) WHERE reason = 'INCOME_SALE'
		DO UPDATE SET account_id = EXCLUDED.account_id, amount = EXCLUDED.amount,
			date = EXCLUDED.date, meta = EXCLUDED.meta`,
		actor.OrgID, incomeAccount, priceBase.Amount, s.cfg.BaseCurrency, soldDate, carID, meta)
	if err != nil {
		return nil, storageErr("sale.income", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE cars SET status = 'SOLD', sold_date = $1, sold_price = $2, sold_currency = $3,
			sold_rate = $4, commission_fils = $5, updated_at = now()
		WHERE id = $6`,
		soldDate, in.SoldPrice, in.SoldCurrency, rate, in.CommissionFils, carID)
	if err != nil {
		return nil, storageErr("sale.update", err)
	}

	basis, err := s.cost.CostBasisTx(ctx, tx, actor.OrgID, carID)
	if err != nil {
		return nil, err
	}
	snap := buildSnapshot(actor.OrgID, car, basis, priceBase.Amount, in.CommissionFils, soldDate)
	if err := s.upsertSnapshot(ctx, tx, snap); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("sale.sell", err)
	}

	logger.Log.Info("car sold",
		zap.String("carId", carID), zap.Bool("resell", resell),
		zap.Int64("priceFils", priceBase.Amount), zap.Int64("profitFils", snap.ProfitFils))

	car.Status = models.StatusSold
	car.SoldDate = &soldDate
	car.SoldPrice = &in.SoldPrice
	car.SoldCurrency = &in.SoldCurrency
	car.SoldRate = &rate
	car.CommissionFils = &in.CommissionFils
	return car, nil
}

// buildSnapshot derives the immutable sale figures. Negative days-on-lot
// (sold before purchase date) is clamped to zero and flagged.
func buildSnapshot(orgID string, car *models.Car, basis CostBasisResult, soldPriceFils, commissionFils int64, soldDate time.Time) models.DealSnapshot {
	profit := soldPriceFils - commissionFils - basis.TotalFils

	snap := models.DealSnapshot{
		CarID:                 car.ID,
		OrgID:                 orgID,
		SoldPriceFils:         soldPriceFils,
		CommissionFils:        commissionFils,
		PurchaseFils:          basis.PurchaseFils,
		DirectExpensesFils:    basis.DirectExpensesFils,
		AllocatedOverheadFils: basis.AllocatedOverheadFils,
		TotalCostFils:         basis.TotalFils,
		ProfitFils:            profit,
	}

	if soldPriceFils != 0 {
		margin := decimal.NewFromInt(profit).
			Mul(decimal.NewFromInt(100)).
			DivRound(decimal.NewFromInt(soldPriceFils), 4)
		snap.MarginPct = &margin
	}

	days := int(soldDate.Sub(car.BuyDate).Hours() / 24)
	if days < 0 {
		days = 0
		snap.Anomalous = true
	}
	snap.DaysOnLot = days
	return snap
}

func (s *SaleService) upsertSnapshot(ctx context.Context, tx querier, snap models.DealSnapshot) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO deal_snapshots (car_id, org_id, sold_price_fils, commission_fils, purchase_fils,
			direct_expenses_fils, allocated_overhead_fils, total_cost_fils, profit_fils,
			margin_pct, days_on_lot, anomalous, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		ON CONFLICT (car_id) DO UPDATE SET
			sold_price_fils = EXCLUDED.sold_price_fils,
			commission_fils = EXCLUDED.commission_fils,
			purchase_fils = EXCLUDED.purchase_fils,
			direct_expenses_fils = EXCLUDED.direct_expenses_fils,
			allocated_overhead_fils = EXCLUDED.allocated_overhead_fils,
			total_cost_fils = EXCLUDED.total_cost_fils,
			profit_fils = EXCLUDED.profit_fils,
			margin_pct = EXCLUDED.margin_pct,
			days_on_lot = EXCLUDED.days_on_lot,
			anomalous = EXCLUDED.anomalous,
			updated_at = now()`,
		snap.CarID, snap.OrgID, snap.SoldPriceFils, snap.CommissionFils, snap.PurchaseFils,
		snap.DirectExpensesFils, snap.AllocatedOverheadFils, snap.TotalCostFils, snap.ProfitFils,
		snap.MarginPct, snap.DaysOnLot, snap.Anomalous)
	return storageErr("sale.snapshot", err)
}

// Profit recomputes realized profit from the live cost basis; it never reads
// the snapshot, so it and the distribution engine cannot disagree.
func (s *SaleService) Profit(ctx context.Context, orgID, carID string) (models.Money, error) {
	return s.ProfitTx(ctx, s.db, orgID, carID)
}

func (s *SaleService) ProfitTx(ctx context.Context, q querier, orgID, carID string) (models.Money, error) {
	var soldPriceFils int64
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_txns
		WHERE org_id = $1 AND car_id = $2 AND reason = 'INCOME_SALE'`,
		orgID, carID).Scan(&soldPriceFils)
	if err != nil {
		return models.Money{}, storageErr("sale.profit", err)
	}

	var commission sql.NullInt64
	err = q.QueryRowContext(ctx, `
		SELECT commission_fils FROM cars WHERE id = $1 AND org_id = $2`,
		carID, orgID).Scan(&commission)
	if err != nil {
		return models.Money{}, storageErr("sale.profit", err)
	}

	basis, err := s.cost.CostBasisTx(ctx, q, orgID, carID)
	if err != nil {
		return models.Money{}, err
	}

	profit := soldPriceFils - commission.Int64 - basis.TotalFils
	return models.NewMoney(profit, s.cfg.BaseCurrency), nil
}

// Snapshot returns the stored deal snapshot for a sold car.
func (s *SaleService) Snapshot(ctx context.Context, orgID, carID string) (*models.DealSnapshot, error) {
	var snap models.DealSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT car_id, org_id, sold_price_fils, commission_fils, purchase_fils,
			direct_expenses_fils, allocated_overhead_fils, total_cost_fils, profit_fils,
			margin_pct, days_on_lot, anomalous, created_at, updated_at
		FROM deal_snapshots WHERE car_id = $1 AND org_id = $2`,
		carID, orgID).Scan(
		&snap.CarID, &snap.OrgID, &snap.SoldPriceFils, &snap.CommissionFils, &snap.PurchaseFils,
		&snap.DirectExpensesFils, &snap.AllocatedOverheadFils, &snap.TotalCostFils, &snap.ProfitFils,
		&snap.MarginPct, &snap.DaysOnLot, &snap.Anomalous, &snap.CreatedAt, &snap.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no snapshot for car %s: %w", carID, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("sale.snapshot.get", err)
	}
	return &snap, nil
}

func (s *SaleService) businessAccount(ctx context.Context, q querier, orgID string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `
		SELECT id FROM capital_accounts WHERE org_id = $1 AND type = 'BUSINESS'`,
		orgID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("tenant has no business account: %w", ErrValidation)
	}
	if err != nil {
		return "", storageErr("sale.account", err)
	}
	return id, nil
}
