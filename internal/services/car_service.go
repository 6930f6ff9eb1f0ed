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

// CarService owns car records and their purchase ledger entry. Creating a
// car debits the funding account with the purchase value in one transaction;
// status changes go through the forward-only state machine.
type CarService struct {
	db     *sql.DB
	ledger *LedgerService
	cost   *CostService
	fx     *FXService
	cfg    *config.LedgerConfig
}

func NewCarService(db *sql.DB, ledger *LedgerService, cost *CostService, fx *FXService, cfg *config.LedgerConfig) *CarService {
	return &CarService{db: db, ledger: ledger, cost: cost, fx: fx, cfg: cfg}
}

// CreateCarInput crosses the HTTP boundary with the price already in
// original-currency minor units; floats never enter the core.
type CreateCarInput struct {
	VIN              string  `json:"vin" validate:"required,min=5"`
	Make             string  `json:"make" validate:"required"`
	Model            string  `json:"model" validate:"required"`
	Year             int     `json:"year" validate:"required,gte=1950,lte=2100"`
	BuyDate          string  `json:"buyDate" validate:"required,datetime=2006-01-02"`
	BuyPrice         int64   `json:"buyPrice" validate:"required,gt=0"` // minor units
	BuyCurrency      string  `json:"buyCurrency" validate:"required,len=3"`
	BuyRate          string  `json:"buyRate,omitempty"` // decimal string; resolved from fx table when empty
	FundingAccountID string  `json:"fundingAccountId,omitempty"`
	Source           string  `json:"source,omitempty"`
	Notes            string  `json:"notes,omitempty"`
}

var manageRoles = map[models.UserRole]bool{
	models.RoleOwner:     true,
	models.RoleAssistant: true,
}

func ensureCanManage(actor models.Actor) error {
	if !manageRoles[actor.Role] {
		return fmt.Errorf("role %s cannot manage cars: %w", actor.Role, ErrForbidden)
	}
	return nil
}

// CreateCar validates input, resolves the FX rate once, and writes the car
// plus its BUY_CAR ledger entry atomically.
func (s *CarService) CreateCar(ctx context.Context, actor models.Actor, in CreateCarInput) (*models.Car, error) {
	if err := ensureCanManage(actor); err != nil {
		return nil, err
	}

	buyDate, err := time.Parse("2006-01-02", in.BuyDate)
	if err != nil {
		return nil, fmt.Errorf("bad buy date: %w", ErrValidation)
	}

	var rate decimal.Decimal
	if in.BuyRate != "" {
		rate, err = decimal.NewFromString(in.BuyRate)
		if err != nil || rate.Sign() <= 0 {
			return nil, fmt.Errorf("bad fx rate %q: %w", in.BuyRate, ErrValidation)
		}
	} else {
		rate, err = s.fx.Rate(ctx, in.BuyCurrency, buyDate)
		if err != nil {
			return nil, err
		}
	}

	// Purchase value in base minor units, rounded once here and stored on
	// the ledger row for good.
	valueBase, err := models.FromMinorUnits(in.BuyPrice, in.BuyCurrency, rate, s.cfg.BaseCurrency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	debit, err := valueBase.Neg()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("car.create", err)
	}
	defer tx.Rollback()

	fundingID, err := s.resolveFundingAccount(ctx, tx, actor.OrgID, in.FundingAccountID)
	if err != nil {
		return nil, err
	}

	car := &models.Car{
		ID:          uuid.NewString(),
		OrgID:       actor.OrgID,
		VIN:         in.VIN,
		Make:        in.Make,
		Model:       in.Model,
		Year:        in.Year,
		Status:      models.StatusInTransit,
		BuyDate:     buyDate,
		BuyPrice:    in.BuyPrice,
		BuyCurrency: in.BuyCurrency,
		BuyRate:     rate,
		Source:      in.Source,
		Notes:       in.Notes,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cars (id, org_id, vin, make, model, year, status, buy_date, buy_price, buy_currency, buy_rate, source, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())`,
		car.ID, car.OrgID, car.VIN, car.Make, car.Model, car.Year, string(car.Status),
		car.BuyDate, car.BuyPrice, car.BuyCurrency, car.BuyRate, car.Source, car.Notes)
	if err != nil {
		return nil, storageErr("car.create", err)
	}

	meta, _ := json.Marshal(map[string]string{
		"currency": in.BuyCurrency,
		"buyPrice": decimal.New(in.BuyPrice, 0).String(),
		"fxRate":   rate.String(),
	})
	buyTxn := models.LedgerTxn{
		OrgID:     actor.OrgID,
		AccountID: fundingID,
		Amount:    debit.Amount,
		Currency:  s.cfg.BaseCurrency,
		Date:      buyDate,
		Reason:    models.ReasonBuyCar,
		CarID:     &car.ID,
		Meta:      meta,
	}
	if err := s.ledger.RecordTx(ctx, tx, buyTxn); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("car.create", err)
	}

	logger.Log.Info("car created",
		zap.String("carId", car.ID), zap.String("vin", car.VIN),
		zap.Int64("valueFils", valueBase.Amount))
	return car, nil
}

// resolveFundingAccount prefers the explicit account, then the tenant's
// investor account, then business.
func (s *CarService) resolveFundingAccount(ctx context.Context, q querier, orgID, accountID string) (string, error) {
	if accountID != "" {
		var id string
		err := q.QueryRowContext(ctx, `
			SELECT id FROM capital_accounts WHERE id = $1 AND org_id = $2`,
			accountID, orgID).Scan(&id)
		if err != nil {
			return "", storageErr("car.funding", err)
		}
		return id, nil
	}
	for _, typ := range []models.AccountType{models.AccountInvestor, models.AccountBusiness} {
		var id string
		err := q.QueryRowContext(ctx, `
			SELECT id FROM capital_accounts WHERE org_id = $1 AND type = $2`,
			orgID, string(typ)).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", storageErr("car.funding", err)
		}
	}
	return "", fmt.Errorf("no funding account configured: %w", ErrValidation)
}

// GetCar loads one car by id within the tenant.
func (s *CarService) GetCar(ctx context.Context, orgID, carID string) (*models.Car, error) {
	return s.getCarTx(ctx, s.db, orgID, carID, false)
}

func (s *CarService) getCarTx(ctx context.Context, q querier, orgID, carID string, forUpdate bool) (*models.Car, error) {
	query := `
		SELECT id, org_id, vin, make, model, year, status, buy_date, buy_price, buy_currency, buy_rate,
			sold_date, sold_price, sold_currency, sold_rate, commission_fils, source, notes, created_at, updated_at
		FROM cars WHERE id = $1 AND org_id = $2`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var c models.Car
	var status string
	err := q.QueryRowContext(ctx, query, carID, orgID).Scan(
		&c.ID, &c.OrgID, &c.VIN, &c.Make, &c.Model, &c.Year, &status,
		&c.BuyDate, &c.BuyPrice, &c.BuyCurrency, &c.BuyRate,
		&c.SoldDate, &c.SoldPrice, &c.SoldCurrency, &c.SoldRate, &c.CommissionFils,
		&c.Source, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, storageErr("car.get", err)
	}
	c.Status = models.CarStatus(status)
	return &c, nil
}

// UpdateStatus advances the car along the lifecycle. Sale and archive of a
// sold car go through the sale engine, not here.
func (s *CarService) UpdateStatus(ctx context.Context, actor models.Actor, carID string, to models.CarStatus) (*models.Car, error) {
	if err := ensureCanManage(actor); err != nil {
		return nil, err
	}
	if to == models.StatusSold {
		return nil, fmt.Errorf("selling requires the sale operation: %w", ErrInvalidTransition)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("car.status", err)
	}
	defer tx.Rollback()

	car, err := s.getCarTx(ctx, tx, actor.OrgID, carID, true)
	if err != nil {
		return nil, err
	}
	if err := models.CanTransition(car.Status, to); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidTransition)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE cars SET status = $1, updated_at = now() WHERE id = $2`,
		string(to), carID)
	if err != nil {
		return nil, storageErr("car.status", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("car.status", err)
	}

	car.Status = to
	return car, nil
}

// CarMetrics carries the read-side figures for listings, all in base
// currency minor units.
type CarMetrics struct {
	Basis        CostBasisResult `json:"basis"`
	RevenueFils  int64           `json:"revenueFils"`
	ProfitFils   int64           `json:"profitFils"`
	ROIBasisPts  int64           `json:"roiBasisPts"` // profit / cost, in basis points
}

// ListCarsResult is one page of cars with metrics.
type ListCarsResult struct {
	Items []CarWithMetrics `json:"items"`
	Total int              `json:"total"`
}

type CarWithMetrics struct {
	Car     models.Car `json:"car"`
	Metrics CarMetrics `json:"metrics"`
}

// ListCars returns one page of the tenant's cars with their live cost and
// profit figures, newest purchases first.
func (s *CarService) ListCars(ctx context.Context, orgID string, status *models.CarStatus, page, pageSize int) (*ListCarsResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	query := `
		SELECT id, org_id, vin, make, model, year, status, buy_date, buy_price, buy_currency, buy_rate,
			sold_date, sold_price, sold_currency, sold_rate, commission_fils, source, notes, created_at, updated_at
		FROM cars WHERE org_id = $1`
	args := []any{orgID}
	if status != nil {
		args = append(args, string(*status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, pageSize, (page-1)*pageSize)
	query += fmt.Sprintf(" ORDER BY buy_date DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("car.list", err)
	}
	defer rows.Close()

	var items []CarWithMetrics
	for rows.Next() {
		var c models.Car
		var st string
		if err := rows.Scan(&c.ID, &c.OrgID, &c.VIN, &c.Make, &c.Model, &c.Year, &st,
			&c.BuyDate, &c.BuyPrice, &c.BuyCurrency, &c.BuyRate,
			&c.SoldDate, &c.SoldPrice, &c.SoldCurrency, &c.SoldRate, &c.CommissionFils,
			&c.Source, &c.Notes, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, storageErr("car.list.scan", err)
		}
		c.Status = models.CarStatus(st)
		items = append(items, CarWithMetrics{Car: c})
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("car.list", err)
	}

	for i := range items {
		m, err := s.metrics(ctx, orgID, items[i].Car.ID)
		if err != nil {
			return nil, err
		}
		items[i].Metrics = m
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM cars WHERE org_id = $1`
	countArgs := []any{orgID}
	if status != nil {
		countArgs = append(countArgs, string(*status))
		countQuery += " AND status = $2"
	}
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, storageErr("car.count", err)
	}

	return &ListCarsResult{Items: items, Total: total}, nil
}

func (s *CarService) metrics(ctx context.Context, orgID, carID string) (CarMetrics, error) {
	basis, err := s.cost.CostBasis(ctx, orgID, carID)
	if err != nil {
		return CarMetrics{}, err
	}

	var revenue int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_txns
		WHERE org_id = $1 AND car_id = $2 AND reason = 'INCOME_SALE'`,
		orgID, carID).Scan(&revenue)
	if err != nil {
		return CarMetrics{}, storageErr("car.metrics", err)
	}

	m := CarMetrics{Basis: basis, RevenueFils: revenue, ProfitFils: revenue - basis.TotalFils}
	if basis.TotalFils != 0 {
		m.ROIBasisPts = decimal.NewFromInt(m.ProfitFils).
			Mul(decimal.NewFromInt(10000)).
			DivRound(decimal.NewFromInt(basis.TotalFils), 0).IntPart()
	}
	return m, nil
}
