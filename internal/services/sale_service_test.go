package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/cartrade/backend/internal/config"
	"github.com/cartrade/backend/internal/models"
)

func testLedgerConfig() *config.LedgerConfig {
	return &config.LedgerConfig{
		BaseCurrency:       "AED",
		DefaultMethod:      "per_car",
		DefaultWeightKey:   "cost_basis",
		InvestorSharePct:   50,
		AssistantSharePct:  25,
		OwnerSharePct:      25,
		FxCacheTTLSeconds:  3600,
		HistoryPageMaxRows: 500,
	}
}

func newSaleServiceForTest(db *sql.DB) (*SaleService, *CarService) {
	cfg := testLedgerConfig()
	ledger := NewLedgerService(db)
	cost := NewCostService(db)
	fx := NewFXService(db, nil, cfg)
	cars := NewCarService(db, ledger, cost, fx, cfg)
	return NewSaleService(db, ledger, cost, cars, fx, cfg), cars
}

var carColumns = []string{"id", "org_id", "vin", "make", "model", "year", "status",
	"buy_date", "buy_price", "buy_currency", "buy_rate", "sold_date", "sold_price",
	"sold_currency", "sold_rate", "commission_fils", "source", "notes", "created_at", "updated_at"}

func carRow(status string, buyDate time.Time) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(carColumns).AddRow(
		"car1", "org1", "VIN-A", "Toyota", "Camry", 2022, status,
		buyDate, int64(1800000), "USD", "3.6725", nil, nil, nil, nil, nil,
		"auction", "", now, now)
}

func ownerActor() models.Actor {
	return models.Actor{UserID: "user1", OrgID: "org1", Role: models.RoleOwner}
}

func TestBuildSnapshot(t *testing.T) {
	buyDate := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	car := &models.Car{ID: "car1", BuyDate: buyDate}
	basis := CostBasisResult{
		PurchaseFils:          6500000,
		DirectExpensesFils:    110500,
		AllocatedOverheadFils: 265000,
		TotalFils:             6875500,
	}

	t.Run("profit and margin", func(t *testing.T) {
		soldDate := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
		snap := buildSnapshot("org1", car, basis, 8000000, 100000, soldDate)

		assert.Equal(t, int64(1024500), snap.ProfitFils)
		assert.Equal(t, int64(6875500), snap.TotalCostFils)
		assert.Equal(t, 64, snap.DaysOnLot)
		assert.False(t, snap.Anomalous)
		if assert.NotNil(t, snap.MarginPct) {
			assert.True(t, snap.MarginPct.Equal(decimal.RequireFromString("12.8063")),
				"got margin %s", snap.MarginPct)
		}
	})

	t.Run("zero price leaves margin unset", func(t *testing.T) {
		snap := buildSnapshot("org1", car, basis, 0, 0, car.BuyDate.AddDate(0, 1, 0))
		assert.Nil(t, snap.MarginPct)
		assert.Equal(t, int64(-6875500), snap.ProfitFils)
	})

	t.Run("sale before purchase is clamped and flagged", func(t *testing.T) {
		snap := buildSnapshot("org1", car, basis, 8000000, 0, buyDate.AddDate(0, 0, -3))
		assert.Equal(t, 0, snap.DaysOnLot)
		assert.True(t, snap.Anomalous)
	})

	t.Run("loss keeps negative margin", func(t *testing.T) {
		snap := buildSnapshot("org1", car, basis, 6000000, 0, buyDate.AddDate(0, 0, 10))
		assert.Equal(t, int64(-875500), snap.ProfitFils)
		if assert.NotNil(t, snap.MarginPct) {
			assert.True(t, snap.MarginPct.IsNegative())
		}
	})
}

func TestSaleService_Sell(t *testing.T) {
	buyDate := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	t.Run("sell from listed", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service, _ := newSaleServiceForTest(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM cars WHERE id = (.+) FOR UPDATE").
			WithArgs("car1", "org1").
			WillReturnRows(carRow("LISTED", buyDate))
		mock.ExpectQuery("SELECT id FROM capital_accounts WHERE org_id = (.+) AND type = 'BUSINESS'").
			WithArgs("org1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("business"))
		mock.ExpectExec("INSERT INTO ledger_txns (.+) ON CONFLICT").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE cars SET status = 'SOLD'").
			WillReturnResult(sqlmock.NewResult(1, 1))
		expectCostBasis(mock, "org1", "car1", 6500000, 110500, 265000)
		mock.ExpectExec("INSERT INTO deal_snapshots").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		car, err := service.Sell(context.Background(), ownerActor(), "car1", SellInput{
			SoldDate:       "2025-03-15",
			SoldPrice:      8000000, // AED fils
			SoldCurrency:   "AED",
			CommissionFils: 100000,
			BuyerName:      "walk-in",
		})
		assert.NoError(t, err)
		assert.Equal(t, models.StatusSold, car.Status)
		assert.Equal(t, int64(8000000), *car.SoldPrice)
		assert.Equal(t, int64(100000), *car.CommissionFils)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("available car cannot jump to sold", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service, _ := newSaleServiceForTest(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM cars WHERE id = (.+) FOR UPDATE").
			WithArgs("car1", "org1").
			WillReturnRows(carRow("AVAILABLE", buyDate))
		mock.ExpectRollback()

		_, err = service.Sell(context.Background(), ownerActor(), "car1", SellInput{
			SoldDate: "2025-03-15", SoldPrice: 8000000, SoldCurrency: "AED",
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("resell updates the existing sale", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service, _ := newSaleServiceForTest(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM cars WHERE id = (.+) FOR UPDATE").
			WithArgs("car1", "org1").
			WillReturnRows(carRow("SOLD", buyDate))
		mock.ExpectQuery("SELECT id FROM capital_accounts WHERE org_id = (.+) AND type = 'BUSINESS'").
			WithArgs("org1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("business"))
		mock.ExpectExec("INSERT INTO ledger_txns (.+) ON CONFLICT").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE cars SET status = 'SOLD'").
			WillReturnResult(sqlmock.NewResult(1, 1))
		expectCostBasis(mock, "org1", "car1", 6500000, 110500, 265000)
		mock.ExpectExec("INSERT INTO deal_snapshots").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		car, err := service.Sell(context.Background(), ownerActor(), "car1", SellInput{
			SoldDate: "2025-03-20", SoldPrice: 8200000, SoldCurrency: "AED",
		})
		assert.NoError(t, err)
		assert.Equal(t, models.StatusSold, car.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("viewer cannot sell", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service, _ := newSaleServiceForTest(db)

		_, err = service.Sell(context.Background(),
			models.Actor{UserID: "u", OrgID: "org1", Role: models.RoleViewer},
			"car1", SellInput{SoldDate: "2025-03-15", SoldPrice: 1, SoldCurrency: "AED"})
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestSaleService_Profit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	service, _ := newSaleServiceForTest(db)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\) FROM ledger_txns`).
		WithArgs("org1", "car1").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(8000000))
	mock.ExpectQuery("SELECT commission_fils FROM cars").
		WithArgs("car1", "org1").
		WillReturnRows(sqlmock.NewRows([]string{"commission_fils"}).AddRow(100000))
	expectCostBasis(mock, "org1", "car1", 6500000, 110500, 265000)

	profit, err := service.Profit(context.Background(), "org1", "car1")
	assert.NoError(t, err)
	assert.Equal(t, models.NewMoney(1024500, "AED"), profit)
	assert.NoError(t, mock.ExpectationsWereMet())
}
