package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/cartrade/backend/internal/models"
)

func newCarServiceForTest(db *sql.DB) *CarService {
	cfg := testLedgerConfig()
	ledger := NewLedgerService(db)
	cost := NewCostService(db)
	fx := NewFXService(db, nil, cfg)
	return NewCarService(db, ledger, cost, fx, cfg)
}

func TestCarService_CreateCar(t *testing.T) {
	ctx := context.Background()
	input := CreateCarInput{
		VIN:         "WBA12345",
		Make:        "Toyota",
		Model:       "Camry",
		Year:        2022,
		BuyDate:     "2025-01-10",
		BuyPrice:    1800000, // 18,000.00 USD
		BuyCurrency: "USD",
		BuyRate:     "3.6725",
	}

	t.Run("writes car and funding debit together", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newCarServiceForTest(db)

		mock.ExpectBegin()
		// No explicit funding account: the investor account funds the buy.
		mock.ExpectQuery("SELECT id FROM capital_accounts WHERE org_id = (.+) AND type = ").
			WithArgs("org1", "INVESTOR").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("investor"))
		mock.ExpectExec("INSERT INTO cars").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_txns").
			WithArgs("org1", "investor", int64(-6610500), "AED", sqlmock.AnyArg(), "BUY_CAR",
				sqlmock.AnyArg(), nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		car, err := service.CreateCar(ctx, ownerActor(), input)
		assert.NoError(t, err)
		assert.Equal(t, models.StatusInTransit, car.Status)
		assert.Equal(t, int64(1800000), car.BuyPrice)
		assert.Equal(t, "USD", car.BuyCurrency)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("falls back to business funds", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newCarServiceForTest(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM capital_accounts WHERE org_id = (.+) AND type = ").
			WithArgs("org1", "INVESTOR").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery("SELECT id FROM capital_accounts WHERE org_id = (.+) AND type = ").
			WithArgs("org1", "BUSINESS").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("business"))
		mock.ExpectExec("INSERT INTO cars").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_txns").
			WithArgs("org1", "business", int64(-6610500), "AED", sqlmock.AnyArg(), "BUY_CAR",
				sqlmock.AnyArg(), nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		_, err = service.CreateCar(ctx, ownerActor(), input)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("viewer cannot create", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newCarServiceForTest(db)

		_, err = service.CreateCar(ctx,
			models.Actor{UserID: "u", OrgID: "org1", Role: models.RoleViewer}, input)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("bad fx rate rejected", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newCarServiceForTest(db)

		bad := input
		bad.BuyRate = "-1"
		_, err = service.CreateCar(ctx, ownerActor(), bad)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestCarService_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	buyDate := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	t.Run("available to listed", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newCarServiceForTest(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM cars WHERE id = (.+) FOR UPDATE").
			WithArgs("car1", "org1").
			WillReturnRows(carRow("AVAILABLE", buyDate))
		mock.ExpectExec("UPDATE cars SET status = ").
			WithArgs("LISTED", "car1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		car, err := service.UpdateStatus(ctx, ownerActor(), "car1", models.StatusListed)
		assert.NoError(t, err)
		assert.Equal(t, models.StatusListed, car.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("repair bounces back to available", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newCarServiceForTest(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM cars WHERE id = (.+) FOR UPDATE").
			WithArgs("car1", "org1").
			WillReturnRows(carRow("REPAIR", buyDate))
		mock.ExpectExec("UPDATE cars SET status = ").
			WithArgs("AVAILABLE", "car1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		car, err := service.UpdateStatus(ctx, ownerActor(), "car1", models.StatusAvailable)
		assert.NoError(t, err)
		assert.Equal(t, models.StatusAvailable, car.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rank skip rejected", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newCarServiceForTest(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM cars WHERE id = (.+) FOR UPDATE").
			WithArgs("car1", "org1").
			WillReturnRows(carRow("AVAILABLE", buyDate))
		mock.ExpectRollback()

		_, err = service.UpdateStatus(ctx, ownerActor(), "car1", models.StatusArchived)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("selling goes through the sale engine", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newCarServiceForTest(db)

		_, err = service.UpdateStatus(ctx, ownerActor(), "car1", models.StatusSold)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("missing car maps to not found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newCarServiceForTest(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM cars WHERE id = (.+) FOR UPDATE").
			WithArgs("ghost", "org1").
			WillReturnRows(sqlmock.NewRows(carColumns))
		mock.ExpectRollback()

		_, err = service.UpdateStatus(ctx, ownerActor(), "ghost", models.StatusListed)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
