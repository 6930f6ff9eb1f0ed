package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func expectCostBasis(mock sqlmock.Sqlmock, orgID, carID string, purchase, direct, overhead int64) {
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(-amount\), 0\) FROM ledger_txns`).
		WithArgs(orgID, carID).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(purchase))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount_fils\), 0\) FROM expenses`).
		WithArgs(orgID, carID).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(direct))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount_fils\), 0\) FROM allocation_lines`).
		WithArgs(orgID, carID).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(overhead))
}

func TestCostService_CostBasis(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCostService(db)
	ctx := context.Background()

	t.Run("components add up", func(t *testing.T) {
		expectCostBasis(mock, "org1", "car1", 6500000, 110500, 265000)

		basis, err := service.CostBasis(ctx, "org1", "car1")
		assert.NoError(t, err)
		assert.Equal(t, int64(6500000), basis.PurchaseFils)
		assert.Equal(t, int64(110500), basis.DirectExpensesFils)
		assert.Equal(t, int64(265000), basis.AllocatedOverheadFils)
		assert.Equal(t, int64(6875500), basis.TotalFils)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("car with no activity", func(t *testing.T) {
		expectCostBasis(mock, "org1", "car2", 0, 0, 0)

		basis, err := service.CostBasis(ctx, "org1", "car2")
		assert.NoError(t, err)
		assert.Equal(t, int64(0), basis.TotalFils)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
