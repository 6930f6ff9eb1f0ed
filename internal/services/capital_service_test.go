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

func newCapitalServiceForTest(db *sql.DB) *CapitalService {
	return NewCapitalService(db, NewLedgerService(db), testLedgerConfig())
}

func TestCapitalService_SetupTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	service := newCapitalServiceForTest(db)

	for range [4]struct{}{} {
		mock.ExpectExec("INSERT INTO capital_accounts (.+) ON CONFLICT").
			WillReturnResult(sqlmock.NewResult(1, 1))
	}

	err = service.SetupTenant(context.Background(), "org1", nil)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCapitalService_ListAccounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	service := newCapitalServiceForTest(db)

	cols := []string{"id", "org_id", "type", "name", "user_id", "created_at", "balance"}
	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM capital_accounts a LEFT JOIN ledger_txns t").
		WithArgs("org1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("acc1", "org1", "BUSINESS", "BUSINESS", nil, now, int64(1389500)).
			AddRow("acc2", "org1", "INVESTOR", "INVESTOR", "user3", now, int64(-6610500)))

	accounts, err := service.ListAccounts(context.Background(), "org1")
	assert.NoError(t, err)
	assert.Len(t, accounts, 2)
	assert.Equal(t, models.AccountBusiness, accounts[0].Account.Type)
	assert.Equal(t, models.NewMoney(1389500, "AED"), accounts[0].Balance)
	assert.Equal(t, int64(-6610500), accounts[1].Balance.Amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCapitalService_RecordManualTxn(t *testing.T) {
	ctx := context.Background()

	t.Run("investor deposit as single entry", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newCapitalServiceForTest(db)

		mock.ExpectQuery("SELECT id FROM capital_accounts WHERE id = ").
			WithArgs("acc2", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("acc2"))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO ledger_txns").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		txn, err := service.RecordManualTxn(ctx, ownerActor(), ManualTxnInput{
			AccountID:  "acc2",
			AmountFils: 5000000,
			Date:       "2025-02-01",
			Reason:     "DEPOSIT_INVESTOR",
		})
		assert.NoError(t, err)
		assert.Equal(t, int64(5000000), txn.Amount)
		assert.Equal(t, models.ReasonDepositInvestor, txn.Reason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("payout reasons are reserved for distribution", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newCapitalServiceForTest(db)

		_, err = service.RecordManualTxn(ctx, ownerActor(), ManualTxnInput{
			AccountID: "acc2", AmountFils: 1, Date: "2025-02-01", Reason: "PAYOUT_INVESTOR",
		})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("sale income cannot be entered manually", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newCapitalServiceForTest(db)

		_, err = service.RecordManualTxn(ctx, ownerActor(), ManualTxnInput{
			AccountID: "acc2", AmountFils: 1, Date: "2025-02-01", Reason: "INCOME_SALE",
		})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("adjust is owner only", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newCapitalServiceForTest(db)

		_, err = service.RecordManualTxn(ctx,
			models.Actor{UserID: "u2", OrgID: "org1", Role: models.RoleAssistant},
			ManualTxnInput{AccountID: "acc1", AmountFils: -100, Date: "2025-02-01", Reason: "ADJUST"})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("foreign account is invisible", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newCapitalServiceForTest(db)

		mock.ExpectQuery("SELECT id FROM capital_accounts WHERE id = ").
			WithArgs("other-org-acc", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err = service.RecordManualTxn(ctx, ownerActor(), ManualTxnInput{
			AccountID: "other-org-acc", AmountFils: 1, Date: "2025-02-01", Reason: "OTHER",
		})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCapitalService_Balance(t *testing.T) {
	t.Run("empty account folds to zero in base currency", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newCapitalServiceForTest(db)

		mock.ExpectQuery("SELECT id FROM capital_accounts WHERE id = ").
			WithArgs("acc1", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("acc1"))
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\), MAX\(currency\) FROM ledger_txns`).
			WithArgs("acc1").
			WillReturnRows(sqlmock.NewRows([]string{"sum", "currency"}).AddRow(int64(0), nil))

		balance, err := service.Balance(context.Background(), "org1", "acc1", nil)
		assert.NoError(t, err)
		assert.Equal(t, models.NewMoney(0, "AED"), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("funded account keeps its currency", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := newCapitalServiceForTest(db)

		mock.ExpectQuery("SELECT id FROM capital_accounts WHERE id = ").
			WithArgs("acc1", "org1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("acc1"))
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\), MAX\(currency\) FROM ledger_txns`).
			WithArgs("acc1").
			WillReturnRows(sqlmock.NewRows([]string{"sum", "currency"}).AddRow(int64(1389500), "AED"))

		balance, err := service.Balance(context.Background(), "org1", "acc1", nil)
		assert.NoError(t, err)
		assert.Equal(t, models.NewMoney(1389500, "AED"), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
