package services

import (
	"context"
	"database/sql"
)

// CostService computes a car's cost basis from the ledger and its satellite
// tables: purchase price (BUY_CAR txn magnitude) + direct non-personal
// expenses + allocated overhead lines. All figures are base currency minor
// units fixed at record time.
type CostService struct {
	db *sql.DB
}

func NewCostService(db *sql.DB) *CostService {
	return &CostService{db: db}
}

// CostBasis is the standalone read; it sees a consistent snapshot and never
// blocks writers.
func (s *CostService) CostBasis(ctx context.Context, orgID, carID string) (CostBasisResult, error) {
	return s.CostBasisTx(ctx, s.db, orgID, carID)
}

// CostBasisResult mirrors models.CostBasis but is assembled here so the sale
// and distribution engines subtract the exact same figure.
type CostBasisResult struct {
	PurchaseFils          int64 `json:"purchaseFils"`
	DirectExpensesFils    int64 `json:"directExpensesFils"`
	AllocatedOverheadFils int64 `json:"allocatedOverheadFils"`
	TotalFils             int64 `json:"totalFils"`
}

// CostBasisTx computes the basis with the given querier so sell/distribute
// can read it inside their own serializable transaction.
func (s *CostService) CostBasisTx(ctx context.Context, q querier, orgID, carID string) (CostBasisResult, error) {
	var basis CostBasisResult

	// The BUY_CAR row is a debit; its magnitude is the purchase component.
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(-amount), 0) FROM ledger_txns
		WHERE org_id = $1 AND car_id = $2 AND reason = 'BUY_CAR'`,
		orgID, carID).Scan(&basis.PurchaseFils)
	if err != nil {
		return CostBasisResult{}, storageErr("cost.purchase", err)
	}

	err = q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_fils), 0) FROM expenses
		WHERE org_id = $1 AND car_id = $2 AND is_personal = FALSE`,
		orgID, carID).Scan(&basis.DirectExpensesFils)
	if err != nil {
		return CostBasisResult{}, storageErr("cost.direct", err)
	}

	err = q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_fils), 0) FROM allocation_lines
		WHERE org_id = $1 AND car_id = $2`,
		orgID, carID).Scan(&basis.AllocatedOverheadFils)
	if err != nil {
		return CostBasisResult{}, storageErr("cost.overhead", err)
	}

	basis.TotalFils = basis.PurchaseFils + basis.DirectExpensesFils + basis.AllocatedOverheadFils
	return basis, nil
}
