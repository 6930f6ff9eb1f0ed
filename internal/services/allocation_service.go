package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cartrade/backend/internal/config"
	"github.com/cartrade/backend/internal/models"
)

// AllocationService spreads shared (overhead/personal) expenses across the
// cars active at the expense date. Preview is pure; lines are persisted only
// when the expense itself is committed, in the same transaction.
type AllocationService struct {
	db   *sql.DB
	cost *CostService
	cfg  *config.LedgerConfig
}

func NewAllocationService(db *sql.DB, cost *CostService, cfg *config.LedgerConfig) *AllocationService {
	return &AllocationService{db: db, cost: cost, cfg: cfg}
}

// EligibleCar is a car that can absorb a share of a shared expense, with the
// weights both methods can use.
type EligibleCar struct {
	ID        string
	VIN       string
	BuyDate   time.Time
	CostBasis int64 // base currency minor units
	DaysHeld  int64
}

// AllocationPreview is the non-persisted result shown before an expense is
// committed, and the exact lines written on commit.
type AllocationPreview struct {
	AmountFils  int64                   `json:"amountFils"`
	Method      models.AllocationMethod `json:"method"`
	Unallocated bool                    `json:"unallocated"` // true when no car was eligible
	Lines       []models.AllocationLine `json:"lines"`
}

// Rule returns the tenant's overhead rule, falling back to the configured
// defaults when none is stored.
func (s *AllocationService) Rule(ctx context.Context, orgID string) (models.OverheadRule, error) {
	return s.ruleTx(ctx, s.db, orgID)
}

func (s *AllocationService) ruleTx(ctx context.Context, q querier, orgID string) (models.OverheadRule, error) {
	rule := models.OverheadRule{
		OrgID:     orgID,
		Method:    models.AllocationMethod(s.cfg.DefaultMethod),
		WeightKey: models.WeightKey(s.cfg.DefaultWeightKey),
	}
	var method, weightKey string
	err := q.QueryRowContext(ctx, `
		SELECT method, weight_key FROM overhead_rules WHERE org_id = $1`,
		orgID).Scan(&method, &weightKey)
	if err == sql.ErrNoRows {
		return rule, nil
	}
	if err != nil {
		return models.OverheadRule{}, storageErr("allocation.rule", err)
	}
	rule.Method = models.AllocationMethod(method)
	rule.WeightKey = models.WeightKey(weightKey)
	if !rule.Method.Valid() {
		rule.Method = models.MethodPerCar
	}
	return rule, nil
}

// SetRule upserts the tenant's allocation rule.
func (s *AllocationService) SetRule(ctx context.Context, orgID string, method models.AllocationMethod, weightKey models.WeightKey) error {
	if !method.Valid() {
		return fmt.Errorf("unknown allocation method %q: %w", method, ErrValidation)
	}
	if weightKey != models.WeightCostBasis && weightKey != models.WeightDaysHeld {
		return fmt.Errorf("unknown weight key %q: %w", weightKey, ErrValidation)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO overhead_rules (org_id, method, weight_key, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (org_id) DO UPDATE SET method = EXCLUDED.method,
			weight_key = EXCLUDED.weight_key, updated_at = now()`,
		orgID, string(method), string(weightKey))
	return storageErr("allocation.setrule", err)
}

// eligibleCarsTx loads the cars held and unsold at asOf, with weights, inside
// the caller's transaction so commit sees the same set the preview saw. A car
// sold after asOf was still carrying overhead on that date, so a backdated
// expense reaches it; a car bought after asOf does not exist yet for it.
func (s *AllocationService) eligibleCarsTx(ctx context.Context, q querier, orgID string, asOf time.Time) ([]EligibleCar, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, vin, buy_date FROM cars
		WHERE org_id = $1 AND buy_date <= $2
			AND (status NOT IN ('SOLD', 'ARCHIVED') OR sold_date > $2)
		ORDER BY vin`,
		orgID, asOf)
	if err != nil {
		return nil, storageErr("allocation.eligible", err)
	}
	defer rows.Close()

	var cars []EligibleCar
	for rows.Next() {
		var c EligibleCar
		if err := rows.Scan(&c.ID, &c.VIN, &c.BuyDate); err != nil {
			return nil, storageErr("allocation.eligible.scan", err)
		}
		days := int64(asOf.Sub(c.BuyDate).Hours() / 24)
		if days < 0 {
			days = 0
		}
		c.DaysHeld = days
		cars = append(cars, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("allocation.eligible", err)
	}

	for i := range cars {
		basis, err := s.cost.CostBasisTx(ctx, q, orgID, cars[i].ID)
		if err != nil {
			return nil, err
		}
		cars[i].CostBasis = basis.TotalFils
	}
	return cars, nil
}

// Preview computes allocation lines for a shared expense without touching
// state. Zero eligible cars is not an error: the preview reports the expense
// as wholly unallocated overhead.
func (s *AllocationService) Preview(ctx context.Context, orgID string, amountFils int64, date time.Time) (AllocationPreview, error) {
	rule, err := s.Rule(ctx, orgID)
	if err != nil {
		return AllocationPreview{}, err
	}
	cars, err := s.eligibleCarsTx(ctx, s.db, orgID, date)
	if err != nil {
		return AllocationPreview{}, err
	}
	lines := Allocate(amountFils, cars, rule.Method, rule.WeightKey)
	return AllocationPreview{
		AmountFils:  amountFils,
		Method:      rule.Method,
		Unallocated: len(cars) == 0,
		Lines:       lines,
	}, nil
}

// CommitTx recomputes the lines inside the expense's transaction and
// persists them. The recompute (rather than trusting a stale preview) keeps
// sum(lines) == amount against the eligible set at commit time.
func (s *AllocationService) CommitTx(ctx context.Context, tx querier, orgID, expenseID string, amountFils int64, date time.Time) (AllocationPreview, error) {
	rule, err := s.ruleTx(ctx, tx, orgID)
	if err != nil {
		return AllocationPreview{}, err
	}
	cars, err := s.eligibleCarsTx(ctx, tx, orgID, date)
	if err != nil {
		return AllocationPreview{}, err
	}
	lines := Allocate(amountFils, cars, rule.Method, rule.WeightKey)

	var total int64
	for i := range lines {
		lines[i].ID = uuid.NewString()
		lines[i].OrgID = orgID
		lines[i].ExpenseID = expenseID
		total += lines[i].AmountFils
		_, err := tx.ExecContext(ctx, `
			INSERT INTO allocation_lines (id, org_id, expense_id, car_id, amount_fils, ratio, method, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
			lines[i].ID, orgID, expenseID, lines[i].CarID, lines[i].AmountFils,
			lines[i].Ratio, string(lines[i].Method))
		if err != nil {
			return AllocationPreview{}, storageErr("allocation.commit", err)
		}
	}
	if len(lines) > 0 && total != amountFils {
		// Rounding reconciliation failed; this is a bug, not a tolerable drift.
		return AllocationPreview{}, fmt.Errorf("allocation lines sum %d != expense %d: %w",
			total, amountFils, ErrUnbalancedPair)
	}
	return AllocationPreview{
		AmountFils:  amountFils,
		Method:      rule.Method,
		Unallocated: len(cars) == 0,
		Lines:       lines,
	}, nil
}

// Allocate splits amountFils across the eligible cars. It is a pure function
// over its inputs and always returns lines summing exactly to amountFils
// (or no lines at all when cars is empty).
func Allocate(amountFils int64, cars []EligibleCar, method models.AllocationMethod, weightKey models.WeightKey) []models.AllocationLine {
	if len(cars) == 0 || amountFils == 0 {
		return nil
	}

	// Stable tie-break: ascending VIN.
	sorted := make([]EligibleCar, len(cars))
	copy(sorted, cars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].VIN < sorted[j].VIN })

	switch method {
	case models.MethodProportional:
		if lines := allocateProportional(amountFils, sorted, weightKey); lines != nil {
			return lines
		}
		// All weights zero: fall through to the equal split.
	}
	return allocatePerCar(amountFils, sorted)
}

func allocatePerCar(amountFils int64, cars []EligibleCar) []models.AllocationLine {
	n := int64(len(cars))
	base := amountFils / n
	remainder := amountFils - base*n
	step := int64(1)
	if remainder < 0 {
		// Credits (negative amounts) split the same way, with the leftover
		// minor units taken back instead of handed out.
		step = -1
		remainder = -remainder
	}

	lines := make([]models.AllocationLine, len(cars))
	ratio := decimal.NewFromInt(1).DivRound(decimal.NewFromInt(n), 8)
	for i, car := range cars {
		amount := base
		// Remainder goes one minor unit at a time to the first cars by VIN.
		if int64(i) < remainder {
			amount += step
		}
		lines[i] = models.AllocationLine{
			CarID:      car.ID,
			CarVIN:     car.VIN,
			AmountFils: amount,
			Ratio:      ratio,
			Method:     models.MethodPerCar,
		}
	}
	return lines
}

// allocateProportional uses the largest-remainder method: floor every share,
// then hand the remaining minor units to the largest fractional remainders,
// ties broken by ascending VIN (the input order).
func allocateProportional(amountFils int64, cars []EligibleCar, weightKey models.WeightKey) []models.AllocationLine {
	weights := make([]decimal.Decimal, len(cars))
	totalWeight := decimal.Zero
	for i, car := range cars {
		var w int64
		switch weightKey {
		case models.WeightDaysHeld:
			w = car.DaysHeld
		default:
			w = car.CostBasis
		}
		if w < 0 {
			w = 0
		}
		weights[i] = decimal.NewFromInt(w)
		totalWeight = totalWeight.Add(weights[i])
	}
	if totalWeight.IsZero() {
		return nil
	}

	amount := decimal.NewFromInt(amountFils)
	type share struct {
		idx   int
		floor int64
		frac  decimal.Decimal
		ratio decimal.Decimal
	}
	shares := make([]share, len(cars))
	var allocated int64
	for i := range cars {
		ratio := weights[i].DivRound(totalWeight, 8)
		exact := amount.Mul(weights[i]).Div(totalWeight)
		floor := exact.Floor()
		shares[i] = share{
			idx:   i,
			floor: floor.IntPart(),
			frac:  exact.Sub(floor),
			ratio: ratio,
		}
		allocated += shares[i].floor
	}

	remainder := amountFils - allocated
	order := make([]int, len(shares))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return shares[order[a]].frac.GreaterThan(shares[order[b]].frac)
	})
	for i := int64(0); i < remainder; i++ {
		shares[order[i%int64(len(order))]].floor++
	}

	lines := make([]models.AllocationLine, len(cars))
	for i, sh := range shares {
		lines[i] = models.AllocationLine{
			CarID:      cars[sh.idx].ID,
			CarVIN:     cars[sh.idx].VIN,
			AmountFils: sh.floor,
			Ratio:      sh.ratio,
			Method:     models.MethodProportional,
		}
	}
	return lines
}
