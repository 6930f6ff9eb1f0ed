package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/cartrade/backend/internal/config"
)

// FXService resolves currency -> base rates from the fx_rates table: the most
// recent rate with date <= asOf wins. Rates are resolved once per operation
// and stored on the resulting row, so a later correction of the table never
// shifts historical figures.
type FXService struct {
	db       *sql.DB
	redis    *redis.Client
	cfg      *config.LedgerConfig
	cacheTTL time.Duration
}

func NewFXService(db *sql.DB, redisClient *redis.Client, cfg *config.LedgerConfig) *FXService {
	return &FXService{
		db:       db,
		redis:    redisClient,
		cfg:      cfg,
		cacheTTL: time.Duration(cfg.FxCacheTTLSeconds) * time.Second,
	}
}

// Rate returns the conversion rate from currency to the base currency as of
// the given date. The base currency itself is always 1.
func (s *FXService) Rate(ctx context.Context, currency string, asOf time.Time) (decimal.Decimal, error) {
	if currency == s.cfg.BaseCurrency {
		return decimal.NewFromInt(1), nil
	}

	day := asOf.Format("2006-01-02")
	cacheKey := fmt.Sprintf("fx:%s:%s", currency, day)

	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
			if rate, derr := decimal.NewFromString(cached); derr == nil {
				return rate, nil
			}
		}
	}

	var rate decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT rate FROM fx_rates
		WHERE counter = $1 AND date <= $2
		ORDER BY date DESC LIMIT 1`,
		currency, day).Scan(&rate)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, fmt.Errorf("no fx rate for %s as of %s: %w", currency, day, ErrNotFound)
	}
	if err != nil {
		return decimal.Decimal{}, storageErr("fx.rate", err)
	}

	if s.redis != nil {
		s.redis.Set(ctx, cacheKey, rate.String(), s.cacheTTL)
	}
	return rate, nil
}

// Upsert inserts or replaces the rate for (currency, date).
func (s *FXService) Upsert(ctx context.Context, currency string, date time.Time, rate decimal.Decimal) error {
	if rate.Sign() <= 0 {
		return fmt.Errorf("fx rate must be positive: %w", ErrValidation)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fx_rates (counter, date, rate) VALUES ($1, $2, $3)
		ON CONFLICT (counter, date) DO UPDATE SET rate = EXCLUDED.rate`,
		currency, date.Format("2006-01-02"), rate)
	if err != nil {
		return storageErr("fx.upsert", err)
	}
	if s.redis != nil {
		s.redis.Del(ctx, fmt.Sprintf("fx:%s:%s", currency, date.Format("2006-01-02")))
	}
	return nil
}
