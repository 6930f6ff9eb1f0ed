package config

import (
	"os"
	"strconv"
)

// LedgerConfig carries tenant-independent ledger settings. Share percentages
// are integers out of 100; the three payout shares are rounded independently
// and the business account is debited their exact sum.
type LedgerConfig struct {
	BaseCurrency       string
	DefaultMethod      string
	DefaultWeightKey   string
	InvestorSharePct   int64
	AssistantSharePct  int64
	OwnerSharePct      int64
	FxCacheTTLSeconds  int
	HistoryPageMaxRows int
}

func LoadLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		BaseCurrency:       getEnv("LEDGER_BASE_CURRENCY", "AED"),
		DefaultMethod:      getEnv("LEDGER_ALLOCATION_METHOD", "per_car"),
		DefaultWeightKey:   getEnv("LEDGER_ALLOCATION_WEIGHT_KEY", "cost_basis"),
		InvestorSharePct:   getEnvAsInt64("LEDGER_INVESTOR_SHARE_PCT", 50),
		AssistantSharePct:  getEnvAsInt64("LEDGER_ASSISTANT_SHARE_PCT", 25),
		OwnerSharePct:      getEnvAsInt64("LEDGER_OWNER_SHARE_PCT", 25),
		FxCacheTTLSeconds:  getEnvAsInt("LEDGER_FX_CACHE_TTL", 3600),
		HistoryPageMaxRows: getEnvAsInt("LEDGER_HISTORY_MAX_ROWS", 500),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}
