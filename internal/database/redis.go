package database

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/cartrade/backend/internal/logger"
)

// InitRedis initializes the Redis client used for FX-rate caching and the
// auth session layer. Account balances are never cached here; they are always
// folds over the ledger.
func InitRedis() *redis.Client {
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	addr := viper.GetString("redis.host") + ":" + viper.GetString("redis.port")
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Log.Warn("redis connection failed, continuing without cache", zap.Error(err))
		return nil
	}

	logger.Log.Info("redis connection established", zap.String("addr", addr))
	return rdb
}
