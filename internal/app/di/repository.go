package di

import (
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"candle_tracker/internal/feature/candles/adapters"
	"candle_tracker/internal/feature/candles/usecase"
	"candle_tracker/internal/platform/cache"
	"candle_tracker/internal/platform/config"
)

// NewCandleRepository creates the CandleRepository used by the service.
// If Redis is available, the gorm store is wrapped with the Redis range cache.
// Otherwise, reads go straight to the database.
func NewCandleRepository(rdb *redis.Client, db *gorm.DB, cfg config.CacheConfig) usecase.CandleRepository {
	store := adapters.NewCandleRepository(db)
	if rdb != nil {
		return cache.NewCachingCandleRepository(rdb, cfg.MaxTTL, store, cfg.Namespace)
	}
	return store
}
