// Package cache provides caching implementations for repository interfaces.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"candle_tracker/internal/feature/candles/domain/entity"
	"candle_tracker/internal/feature/candles/domain/timeframe"
	"candle_tracker/internal/feature/candles/usecase"
)

// CachingCandleRepository decorates a CandleRepository with Redis caching.
// It implements the decorator pattern, transparently adding caching without
// modifying the underlying repository.
//
// Range reads are cached until the newest bucket they touch can change, and are
// invalidated per symbol+timeframe after every successful commit, including commits
// that only carried duplicates: rows may have reached the store through another
// path, so a cached range can be shorter than the store. Candles are immutable,
// so lookups by id are cached for the full TTL.
type CachingCandleRepository struct {
	inner     usecase.CandleRepository
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
	now       func() time.Time
}

var _ usecase.CandleRepository = (*CachingCandleRepository)(nil)

// NewCachingCandleRepository decorates a CandleRepository with Redis caching.
// ttl is the upper bound for every entry; if 0, it defaults to 5 minutes.
// If namespace is empty, it uses "candles".
func NewCachingCandleRepository(rdb *redis.Client, ttl time.Duration, inner usecase.CandleRepository, namespace string) *CachingCandleRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if namespace == "" {
		namespace = "candles"
	}
	return &CachingCandleRepository{
		inner:     inner,
		rdb:       rdb,
		ttl:       ttl,
		namespace: namespace,
		now:       time.Now,
	}
}

// QueryRange retrieves candles, checking cache first then falling back to the database.
func (c *CachingCandleRepository) QueryRange(ctx context.Context, symbol string, tf timeframe.TimeFrame, from, to time.Time) ([]entity.Candle, error) {
	// Bypass cache if Redis is not configured
	if c.rdb == nil {
		return c.inner.QueryRange(ctx, symbol, tf, from, to)
	}

	key := c.rangeKey(symbol, tf, from, to)

	// 1) Check cache
	var out []entity.Candle
	if c.get(ctx, key, &out) {
		return out, nil
	}

	// 2) Fallback to database
	out, err := c.inner.QueryRange(ctx, symbol, tf, from, to)
	if err != nil {
		return nil, err
	}

	// 3) Store in cache (best effort)
	c.set(ctx, key, out, c.rangeTTL(tf, to))
	return out, nil
}

// GetLatest is not cached: it changes with every new bucket.
func (c *CachingCandleRepository) GetLatest(ctx context.Context, symbol string, tf timeframe.TimeFrame) (entity.Candle, error) {
	return c.inner.GetLatest(ctx, symbol, tf)
}

// GetByID retrieves a candle by id through the cache.
func (c *CachingCandleRepository) GetByID(ctx context.Context, id uuid.UUID) (entity.Candle, error) {
	if c.rdb == nil {
		return c.inner.GetByID(ctx, id)
	}

	key := c.idKey(id)
	var out entity.Candle
	if c.get(ctx, key, &out) {
		return out, nil
	}

	out, err := c.inner.GetByID(ctx, id)
	if err != nil {
		return entity.Candle{}, err
	}
	c.set(ctx, key, out, c.ttl)
	return out, nil
}

// NewWriter returns a writer that invalidates affected range entries after every successful commit.
func (c *CachingCandleRepository) NewWriter() usecase.CandleWriter {
	return &cachingWriter{inner: c.inner.NewWriter(), cache: c}
}

// get reads and decodes key into dst. Corrupted entries are deleted.
func (c *CachingCandleRepository) get(ctx context.Context, key string, dst any) bool {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil || len(b) == 0 {
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		// Delete corrupted cache entry
		_ = c.rdb.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *CachingCandleRepository) set(ctx context.Context, key string, v any, ttl time.Duration) {
	if b, err := json.Marshal(v); err == nil {
		_ = c.rdb.Set(ctx, key, b, ttl).Err()
	}
}

// rangeTTL keeps ranges that end before the current bucket for the full TTL and
// expires the others when the current bucket closes.
func (c *CachingCandleRepository) rangeTTL(tf timeframe.TimeFrame, to time.Time) time.Duration {
	now := c.now()
	if to.Before(timeframe.BucketStart(now, tf)) {
		return c.ttl
	}
	if d := TimeUntilNextBucket(now, tf); d > 0 && d < c.ttl {
		return d
	}
	return c.ttl
}

// rangeKey generates a cache key for a specific query.
func (c *CachingCandleRepository) rangeKey(symbol string, tf timeframe.TimeFrame, from, to time.Time) string {
	return fmt.Sprintf("%s%d:%d",
		c.cacheKeyPrefix(symbol, tf),
		from.Unix(),
		to.Unix(),
	)
}

// cacheKeyPrefix generates a prefix for invalidating related cache entries.
func (c *CachingCandleRepository) cacheKeyPrefix(symbol string, tf timeframe.TimeFrame) string {
	return fmt.Sprintf("%s:range:%s:%s:",
		c.namespace,
		safe(symbol),
		safe(tf.String()),
	)
}

func (c *CachingCandleRepository) idKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:id:%s", c.namespace, id)
}

// deleteByPattern deletes all cache keys matching a given pattern using SCAN.
func (c *CachingCandleRepository) deleteByPattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, cur, err := c.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = cur
		if cursor == 0 {
			break
		}
	}
	return nil
}

// safe escapes characters that are problematic for Redis keys.
func safe(s string) string {
	// Simple escaping of characters that are problematic for Redis keys
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, "*", "_")
	return s
}

type cachingWriter struct {
	inner   usecase.CandleWriter
	cache   *CachingCandleRepository
	touched map[string]struct{}
}

func (w *cachingWriter) AddOne(c entity.Candle) {
	w.touch(c)
	w.inner.AddOne(c)
}

func (w *cachingWriter) AddMany(cs []entity.Candle) {
	for _, c := range cs {
		w.touch(c)
	}
	w.inner.AddMany(cs)
}

func (w *cachingWriter) touch(c entity.Candle) {
	if w.touched == nil {
		w.touched = map[string]struct{}{}
	}
	w.touched[w.cache.cacheKeyPrefix(c.Symbol, c.TimeFrame)] = struct{}{}
}

// Commit commits the inner writer and invalidates affected cache entries.
// Invalidation does not depend on inserted: a backfill that only re-wrote
// existing rows must still see them on its next read.
func (w *cachingWriter) Commit(ctx context.Context) (bool, error) {
	touched := w.touched
	w.touched = nil

	inserted, err := w.inner.Commit(ctx)
	if err != nil || w.cache.rdb == nil {
		return inserted, err
	}

	// Invalidate affected cache entries (keys per symbol+timeframe)
	for prefix := range touched {
		_ = w.cache.deleteByPattern(ctx, prefix+"*") // Best effort: don't fail if cache deletion fails
	}
	return inserted, nil
}
