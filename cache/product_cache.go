package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rabby420bd/tj/metrics"
	"github.com/rabby420bd/tj/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	ProductListCachePrefix = "tj:products:v:"
	CacheVersionKey        = "tj:products:version"
	DefaultProductCacheTTL = 5 * time.Minute
)

// ProductCache caches catalog listings in Redis. Invalidate bumps a
// version counter that is part of every list key, so stale lists simply
// stop being read and expire on their own.
type ProductCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewProductCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ProductCache {
	if ttl <= 0 {
		ttl = DefaultProductCacheTTL
	}
	return &ProductCache{redis: client, ttl: ttl, logger: logger}
}

// Version returns the current listing version. Callers read it before
// loading from the store and pass it to both Get and Set, so a list loaded
// before an invalidation is never filed under the newer version.
func (pc *ProductCache) Version(ctx context.Context) (int64, error) {
	version, err := pc.getCacheVersion(ctx)
	if err != nil {
		metrics.CacheMisses.WithLabelValues("redis").Inc()
		return 0, err
	}
	return version, nil
}

func (pc *ProductCache) GetProductList(ctx context.Context, version int64, category string) ([]models.Product, bool) {
	data, err := pc.redis.Get(ctx, listKey(version, category)).Bytes()
	if err != nil {
		metrics.CacheMisses.WithLabelValues("redis").Inc()
		return nil, false
	}

	var products []models.Product
	if err := json.Unmarshal(data, &products); err != nil {
		pc.logger.Warn("Failed to unmarshal cached product list", zap.Error(err))
		metrics.CacheMisses.WithLabelValues("redis").Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("redis").Inc()
	return products, true
}

func (pc *ProductCache) SetProductList(ctx context.Context, version int64, category string, products []models.Product) {
	data, err := json.Marshal(products)
	if err != nil {
		pc.logger.Warn("Failed to marshal product list for cache", zap.Error(err))
		return
	}
	if err := pc.redis.Set(ctx, listKey(version, category), data, pc.ttl).Err(); err != nil {
		pc.logger.Warn("Failed to cache product list", zap.Error(err))
	}
}

func (pc *ProductCache) Invalidate(ctx context.Context) error {
	newVersion, err := pc.redis.Incr(ctx, CacheVersionKey).Result()
	if err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	pc.logger.Debug("Product cache invalidated", zap.Int64("new_version", newVersion))
	return nil
}

func (pc *ProductCache) getCacheVersion(ctx context.Context) (int64, error) {
	ver, err := pc.redis.Get(ctx, CacheVersionKey).Int64()
	if err == nil {
		return ver, nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, err
	}
	// SetNX so two first readers agree on the initial version.
	if err := pc.redis.SetNX(ctx, CacheVersionKey, 1, 0).Err(); err != nil {
		return 0, err
	}
	return pc.redis.Get(ctx, CacheVersionKey).Int64()
}

func listKey(version int64, category string) string {
	if category == "" {
		category = "all"
	}
	return fmt.Sprintf("%s%d:c:%s", ProductListCachePrefix, version, category)
}
