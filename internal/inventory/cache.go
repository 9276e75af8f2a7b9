package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// WarehouseStockCache keeps warehouse aggregations in Redis for a short
// TTL. Branch-inventory dashboards poll this endpoint aggressively, so
// concurrent cache misses for the same warehouse collapse into one ledger
// scan via singleflight.
type WarehouseStockCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewWarehouseStockCache builds the cache.
func NewWarehouseStockCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *WarehouseStockCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &WarehouseStockCache{client: client, ttl: ttl, logger: logger}
}

func stockKey(warehouseID int64) string {
	return fmt.Sprintf("vitacare:warehouse_stock:%d", warehouseID)
}

// Get returns the cached aggregation or loads and stores it. Redis
// failures degrade to a direct load.
func (c *WarehouseStockCache) Get(ctx context.Context, warehouseID int64, load func(context.Context) ([]WarehouseStockEntry, error)) ([]WarehouseStockEntry, error) {
	key := stockKey(warehouseID)
	if payload, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var entries []WarehouseStockEntry
		if err := json.Unmarshal(payload, &entries); err == nil {
			return entries, nil
		}
		// Corrupt payload; fall through and rebuild.
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		entries, err := load(ctx)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(entries)
		if err == nil {
			if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil && c.logger != nil {
				c.logger.Warn("warehouse stock cache write failed",
					slog.Int64("warehouse_id", warehouseID), slog.Any("error", err))
			}
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]WarehouseStockEntry), nil
}

// Invalidate drops the cached entry after a ledger mutation.
func (c *WarehouseStockCache) Invalidate(ctx context.Context, warehouseID int64) {
	if err := c.client.Del(ctx, stockKey(warehouseID)).Err(); err != nil && c.logger != nil {
		c.logger.Warn("warehouse stock cache invalidate failed",
			slog.Int64("warehouse_id", warehouseID), slog.Any("error", err))
	}
}
