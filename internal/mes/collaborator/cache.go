package collaborator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/errs"
	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedMasterData Redis缓存的主数据。
// 新鲜副本按 TTL 过期；另存一份不过期的副本，上游不可用时回退使用。
type CachedMasterData struct {
	next MasterData
	rdb  *redis.Client
	ttl  time.Duration
	log  *zap.Logger
}

func NewCachedMasterData(next MasterData, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *CachedMasterData {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedMasterData{next: next, rdb: rdb, ttl: ttl, log: log}
}

func bomKey(productID, version string) string {
	return fmt.Sprintf("mes:bom:%s:%s", productID, version)
}

func routingKey(productID string) string {
	return "mes:routing:" + productID
}

func (c *CachedMasterData) GetBillOfMaterials(ctx context.Context, productID, version string) (*BOM, error) {
	key := bomKey(productID, version)
	var bom BOM
	if c.load(ctx, key, &bom) {
		return &bom, nil
	}
	fresh, err := c.next.GetBillOfMaterials(ctx, productID, version)
	if err != nil {
		if errors.Is(err, domain.ErrCollaboratorUnavailable) && c.load(ctx, key+":stale", &bom) {
			c.log.Warn("master data unavailable, using stale BOM",
				zap.String("product_id", productID), zap.String("version", bom.Version), errs.Field(err))
			return &bom, nil
		}
		return nil, err
	}
	c.store(ctx, key, fresh)
	return fresh, nil
}

func (c *CachedMasterData) GetRouting(ctx context.Context, productID string) ([]RoutingStep, error) {
	key := routingKey(productID)
	var steps []RoutingStep
	if c.load(ctx, key, &steps) {
		return steps, nil
	}
	fresh, err := c.next.GetRouting(ctx, productID)
	if err != nil {
		if errors.Is(err, domain.ErrCollaboratorUnavailable) && c.load(ctx, key+":stale", &steps) {
			c.log.Warn("master data unavailable, using stale routing",
				zap.String("product_id", productID), errs.Field(err))
			return steps, nil
		}
		return nil, err
	}
	c.store(ctx, key, fresh)
	return fresh, nil
}

// Invalidate 主数据变更通知时清除缓存
func (c *CachedMasterData) Invalidate(ctx context.Context, productID string) error {
	keys, err := c.rdb.Keys(ctx, bomKey(productID, "*")).Result()
	if err != nil {
		return errs.Wrap(err, "scan bom keys")
	}
	keys = append(keys, routingKey(productID))
	fresh := keys[:0]
	for _, k := range keys {
		if len(k) < 6 || k[len(k)-6:] != ":stale" {
			fresh = append(fresh, k)
		}
	}
	return c.rdb.Del(ctx, fresh...).Err()
}

func (c *CachedMasterData) load(ctx context.Context, key string, out interface{}) bool {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("read master data cache", zap.String("key", key), errs.Field(err))
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.log.Warn("decode master data cache", zap.String("key", key), errs.Field(err))
		return false
	}
	return true
}

func (c *CachedMasterData) store(ctx context.Context, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, key, data, c.ttl)
	pipe.Set(ctx, key+":stale", data, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("write master data cache", zap.String("key", key), errs.Field(err))
	}
}
