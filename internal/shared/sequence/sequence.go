// Package sequence 提供跨进程串行的编号计数器，用于生成工单、检验单、缺陷等业务编码
package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/shared/database"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Counter 按 key 递增的计数器
type Counter interface {
	Next(ctx context.Context, key string) (int64, error)
}

// Sequence 数据库计数器表
type Sequence struct {
	Key       string    `json:"key" gorm:"column:seq_key;primaryKey;size:128"`
	Value     int64     `json:"value" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Sequence) TableName() string {
	return "mes_sequences"
}

// DBCounter 基于行锁的计数器，在调用方事务中执行时随事务回滚
type DBCounter struct {
	db *gorm.DB
}

func NewDBCounter(db *gorm.DB) *DBCounter {
	return &DBCounter{db: db}
}

func (c *DBCounter) Next(ctx context.Context, key string) (int64, error) {
	conn := database.Conn(ctx, c.db)
	if err := conn.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Sequence{Key: key}).Error; err != nil {
		return 0, fmt.Errorf("init sequence %s: %w", key, err)
	}
	res := conn.Model(&Sequence{}).Where("seq_key = ?", key).
		Updates(map[string]interface{}{"value": gorm.Expr("value + 1"), "updated_at": time.Now()})
	if res.Error != nil {
		return 0, fmt.Errorf("increment sequence %s: %w", key, res.Error)
	}
	var seq Sequence
	if err := conn.Where("seq_key = ?", key).First(&seq).Error; err != nil {
		return 0, fmt.Errorf("read sequence %s: %w", key, err)
	}
	return seq.Value, nil
}

// RedisCounter 基于 INCR 的计数器，按日期分段的 key 自动过期
type RedisCounter struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCounter(rdb *redis.Client, prefix string, ttl time.Duration) *RedisCounter {
	return &RedisCounter{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *RedisCounter) Next(ctx context.Context, key string) (int64, error) {
	k := c.prefix + key
	n, err := c.rdb.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", k, err)
	}
	if n == 1 && c.ttl > 0 {
		c.rdb.Expire(ctx, k, c.ttl)
	}
	return n, nil
}
