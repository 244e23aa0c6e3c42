package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type RedisStockCache struct {
	client *redis.Client
}

func NewRedisStockCache(addr string, password string, db int) *RedisStockCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStockCache{client: client}
}

func (c *RedisStockCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStockCache) Close() error {
	return c.client.Close()
}

func stockKey(inventoryID int64) string {
	return fmt.Sprintf("stock:%d", inventoryID)
}

func (c *RedisStockCache) Get(ctx context.Context, inventoryID int64) (map[int64]decimal.Decimal, bool, error) {
	val, err := c.client.Get(ctx, stockKey(inventoryID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var stock map[int64]decimal.Decimal
	if err := json.Unmarshal([]byte(val), &stock); err != nil {
		return nil, false, err
	}
	return stock, true, nil
}

func (c *RedisStockCache) Set(ctx context.Context, inventoryID int64, stock map[int64]decimal.Decimal, ttl time.Duration) error {
	if stock == nil {
		return nil
	}
	payload, err := json.Marshal(stock)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, stockKey(inventoryID), payload, ttl).Err()
}

func (c *RedisStockCache) Invalidate(ctx context.Context, inventoryID int64) error {
	return c.client.Del(ctx, stockKey(inventoryID)).Err()
}
