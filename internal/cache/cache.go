package cache

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// StockCache caches the per-inventory stock snapshot backing transaction
// forms. Valuations are never cached; they are always computed from batches.
type StockCache interface {
	Get(ctx context.Context, inventoryID int64) (map[int64]decimal.Decimal, bool, error)
	Set(ctx context.Context, inventoryID int64, stock map[int64]decimal.Decimal, ttl time.Duration) error
	Invalidate(ctx context.Context, inventoryID int64) error
}

type NoopStockCache struct{}

func NewNoop() NoopStockCache {
	return NoopStockCache{}
}

func (NoopStockCache) Get(_ context.Context, _ int64) (map[int64]decimal.Decimal, bool, error) {
	return nil, false, nil
}

func (NoopStockCache) Set(_ context.Context, _ int64, _ map[int64]decimal.Decimal, _ time.Duration) error {
	return nil
}

func (NoopStockCache) Invalidate(_ context.Context, _ int64) error {
	return nil
}
