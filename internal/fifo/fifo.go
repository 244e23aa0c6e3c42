// Package fifo plans stock withdrawals against dated batches, oldest first.
// It is pure planning logic; persisting the resulting mutations is the
// caller's job, inside whatever transactional boundary it runs under.
package fifo

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInsufficient is returned when the batches on hand cannot cover the
// requested quantity. No partial plan is returned in that case.
var ErrInsufficient = errors.New("fifo: insufficient stock")

// Batch is one dated lot available for consumption.
type Batch struct {
	ID           int64
	CreationDate time.Time
	UnitCost     decimal.Decimal
	Quantity     decimal.Decimal
}

// Consumption records how much a plan takes out of one batch.
// Remaining is the batch quantity left afterwards; a zero Remaining means
// the batch is exhausted and should be removed.
type Consumption struct {
	BatchID   int64
	Taken     decimal.Decimal
	Remaining decimal.Decimal
}

// Plan is the outcome of consuming a quantity across batches.
type Plan struct {
	Consumptions []Consumption
	// Cost is the realized cost basis: sum of taken quantity times each
	// batch's unit cost.
	Cost decimal.Decimal
}

// Consume plans the withdrawal of quantity from batches in first-in
// first-out order. Batches are ordered by creation date, ties broken by id,
// so replaying the same inputs always yields the same plan. The input slice
// is not modified.
func Consume(batches []Batch, quantity decimal.Decimal) (Plan, error) {
	if quantity.Sign() <= 0 {
		return Plan{Cost: decimal.Zero}, nil
	}

	ordered := make([]Batch, len(batches))
	copy(ordered, batches)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].CreationDate.Equal(ordered[j].CreationDate) {
			return ordered[i].CreationDate.Before(ordered[j].CreationDate)
		}
		return ordered[i].ID < ordered[j].ID
	})

	plan := Plan{Cost: decimal.Zero}
	remaining := quantity
	for _, b := range ordered {
		if remaining.Sign() == 0 {
			break
		}
		take := decimal.Min(b.Quantity, remaining)
		if take.Sign() <= 0 {
			continue
		}
		plan.Consumptions = append(plan.Consumptions, Consumption{
			BatchID:   b.ID,
			Taken:     take,
			Remaining: b.Quantity.Sub(take),
		})
		plan.Cost = plan.Cost.Add(take.Mul(b.UnitCost))
		remaining = remaining.Sub(take)
	}

	if remaining.Sign() > 0 {
		return Plan{}, ErrInsufficient
	}
	return plan, nil
}

// Total sums the quantities of the given batches.
func Total(batches []Batch) decimal.Decimal {
	total := decimal.Zero
	for _, b := range batches {
		total = total.Add(b.Quantity)
	}
	return total
}
