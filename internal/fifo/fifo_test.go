package fifo

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestConsumeOldestFirst(t *testing.T) {
	batches := []Batch{
		{ID: 2, CreationDate: date(2024, 2, 1), UnitCost: decimal.NewFromInt(3), Quantity: decimal.NewFromInt(5)},
		{ID: 1, CreationDate: date(2024, 1, 1), UnitCost: decimal.NewFromInt(2), Quantity: decimal.NewFromInt(5)},
	}

	plan, err := Consume(batches, decimal.NewFromInt(7))
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	// 5 units at cost 2, then 2 units at cost 3.
	if !plan.Cost.Equal(decimal.NewFromInt(16)) {
		t.Fatalf("Cost = %s, want 16", plan.Cost)
	}
	if len(plan.Consumptions) != 2 {
		t.Fatalf("got %d consumptions, want 2", len(plan.Consumptions))
	}
	first, second := plan.Consumptions[0], plan.Consumptions[1]
	if first.BatchID != 1 || !first.Taken.Equal(decimal.NewFromInt(5)) || !first.Remaining.IsZero() {
		t.Fatalf("first consumption = %+v", first)
	}
	if second.BatchID != 2 || !second.Taken.Equal(decimal.NewFromInt(2)) || !second.Remaining.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("second consumption = %+v", second)
	}
}

func TestConsumeTieBreaksOnID(t *testing.T) {
	day := date(2024, 3, 1)
	batches := []Batch{
		{ID: 9, CreationDate: day, UnitCost: decimal.NewFromInt(10), Quantity: decimal.NewFromInt(1)},
		{ID: 3, CreationDate: day, UnitCost: decimal.NewFromInt(7), Quantity: decimal.NewFromInt(1)},
	}

	plan, err := Consume(batches, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if plan.Consumptions[0].BatchID != 3 {
		t.Fatalf("consumed batch %d first, want 3", plan.Consumptions[0].BatchID)
	}
	if !plan.Cost.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("Cost = %s, want 7", plan.Cost)
	}
}

func TestConsumeInsufficient(t *testing.T) {
	batches := []Batch{
		{ID: 1, CreationDate: date(2024, 1, 1), UnitCost: decimal.NewFromInt(2), Quantity: decimal.NewFromInt(3)},
	}
	_, err := Consume(batches, decimal.NewFromInt(4))
	if !errors.Is(err, ErrInsufficient) {
		t.Fatalf("err = %v, want ErrInsufficient", err)
	}
}

func TestConsumeExactExhaustion(t *testing.T) {
	batches := []Batch{
		{ID: 1, CreationDate: date(2024, 1, 1), UnitCost: decimal.RequireFromString("1.5"), Quantity: decimal.RequireFromString("2.5")},
	}
	plan, err := Consume(batches, decimal.RequireFromString("2.5"))
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if !plan.Consumptions[0].Remaining.IsZero() {
		t.Fatalf("Remaining = %s, want 0", plan.Consumptions[0].Remaining)
	}
	if !plan.Cost.Equal(decimal.RequireFromString("3.75")) {
		t.Fatalf("Cost = %s, want 3.75", plan.Cost)
	}
}

func TestConsumeZeroQuantity(t *testing.T) {
	plan, err := Consume(nil, decimal.Zero)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if len(plan.Consumptions) != 0 || !plan.Cost.IsZero() {
		t.Fatalf("plan = %+v, want empty", plan)
	}
}

func TestConsumeDoesNotMutateInput(t *testing.T) {
	batches := []Batch{
		{ID: 2, CreationDate: date(2024, 2, 1), Quantity: decimal.NewFromInt(5), UnitCost: decimal.NewFromInt(1)},
		{ID: 1, CreationDate: date(2024, 1, 1), Quantity: decimal.NewFromInt(5), UnitCost: decimal.NewFromInt(1)},
	}
	if _, err := Consume(batches, decimal.NewFromInt(6)); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if batches[0].ID != 2 || batches[1].ID != 1 {
		t.Fatal("input slice order changed")
	}
}

func TestTotal(t *testing.T) {
	batches := []Batch{
		{Quantity: decimal.NewFromInt(2)},
		{Quantity: decimal.RequireFromString("0.5")},
	}
	if got := Total(batches); !got.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("Total = %s, want 2.5", got)
	}
}
