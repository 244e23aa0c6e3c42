package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"vaalbara/backend/internal/domain"
)

func TestCompleteExportConsumesBatchesOldestFirst(t *testing.T) {
	databaseURL := os.Getenv("VAALBARA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set VAALBARA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	slug := fmt.Sprintf("it-fifo-%d", stamp)

	inv, err := s.CreateInventory(ctx, domain.Inventory{Name: "IT FIFO " + slug, Slug: slug})
	if err != nil {
		t.Fatalf("create inventory: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM item_batches WHERE item_id IN (SELECT id FROM items WHERE inventory_id = $1)`, inv.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transaction_items WHERE transaction_id IN (SELECT id FROM transactions WHERE inventory_id = $1)`, inv.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transactions WHERE inventory_id = $1`, inv.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM items WHERE inventory_id = $1`, inv.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM partners WHERE name = $1`, "IT Partner "+slug)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventories WHERE id = $1`, inv.ID)
	})

	item, err := s.CreateItem(ctx, domain.Item{InventoryID: inv.ID, Name: "IT Item " + slug, Unit: domain.UnitBox})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	partner, err := s.CreatePartner(ctx, domain.Partner{Name: "IT Partner " + slug})
	if err != nil {
		t.Fatalf("create partner: %v", err)
	}

	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	for _, seed := range []struct {
		at       time.Time
		unitCost int64
	}{
		{jan, 2},
		{feb, 3},
	} {
		imp, err := s.CreateTransaction(ctx, domain.Transaction{
			Type:        domain.TxTypeImport,
			InventoryID: inv.ID,
			PartnerID:   partner.ID,
			CreatedBy:   "it",
			Items: []domain.TransactionItem{
				{ItemID: item.ID, UnitCost: decimal.NewFromInt(seed.unitCost), Quantity: decimal.NewFromInt(5)},
			},
		}, nil)
		if err != nil {
			t.Fatalf("create import: %v", err)
		}
		if _, err := s.CompleteTransaction(ctx, imp.ID, "it", seed.at); err != nil {
			t.Fatalf("complete import: %v", err)
		}
	}

	export, err := s.CreateTransaction(ctx, domain.Transaction{
		Type:        domain.TxTypeExport,
		InventoryID: inv.ID,
		PartnerID:   partner.ID,
		CreatedBy:   "it",
		Items: []domain.TransactionItem{
			{ItemID: item.ID, UnitCost: decimal.NewFromInt(10), Quantity: decimal.NewFromInt(7)},
		},
	}, nil)
	if err != nil {
		t.Fatalf("create export: %v", err)
	}

	completed, err := s.CompleteTransaction(ctx, export.ID, "it", time.Now().UTC())
	if err != nil {
		t.Fatalf("complete export: %v", err)
	}

	// 5 units at cost 2 and 2 units at cost 3.
	if got := completed.ReportValue(); !got.Equal(decimal.NewFromInt(16)) {
		t.Fatalf("report value = %s, want 16", got)
	}

	batches, err := s.itemBatches(ctx, item.ID)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("got %d batches left, want 1", len(batches))
	}
	if !batches[0].Quantity.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("remaining quantity = %s, want 3", batches[0].Quantity)
	}

	if _, err := s.CompleteTransaction(ctx, export.ID, "it", time.Now().UTC()); err == nil {
		t.Fatal("expected second completion to fail")
	}
}
