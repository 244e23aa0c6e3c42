package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTransactionCode(t *testing.T) {
	cases := []struct {
		name string
		tx   Transaction
		want string
	}{
		{"unsaved", Transaction{Type: TxTypeImport}, "New"},
		{"import", Transaction{ID: 7, Type: TxTypeImport}, "NK00007"},
		{"export", Transaction{ID: 123, Type: TxTypeExport}, "XK00123"},
		{"wide id", Transaction{ID: 123456, Type: TxTypeImport}, "NK123456"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.tx.Code(); got != tc.want {
				t.Fatalf("Code() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTransactionItemValue(t *testing.T) {
	line := TransactionItem{
		UnitCost: decimal.NewFromInt(200),
		Quantity: decimal.NewFromInt(10),
		Discount: decimal.NewFromInt(25),
	}
	want := decimal.NewFromInt(1500)
	if got := line.Value(); !got.Equal(want) {
		t.Fatalf("Value() = %s, want %s", got, want)
	}

	noDiscount := TransactionItem{
		UnitCost: decimal.RequireFromString("2.5"),
		Quantity: decimal.NewFromInt(4),
	}
	if got := noDiscount.Value(); !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("Value() without discount = %s, want 10", got)
	}
}

func TestTransactionValueSumsLines(t *testing.T) {
	tx := Transaction{
		Items: []TransactionItem{
			{UnitCost: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(2)},
			{UnitCost: decimal.NewFromInt(50), Quantity: decimal.NewFromInt(3)},
		},
	}
	if got := tx.Value(); !got.Equal(decimal.NewFromInt(350)) {
		t.Fatalf("Value() = %s, want 350", got)
	}
}

func TestReportUnitCost(t *testing.T) {
	line := TransactionItem{
		Quantity:    decimal.NewFromInt(4),
		ReportValue: decimal.NewFromInt(10),
	}
	got, ok := line.ReportUnitCost()
	if !ok {
		t.Fatal("ReportUnitCost() not ok for nonzero quantity")
	}
	if !got.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("ReportUnitCost() = %s, want 2.5", got)
	}

	zero := TransactionItem{ReportValue: decimal.NewFromInt(10)}
	if _, ok := zero.ReportUnitCost(); ok {
		t.Fatal("ReportUnitCost() ok for zero quantity")
	}
}

func TestIsOverdue(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	cases := []struct {
		name string
		tx   Transaction
		want bool
	}{
		{"no deadline", Transaction{Status: TxStatusPending}, false},
		{"future deadline", Transaction{Status: TxStatusPending, CompletionDeadline: &future}, false},
		{"past deadline pending", Transaction{Status: TxStatusPending, CompletionDeadline: &past}, true},
		{"past deadline authorized", Transaction{Status: TxStatusAuthorized, CompletionDeadline: &past}, true},
		{"past deadline completed", Transaction{Status: TxStatusCompleted, CompletionDeadline: &past}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.tx.IsOverdue(now); got != tc.want {
				t.Fatalf("IsOverdue() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBatchValue(t *testing.T) {
	b := ItemBatch{
		Quantity: decimal.RequireFromString("3.5"),
		UnitCost: decimal.NewFromInt(4),
	}
	if got := b.Value(); !got.Equal(decimal.NewFromInt(14)) {
		t.Fatalf("Value() = %s, want 14", got)
	}
}

func TestIsValidUnit(t *testing.T) {
	if !IsValidUnit(UnitBox) {
		t.Fatal("Box should be a valid unit")
	}
	if IsValidUnit("Crate") {
		t.Fatal("Crate should not be a valid unit")
	}
}
