package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestStockMovementBeforeSaveForcesKindToSign(t *testing.T) {
	out := StockMovement{Qty: decimal.NewFromInt(-3), Kind: MovementKindIn}
	if err := out.BeforeSave(nil); err != nil {
		t.Fatalf("BeforeSave: %v", err)
	}
	if out.Kind != MovementKindOut {
		t.Fatalf("negative qty must be labeled OUT, got %s", out.Kind)
	}

	in := StockMovement{Qty: decimal.NewFromInt(5), Kind: MovementKindOut}
	if err := in.BeforeSave(nil); err != nil {
		t.Fatalf("BeforeSave: %v", err)
	}
	if in.Kind != MovementKindIn {
		t.Fatalf("positive qty must be labeled IN, got %s", in.Kind)
	}
}

func TestStockMovementAppendOnly(t *testing.T) {
	m := StockMovement{Qty: decimal.NewFromInt(1)}
	if err := m.BeforeUpdate(nil); err == nil {
		t.Fatal("updates must be refused")
	}
	if err := m.BeforeDelete(nil); err == nil {
		t.Fatal("deletes must be refused")
	}
}
