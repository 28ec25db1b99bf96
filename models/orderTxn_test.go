package models

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func TestOrderEditRequiresExactlyOneMode(t *testing.T) {
	if _, err := (&OrderEdit{}).mode(); err == nil {
		t.Fatal("expected error for empty edit")
	}

	both := &OrderEdit{
		Counterparty: &EditCounterparty{Name: "X"},
		Status:       &EditStatus{Status: OrderStatusConfirmed},
	}
	if _, err := both.mode(); err == nil {
		t.Fatal("expected error for two populated modes")
	}

	one := &OrderEdit{Meta: &EditMeta{Notes: "hello"}}
	mode, err := one.mode()
	if err != nil {
		t.Fatalf("mode: %v", err)
	}
	if mode != "meta" {
		t.Fatalf("mode = %q, want meta", mode)
	}
}

func TestValidateStatusChange(t *testing.T) {
	if err := validateStatusChange(OrderStatusDraft, OrderStatusConfirmed); err != nil {
		t.Fatalf("draft -> confirmed should be allowed: %v", err)
	}
	if err := validateStatusChange(OrderStatusClosed, OrderStatusDraft); err == nil {
		t.Fatal("closed orders are terminal")
	}
	if err := validateStatusChange(OrderStatusDraft, OrderStatus("Shipped")); err == nil {
		t.Fatal("unknown status must be rejected")
	}
}

func TestIsDuplicateKeyError(t *testing.T) {
	if isDuplicateKeyError(nil) {
		t.Fatal("nil is not a duplicate key error")
	}
	if !isDuplicateKeyError(gorm.ErrDuplicatedKey) {
		t.Fatal("gorm.ErrDuplicatedKey must match")
	}
	if !isDuplicateKeyError(errors.New("Error 1062 (23000): Duplicate entry 'SO-20260901-3' for key 'idx_so_number'")) {
		t.Fatal("mysql duplicate entry message must match")
	}
	if isDuplicateKeyError(errors.New("connection refused")) {
		t.Fatal("unrelated errors must not match")
	}
}

func TestOrderTotalsEquals(t *testing.T) {
	a := OrderTotals{Subtotal: decimal.NewFromInt(100), TotalAmount: decimal.NewFromInt(110)}
	b := OrderTotals{Subtotal: decimal.NewFromInt(100), TotalAmount: decimal.NewFromInt(110)}
	if !a.equals(b) {
		t.Fatal("identical totals must compare equal")
	}
	b.TotalAmount = decimal.NewFromInt(120)
	if a.equals(b) {
		t.Fatal("different totals must not compare equal")
	}
}
