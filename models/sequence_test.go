package models

import (
	"testing"
	"time"
)

func TestCodePrefixFormats(t *testing.T) {
	day := time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC)

	if got := codePrefix(SequenceKindSalesOrder, day); got != "SO-20260901-" {
		t.Fatalf("sales order prefix = %q", got)
	}
	if got := codePrefix(SequenceKindPurchaseOrder, day); got != "PO-20260901-" {
		t.Fatalf("purchase order prefix = %q", got)
	}
	// items are not date bucketed
	if got := codePrefix(SequenceKindItem, day); got != "ITEM-" {
		t.Fatalf("item prefix = %q", got)
	}
}

func TestMaxNumericSuffix(t *testing.T) {
	prefix := "SO-20260901-"
	codes := []string{
		"SO-20260901-1",
		"SO-20260901-17",
		"SO-20260901-9",
		"SO-20260831-99", // previous day, different prefix
		"PO-20260901-40", // different kind
		"SO-20260901-",   // no digits left after the prefix
	}

	if got := maxNumericSuffix(codes, prefix); got != 17 {
		t.Fatalf("maxNumericSuffix = %d, want 17", got)
	}
}

func TestMaxNumericSuffixEmpty(t *testing.T) {
	if got := maxNumericSuffix(nil, "SO-20260901-"); got != 0 {
		t.Fatalf("maxNumericSuffix of no codes = %d, want 0", got)
	}
}
