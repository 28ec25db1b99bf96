package models

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/orders_backend/config"
	"bitbucket.org/mmdatafocus/orders_backend/utils"
	"gorm.io/gorm"
)

// SequenceKind selects the code family a sequence code belongs to.
type SequenceKind string

const (
	SequenceKindSalesOrder    SequenceKind = "SalesOrder"
	SequenceKindPurchaseOrder SequenceKind = "PurchaseOrder"
	SequenceKindItem          SequenceKind = "Item"
)

type sequenceRule struct {
	prefix       string
	dateBucketed bool
	table        string
	column       string
}

var sequenceRules = map[SequenceKind]sequenceRule{
	SequenceKindSalesOrder:    {prefix: "SO", dateBucketed: true, table: "sales_orders", column: "order_number"},
	SequenceKindPurchaseOrder: {prefix: "PO", dateBucketed: true, table: "purchase_orders", column: "order_number"},
	SequenceKindItem:          {prefix: "ITEM", dateBucketed: false, table: "items", column: "item_code"},
}

// codePrefix builds the scan prefix for a kind. Date-bucketed kinds embed the
// day so numbering restarts every day.
func codePrefix(kind SequenceKind, now time.Time) string {
	rule := sequenceRules[kind]
	if rule.dateBucketed {
		return rule.prefix + "-" + now.Format("20060102") + "-"
	}
	return rule.prefix + "-"
}

// maxNumericSuffix strips the prefix from each code, keeps the digits of what
// remains and returns the numeric maximum. Codes that do not carry the prefix
// or leave no digits behind are skipped.
func maxNumericSuffix(codes []string, prefix string) int64 {
	var max int64
	for _, code := range codes {
		if len(code) <= len(prefix) || code[:len(prefix)] != prefix {
			continue
		}
		digits := utils.DigitsOnly(code[len(prefix):])
		if digits == "" {
			continue
		}
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max
}

// NextSequenceCode derives the next code for the business and kind by scanning
// existing codes for the prefix and incrementing the highest numeric suffix.
// It never fails: on a query error it logs and falls back to a random suffix,
// leaving the insert-time unique constraint to catch any collision.
func NextSequenceCode(ctx context.Context, db *gorm.DB, businessId string, kind SequenceKind, now time.Time) string {
	rule, ok := sequenceRules[kind]
	prefix := codePrefix(kind, now)
	if !ok {
		return prefix + fmt.Sprint(rand.Intn(1000000))
	}

	var codes []string
	err := db.WithContext(ctx).Table(rule.table).
		Where("business_id = ? AND "+rule.column+" LIKE ?", businessId, prefix+"%").
		Pluck(rule.column, &codes).Error
	if err != nil {
		config.LogError(config.GetLogger(), "models", "NextSequenceCode",
			"falling back to random suffix",
			map[string]interface{}{"businessId": businessId, "kind": kind}, err)
		return prefix + fmt.Sprint(rand.Intn(1000000))
	}

	next := maxNumericSuffix(codes, prefix) + 1
	return prefix + fmt.Sprint(next)
}
