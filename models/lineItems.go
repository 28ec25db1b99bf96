package models

import (
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/orders_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// NewOrderLine is the caller-supplied shape of one desired line. It is shared
// by sales and purchase orders.
type NewOrderLine struct {
	ItemId    int             `json:"item_id" validate:"required,gt=0"`
	ItemName  string          `json:"item_name" validate:"required"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Tax       decimal.Decimal `json:"tax"`
	Discount  decimal.Decimal `json:"discount"`
	LineTotal decimal.Decimal `json:"line_total"`
}

func (line NewOrderLine) validate() error {
	if line.ItemId <= 0 {
		return utils.NewValidationError("item_id", "is required")
	}
	if line.ItemName == "" {
		return utils.NewValidationError("item_name", "is required")
	}
	if !line.Qty.IsPositive() {
		return utils.NewValidationError("qty", "must be greater than zero")
	}
	if line.UnitPrice.IsNegative() {
		return utils.NewValidationError("unit_price", "must not be negative")
	}
	return nil
}

// ValidateOrderLines checks a desired line set before any store access.
func ValidateOrderLines(lines []NewOrderLine) error {
	if len(lines) == 0 {
		return utils.NewValidationError("details", "at least one line item is required")
	}
	seen := make(map[int]bool, len(lines))
	for _, line := range lines {
		if err := line.validate(); err != nil {
			return err
		}
		if seen[line.ItemId] {
			return utils.NewValidationError("details",
				fmt.Sprintf("item %d appears more than once", line.ItemId))
		}
		seen[line.ItemId] = true
	}
	return nil
}

// LineState is the stored view of one line, normalized across the sales and
// purchase detail tables.
type LineState struct {
	ID        int
	ItemId    int
	Qty       decimal.Decimal
	UnitPrice decimal.Decimal
	Tax       decimal.Decimal
	Discount  decimal.Decimal
}

// LineUpdate touches only quantity-driven fields. Unit price and name are
// deliberately left as stored even when the caller supplied different values.
type LineUpdate struct {
	ID        int
	Qty       decimal.Decimal
	LineTotal decimal.Decimal
	Tax       decimal.Decimal
	Discount  decimal.Decimal
}

type LineChangeSet struct {
	Inserts   []NewOrderLine
	Updates   []LineUpdate
	DeleteIDs []int
}

func (cs *LineChangeSet) IsEmpty() bool {
	return len(cs.Inserts) == 0 && len(cs.Updates) == 0 && len(cs.DeleteIDs) == 0
}

// DiffOrderLines computes the minimum insert/update/delete sets that turn the
// stored line set into the desired one. Re-running it against its own result
// yields an empty changeset.
//
// One stored row per item id is assumed; duplicate stored rows mean the order
// is corrupt and the diff refuses to guess which row to keep.
func DiffOrderLines(existing []LineState, desired []NewOrderLine) (*LineChangeSet, error) {
	if err := ValidateOrderLines(desired); err != nil {
		return nil, err
	}

	existingByItem := make(map[int]LineState, len(existing))
	for _, line := range existing {
		if _, dup := existingByItem[line.ItemId]; dup {
			return nil, fmt.Errorf("order has duplicate stored lines for item %d", line.ItemId)
		}
		existingByItem[line.ItemId] = line
	}

	cs := &LineChangeSet{}
	wanted := make(map[int]bool, len(desired))
	for _, want := range desired {
		wanted[want.ItemId] = true
		have, ok := existingByItem[want.ItemId]
		if !ok {
			insert := want
			insert.LineTotal = want.Qty.Mul(want.UnitPrice)
			cs.Inserts = append(cs.Inserts, insert)
			continue
		}
		if have.Qty.Equal(want.Qty) {
			continue
		}
		// line total follows the stored unit rate, not the incoming one
		cs.Updates = append(cs.Updates, LineUpdate{
			ID:        have.ID,
			Qty:       want.Qty,
			LineTotal: want.Qty.Mul(have.UnitPrice),
			Tax:       want.Tax,
			Discount:  want.Discount,
		})
	}

	for _, line := range existing {
		if !wanted[line.ItemId] {
			cs.DeleteIDs = append(cs.DeleteIDs, line.ID)
		}
	}
	return cs, nil
}

// applyLineChanges writes a changeset inside the caller's transaction:
// inserts in one batch, then updates, then deletes. T is the concrete detail
// model so gorm resolves the right table.
func applyLineChanges[T any](tx *gorm.DB, orderColumn string, orderId int, cs *LineChangeSet, build func(NewOrderLine) T) error {
	if len(cs.Inserts) > 0 {
		rows := make([]T, 0, len(cs.Inserts))
		for _, insert := range cs.Inserts {
			rows = append(rows, build(insert))
		}
		if err := tx.Create(&rows).Error; err != nil {
			return &utils.PersistenceError{Op: "insert order lines", Err: err}
		}
	}

	for _, update := range cs.Updates {
		err := tx.Model(new(T)).
			Where("id = ? AND "+orderColumn+" = ?", update.ID, orderId).
			Updates(map[string]interface{}{
				"qty":        update.Qty,
				"line_total": update.LineTotal,
				"tax":        update.Tax,
				"discount":   update.Discount,
				"updated_at": time.Now(),
			}).Error
		if err != nil {
			return &utils.PersistenceError{Op: "update order line", Err: err}
		}
	}

	if len(cs.DeleteIDs) > 0 {
		err := tx.Where("id IN ? AND "+orderColumn+" = ?", cs.DeleteIDs, orderId).
			Delete(new(T)).Error
		if err != nil {
			return &utils.PersistenceError{Op: "delete order lines", Err: err}
		}
	}
	return nil
}
