package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/orders_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockMovement is one row of the append-only inventory ledger. The signed Qty
// is the source of truth for balances; Kind is a derived label kept for
// reporting queries and forced to match the sign on save.
type StockMovement struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;not null" json:"business_id"`
	UserId          int             `gorm:"index" json:"user_id"`
	ItemId          int             `gorm:"index;not null" json:"item_id"`
	Qty             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	Kind            MovementKind    `gorm:"type:enum('IN','OUT');default:IN" json:"kind"`
	SalesOrderId    *int            `gorm:"index" json:"sales_order_id"`
	PurchaseOrderId *int            `gorm:"index" json:"purchase_order_id"`
	MovementDate    time.Time       `gorm:"not null" json:"movement_date"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// BeforeSave keeps the label honest. Historical data elsewhere has shown that
// rows with qty<0 but an incoming label poison every classification query, so
// for non-zero qty the label always follows the sign.
func (sm *StockMovement) BeforeSave(tx *gorm.DB) error {
	_ = tx // signature required by gorm
	if sm == nil {
		return nil
	}
	if sm.Qty.IsNegative() {
		sm.Kind = MovementKindOut
	} else if sm.Qty.IsPositive() {
		sm.Kind = MovementKindIn
	} else if sm.Kind == "" {
		sm.Kind = MovementKindIn
	}
	if sm.MovementDate.IsZero() {
		sm.MovementDate = time.Now()
	}
	return nil
}

// The ledger is append-only. Updates and deletes are refused at the model
// level so no code path can rewrite history.
func (sm *StockMovement) BeforeUpdate(tx *gorm.DB) error {
	_ = tx
	return errors.New("stock movements are append-only")
}

func (sm *StockMovement) BeforeDelete(tx *gorm.DB) error {
	_ = tx
	return errors.New("stock movements are append-only")
}

// NewStockMovement is one requested ledger entry. Qty carries the sign:
// negative for consumption, positive for receipt.
type NewStockMovement struct {
	ItemId          int             `json:"item_id" validate:"required,gt=0"`
	Qty             decimal.Decimal `json:"qty"`
	SalesOrderId    *int            `json:"sales_order_id"`
	PurchaseOrderId *int            `json:"purchase_order_id"`
}

// RecordStockMovements batch-inserts one immutable row per entry inside the
// caller's transaction. Zero-qty entries are skipped.
func RecordStockMovements(tx *gorm.DB, businessId string, userId int, entries []NewStockMovement) error {
	movements := make([]StockMovement, 0, len(entries))
	now := time.Now()
	for _, entry := range entries {
		if entry.Qty.IsZero() {
			continue
		}
		if entry.ItemId <= 0 {
			return utils.NewValidationError("item_id", "is required")
		}
		movements = append(movements, StockMovement{
			BusinessId:      businessId,
			UserId:          userId,
			ItemId:          entry.ItemId,
			Qty:             entry.Qty,
			SalesOrderId:    entry.SalesOrderId,
			PurchaseOrderId: entry.PurchaseOrderId,
			MovementDate:    now,
		})
	}
	if len(movements) == 0 {
		return nil
	}
	if err := tx.Create(&movements).Error; err != nil {
		return &utils.PersistenceError{Op: "record stock movements", Err: err}
	}
	return nil
}

// CurrentStock sums signed quantities grouped by item. Items with no ledger
// rows are absent from the result and read as zero.
func CurrentStock(ctx context.Context, db *gorm.DB, businessId string, itemIds []int) (map[int]decimal.Decimal, error) {
	balances := make(map[int]decimal.Decimal, len(itemIds))
	if len(itemIds) == 0 {
		return balances, nil
	}

	type row struct {
		ItemId  int
		Balance decimal.Decimal
	}
	var rows []row
	err := db.WithContext(ctx).Model(&StockMovement{}).
		Select("item_id, COALESCE(SUM(qty), 0) as balance").
		Where("business_id = ? AND item_id IN ?", businessId, itemIds).
		Group("item_id").
		Scan(&rows).Error
	if err != nil {
		return nil, &utils.PersistenceError{Op: "aggregate stock balances", Err: err}
	}
	for _, r := range rows {
		balances[r.ItemId] = r.Balance
	}
	return balances, nil
}

// CheckAvailability gates sales consumption: every requested quantity must be
// covered by the current balance. All shortages are collected before failing
// so the caller can report the full list at once.
func CheckAvailability(ctx context.Context, db *gorm.DB, businessId string, lines []NewOrderLine) error {
	itemIds := make([]int, 0, len(lines))
	for _, line := range lines {
		itemIds = append(itemIds, line.ItemId)
	}
	balances, err := CurrentStock(ctx, db, businessId, itemIds)
	if err != nil {
		return err
	}

	var shortages []utils.ItemShortage
	for _, line := range lines {
		available := balances[line.ItemId]
		if line.Qty.GreaterThan(available) {
			shortages = append(shortages, utils.ItemShortage{
				ItemId:    line.ItemId,
				Name:      line.ItemName,
				Requested: line.Qty,
				Available: available,
			})
		}
	}
	if len(shortages) > 0 {
		return &utils.ConflictError{Reason: "insufficient stock", Shortages: shortages}
	}
	return nil
}

// PriceUpdate carries item master prices observed at purchase receipt.
type PriceUpdate struct {
	ItemId    int
	UnitPrice decimal.Decimal
	CostPrice decimal.Decimal
}

// UpdateUnitEconomics bulk-updates item master prices from purchase receipts.
// Non-positive prices are skipped rather than clobbering known-good values.
func UpdateUnitEconomics(tx *gorm.DB, businessId string, updates []PriceUpdate) error {
	for _, update := range updates {
		fields := map[string]interface{}{}
		if update.UnitPrice.IsPositive() {
			fields["unit_price"] = update.UnitPrice
		}
		if update.CostPrice.IsPositive() {
			fields["cost_price"] = update.CostPrice
		}
		if len(fields) == 0 {
			continue
		}
		err := tx.Model(&Item{}).
			Where("business_id = ? AND id = ?", businessId, update.ItemId).
			Updates(fields).Error
		if err != nil {
			return &utils.PersistenceError{Op: "update item prices", Err: err}
		}
	}
	return nil
}
