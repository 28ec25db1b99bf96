package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/orders_backend/config"
	"bitbucket.org/mmdatafocus/orders_backend/utils"
	"github.com/shopspring/decimal"
)

type Item struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BusinessId  string          `gorm:"index;not null;uniqueIndex:idx_item_code" json:"business_id" binding:"required"`
	Name        string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Description string          `gorm:"type:text" json:"description"`
	Sku         string          `gorm:"size:100" json:"sku"`
	Barcode     string          `gorm:"index;size:100" json:"barcode"`
	ItemCode    string          `gorm:"size:50;not null;uniqueIndex:idx_item_code" json:"item_code"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	CostPrice   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cost_price"`
	IsActive    *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewItem struct {
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description"`
	Sku         string          `json:"sku"`
	Barcode     string          `json:"barcode"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CostPrice   decimal.Decimal `json:"cost_price"`
}

// ItemWithStock decorates an item with its current ledger balance for
// listings.
type ItemWithStock struct {
	Item
	StockOnHand decimal.Decimal `json:"stock_on_hand"`
}

func CreateItem(ctx context.Context, input *NewItem) (*Item, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.Sku != "" {
		if err := utils.ValidateUnique[Item](ctx, businessId, "sku", input.Sku, 0); err != nil {
			return nil, err
		}
	}

	db := config.GetDB()

	item := Item{
		BusinessId:  businessId,
		Name:        input.Name,
		Description: input.Description,
		Sku:         input.Sku,
		Barcode:     input.Barcode,
		UnitPrice:   input.UnitPrice,
		CostPrice:   input.CostPrice,
		IsActive:    utils.NewTrue(),
	}

	// retry on code collision; the unique index on (business_id, item_code)
	// is the arbiter under concurrent creates
	var lastErr error
	for attempt := 0; attempt < sequenceMaxAttempts; attempt++ {
		item.ItemCode = NextSequenceCode(ctx, db, businessId, SequenceKindItem, time.Now())
		tx := db.Begin()
		if err := tx.WithContext(ctx).Create(&item).Error; err != nil {
			tx.Rollback()
			if isDuplicateKeyError(err) {
				lastErr = err
				item.ID = 0
				continue
			}
			return nil, &utils.PersistenceError{Op: "create item", Err: err}
		}
		if err := tx.Commit().Error; err != nil {
			return nil, &utils.PersistenceError{Op: "create item", Err: err}
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, &utils.ConflictError{Reason: "could not allocate a unique item code"}
	}

	// best-effort counter bump after commit
	if err := IncrementBusinessCounters(db.WithContext(ctx), businessId, CounterDeltas{Items: 1}); err != nil {
		config.LogError(config.GetLogger(), "models", "CreateItem", "counter increment",
			map[string]interface{}{"businessId": businessId, "itemId": item.ID},
			&utils.BestEffortError{Step: "increment item counter", Err: err})
	}

	return &item, nil
}

func GetItem(ctx context.Context, id int) (*Item, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Item](ctx, businessId, id)
}

// GetItems lists items, optionally filtered by name, each decorated with the
// current stock balance.
func GetItems(ctx context.Context, name *string) ([]*ItemWithStock, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var items []*Item
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if name != nil && *name != "" {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	if err := dbCtx.Order("id desc").Find(&items).Error; err != nil {
		return nil, err
	}

	itemIds := make([]int, 0, len(items))
	for _, item := range items {
		itemIds = append(itemIds, item.ID)
	}
	balances, err := CurrentStock(ctx, db, businessId, itemIds)
	if err != nil {
		return nil, err
	}

	results := make([]*ItemWithStock, 0, len(items))
	for _, item := range items {
		results = append(results, &ItemWithStock{Item: *item, StockOnHand: balances[item.ID]})
	}
	return results, nil
}
