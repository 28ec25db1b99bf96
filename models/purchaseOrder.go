package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/orders_backend/config"
	"bitbucket.org/mmdatafocus/orders_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PurchaseOrder struct {
	ID              int                   `gorm:"primary_key" json:"id"`
	BusinessId      string                `gorm:"index;not null;uniqueIndex:idx_po_number" json:"business_id"`
	OrderNumber     string                `gorm:"size:50;not null;uniqueIndex:idx_po_number" json:"order_number"`
	SupplierName    string                `gorm:"size:100;not null" json:"supplier_name"`
	SupplierPhone   string                `gorm:"size:20" json:"supplier_phone"`
	SupplierEmail   string                `gorm:"size:255" json:"supplier_email"`
	SupplierAddress string                `gorm:"type:text" json:"supplier_address"`
	OrderDate       time.Time             `gorm:"not null" json:"order_date"`
	DueDate         time.Time             `json:"due_date"`
	Notes           string                `gorm:"type:text" json:"notes"`
	Subtotal        decimal.Decimal       `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	TaxAmount       decimal.Decimal       `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	DiscountAmount  decimal.Decimal       `gorm:"type:decimal(20,4);default:0" json:"discount_amount"`
	DeliveryCharge  decimal.Decimal       `gorm:"type:decimal(20,4);default:0" json:"delivery_charge"`
	TotalAmount     decimal.Decimal       `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	CurrentStatus   OrderStatus           `gorm:"type:enum('Draft','Confirmed','Closed','Cancelled');default:Draft" json:"current_status"`
	Version         int                   `gorm:"not null;default:0" json:"version"`
	CreatedBy       int                   `gorm:"index" json:"created_by"`
	Details         []PurchaseOrderDetail `gorm:"foreignkey:PurchaseOrderId" json:"details"`
	CreatedAt       time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

type PurchaseOrderDetail struct {
	ID              int             `gorm:"primary_key" json:"id"`
	PurchaseOrderId int             `gorm:"index;not null;uniqueIndex:idx_po_item" json:"purchase_order_id"`
	BusinessId      string          `gorm:"index;not null" json:"business_id"`
	ItemId          int             `gorm:"not null;uniqueIndex:idx_po_item" json:"item_id"`
	ItemName        string          `gorm:"size:100;not null" json:"item_name"`
	Qty             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	Tax             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax"`
	Discount        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount"`
	LineTotal       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"line_total"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (detail PurchaseOrderDetail) lineState() LineState {
	return LineState{
		ID:        detail.ID,
		ItemId:    detail.ItemId,
		Qty:       detail.Qty,
		UnitPrice: detail.UnitPrice,
		Tax:       detail.Tax,
		Discount:  detail.Discount,
	}
}

type NewPurchaseOrder struct {
	SupplierName    string         `json:"supplier_name" validate:"required"`
	SupplierPhone   string         `json:"supplier_phone"`
	SupplierEmail   string         `json:"supplier_email"`
	SupplierAddress string         `json:"supplier_address"`
	OrderDate       time.Time      `json:"order_date"`
	DueDate         time.Time      `json:"due_date"`
	Notes           string         `json:"notes"`
	Totals          OrderTotals    `json:"totals"`
	Details         []NewOrderLine `json:"details"`
}

func (input *NewPurchaseOrder) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	return ValidateOrderLines(input.Details)
}

func CreatePurchaseOrder(ctx context.Context, input *NewPurchaseOrder) (*PurchaseOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	db := config.GetDB()
	stockManaged, err := StockManaged(ctx)
	if err != nil {
		return nil, err
	}
	userId, _ := utils.GetUserIdFromContext(ctx)

	order := PurchaseOrder{
		BusinessId:      businessId,
		SupplierName:    input.SupplierName,
		SupplierPhone:   input.SupplierPhone,
		SupplierEmail:   input.SupplierEmail,
		SupplierAddress: input.SupplierAddress,
		OrderDate:       input.OrderDate,
		DueDate:         input.DueDate,
		Notes:           input.Notes,
		Subtotal:        input.Totals.Subtotal,
		TaxAmount:       input.Totals.TaxAmount,
		DiscountAmount:  input.Totals.DiscountAmount,
		DeliveryCharge:  input.Totals.DeliveryCharge,
		TotalAmount:     input.Totals.TotalAmount,
		CurrentStatus:   OrderStatusDraft,
		CreatedBy:       userId,
	}
	if order.OrderDate.IsZero() {
		order.OrderDate = time.Now()
	}

	err = createWithSequenceRetry(ctx, db, businessId, SequenceKindPurchaseOrder, func(tx *gorm.DB, code string) error {
		order.ID = 0
		order.OrderNumber = code
		if err := tx.WithContext(ctx).Omit("Details").Create(&order).Error; err != nil {
			return err
		}
		details := make([]PurchaseOrderDetail, 0, len(input.Details))
		for _, line := range input.Details {
			details = append(details, PurchaseOrderDetail{
				PurchaseOrderId: order.ID,
				BusinessId:      businessId,
				ItemId:          line.ItemId,
				ItemName:        line.ItemName,
				Qty:             line.Qty,
				UnitPrice:       line.UnitPrice,
				Tax:             line.Tax,
				Discount:        line.Discount,
				LineTotal:       line.LineTotal,
			})
		}
		if err := tx.WithContext(ctx).Create(&details).Error; err != nil {
			return err
		}
		order.Details = details
		return nil
	})
	if err != nil {
		return nil, err
	}

	// post-commit, best-effort
	if err := IncrementBusinessCounters(db.WithContext(ctx), businessId, CounterDeltas{Purchases: 1}); err != nil {
		logBestEffort("CreatePurchaseOrder", businessId, "increment purchase counter",
			map[string]interface{}{"purchaseOrderId": order.ID}, err)
	}
	if stockManaged {
		entries := make([]NewStockMovement, 0, len(order.Details))
		prices := make([]PriceUpdate, 0, len(order.Details))
		for _, detail := range order.Details {
			entries = append(entries, NewStockMovement{
				ItemId:          detail.ItemId,
				Qty:             detail.Qty,
				PurchaseOrderId: &order.ID,
			})
			prices = append(prices, PriceUpdate{ItemId: detail.ItemId, CostPrice: detail.UnitPrice})
		}
		if err := RecordStockMovements(db.WithContext(ctx), businessId, userId, entries); err != nil {
			logBestEffort("CreatePurchaseOrder", businessId, "record receipt movements",
				map[string]interface{}{"purchaseOrderId": order.ID}, err)
		}
		if err := UpdateUnitEconomics(db.WithContext(ctx), businessId, prices); err != nil {
			logBestEffort("CreatePurchaseOrder", businessId, "update item prices",
				map[string]interface{}{"purchaseOrderId": order.ID}, err)
		}
	}

	return &order, nil
}

func UpdatePurchaseOrder(ctx context.Context, purchaseOrderId int, edit *OrderEdit) (*PurchaseOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	editMode, err := edit.mode()
	if err != nil {
		return nil, err
	}

	existingOrder, err := utils.FetchModel[PurchaseOrder](ctx, businessId, purchaseOrderId, "Details")
	if err != nil {
		return nil, err
	}
	if existingOrder.CurrentStatus == OrderStatusClosed {
		return nil, utils.NewValidationError("status", "cannot update purchase order that is already closed")
	}

	db := config.GetDB()

	switch editMode {
	case "counterparty":
		if err := utils.ValidateStruct(edit.Counterparty); err != nil {
			return nil, err
		}
		tx := db.WithContext(ctx).Begin()
		err := bumpVersion(tx, &PurchaseOrder{}, purchaseOrderId, existingOrder.Version, map[string]interface{}{
			"supplier_name":    edit.Counterparty.Name,
			"supplier_phone":   edit.Counterparty.Phone,
			"supplier_email":   edit.Counterparty.Email,
			"supplier_address": edit.Counterparty.Address,
		})
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Commit().Error; err != nil {
			return nil, &utils.PersistenceError{Op: "update purchase order", Err: err}
		}

	case "meta":
		updates := map[string]interface{}{"notes": edit.Meta.Notes}
		if !edit.Meta.OrderDate.IsZero() {
			updates["order_date"] = edit.Meta.OrderDate
		}
		if !edit.Meta.DueDate.IsZero() {
			updates["due_date"] = edit.Meta.DueDate
		}
		tx := db.WithContext(ctx).Begin()
		if err := bumpVersion(tx, &PurchaseOrder{}, purchaseOrderId, existingOrder.Version, updates); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Commit().Error; err != nil {
			return nil, &utils.PersistenceError{Op: "update purchase order", Err: err}
		}

	case "status":
		if err := validateStatusChange(existingOrder.CurrentStatus, edit.Status.Status); err != nil {
			return nil, err
		}
		tx := db.WithContext(ctx).Begin()
		err := bumpVersion(tx, &PurchaseOrder{}, purchaseOrderId, existingOrder.Version, map[string]interface{}{
			"current_status": edit.Status.Status,
		})
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Commit().Error; err != nil {
			return nil, &utils.PersistenceError{Op: "update purchase order", Err: err}
		}

	case "lines":
		existing := make([]LineState, 0, len(existingOrder.Details))
		for _, detail := range existingOrder.Details {
			existing = append(existing, detail.lineState())
		}
		cs, err := DiffOrderLines(existing, edit.Lines.Lines)
		if err != nil {
			return nil, err
		}
		storedTotals := OrderTotals{
			Subtotal:       existingOrder.Subtotal,
			TaxAmount:      existingOrder.TaxAmount,
			DiscountAmount: existingOrder.DiscountAmount,
			DeliveryCharge: existingOrder.DeliveryCharge,
			TotalAmount:    existingOrder.TotalAmount,
		}
		if cs.IsEmpty() && storedTotals.equals(edit.Lines.Totals) {
			return existingOrder, nil
		}

		tx := db.WithContext(ctx).Begin()
		err = applyLineChanges(tx, "purchase_order_id", purchaseOrderId, cs, func(line NewOrderLine) PurchaseOrderDetail {
			return PurchaseOrderDetail{
				PurchaseOrderId: purchaseOrderId,
				BusinessId:      businessId,
				ItemId:          line.ItemId,
				ItemName:        line.ItemName,
				Qty:             line.Qty,
				UnitPrice:       line.UnitPrice,
				Tax:             line.Tax,
				Discount:        line.Discount,
				LineTotal:       line.LineTotal,
			}
		})
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		err = bumpVersion(tx, &PurchaseOrder{}, purchaseOrderId, existingOrder.Version, map[string]interface{}{
			"subtotal":        edit.Lines.Totals.Subtotal,
			"tax_amount":      edit.Lines.Totals.TaxAmount,
			"discount_amount": edit.Lines.Totals.DiscountAmount,
			"delivery_charge": edit.Lines.Totals.DeliveryCharge,
			"total_amount":    edit.Lines.Totals.TotalAmount,
		})
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Commit().Error; err != nil {
			return nil, &utils.PersistenceError{Op: "update purchase order lines", Err: err}
		}
	}

	return utils.FetchModel[PurchaseOrder](ctx, businessId, purchaseOrderId, "Details")
}

func GetPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[PurchaseOrder](ctx, businessId, id, "Details")
}
