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

type SalesOrder struct {
	ID              int                `gorm:"primary_key" json:"id"`
	BusinessId      string             `gorm:"index;not null;uniqueIndex:idx_so_number" json:"business_id"`
	OrderNumber     string             `gorm:"size:50;not null;uniqueIndex:idx_so_number" json:"order_number"`
	CustomerName    string             `gorm:"size:100;not null" json:"customer_name"`
	CustomerPhone   string             `gorm:"size:20" json:"customer_phone"`
	CustomerEmail   string             `gorm:"size:255" json:"customer_email"`
	CustomerAddress string             `gorm:"type:text" json:"customer_address"`
	OrderDate       time.Time          `gorm:"not null" json:"order_date"`
	DueDate         time.Time          `json:"due_date"`
	Notes           string             `gorm:"type:text" json:"notes"`
	Subtotal        decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	TaxAmount       decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	DiscountAmount  decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"discount_amount"`
	DeliveryCharge  decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"delivery_charge"`
	TotalAmount     decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	CurrentStatus   OrderStatus        `gorm:"type:enum('Draft','Confirmed','Closed','Cancelled');default:Draft" json:"current_status"`
	PaymentStatus   PaymentStatus      `gorm:"type:enum('Unpaid','Partial','Paid');default:Unpaid" json:"payment_status"`
	Version         int                `gorm:"not null;default:0" json:"version"`
	CreatedBy       int                `gorm:"index" json:"created_by"`
	Details         []SalesOrderDetail `gorm:"foreignkey:SalesOrderId" json:"details"`
	CreatedAt       time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

type SalesOrderDetail struct {
	ID           int             `gorm:"primary_key" json:"id"`
	SalesOrderId int             `gorm:"index;not null;uniqueIndex:idx_so_item" json:"sales_order_id"`
	BusinessId   string          `gorm:"index;not null" json:"business_id"`
	ItemId       int             `gorm:"not null;uniqueIndex:idx_so_item" json:"item_id"`
	ItemName     string          `gorm:"size:100;not null" json:"item_name"`
	Qty          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	Tax          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax"`
	Discount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount"`
	LineTotal    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"line_total"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (detail SalesOrderDetail) lineState() LineState {
	return LineState{
		ID:        detail.ID,
		ItemId:    detail.ItemId,
		Qty:       detail.Qty,
		UnitPrice: detail.UnitPrice,
		Tax:       detail.Tax,
		Discount:  detail.Discount,
	}
}

type NewSalesOrder struct {
	CustomerName    string         `json:"customer_name" validate:"required"`
	CustomerPhone   string         `json:"customer_phone"`
	CustomerEmail   string         `json:"customer_email"`
	CustomerAddress string         `json:"customer_address"`
	OrderDate       time.Time      `json:"order_date"`
	DueDate         time.Time      `json:"due_date"`
	Notes           string         `json:"notes"`
	PaymentStatus   PaymentStatus  `json:"payment_status"`
	Totals          OrderTotals    `json:"totals"`
	Details         []NewOrderLine `json:"details"`
}

func (input *NewSalesOrder) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.PaymentStatus != "" && !input.PaymentStatus.Valid() {
		return utils.NewValidationError("payment_status", "unknown payment status "+string(input.PaymentStatus))
	}
	return ValidateOrderLines(input.Details)
}

func CreateSalesOrder(ctx context.Context, input *NewSalesOrder) (*SalesOrder, error) {
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

	order := SalesOrder{
		BusinessId:      businessId,
		CustomerName:    input.CustomerName,
		CustomerPhone:   input.CustomerPhone,
		CustomerEmail:   input.CustomerEmail,
		CustomerAddress: input.CustomerAddress,
		OrderDate:       input.OrderDate,
		DueDate:         input.DueDate,
		Notes:           input.Notes,
		Subtotal:        input.Totals.Subtotal,
		TaxAmount:       input.Totals.TaxAmount,
		DiscountAmount:  input.Totals.DiscountAmount,
		DeliveryCharge:  input.Totals.DeliveryCharge,
		TotalAmount:     input.Totals.TotalAmount,
		CurrentStatus:   OrderStatusDraft,
		PaymentStatus:   input.PaymentStatus,
		CreatedBy:       userId,
	}
	if order.OrderDate.IsZero() {
		order.OrderDate = time.Now()
	}
	if order.PaymentStatus == "" {
		order.PaymentStatus = PaymentStatusUnpaid
	}

	placeOrder := func() error {
		if stockManaged {
			// gate before any write so a short order leaves nothing behind
			if err := CheckAvailability(ctx, db, businessId, input.Details); err != nil {
				return err
			}
		}
		err := createWithSequenceRetry(ctx, db, businessId, SequenceKindSalesOrder, func(tx *gorm.DB, code string) error {
			order.ID = 0
			order.OrderNumber = code
			if err := tx.WithContext(ctx).Omit("Details").Create(&order).Error; err != nil {
				return err
			}
			details := make([]SalesOrderDetail, 0, len(input.Details))
			for _, line := range input.Details {
				details = append(details, SalesOrderDetail{
					SalesOrderId: order.ID,
					BusinessId:   businessId,
					ItemId:       line.ItemId,
					ItemName:     line.ItemName,
					Qty:          line.Qty,
					UnitPrice:    line.UnitPrice,
					Tax:          line.Tax,
					Discount:     line.Discount,
					LineTotal:    line.LineTotal,
				})
			}
			if err := tx.WithContext(ctx).Create(&details).Error; err != nil {
				return err
			}
			order.Details = details
			return nil
		})
		if err != nil {
			return err
		}

		// post-commit, best-effort; the movements are written before the
		// lock is released so the next writer's availability check already
		// sees this order's consumption
		if err := IncrementBusinessCounters(db.WithContext(ctx), businessId, CounterDeltas{Invoices: 1}); err != nil {
			logBestEffort("CreateSalesOrder", businessId, "increment invoice counter",
				map[string]interface{}{"salesOrderId": order.ID}, err)
		}
		if stockManaged {
			entries := make([]NewStockMovement, 0, len(order.Details))
			for _, detail := range order.Details {
				entries = append(entries, NewStockMovement{
					ItemId:       detail.ItemId,
					Qty:          detail.Qty.Neg(),
					SalesOrderId: &order.ID,
				})
			}
			if err := RecordStockMovements(db.WithContext(ctx), businessId, userId, entries); err != nil {
				logBestEffort("CreateSalesOrder", businessId, "record consumption movements",
					map[string]interface{}{"salesOrderId": order.ID}, err)
			}
		}
		return nil
	}

	if stockManaged {
		// serialize with other stock-consuming writers for this business so
		// the availability check stays valid until the consumption is ledgered
		err = utils.WithBusinessLock(ctx, businessId, "stock", "models", "CreateSalesOrder", placeOrder)
	} else {
		err = placeOrder()
	}
	if err != nil {
		return nil, err
	}

	return &order, nil
}

func UpdateSalesOrder(ctx context.Context, salesOrderId int, edit *OrderEdit) (*SalesOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	editMode, err := edit.mode()
	if err != nil {
		return nil, err
	}

	existingOrder, err := utils.FetchModel[SalesOrder](ctx, businessId, salesOrderId, "Details")
	if err != nil {
		return nil, err
	}
	if existingOrder.CurrentStatus == OrderStatusClosed {
		return nil, utils.NewValidationError("status", "cannot update sale order that is already closed")
	}

	db := config.GetDB()

	switch editMode {
	case "counterparty":
		if err := utils.ValidateStruct(edit.Counterparty); err != nil {
			return nil, err
		}
		tx := db.WithContext(ctx).Begin()
		err := bumpVersion(tx, &SalesOrder{}, salesOrderId, existingOrder.Version, map[string]interface{}{
			"customer_name":    edit.Counterparty.Name,
			"customer_phone":   edit.Counterparty.Phone,
			"customer_email":   edit.Counterparty.Email,
			"customer_address": edit.Counterparty.Address,
		})
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Commit().Error; err != nil {
			return nil, &utils.PersistenceError{Op: "update sales order", Err: err}
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
		if err := bumpVersion(tx, &SalesOrder{}, salesOrderId, existingOrder.Version, updates); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Commit().Error; err != nil {
			return nil, &utils.PersistenceError{Op: "update sales order", Err: err}
		}

	case "status":
		if err := validateStatusChange(existingOrder.CurrentStatus, edit.Status.Status); err != nil {
			return nil, err
		}
		tx := db.WithContext(ctx).Begin()
		err := bumpVersion(tx, &SalesOrder{}, salesOrderId, existingOrder.Version, map[string]interface{}{
			"current_status": edit.Status.Status,
		})
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Commit().Error; err != nil {
			return nil, &utils.PersistenceError{Op: "update sales order", Err: err}
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
			// identical desired state, nothing to write
			return existingOrder, nil
		}

		tx := db.WithContext(ctx).Begin()
		err = applyLineChanges(tx, "sales_order_id", salesOrderId, cs, func(line NewOrderLine) SalesOrderDetail {
			return SalesOrderDetail{
				SalesOrderId: salesOrderId,
				BusinessId:   businessId,
				ItemId:       line.ItemId,
				ItemName:     line.ItemName,
				Qty:          line.Qty,
				UnitPrice:    line.UnitPrice,
				Tax:          line.Tax,
				Discount:     line.Discount,
				LineTotal:    line.LineTotal,
			}
		})
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		err = bumpVersion(tx, &SalesOrder{}, salesOrderId, existingOrder.Version, map[string]interface{}{
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
			return nil, &utils.PersistenceError{Op: "update sales order lines", Err: err}
		}
	}

	return utils.FetchModel[SalesOrder](ctx, businessId, salesOrderId, "Details")
}

func GetSalesOrder(ctx context.Context, id int) (*SalesOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[SalesOrder](ctx, businessId, id, "Details")
}
