package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/orders_backend/config"
	"bitbucket.org/mmdatafocus/orders_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// sequenceMaxAttempts bounds the generate-then-insert retry loop. The unique
// index on (business_id, order_number) is the arbiter under concurrency.
const sequenceMaxAttempts = 5

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "Error 1062")
}

// createWithSequenceRetry allocates a sequence code and runs create inside a
// fresh transaction, retrying with a newly generated code whenever the unique
// constraint rejects the insert.
func createWithSequenceRetry(ctx context.Context, db *gorm.DB, businessId string, kind SequenceKind, create func(tx *gorm.DB, code string) error) error {
	var lastErr error
	for attempt := 0; attempt < sequenceMaxAttempts; attempt++ {
		code := NextSequenceCode(ctx, db, businessId, kind, time.Now())
		tx := db.Begin()
		if err := create(tx, code); err != nil {
			tx.Rollback()
			if isDuplicateKeyError(err) {
				lastErr = err
				continue
			}
			return err
		}
		if err := tx.Commit().Error; err != nil {
			return &utils.PersistenceError{Op: "commit order", Err: err}
		}
		return nil
	}
	config.LogError(config.GetLogger(), "models", "createWithSequenceRetry",
		"exhausted retries",
		map[string]interface{}{"businessId": businessId, "kind": kind}, lastErr)
	return &utils.ConflictError{Reason: fmt.Sprintf("could not allocate a unique %s number", kind)}
}

// logBestEffort records a post-commit step failure without failing the
// already-committed order.
func logBestEffort(funcName, businessId, step string, data map[string]interface{}, err error) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["businessId"] = businessId
	config.LogError(config.GetLogger(), "models", funcName, "post-commit step",
		data, &utils.BestEffortError{Step: step, Err: err})
}

// OrderTotals carries the caller-supplied header aggregates persisted with a
// create or a line-items edit.
type OrderTotals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	DeliveryCharge decimal.Decimal `json:"delivery_charge"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
}

func (t OrderTotals) equals(o OrderTotals) bool {
	return t.Subtotal.Equal(o.Subtotal) &&
		t.TaxAmount.Equal(o.TaxAmount) &&
		t.DiscountAmount.Equal(o.DiscountAmount) &&
		t.DeliveryCharge.Equal(o.DeliveryCharge) &&
		t.TotalAmount.Equal(o.TotalAmount)
}

// EditCounterparty updates who the order is with.
type EditCounterparty struct {
	Name    string `json:"name" validate:"required"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

// EditMeta updates dates and notes.
type EditMeta struct {
	OrderDate time.Time `json:"order_date"`
	DueDate   time.Time `json:"due_date"`
	Notes     string    `json:"notes"`
}

// EditStatus moves the order through its lifecycle.
type EditStatus struct {
	Status OrderStatus `json:"status"`
}

// EditLines replaces the order's line set and header totals.
type EditLines struct {
	Lines  []NewOrderLine `json:"lines"`
	Totals OrderTotals    `json:"totals"`
}

// OrderEdit carries exactly one edit mode. Multiple or zero populated modes
// are rejected up front rather than resolved by precedence.
type OrderEdit struct {
	Counterparty *EditCounterparty `json:"counterparty"`
	Meta         *EditMeta         `json:"meta"`
	Status       *EditStatus       `json:"status"`
	Lines        *EditLines        `json:"lines"`
}

func (e *OrderEdit) mode() (string, error) {
	var modes []string
	if e.Counterparty != nil {
		modes = append(modes, "counterparty")
	}
	if e.Meta != nil {
		modes = append(modes, "meta")
	}
	if e.Status != nil {
		modes = append(modes, "status")
	}
	if e.Lines != nil {
		modes = append(modes, "lines")
	}
	if len(modes) == 0 {
		return "", utils.NewValidationError("edit", "exactly one edit mode is required")
	}
	if len(modes) > 1 {
		return "", utils.NewValidationError("edit",
			"exactly one edit mode is allowed, got: "+strings.Join(modes, ", "))
	}
	return modes[0], nil
}

func validateStatusChange(current, next OrderStatus) error {
	if !next.Valid() {
		return utils.NewValidationError("status", "unknown status "+string(next))
	}
	if current == OrderStatusClosed {
		return utils.NewValidationError("status", "order is already closed")
	}
	return nil
}

// bumpVersion applies header updates guarded by the optimistic version
// column. A zero row count means a concurrent edit won.
func bumpVersion(tx *gorm.DB, model interface{}, orderId, version int, updates map[string]interface{}) error {
	updates["version"] = version + 1
	result := tx.Model(model).
		Where("id = ? AND version = ?", orderId, version).
		Updates(updates)
	if result.Error != nil {
		return &utils.PersistenceError{Op: "update order header", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return &utils.ConflictError{Reason: "order was modified concurrently, retry the edit"}
	}
	return nil
}
