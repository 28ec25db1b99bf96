package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// BusinessCounters keeps per-tenant aggregate totals. Rows are upserted with a
// single atomic statement so concurrent writers never lose increments.
type BusinessCounters struct {
	BusinessId string    `gorm:"primary_key;size:36" json:"business_id"`
	Customers  int       `gorm:"not null;default:0" json:"customers"`
	Items      int       `gorm:"not null;default:0" json:"items"`
	Employees  int       `gorm:"not null;default:0" json:"employees"`
	Invoices   int       `gorm:"not null;default:0" json:"invoices"`
	Purchases  int       `gorm:"not null;default:0" json:"purchases"`
	Suppliers  int       `gorm:"not null;default:0" json:"suppliers"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CounterDeltas carries the per-field increments for one upsert. Negative
// deltas are clamped to zero; counters only ever grow.
type CounterDeltas struct {
	Customers int
	Items     int
	Employees int
	Invoices  int
	Purchases int
	Suppliers int
}

func clampDelta(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func (d CounterDeltas) normalized() CounterDeltas {
	return CounterDeltas{
		Customers: clampDelta(d.Customers),
		Items:     clampDelta(d.Items),
		Employees: clampDelta(d.Employees),
		Invoices:  clampDelta(d.Invoices),
		Purchases: clampDelta(d.Purchases),
		Suppliers: clampDelta(d.Suppliers),
	}
}

func (d CounterDeltas) isZero() bool {
	return d.Customers == 0 && d.Items == 0 && d.Employees == 0 &&
		d.Invoices == 0 && d.Purchases == 0 && d.Suppliers == 0
}

// IncrementBusinessCounters applies the deltas in one INSERT ... ON DUPLICATE
// KEY UPDATE so the first touch creates the row and later touches add to it.
func IncrementBusinessCounters(tx *gorm.DB, businessId string, deltas CounterDeltas) error {
	d := deltas.normalized()
	if d.isZero() {
		return nil
	}
	return tx.Exec(
		`INSERT INTO business_counters
			(business_id, customers, items, employees, invoices, purchases, suppliers, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE
			customers = customers + VALUES(customers),
			items = items + VALUES(items),
			employees = employees + VALUES(employees),
			invoices = invoices + VALUES(invoices),
			purchases = purchases + VALUES(purchases),
			suppliers = suppliers + VALUES(suppliers),
			updated_at = NOW()`,
		businessId, d.Customers, d.Items, d.Employees, d.Invoices, d.Purchases, d.Suppliers,
	).Error
}

func GetBusinessCounters(ctx context.Context, db *gorm.DB, businessId string) (*BusinessCounters, error) {
	var counters BusinessCounters
	err := db.WithContext(ctx).Where("business_id = ?", businessId).First(&counters).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			// no activity yet reads as all zero
			return &BusinessCounters{BusinessId: businessId}, nil
		}
		return nil, err
	}
	return &counters, nil
}
