package models

import (
	"log"

	"bitbucket.org/mmdatafocus/orders_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &BusinessCounters{},
		&Item{},
		&SalesOrder{}, &SalesOrderDetail{},
		&PurchaseOrder{}, &PurchaseOrderDetail{},
		&StockMovement{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
