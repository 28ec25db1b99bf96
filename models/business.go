package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/orders_backend/config"
	"bitbucket.org/mmdatafocus/orders_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Business struct {
	ID             uuid.UUID `gorm:"primary_key" json:"id"`
	Name           string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	ContactName    string    `gorm:"size:100" json:"contact_name"`
	Email          string    `gorm:"size:255" json:"email"`
	Phone          string    `gorm:"size:20" json:"phone"`
	Address        string    `gorm:"type:text" json:"address"`
	Timezone       string    `gorm:"size:50" json:"timezone"`
	IsStockManaged *bool     `gorm:"not null;default:false" json:"is_stock_managed"`
	IsActive       *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBusiness struct {
	Name           string `json:"name" validate:"required"`
	ContactName    string `json:"contact_name"`
	Email          string `json:"email" validate:"required,email"`
	Phone          string `json:"phone"`
	Address        string `json:"address"`
	Timezone       string `json:"timezone"`
	IsStockManaged *bool  `json:"is_stock_managed"`
}

func (business *Business) StoreRedis() error {
	return config.SetRedisObject("Business:"+fmt.Sprint(business.ID), business, 0)
}

func (business *Business) RemoveRedis() error {
	return config.RemoveRedisKey("Business:" + fmt.Sprint(business.ID))
}

func (input *NewBusiness) validate(ctx context.Context, id string) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if err := utils.ValidateUnique[Business](ctx, "", "name", input.Name, id); err != nil {
		return err
	}
	if err := utils.ValidateUnique[Business](ctx, "", "email", input.Email, id); err != nil {
		return err
	}
	if input.Phone != "" {
		if err := utils.ValidateUnique[Business](ctx, "", "phone", input.Phone, id); err != nil {
			return err
		}
	}
	return nil
}

func CreateBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {
	if err := input.validate(ctx, ""); err != nil {
		return nil, err
	}
	db := config.GetDB()
	tx := db.Begin()

	timezone := "Asia/Yangon"
	if input.Timezone != "" {
		timezone = input.Timezone
	}
	stockManaged := input.IsStockManaged
	if stockManaged == nil {
		stockManaged = utils.NewFalse()
	}

	business := Business{
		ID:             uuid.New(),
		Name:           input.Name,
		ContactName:    input.ContactName,
		Email:          input.Email,
		Phone:          input.Phone,
		Address:        input.Address,
		Timezone:       timezone,
		IsStockManaged: stockManaged,
		IsActive:       utils.NewTrue(),
	}
	if err := tx.WithContext(ctx).Create(&business).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	// the business_counters row is created lazily by the first increment

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	// caching
	if err := business.StoreRedis(); err != nil {
		return nil, err
	}
	return &business, nil
}

func UpdateBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var business Business
	if err := db.WithContext(ctx).Where("id = ?", businessId).First(&business).Error; err != nil {
		return nil, &utils.NotFoundError{Resource: "Business"}
	}

	updates := map[string]interface{}{
		"Name":        input.Name,
		"ContactName": input.ContactName,
		"Email":       input.Email,
		"Phone":       input.Phone,
		"Address":     input.Address,
	}
	if input.Timezone != "" {
		updates["Timezone"] = input.Timezone
	}
	if input.IsStockManaged != nil {
		updates["IsStockManaged"] = input.IsStockManaged
	}
	if err := db.WithContext(ctx).Model(&business).Updates(updates).Error; err != nil {
		return nil, err
	}

	// invalidate cache so the next read refills it
	if err := business.RemoveRedis(); err != nil {
		return nil, err
	}
	return &business, nil
}

func GetBusinessById(ctx context.Context, id string) (*Business, error) {

	var result Business

	exists, err := config.GetRedisObject("Business:"+id, &result)
	if err != nil {
		// a cache outage must not decide tenant capabilities
		config.LogError(config.GetLogger(), "models", "GetBusinessById", "read business cache",
			map[string]interface{}{"businessId": id}, err)
		exists = false
	}

	if !exists {
		db := config.GetDB()
		if err := db.WithContext(ctx).Where("id = ?", id).First(&result).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, &utils.NotFoundError{Resource: "Business"}
			}
			return nil, &utils.PersistenceError{Op: "load business", Err: err}
		}
		// refill the cache; a refill failure only costs the next read a DB hit
		if err := result.StoreRedis(); err != nil {
			config.LogError(config.GetLogger(), "models", "GetBusinessById", "store business cache",
				map[string]interface{}{"businessId": id}, err)
		}
	}
	return &result, nil
}

func GetBusiness(ctx context.Context) (*Business, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return GetBusinessById(ctx, businessId)
}

// StockManaged reports whether stock gating applies for the business in
// context. A missing business record means unmanaged; a failed lookup is an
// error, so callers never run ungated on a stock-managed tenant by accident.
func StockManaged(ctx context.Context) (bool, error) {
	business, err := GetBusiness(ctx)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return business.IsStockManaged != nil && *business.IsStockManaged, nil
}
