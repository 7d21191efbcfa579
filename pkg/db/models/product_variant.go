package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductVariant is the unit of sale and the only holder of stock.
type ProductVariant struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	ProductID     uuid.UUID        `gorm:"column:product_id;type:uuid;not null;index:idx_product_variants_product"`
	Size          string           `gorm:"column:size;not null"`
	Color         string           `gorm:"column:color;not null"`
	SKU           *string          `gorm:"column:sku"`
	PriceOverride *decimal.Decimal `gorm:"column:price_override;type:numeric(12,2)"`
	StockQuantity int              `gorm:"column:stock_quantity;not null;default:0;check:chk_product_variants_stock_nonneg,stock_quantity >= 0"`
	Product       *Product         `gorm:"foreignKey:ProductID"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (v *ProductVariant) BeforeCreate(*gorm.DB) error {
	assignID(&v.ID)
	return nil
}

// UnitPrice returns the variant override when present, otherwise the product base price.
func (v ProductVariant) UnitPrice(base decimal.Decimal) decimal.Decimal {
	if v.PriceOverride != nil {
		return *v.PriceOverride
	}
	return base
}
