package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/bnd-apparel/storefront-backend/pkg/enums"
)

// Order is the storefront order header. Status only moves pending -> paid or
// pending -> failed.
type Order struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID        uuid.UUID         `gorm:"column:customer_id;type:uuid;not null;index:idx_orders_customer"`
	Status            enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending';index:idx_orders_status_created,priority:1"`
	TotalAmount       decimal.Decimal   `gorm:"column:total_amount;type:numeric(12,2);not null"`
	ShippingCost      decimal.Decimal   `gorm:"column:shipping_cost;type:numeric(12,2);not null;default:0"`
	ProcessingFee     decimal.Decimal   `gorm:"column:processing_fee;type:numeric(12,2);not null;default:0"`
	BillCode          *string           `gorm:"column:bill_code;index:idx_orders_bill_code"`
	ExternalReference *string           `gorm:"column:external_reference"`
	FailureReason     *string           `gorm:"column:failure_reason"`
	PaymentDate       *time.Time        `gorm:"column:payment_date"`
	Customer          *Customer         `gorm:"foreignKey:CustomerID"`
	Items             []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime;index:idx_orders_status_created,priority:2"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}
