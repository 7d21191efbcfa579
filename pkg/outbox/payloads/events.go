package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/bnd-apparel/storefront-backend/pkg/enums"
)

// OrderLine is the per-variant snapshot carried by order events.
type OrderLine struct {
	VariantID       uuid.UUID `json:"variant_id"`
	Quantity        int       `json:"quantity"`
	PriceAtPurchase string    `json:"price_at_purchase"`
}

// OrderCreatedEvent signals a new pending order awaiting payment.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID   `json:"order_id"`
	CustomerID  uuid.UUID   `json:"customer_id"`
	TotalAmount string      `json:"total_amount"`
	Lines       []OrderLine `json:"lines"`
	CreatedAt   time.Time   `json:"created_at"`
}

// OrderPaidEvent is emitted once when a confirmed payment deducts stock.
type OrderPaidEvent struct {
	OrderID     uuid.UUID                  `json:"order_id"`
	CustomerID  uuid.UUID                  `json:"customer_id"`
	TotalAmount string                     `json:"total_amount"`
	BillCode    *string                    `json:"bill_code,omitempty"`
	Source      enums.ReconciliationSource `json:"source"`
	Lines       []OrderLine                `json:"lines"`
	PaidAt      time.Time                  `json:"paid_at"`
}

// OrderFailedEvent is emitted when a pending order is marked failed.
type OrderFailedEvent struct {
	OrderID  uuid.UUID                  `json:"order_id"`
	Reason   string                     `json:"reason"`
	Source   enums.ReconciliationSource `json:"source"`
	FailedAt time.Time                  `json:"failed_at"`
}

// OrderExpiredEvent describes the payload when an abandoned pending order is closed.
type OrderExpiredEvent struct {
	OrderID   uuid.UUID `json:"order_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiredAt time.Time `json:"expired_at"`
}
