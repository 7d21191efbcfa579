package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bnd-apparel/storefront-backend/pkg/db/models"
	"github.com/bnd-apparel/storefront-backend/pkg/enums"
)

// Failure reasons recorded on orders.failure_reason.
const (
	ReasonGatewayFailure    = "gateway_failure"
	ReasonInsufficientStock = "insufficient_stock"
	ReasonExpired           = "expired"
	ReasonManual            = "manual"
)

// NewItem is one order line as priced at checkout.
type NewItem struct {
	VariantID       uuid.UUID
	Quantity        int
	PriceAtPurchase decimal.Decimal
}

// Totals carries the monetary header fields of a new order.
type Totals struct {
	Total         decimal.Decimal
	ShippingCost  decimal.Decimal
	ProcessingFee decimal.Decimal
}

// OrderSummary is the public view of an order header.
type OrderSummary struct {
	ID            uuid.UUID         `json:"id"`
	CustomerID    uuid.UUID         `json:"customer_id"`
	Status        enums.OrderStatus `json:"status"`
	TotalAmount   string            `json:"total_amount"`
	ShippingCost  string            `json:"shipping_cost"`
	ProcessingFee string            `json:"processing_fee"`
	BillCode      *string           `json:"bill_code,omitempty"`
	FailureReason *string           `json:"failure_reason,omitempty"`
	PaymentDate   *time.Time        `json:"payment_date,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// CustomerSummary is the customer block of the confirmation view.
type CustomerSummary struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Phone    string    `json:"phone"`
	Address  *string   `json:"address,omitempty"`
	Postcode *string   `json:"postcode,omitempty"`
}

// OrderItemDetail is one purchased line with its catalog labels.
type OrderItemDetail struct {
	ID              uuid.UUID `json:"id"`
	VariantID       uuid.UUID `json:"variant_id"`
	ProductID       uuid.UUID `json:"product_id"`
	ProductName     string    `json:"product_name"`
	Size            string    `json:"size"`
	Color           string    `json:"color"`
	Quantity        int       `json:"quantity"`
	PriceAtPurchase string    `json:"price_at_purchase"`
	LineTotal       string    `json:"line_total"`
}

// OrderDetail aggregates the header, customer and items for the thank-you page.
type OrderDetail struct {
	Order    OrderSummary      `json:"order"`
	Customer *CustomerSummary  `json:"customer,omitempty"`
	Items    []OrderItemDetail `json:"items"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// SummaryFromModel maps a stored order to its public summary.
func SummaryFromModel(o models.Order) OrderSummary {
	return OrderSummary{
		ID:            o.ID,
		CustomerID:    o.CustomerID,
		Status:        o.Status,
		TotalAmount:   money(o.TotalAmount),
		ShippingCost:  money(o.ShippingCost),
		ProcessingFee: money(o.ProcessingFee),
		BillCode:      o.BillCode,
		FailureReason: o.FailureReason,
		PaymentDate:   o.PaymentDate,
		CreatedAt:     o.CreatedAt,
	}
}

func detailFromModel(o models.Order) OrderDetail {
	detail := OrderDetail{
		Order: SummaryFromModel(o),
		Items: make([]OrderItemDetail, 0, len(o.Items)),
	}
	if o.Customer != nil {
		detail.Customer = &CustomerSummary{
			ID:       o.Customer.ID,
			Name:     o.Customer.Name,
			Email:    o.Customer.Email,
			Phone:    o.Customer.Phone,
			Address:  o.Customer.Address,
			Postcode: o.Customer.Postcode,
		}
	}
	for _, item := range o.Items {
		line := OrderItemDetail{
			ID:              item.ID,
			VariantID:       item.VariantID,
			Quantity:        item.Quantity,
			PriceAtPurchase: money(item.PriceAtPurchase),
			LineTotal:       money(item.LineTotal()),
		}
		if item.Variant != nil {
			line.Size = item.Variant.Size
			line.Color = item.Variant.Color
			line.ProductID = item.Variant.ProductID
			if item.Variant.Product != nil {
				line.ProductName = item.Variant.Product.Name
			}
		}
		detail.Items = append(detail.Items, line)
	}
	return detail
}
