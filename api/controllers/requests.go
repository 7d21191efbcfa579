package controllers

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bnd-apparel/storefront-backend/api/validators"
	"github.com/bnd-apparel/storefront-backend/internal/checkout"
	"github.com/bnd-apparel/storefront-backend/internal/customers"
)

// cartLineRequest is one line of the browser-held cart. Size and name are
// display labels carried into the bill description.
type cartLineRequest struct {
	VariantID string          `json:"variant_id" validate:"required,uuid"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	Price     decimal.Decimal `json:"price"`
	Size      *string         `json:"size,omitempty"`
	Name      *string         `json:"name,omitempty"`
}

type customerRequest struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Phone    string  `json:"phone"`
	Address  *string `json:"address,omitempty"`
	Postcode *string `json:"postcode,omitempty"`
}

func (c customerRequest) contact() customers.Contact {
	return customers.Contact{
		Name:     validators.Clean(c.Name, 120),
		Email:    validators.Clean(c.Email, 254),
		Phone:    validators.Clean(c.Phone, 32),
		Address:  validators.CleanOptional(c.Address, 255),
		Postcode: validators.CleanOptional(c.Postcode, 16),
	}
}

type stockRequest struct {
	Cart []cartLineRequest `json:"cart" validate:"required,min=1,dive"`
}

type checkoutRequest struct {
	Cart          []cartLineRequest `json:"cart" validate:"required,min=1,dive"`
	Customer      customerRequest   `json:"customer"`
	OrderID       *string           `json:"orderId,omitempty"`
	ShippingCost  decimal.Decimal   `json:"shippingCost"`
	ProcessingFee decimal.Decimal   `json:"processingFee"`
}

// createOrderRequest keeps the flat contact shape of the pending-order form.
type createOrderRequest struct {
	Name          string            `json:"name"`
	Email         string            `json:"email"`
	Phone         string            `json:"phone"`
	Address       *string           `json:"address,omitempty"`
	Postcode      *string           `json:"postcode,omitempty"`
	Cart          []cartLineRequest `json:"cart" validate:"required,min=1,dive"`
	ShippingCost  decimal.Decimal   `json:"shippingCost"`
	ProcessingFee decimal.Decimal   `json:"processingFee"`
}

func (r createOrderRequest) customer() customerRequest {
	return customerRequest{Name: r.Name, Email: r.Email, Phone: r.Phone, Address: r.Address, Postcode: r.Postcode}
}

type verifyRequest struct {
	Status *string `json:"status,omitempty"`
}

func toCart(lines []cartLineRequest, limits checkout.Limits) (checkout.Cart, error) {
	out := make([]checkout.CartLine, 0, len(lines))
	for _, line := range lines {
		variantID, err := validators.ParseUUID(line.VariantID, "variant_id")
		if err != nil {
			return checkout.Cart{}, err
		}
		out = append(out, checkout.CartLine{
			VariantID: variantID,
			Quantity:  line.Quantity,
			Price:     line.Price,
			Size:      validators.CleanOptional(line.Size, 32),
			Name:      validators.CleanOptional(line.Name, 120),
		})
	}
	return checkout.NewCart(out, limits)
}

func parseOptionalOrderID(raw *string) (*uuid.UUID, error) {
	if raw == nil || validators.Clean(*raw, 64) == "" {
		return nil, nil
	}
	id, err := validators.ParseUUID(*raw, "orderId")
	if err != nil {
		return nil, err
	}
	return &id, nil
}
