package checkout

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bnd-apparel/storefront-backend/internal/inventory"
	"github.com/bnd-apparel/storefront-backend/internal/orders"
	pkgcheckout "github.com/bnd-apparel/storefront-backend/pkg/checkout"
	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
)

// CartLine is one client-submitted cart entry. Name and Size are display
// hints used for the bill description only.
type CartLine struct {
	VariantID uuid.UUID
	Quantity  int
	Price     decimal.Decimal
	Size      *string
	Name      *string
}

// Limits bounds the shape of a cart. Zero values disable a bound.
type Limits struct {
	MaxLines        int
	MaxLineQuantity int
}

// Cart is a validated, de-duplicated set of cart lines. The server never
// trusts it beyond its shape: stock and prices are re-checked under lock.
type Cart struct {
	lines []CartLine
}

// NewCart validates the submitted lines and merges repeated variants.
// Repeated variants must agree on price.
func NewCart(lines []CartLine, limits Limits) (Cart, error) {
	if len(lines) == 0 {
		return Cart{}, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}

	merged := make([]CartLine, 0, len(lines))
	index := make(map[uuid.UUID]int, len(lines))
	for i, line := range lines {
		if err := validateLine(i, line); err != nil {
			return Cart{}, err
		}
		if pos, ok := index[line.VariantID]; ok {
			if !merged[pos].Price.Equal(line.Price) {
				return Cart{}, pkgerrors.New(pkgerrors.CodeValidation, "conflicting prices for the same variant").WithDetails(map[string]string{
					fmt.Sprintf("cart[%d].price", i): "must match earlier line for this variant",
				})
			}
			merged[pos].Quantity += line.Quantity
			continue
		}
		index[line.VariantID] = len(merged)
		merged = append(merged, line)
	}

	limitInputs := make([]pkgcheckout.LineLimitInput, len(merged))
	for i, line := range merged {
		limitInputs[i] = pkgcheckout.LineLimitInput{VariantID: line.VariantID, Quantity: line.Quantity}
	}
	if err := pkgcheckout.ValidateLineLimits(limitInputs, limits.MaxLines, limits.MaxLineQuantity); err != nil {
		return Cart{}, err
	}
	return Cart{lines: merged}, nil
}

func validateLine(i int, line CartLine) error {
	field := func(name string) string { return fmt.Sprintf("cart[%d].%s", i, name) }
	switch {
	case line.VariantID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "variant id is required").WithDetails(map[string]string{field("variant_id"): "required"})
	case line.Quantity <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").WithDetails(map[string]string{field("quantity"): "must be greater than 0"})
	}
	if problem := pkgcheckout.AmountProblem(line.Price); problem != "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid price").WithDetails(map[string]string{field("price"): problem})
	}
	return nil
}

// Lines returns a copy of the merged lines in submission order.
func (c Cart) Lines() []CartLine {
	out := make([]CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

// Len is the number of distinct variants in the cart.
func (c Cart) Len() int {
	return len(c.lines)
}

// Subtotal is the sum of price times quantity.
func (c Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.lines {
		total = total.Add(line.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

// InventoryLines converts the cart to ledger lines.
func (c Cart) InventoryLines() []inventory.Line {
	out := make([]inventory.Line, len(c.lines))
	for i, line := range c.lines {
		out[i] = inventory.Line{VariantID: line.VariantID, Quantity: line.Quantity}
	}
	return out
}

func (c Cart) orderItems() []orders.NewItem {
	out := make([]orders.NewItem, len(c.lines))
	for i, line := range c.lines {
		out[i] = orders.NewItem{VariantID: line.VariantID, Quantity: line.Quantity, PriceAtPurchase: line.Price}
	}
	return out
}

// Fees are the order-level charges added on top of the cart subtotal.
type Fees struct {
	Shipping   decimal.Decimal
	Processing decimal.Decimal
}

func (f Fees) validate() error {
	details := map[string]string{}
	if problem := pkgcheckout.AmountProblem(f.Shipping); problem != "" {
		details["shippingCost"] = problem
	}
	if problem := pkgcheckout.AmountProblem(f.Processing); problem != "" {
		details["processingFee"] = problem
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid fees").WithDetails(details)
	}
	return nil
}

// Totals computes Σ price×quantity + shipping + processing.
func (c Cart) Totals(fees Fees) orders.Totals {
	return orders.Totals{
		Total:         c.Subtotal().Add(fees.Shipping).Add(fees.Processing),
		ShippingCost:  fees.Shipping,
		ProcessingFee: fees.Processing,
	}
}
