package checkout

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
)

// LineLimitInput describes one cart line checked against the per-line cap.
type LineLimitInput struct {
	VariantID uuid.UUID
	Quantity  int
}

// LineLimitViolation exposes the data returned to callers when a line exceeds the cap.
type LineLimitViolation struct {
	VariantID    uuid.UUID `json:"variant_id"`
	MaxQty       int       `json:"max_qty"`
	RequestedQty int       `json:"requested_qty"`
}

// ValidateLineLimits ensures the cart has at most maxLines lines and no line
// exceeds maxQty units. Zero limits disable the corresponding check.
func ValidateLineLimits(items []LineLimitInput, maxLines, maxQty int) error {
	if maxLines > 0 && len(items) > maxLines {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("cart may contain at most %d lines", maxLines)).WithDetails(map[string]any{
			"max_lines": maxLines,
			"lines":     len(items),
		})
	}
	if maxQty <= 0 {
		return nil
	}
	var violations []LineLimitViolation
	for _, item := range items {
		if item.Quantity > maxQty {
			violations = append(violations, LineLimitViolation{
				VariantID:    item.VariantID,
				MaxQty:       maxQty,
				RequestedQty: item.Quantity,
			})
		}
	}
	if len(violations) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity limit exceeded for %d item(s)", len(violations))).WithDetails(map[string]any{
		"violations": violations,
	})
}

// PriceCheckInput pairs the price submitted with a cart line and the catalog price.
type PriceCheckInput struct {
	VariantID    uuid.UUID
	Submitted    decimal.Decimal
	CatalogPrice *decimal.Decimal
}

// PriceMismatch is reported when a submitted price differs from the catalog.
type PriceMismatch struct {
	VariantID    uuid.UUID `json:"variant_id"`
	Submitted    string    `json:"submitted"`
	CatalogPrice string    `json:"catalog_price,omitempty"`
}

// ValidateCatalogPrices rejects lines whose submitted price does not match the
// current catalog price, or whose variant has no catalog price at all.
func ValidateCatalogPrices(items []PriceCheckInput) error {
	var mismatches []PriceMismatch
	for _, item := range items {
		if item.CatalogPrice != nil && item.CatalogPrice.Equal(item.Submitted) {
			continue
		}
		mismatch := PriceMismatch{VariantID: item.VariantID, Submitted: item.Submitted.StringFixed(2)}
		if item.CatalogPrice != nil {
			mismatch.CatalogPrice = item.CatalogPrice.StringFixed(2)
		}
		mismatches = append(mismatches, mismatch)
	}
	if len(mismatches) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("price changed for %d item(s); refresh your cart", len(mismatches))).WithDetails(map[string]any{
		"mismatches": mismatches,
	})
}

// Money columns are numeric(12,2).
const MoneyScale = 2

// MaxAmount is the largest value a money column holds.
var MaxAmount = decimal.RequireFromString("9999999999.99")

// AmountProblem describes why value cannot be stored as a price or fee, or
// returns "" when it can.
func AmountProblem(value decimal.Decimal) string {
	switch {
	case value.IsNegative():
		return "must be 0 or more"
	case !value.Equal(value.Truncate(MoneyScale)):
		return fmt.Sprintf("must have at most %d decimal places", MoneyScale)
	case value.GreaterThan(MaxAmount):
		return "must be at most " + MaxAmount.StringFixed(MoneyScale)
	}
	return ""
}
