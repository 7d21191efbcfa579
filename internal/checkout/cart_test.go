package checkout

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
)

func TestNewCartMergesDuplicateVariants(t *testing.T) {
	id := uuid.New()
	price := decimal.RequireFromString("10.00")
	cart, err := NewCart([]CartLine{
		{VariantID: id, Quantity: 1, Price: price},
		{VariantID: uuid.New(), Quantity: 2, Price: decimal.RequireFromString("5.50")},
		{VariantID: id, Quantity: 2, Price: price},
	}, Limits{})
	require.NoError(t, err)

	require.Equal(t, 2, cart.Len())
	assert.Equal(t, 3, cart.Lines()[0].Quantity)
	assert.Equal(t, "41.00", cart.Subtotal().StringFixed(2))

	totals := cart.Totals(Fees{Shipping: decimal.RequireFromString("8"), Processing: decimal.RequireFromString("1.5")})
	assert.Equal(t, "50.50", totals.Total.StringFixed(2))
}

func TestNewCartValidation(t *testing.T) {
	id := uuid.New()
	price := decimal.RequireFromString("10.00")

	cases := []struct {
		name   string
		lines  []CartLine
		limits Limits
	}{
		{name: "empty"},
		{name: "missing variant", lines: []CartLine{{Quantity: 1, Price: price}}},
		{name: "zero quantity", lines: []CartLine{{VariantID: id, Price: price}}},
		{name: "negative price", lines: []CartLine{{VariantID: id, Quantity: 1, Price: decimal.NewFromInt(-1)}}},
		{name: "sub-cent price", lines: []CartLine{{VariantID: id, Quantity: 1, Price: decimal.RequireFromString("19.999")}}},
		{name: "price over column max", lines: []CartLine{{VariantID: id, Quantity: 1, Price: decimal.RequireFromString("10000000000")}}},
		{name: "conflicting price", lines: []CartLine{
			{VariantID: id, Quantity: 1, Price: price},
			{VariantID: id, Quantity: 1, Price: decimal.RequireFromString("9.00")},
		}},
		{name: "too many lines", limits: Limits{MaxLines: 1}, lines: []CartLine{
			{VariantID: id, Quantity: 1, Price: price},
			{VariantID: uuid.New(), Quantity: 1, Price: price},
		}},
		{name: "merged quantity over cap", limits: Limits{MaxLineQuantity: 3}, lines: []CartLine{
			{VariantID: id, Quantity: 2, Price: price},
			{VariantID: id, Quantity: 2, Price: price},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCart(tc.lines, tc.limits)
			require.Error(t, err)
			assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), err.Error())
		})
	}
}

func TestCartLinesReturnsCopy(t *testing.T) {
	cart, err := NewCart([]CartLine{{VariantID: uuid.New(), Quantity: 1, Price: decimal.Zero}}, Limits{})
	require.NoError(t, err)

	lines := cart.Lines()
	lines[0].Quantity = 99
	assert.Equal(t, 1, cart.Lines()[0].Quantity)
	assert.Equal(t, 1, cart.InventoryLines()[0].Quantity)
}
