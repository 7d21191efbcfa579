package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/bnd-apparel/storefront-backend/pkg/db/dbtest"
	"github.com/bnd-apparel/storefront-backend/pkg/db/models"
	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
	"github.com/bnd-apparel/storefront-backend/pkg/pagination"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	db := dbtest.OpenSQLite(t)
	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)
	return svc, db
}

func seedProduct(t *testing.T, db *gorm.DB, name, category string, createdAt time.Time, variants ...models.ProductVariant) *models.Product {
	t.Helper()
	product := &models.Product{
		Name:      name,
		Category:  category,
		BasePrice: decimal.RequireFromString("49.00"),
		CreatedAt: createdAt,
	}
	require.NoError(t, db.Create(product).Error)
	for i := range variants {
		variants[i].ProductID = product.ID
		require.NoError(t, db.Create(&variants[i]).Error)
	}
	return product
}

func TestListProductsFiltersByCollection(t *testing.T) {
	svc, db := newTestService(t)
	now := time.Now().UTC()
	seedProduct(t, db, "Heavy Tee", "tees", now.Add(-time.Hour), models.ProductVariant{Size: "M", Color: "Black", StockQuantity: 3})
	seedProduct(t, db, "Crew Hoodie", "hoodies", now)

	collection := "tees"
	list, err := svc.ListProducts(context.Background(), ListProductsInput{Collection: &collection})
	require.NoError(t, err)
	require.Len(t, list.Products, 1)
	assert.Equal(t, "Heavy Tee", list.Products[0].Name)
	require.Len(t, list.Products[0].Variants, 1)
	assert.Equal(t, "49.00", list.Products[0].Variants[0].Price)
	assert.True(t, list.Products[0].Variants[0].InStock)

	all, err := svc.ListProducts(context.Background(), ListProductsInput{})
	require.NoError(t, err)
	require.Len(t, all.Products, 2)
	assert.Equal(t, "Crew Hoodie", all.Products[0].Name, "newest first")
	assert.Empty(t, all.NextCursor)
}

func TestListProductsPaginates(t *testing.T) {
	svc, db := newTestService(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		seedProduct(t, db, "Tee "+string(rune('A'+i)), "tees", base.Add(time.Duration(i)*time.Minute))
	}

	first, err := svc.ListProducts(context.Background(), ListProductsInput{Pagination: pagination.Params{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, first.Products, 2)
	require.NotEmpty(t, first.NextCursor)
	assert.Equal(t, "Tee C", first.Products[0].Name)

	second, err := svc.ListProducts(context.Background(), ListProductsInput{Pagination: pagination.Params{Limit: 2, Cursor: first.NextCursor}})
	require.NoError(t, err)
	require.Len(t, second.Products, 1)
	assert.Equal(t, "Tee A", second.Products[0].Name)
	assert.Empty(t, second.NextCursor)

	_, err = svc.ListProducts(context.Background(), ListProductsInput{Pagination: pagination.Params{Cursor: "%%%"}})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestGetProductAndVariants(t *testing.T) {
	svc, db := newTestService(t)
	override := decimal.RequireFromString("55.50")
	product := seedProduct(t, db, "Oversized Tee", "tees", time.Now().UTC(),
		models.ProductVariant{Size: "L", Color: "White", StockQuantity: 0, PriceOverride: &override},
		models.ProductVariant{Size: "M", Color: "White", StockQuantity: 4},
	)

	dto, err := svc.GetProduct(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, "Oversized Tee", dto.Name)
	require.Len(t, dto.Variants, 2)
	assert.Equal(t, "L", dto.Variants[0].Size)
	assert.Equal(t, "55.50", dto.Variants[0].Price)
	assert.False(t, dto.Variants[0].InStock)

	variants, err := svc.GetVariants(context.Background(), product.ID)
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, "49.00", variants[1].Price)

	_, err = svc.GetProduct(context.Background(), uuid.New())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
	_, err = svc.GetVariants(context.Background(), uuid.New())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestUnitPrices(t *testing.T) {
	svc, db := newTestService(t)
	variant := dbtest.SeedVariant(t, db, "29.90", 1)

	prices, err := svc.UnitPrices(context.Background(), []uuid.UUID{variant.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.True(t, decimal.RequireFromString("29.90").Equal(prices[variant.ID]))
}
