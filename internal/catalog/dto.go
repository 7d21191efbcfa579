package catalog

import (
	"time"

	"github.com/google/uuid"

	"github.com/bnd-apparel/storefront-backend/pkg/db/models"
	"github.com/bnd-apparel/storefront-backend/pkg/pagination"
)

// VariantDTO is a purchasable size/color of a product.
type VariantDTO struct {
	ID            uuid.UUID `json:"id"`
	ProductID     uuid.UUID `json:"product_id"`
	Size          string    `json:"size"`
	Color         string    `json:"color"`
	SKU           *string   `json:"sku,omitempty"`
	Price         string    `json:"price"`
	StockQuantity int       `json:"stock_quantity"`
	InStock       bool      `json:"in_stock"`
}

// ProductDTO is a catalog listing with its variants.
type ProductDTO struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	Description *string      `json:"description,omitempty"`
	Category    string       `json:"category"`
	BasePrice   string       `json:"base_price"`
	ImageURL    *string      `json:"image_url,omitempty"`
	Variants    []VariantDTO `json:"variants"`
	CreatedAt   time.Time    `json:"created_at"`
}

// ListProductsInput captures the browse filters and cursor.
type ListProductsInput struct {
	Collection *string
	Pagination pagination.Params
}

// ProductList is one page of products.
type ProductList struct {
	Products   []ProductDTO `json:"products"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

func variantFromModel(v models.ProductVariant, product *models.Product) VariantDTO {
	dto := VariantDTO{
		ID:            v.ID,
		ProductID:     v.ProductID,
		Size:          v.Size,
		Color:         v.Color,
		SKU:           v.SKU,
		StockQuantity: v.StockQuantity,
		InStock:       v.StockQuantity > 0,
	}
	if product != nil {
		dto.Price = v.UnitPrice(product.BasePrice).StringFixed(2)
	} else if v.PriceOverride != nil {
		dto.Price = v.PriceOverride.StringFixed(2)
	}
	return dto
}

func productFromModel(p models.Product) ProductDTO {
	dto := ProductDTO{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		BasePrice:   p.BasePrice.StringFixed(2),
		ImageURL:    p.ImageURL,
		Variants:    make([]VariantDTO, 0, len(p.Variants)),
		CreatedAt:   p.CreatedAt,
	}
	for _, v := range p.Variants {
		dto.Variants = append(dto.Variants, variantFromModel(v, &p))
	}
	return dto
}
