package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/bnd-apparel/storefront-backend/pkg/db/models"
	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
	"github.com/bnd-apparel/storefront-backend/pkg/pagination"
)

// Service is the read API checkout and the storefront pages consume.
type Service interface {
	ListProducts(ctx context.Context, input ListProductsInput) (*ProductList, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*ProductDTO, error)
	GetVariants(ctx context.Context, productID uuid.UUID) ([]VariantDTO, error)
	UnitPrices(ctx context.Context, variantIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
}

type service struct {
	repo *Repository
}

// NewService builds the catalog read service.
func NewService(repo *Repository) (Service, error) {
	if repo == nil {
		return nil, errors.New("catalog repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) ListProducts(ctx context.Context, input ListProductsInput) (*ProductList, error) {
	cursor, err := input.Pagination.After()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	var category *string
	if input.Collection != nil {
		if trimmed := strings.TrimSpace(*input.Collection); trimmed != "" {
			category = &trimmed
		}
	}

	rows, err := s.repo.ListProducts(ctx, category, cursor, input.Pagination.Fetch())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products")
	}

	rows, next := pagination.Split(input.Pagination, rows, func(p models.Product) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	list := &ProductList{Products: make([]ProductDTO, 0, len(rows)), NextCursor: next}
	for _, row := range rows {
		list.Products = append(list.Products, productFromModel(row))
	}
	return list, nil
}

func (s *service) GetProduct(ctx context.Context, id uuid.UUID) (*ProductDTO, error) {
	product, err := s.repo.FindProduct(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	dto := productFromModel(*product)
	return &dto, nil
}

func (s *service) GetVariants(ctx context.Context, productID uuid.UUID) ([]VariantDTO, error) {
	product, err := s.repo.FindProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load variants")
	}
	out := make([]VariantDTO, 0, len(product.Variants))
	for _, v := range product.Variants {
		out = append(out, variantFromModel(v, product))
	}
	return out, nil
}

// UnitPrices resolves the current catalog price of each variant. Unknown ids
// are omitted from the result.
func (s *service) UnitPrices(ctx context.Context, variantIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	variants, err := s.repo.FindVariantsByIDs(ctx, variantIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load variant prices")
	}
	prices := make(map[uuid.UUID]decimal.Decimal, len(variants))
	for id, v := range variants {
		base := decimal.Zero
		if v.Product != nil {
			base = v.Product.BasePrice
		}
		prices[id] = v.UnitPrice(base)
	}
	return prices, nil
}

