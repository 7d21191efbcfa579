package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bnd-apparel/storefront-backend/api/responses"
	"github.com/bnd-apparel/storefront-backend/api/validators"
	"github.com/bnd-apparel/storefront-backend/internal/catalog"
	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
	"github.com/bnd-apparel/storefront-backend/pkg/logger"
	"github.com/bnd-apparel/storefront-backend/pkg/pagination"
)

type productReader interface {
	ListProducts(ctx context.Context, input catalog.ListProductsInput) (*catalog.ProductList, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*catalog.ProductDTO, error)
}

// ListProducts serves the storefront grid, optionally filtered by collection.
var limitParam = validators.IntParam{Key: "limit", Default: pagination.DefaultLimit, Min: 1, Max: pagination.MaxLimit}

func ListProducts(svc productReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog unavailable"))
			return
		}

		limit, err := limitParam.From(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := catalog.ListProductsInput{
			Pagination: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		}
		if collection := validators.Clean(r.URL.Query().Get("collection"), 64); collection != "" {
			input.Collection = &collection
		}

		list, err := svc.ListProducts(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func GetProduct(svc productReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog unavailable"))
			return
		}
		id, err := validators.ParseUUID(chi.URLParam(r, "productId"), "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		product, err := svc.GetProduct(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, product)
	}
}
