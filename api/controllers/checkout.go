package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bnd-apparel/storefront-backend/api/responses"
	"github.com/bnd-apparel/storefront-backend/api/validators"
	"github.com/bnd-apparel/storefront-backend/internal/checkout"
	"github.com/bnd-apparel/storefront-backend/internal/customers"
	"github.com/bnd-apparel/storefront-backend/internal/orders"
	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
	"github.com/bnd-apparel/storefront-backend/pkg/logger"
)

type checkoutService interface {
	Limits() checkout.Limits
	Checkout(ctx context.Context, req checkout.CheckoutRequest) (*checkout.CheckoutResult, error)
	ValidateStock(ctx context.Context, cart checkout.Cart) (*checkout.StockValidation, error)
	CheckStock(ctx context.Context, cart checkout.Cart) (*checkout.StockAvailability, error)
	CreateOrder(ctx context.Context, contact customers.Contact, cart checkout.Cart, fees checkout.Fees) (uuid.UUID, error)
}

type orderReader interface {
	Get(ctx context.Context, orderID uuid.UUID) (*orders.OrderSummary, error)
	GetDetail(ctx context.Context, orderID uuid.UUID) (*orders.OrderDetail, error)
}

// Checkout validates the cart, records a pending order and returns the hosted
// payment URL. A resumed pending order answers 200, a new one 201.
func Checkout(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeStorefrontBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := parseOptionalOrderID(payload.OrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cart, err := toCart(payload.Cart, svc.Limits())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Checkout(r.Context(), checkout.CheckoutRequest{
			Contact: payload.Customer.contact(),
			Cart:    cart,
			Fees:    checkout.Fees{Shipping: payload.ShippingCost, Processing: payload.ProcessingFee},
			OrderID: orderID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Resumed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}

// ValidateStock locks and checks every cart line without mutating stock.
func ValidateStock(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cart, ok := decodeStockCart(w, r, svc, logg)
		if !ok {
			return
		}
		result, err := svc.ValidateStock(r.Context(), cart)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// CheckStock is the advisory, lock-free availability lookup.
func CheckStock(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cart, ok := decodeStockCart(w, r, svc, logg)
		if !ok {
			return
		}
		result, err := svc.CheckStock(r.Context(), cart)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func decodeStockCart(w http.ResponseWriter, r *http.Request, svc checkoutService, logg *logger.Logger) (checkout.Cart, bool) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout unavailable"))
		return checkout.Cart{}, false
	}
	var payload stockRequest
	if err := validators.DecodeStorefrontBody(r, &payload); err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return checkout.Cart{}, false
	}
	cart, err := toCart(payload.Cart, svc.Limits())
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return checkout.Cart{}, false
	}
	return cart, true
}

// CreateOrder records a pending order without opening a bill.
func CreateOrder(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout unavailable"))
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeStorefrontBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cart, err := toCart(payload.Cart, svc.Limits())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := svc.CreateOrder(r.Context(), payload.customer().contact(), cart, checkout.Fees{
			Shipping:   payload.ShippingCost,
			Processing: payload.ProcessingFee,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{"orderId": orderID})
	}
}

// GetOrder returns the summary of one order.
func GetOrder(svc orderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders unavailable"))
			return
		}
		orderID, err := validators.ParseUUID(chi.URLParam(r, "orderId"), "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
