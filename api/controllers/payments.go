package controllers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bnd-apparel/storefront-backend/api/responses"
	"github.com/bnd-apparel/storefront-backend/api/validators"
	"github.com/bnd-apparel/storefront-backend/internal/reconciliation"
	"github.com/bnd-apparel/storefront-backend/pkg/enums"
	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
	"github.com/bnd-apparel/storefront-backend/pkg/logger"
)

// Messages shown on the catalog page after an unsuccessful return.
const (
	msgPaymentFailed  = "Payment failed. Please try again."
	msgPaymentPending = "Payment is pending. Please check your payment status."
	msgStatusUnclear  = "Payment status unclear. Please contact support if payment was made."
	msgNotPaid        = "Payment pending or failed. Please contact support if payment was made."
)

type reconciler interface {
	HandleCallback(ctx context.Context, p reconciliation.Parsed) (*reconciliation.Result, error)
	Apply(ctx context.Context, sig reconciliation.Signal) (*reconciliation.Result, error)
	Verify(ctx context.Context, p reconciliation.Parsed) (*reconciliation.Result, error)
}

// ToyyibPayCallback handles the server-to-server notification. The gateway
// sends it as GET or POST depending on account settings.
func ToyyibPayCallback(svc reconciler, parser reconciliation.Parser, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation unavailable"))
			return
		}
		if err := r.ParseForm(); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed callback body"))
			return
		}

		parsed, err := parser.FromCallback(r.PostForm, r.URL.Query())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, parsed.OrderID.String())
			ctx = logg.WithFields(ctx, map[string]any{"raw_status": parsed.RawStatus})
			logg.Info(ctx, "toyyibpay.callback.received")
		}

		result, err := svc.HandleCallback(ctx, parsed)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// PaymentReturn handles the browser coming back from the hosted page. Paid
// orders get their confirmation; everything else is redirected to the catalog
// with a message.
func PaymentReturn(svc reconciler, parser reconciliation.Parser, ordersSvc orderReader, catalogPath string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || ordersSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation unavailable"))
			return
		}

		// A shopper on the return page gets the catalog with a message
		// unless the server itself failed.
		fail := func(ctx context.Context, err error) {
			if pkgerrors.Is(err, pkgerrors.CodeValidation) || pkgerrors.Is(err, pkgerrors.CodeNotFound) {
				redirectToCatalog(w, r, catalogPath, msgStatusUnclear)
				return
			}
			responses.WriteError(ctx, logg, w, err)
		}

		parsed, err := parser.FromReturn(chi.URLParam(r, "orderId"), r.URL.Query())
		if err != nil {
			fail(r.Context(), err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, parsed.OrderID.String())
		}

		var status enums.OrderStatus
		if parsed.HasStatus() {
			result, err := svc.Apply(ctx, parsed.Signal)
			switch {
			case pkgerrors.Is(err, pkgerrors.CodeAmbiguousStatus), pkgerrors.Is(err, pkgerrors.CodeStateConflict):
				redirectToCatalog(w, r, catalogPath, msgStatusUnclear)
				return
			case err != nil:
				fail(ctx, err)
				return
			}
			status = result.Status
			if status != enums.OrderStatusPaid {
				redirectToCatalog(w, r, catalogPath, returnMessage(parsed.Outcome))
				return
			}
		} else {
			summary, err := ordersSvc.Get(ctx, parsed.OrderID)
			if err != nil {
				fail(ctx, err)
				return
			}
			if summary.Status != enums.OrderStatusPaid {
				redirectToCatalog(w, r, catalogPath, msgStatusUnclear)
				return
			}
			status = summary.Status
		}

		if status != enums.OrderStatusPaid {
			redirectToCatalog(w, r, catalogPath, msgNotPaid)
			return
		}

		detail, err := ordersSvc.GetDetail(ctx, parsed.OrderID)
		if err != nil {
			fail(ctx, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// VerifyPayment is the operator path. The status may come from the JSON body
// or the query string; without one the gateway is consulted when enabled.
func VerifyPayment(svc reconciler, parser reconciliation.Parser, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation unavailable"))
			return
		}

		var payload verifyRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		status := r.URL.Query().Get("status")
		if payload.Status != nil {
			status = *payload.Status
		}

		parsed, err := parser.FromManual(chi.URLParam(r, "orderId"), status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, parsed.OrderID.String())
			logg.Info(ctx, "payment.verify.requested")
		}

		result, err := svc.Verify(ctx, parsed)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func returnMessage(outcome enums.PaymentOutcome) string {
	switch outcome {
	case enums.PaymentOutcomeFailure:
		return msgPaymentFailed
	case enums.PaymentOutcomePending:
		return msgPaymentPending
	default:
		return msgNotPaid
	}
}

func redirectToCatalog(w http.ResponseWriter, r *http.Request, catalogPath, message string) {
	target, err := url.Parse(strings.TrimSpace(catalogPath))
	if err != nil || target.String() == "" {
		target = &url.URL{Path: "/products"}
	}
	q := target.Query()
	q.Set("message", message)
	target.RawQuery = q.Encode()
	responses.WriteRedirect(w, r, target.String())
}
