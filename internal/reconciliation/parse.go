package reconciliation

import (
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/bnd-apparel/storefront-backend/internal/orders"
	"github.com/bnd-apparel/storefront-backend/pkg/enums"
	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
	"github.com/bnd-apparel/storefront-backend/pkg/toyyibpay"
)

// The gateway is not consistent about field names; each logical field is
// read from the first alias that carries a value.
var (
	callbackOrderFields  = []string{"order_id", "orderId", "referenceNo"}
	callbackStatusFields = []string{"status", "status_id"}
	callbackBillFields   = []string{"billcode", "billCode"}
	callbackReasonFields = []string{"reason", "msg"}

	returnStatusFields = []string{"status_id", "status"}
)

// Parsed is a normalized signal plus the raw values it was read from.
type Parsed struct {
	Signal
	// RawStatus is the status code as delivered; empty when none was sent.
	RawStatus string
	// RawReference is the order reference as delivered.
	RawReference string
}

// HasStatus reports whether the delivery carried any status value.
func (p Parsed) HasStatus() bool {
	return p.RawStatus != ""
}

// Parser turns gateway and operator inputs into signals.
type Parser struct {
	referencePrefix string
}

// NewParser builds a Parser for external references issued under referencePrefix.
func NewParser(referencePrefix string) Parser {
	return Parser{referencePrefix: referencePrefix}
}

// FromCallback reads a server-to-server callback. Form fields win over the
// query string.
func (p Parser) FromCallback(form, query url.Values) (Parsed, error) {
	ref := firstValue(form, callbackOrderFields...)
	if ref == "" {
		ref = firstValue(query, "order_id")
	}
	if ref == "" {
		return Parsed{}, pkgerrors.New(pkgerrors.CodeValidation, "no order reference provided").WithDetails(map[string]string{
			"order_id": "required",
		})
	}
	orderID, ok := toyyibpay.ParseExternalReference(p.referencePrefix, ref)
	if !ok {
		return Parsed{}, pkgerrors.New(pkgerrors.CodeValidation, "order reference is malformed").WithDetails(map[string]string{
			"order_id": "must be an order id or external reference",
		})
	}

	status := firstValue(form, callbackStatusFields...)
	if status == "" {
		status = firstValue(query, returnStatusFields...)
	}
	bill := firstValue(form, callbackBillFields...)
	if bill == "" {
		bill = firstValue(query, "billcode")
	}

	return Parsed{
		Signal: Signal{
			OrderID:  orderID,
			Outcome:  outcomeFromCode(status),
			Source:   enums.ReconciliationSourceCallback,
			BillCode: optional(bill),
			Reason:   failureReason(firstValue(form, callbackReasonFields...)),
		},
		RawStatus:    status,
		RawReference: ref,
	}, nil
}

// FromReturn reads the browser return redirect. The order id in the path is
// authoritative; a missing status leaves the outcome unknown so the caller can
// fall back to the stored order.
func (p Parser) FromReturn(orderIDParam string, query url.Values) (Parsed, error) {
	orderID, err := uuid.Parse(strings.TrimSpace(orderIDParam))
	if err != nil {
		return Parsed{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id")
	}
	status := firstValue(query, returnStatusFields...)
	return Parsed{
		Signal: Signal{
			OrderID:  orderID,
			Outcome:  outcomeFromCode(status),
			Source:   enums.ReconciliationSourceReturn,
			BillCode: optional(firstValue(query, "billcode")),
			Reason:   failureReason(firstValue(query, "msg")),
		},
		RawStatus:    status,
		RawReference: orderIDParam,
	}, nil
}

// FromManual reads an operator verification. status accepts a gateway code
// or one of success, paid, failure, failed, pending.
func (p Parser) FromManual(orderIDParam, status string) (Parsed, error) {
	orderID, err := uuid.Parse(strings.TrimSpace(orderIDParam))
	if err != nil {
		return Parsed{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id")
	}
	status = strings.ToLower(strings.TrimSpace(status))

	outcome := outcomeFromCode(status)
	switch status {
	case "success", "paid":
		outcome = enums.PaymentOutcomeSuccess
	case "failure", "failed":
		outcome = enums.PaymentOutcomeFailure
	case "pending":
		outcome = enums.PaymentOutcomePending
	}
	sig := Signal{
		OrderID: orderID,
		Outcome: outcome,
		Source:  enums.ReconciliationSourceManual,
	}
	if outcome == enums.PaymentOutcomeFailure {
		sig.Reason = orders.ReasonManual
	}
	return Parsed{Signal: sig, RawStatus: status, RawReference: orderIDParam}, nil
}

// OutcomeFromGateway converts a gateway status into a payment outcome.
func OutcomeFromGateway(status toyyibpay.Status) enums.PaymentOutcome {
	switch status {
	case toyyibpay.StatusSuccess:
		return enums.PaymentOutcomeSuccess
	case toyyibpay.StatusFailure:
		return enums.PaymentOutcomeFailure
	case toyyibpay.StatusPending:
		return enums.PaymentOutcomePending
	default:
		return enums.PaymentOutcomeUnknown
	}
}

func outcomeFromCode(code string) enums.PaymentOutcome {
	return OutcomeFromGateway(toyyibpay.ParseStatus(code))
}

// failureReason keeps gateway-supplied reasons short enough for the column
// and valid UTF-8 for Postgres text.
func failureReason(raw string) string {
	raw = strings.TrimSpace(strings.ToValidUTF8(raw, ""))
	if raw == "" {
		return ""
	}
	const limit = 120
	if runes := []rune(raw); len(runes) > limit {
		raw = strings.TrimSpace(string(runes[:limit]))
	}
	return "gateway_failure: " + raw
}

func firstValue(values url.Values, keys ...string) string {
	if values == nil {
		return ""
	}
	for _, key := range keys {
		if v := strings.TrimSpace(values.Get(key)); v != "" {
			return v
		}
	}
	return ""
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
