package enums

import "slices"

// OrderStatus is the order lifecycle: pending moves once, to paid or failed.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusPaid    OrderStatus = "paid"
	OrderStatusFailed  OrderStatus = "failed"
)

var orderStatuses = []OrderStatus{OrderStatusPending, OrderStatusPaid, OrderStatusFailed}

func ParseOrderStatus(value string) (OrderStatus, error) {
	return parse("order status", value, orderStatuses)
}

func (s OrderStatus) String() string { return string(s) }

func (s OrderStatus) IsValid() bool { return slices.Contains(orderStatuses, s) }

// IsTerminal is true for paid and failed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusFailed
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return s == OrderStatusPending && next.IsTerminal()
}

// PaymentOutcome is a gateway status normalized by the ToyyibPay adapter.
// Unknown covers anything the adapter could not classify.
type PaymentOutcome string

const (
	PaymentOutcomeSuccess PaymentOutcome = "success"
	PaymentOutcomeFailure PaymentOutcome = "failure"
	PaymentOutcomePending PaymentOutcome = "pending"
	PaymentOutcomeUnknown PaymentOutcome = "unknown"
)

var paymentOutcomes = []PaymentOutcome{
	PaymentOutcomeSuccess,
	PaymentOutcomeFailure,
	PaymentOutcomePending,
	PaymentOutcomeUnknown,
}

func ParsePaymentOutcome(value string) (PaymentOutcome, error) {
	return parse("payment outcome", value, paymentOutcomes)
}

func (o PaymentOutcome) String() string { return string(o) }

func (o PaymentOutcome) IsValid() bool { return slices.Contains(paymentOutcomes, o) }

// ReconciliationSource is the entry point that delivered a payment outcome.
type ReconciliationSource string

const (
	ReconciliationSourceCallback ReconciliationSource = "callback"
	ReconciliationSourceReturn   ReconciliationSource = "return"
	ReconciliationSourceManual   ReconciliationSource = "manual"
	ReconciliationSourceExpiry   ReconciliationSource = "expiry"
)

var reconciliationSources = []ReconciliationSource{
	ReconciliationSourceCallback,
	ReconciliationSourceReturn,
	ReconciliationSourceManual,
	ReconciliationSourceExpiry,
}

func (s ReconciliationSource) String() string { return string(s) }

func (s ReconciliationSource) IsValid() bool { return slices.Contains(reconciliationSources, s) }
