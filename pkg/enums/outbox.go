package enums

import "slices"

// OutboxAggregateType and OutboxEventType mirror the aggregate_type and
// event_type Postgres enums. Every published event today is about an order.
type OutboxAggregateType string

const AggregateOrder OutboxAggregateType = "order"

func (a OutboxAggregateType) IsValid() bool { return a == AggregateOrder }

type OutboxEventType string

const (
	EventOrderCreated OutboxEventType = "order_created"
	EventOrderPaid    OutboxEventType = "order_paid"
	EventOrderFailed  OutboxEventType = "order_failed"
	EventOrderExpired OutboxEventType = "order_expired"
)

var outboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderFailed,
	EventOrderExpired,
}

func (e OutboxEventType) IsValid() bool { return slices.Contains(outboxEventTypes, e) }

// OutboxDLQErrorReason records why an event was parked in outbox_dlq
// instead of published.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) String() string { return string(r) }

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
