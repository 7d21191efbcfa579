package registry

import (
	"encoding/json"
	"fmt"

	"github.com/bnd-apparel/storefront-backend/pkg/enums"
	"github.com/bnd-apparel/storefront-backend/pkg/outbox/payloads"
)

type decodeFunc func(data json.RawMessage) (any, error)

type schema struct {
	event   enums.OutboxEventType
	version int
}

// DecoderRegistry maps an (event type, envelope version) pair to the payload
// struct it decodes into. A breaking payload change adds a version next to
// the old one, so rows written before a deploy still publish after it.
// Registration happens before the publisher starts; lookups are read-only.
type DecoderRegistry struct {
	schemas map[schema]decodeFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{schemas: make(map[schema]decodeFunc)}
}

// NewOrderDecoderRegistry knows version 1 of every order event.
func NewOrderDecoderRegistry() *DecoderRegistry {
	reg := NewDecoderRegistry()
	Register[payloads.OrderCreatedEvent](reg, enums.EventOrderCreated, 1)
	Register[payloads.OrderPaidEvent](reg, enums.EventOrderPaid, 1)
	Register[payloads.OrderFailedEvent](reg, enums.EventOrderFailed, 1)
	Register[payloads.OrderExpiredEvent](reg, enums.EventOrderExpired, 1)
	return reg
}

// Register decodes version of event into a *T.
func Register[T any](reg *DecoderRegistry, event enums.OutboxEventType, version int) {
	reg.schemas[schema{event: event, version: version}] = func(data json.RawMessage) (any, error) {
		out := new(T)
		if err := json.Unmarshal(data, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func (r *DecoderRegistry) Decode(event enums.OutboxEventType, version int, data json.RawMessage) (any, error) {
	decode, ok := r.schemas[schema{event: event, version: version}]
	if !ok {
		return nil, fmt.Errorf("no schema for %s v%d", event, version)
	}
	return decode(data)
}
