package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnd-apparel/storefront-backend/pkg/config"
	"github.com/bnd-apparel/storefront-backend/pkg/db/models"
	"github.com/bnd-apparel/storefront-backend/pkg/enums"
	"github.com/bnd-apparel/storefront-backend/pkg/outbox"
	"github.com/bnd-apparel/storefront-backend/pkg/outbox/payloads"
)

const testTopic = "bnd-order-events"

func TestResolveDecodesOrderCreated(t *testing.T) {
	reg := ordersRegistry(t)
	orderID := uuid.New()
	data, err := json.Marshal(payloads.OrderCreatedEvent{
		OrderID:     orderID,
		CustomerID:  uuid.New(),
		TotalAmount: "59.80",
		Lines:       []payloads.OrderLine{{VariantID: uuid.New(), Quantity: 2, PriceAtPurchase: "29.90"}},
	})
	require.NoError(t, err)

	resolved, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload:       envelopeOf(t, 1, data),
	})
	require.NoError(t, err)

	assert.Equal(t, EventDescriptor{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		Topic:         testTopic,
	}, resolved.Descriptor)
	assert.NotEmpty(t, resolved.Envelope.EventID)
	assert.False(t, resolved.Envelope.OccurredAt.IsZero())

	created, ok := resolved.Payload.(*payloads.OrderCreatedEvent)
	require.True(t, ok, "payload type %T", resolved.Payload)
	assert.Equal(t, orderID, created.OrderID)
	require.Len(t, created.Lines, 1)
	assert.Equal(t, 2, created.Lines[0].Quantity)
}

func TestResolveTreatsMissingVersionAsCurrent(t *testing.T) {
	resolved, err := ordersRegistry(t).Resolve(models.OutboxEvent{
		EventType:     enums.EventOrderExpired,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       envelopeOf(t, 0, []byte(`{"order_id":"`+uuid.NewString()+`"}`)),
	})
	require.NoError(t, err)
	assert.IsType(t, &payloads.OrderExpiredEvent{}, resolved.Payload)
}

func TestResolveRejectsUnpublishableRows(t *testing.T) {
	valid := func() models.OutboxEvent {
		return models.OutboxEvent{
			EventType:     enums.EventOrderFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       envelopeOf(t, 1, []byte(`{"reason":"gateway_failure"}`)),
		}
	}
	cases := map[string]func(*models.OutboxEvent){
		"unknown event type": func(e *models.OutboxEvent) { e.EventType = "order_refunded" },
		"aggregate mismatch": func(e *models.OutboxEvent) { e.AggregateType = "customer" },
		"nil aggregate id":   func(e *models.OutboxEvent) { e.AggregateID = uuid.Nil },
		"null payload":       func(e *models.OutboxEvent) { e.Payload = envelopeOf(t, 1, []byte("null")) },
		"unknown version":    func(e *models.OutboxEvent) { e.Payload = envelopeOf(t, 7, []byte(`{}`)) },
		"corrupt envelope":   func(e *models.OutboxEvent) { e.Payload = json.RawMessage(`{"version":`) },
		"wrong payload shape": func(e *models.OutboxEvent) {
			e.Payload = envelopeOf(t, 1, []byte(`{"order_id":42}`))
		},
	}

	reg := ordersRegistry(t)
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			event := valid()
			mutate(&event)
			_, err := reg.Resolve(event)
			require.Error(t, err)
			assert.True(t, IsNonRetryable(err), "expected non-retryable, got %v", err)
		})
	}
}

func TestNonRetryableSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("publish: %w", NewNonRetryableError(errors.New("bad row")))
	assert.True(t, IsNonRetryable(err))
	assert.EqualError(t, err, "publish: bad row")
	assert.False(t, IsNonRetryable(errors.New("timeout")))
	assert.Equal(t, "non-retryable error", NonRetryableError{}.Error())
}

func TestNewEventRegistry(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{})
	require.Error(t, err)

	assert.Equal(t, []string{testTopic}, ordersRegistry(t).Topics())
}

func ordersRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{OrdersTopic: testTopic})
	require.NoError(t, err)
	return reg
}

func envelopeOf(t *testing.T, version int, data []byte) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	require.NoError(t, err)
	return raw
}
