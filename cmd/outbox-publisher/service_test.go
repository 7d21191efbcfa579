package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/bnd-apparel/storefront-backend/pkg/config"
	"github.com/bnd-apparel/storefront-backend/pkg/db/models"
	"github.com/bnd-apparel/storefront-backend/pkg/enums"
	"github.com/bnd-apparel/storefront-backend/pkg/logger"
	"github.com/bnd-apparel/storefront-backend/pkg/outbox"
	"github.com/bnd-apparel/storefront-backend/pkg/outbox/payloads"
	"github.com/bnd-apparel/storefront-backend/pkg/outbox/registry"
)

const ordersTopic = "bnd-order-events"

func TestProcessBatchSettlesEachRowIndependently(t *testing.T) {
	rows := []models.OutboxEvent{
		orderRow(t, enums.EventOrderCreated, 0),
		orderRow(t, enums.EventOrderCreated, 0),
	}
	store := &stubStore{rows: rows}
	pub := &stubPublisher{acks: []publishResult{
		stubAck{err: errors.New("deadline exceeded")},
		stubAck{},
	}}
	svc := newPublisherService(t, store, pub, routeAll(), &stubDLQ{}, nil)

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []uuid.UUID{rows[0].ID}, store.failed)
	assert.Equal(t, []uuid.UUID{rows[1].ID}, store.published)
	assert.Empty(t, store.terminal)
}

func TestProcessBatchEmptyOutbox(t *testing.T) {
	svc := newPublisherService(t, &stubStore{}, &stubPublisher{}, routeAll(), &stubDLQ{}, nil)

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessBatchSharesPublisherAcrossTopicAndObserves(t *testing.T) {
	rows := []models.OutboxEvent{
		orderRow(t, enums.EventOrderPaid, 0),
		orderRow(t, enums.EventOrderExpired, 0),
	}
	store := &stubStore{rows: rows}
	pub := &stubPublisher{acks: []publishResult{stubAck{}, stubAck{}}}
	svc := newPublisherService(t, store, pub, routeAll(), &stubDLQ{}, nil)

	var topics []string
	svc.publisherFactory = func(topic string) publisher {
		topics = append(topics, topic)
		return pub
	}
	obs := &stubObserver{}
	svc.metrics = obs

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{ordersTopic}, topics)
	assert.Len(t, store.published, 2)
	assert.Equal(t, 1, obs.counts["order_paid/published"])
	assert.Equal(t, 1, obs.counts["order_expired/published"])

	require.Len(t, pub.sent, 2)
	last := pub.sent[1]
	assert.Equal(t, rows[1].AggregateID.String(), last.Attributes["aggregate_id"])
	assert.Equal(t, "order_expired", last.Attributes["event_type"])
	assert.Equal(t, "order", last.Attributes["aggregate_type"])
	assert.JSONEq(t, string(rows[1].Payload), string(last.Data))

	svc.stopPublishers()
	assert.True(t, pub.stopped)
	assert.Empty(t, svc.publishers)
}

func TestProcessBatchDeadLetters(t *testing.T) {
	cases := []struct {
		name     string
		attempts int
		resolver registryResolver
		acks     []publishResult
		reason   enums.OutboxDLQErrorReason
	}{
		{
			name:     "unresolvable row",
			resolver: &stubResolver{err: registry.NewNonRetryableError(errors.New("payload missing"))},
			reason:   enums.OutboxDLQReasonNonRetryable,
		},
		{
			name:     "attempts exhausted",
			attempts: 1,
			resolver: routeAll(),
			acks:     []publishResult{stubAck{err: errors.New("unavailable")}},
			reason:   enums.OutboxDLQReasonMaxAttempts,
		},
		{
			name:     "publisher returned no result",
			resolver: routeAll(),
			reason:   enums.OutboxDLQReasonNonRetryable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			row := orderRow(t, enums.EventOrderCreated, tc.attempts)
			store := &stubStore{rows: []models.OutboxEvent{row}}
			dlq := &stubDLQ{}
			obs := &stubObserver{}
			svc := newPublisherService(t, store, &stubPublisher{acks: tc.acks}, tc.resolver, dlq,
				&config.OutboxConfig{BatchSize: 1, PollIntervalMS: 100, MaxAttempts: 2})
			svc.metrics = obs

			processed, err := svc.processBatch(context.Background())
			require.NoError(t, err)
			assert.True(t, processed)

			require.Len(t, dlq.rows, 1)
			parked := dlq.rows[0]
			assert.Equal(t, row.ID, parked.EventID)
			assert.Equal(t, tc.reason, parked.ErrorReason)
			assert.JSONEq(t, string(row.Payload), string(parked.Payload))
			assert.Equal(t, []uuid.UUID{row.ID}, store.terminal)
			assert.Empty(t, store.published)
			assert.Empty(t, store.failed)
			assert.Equal(t, 1, obs.counts["order_created/dead_lettered"])
		})
	}
}

func TestProcessBatchPropagatesBookkeepingFailure(t *testing.T) {
	store := &stubStore{
		rows:       []models.OutboxEvent{orderRow(t, enums.EventOrderCreated, 0)},
		publishErr: errors.New("connection reset"),
	}
	svc := newPublisherService(t, store, &stubPublisher{acks: []publishResult{stubAck{}}}, routeAll(), &stubDLQ{}, nil)

	_, err := svc.processBatch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark published")
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	logg := logger.New(logger.Options{Output: io.Discard})
	_, err := NewService(ServiceParams{Config: &config.Config{}, Logger: logg})
	require.EqualError(t, err, "database client is required")

	svc, err := NewService(ServiceParams{
		Config:        &config.Config{},
		Logger:        logg,
		DB:            stubDB{},
		PubSub:        stubPubSub{},
		Repository:    &stubStore{},
		Registry:      routeAll(),
		DLQRepository: &stubDLQ{},
	})
	require.NoError(t, err)
	assert.Equal(t, defaultBatchSize, svc.batchSize)
	assert.Equal(t, defaultMaxAttempts, svc.maxAttempts)
	assert.Equal(t, defaultPollInterval, svc.pollInterval)
	assert.Nil(t, svc.publisherFor("missing"))
}

func newPublisherService(t *testing.T, store outboxRepository, pub publisher, resolver registryResolver, dlq dlqRepository, override *config.OutboxConfig) *Service {
	t.Helper()
	outboxCfg := config.OutboxConfig{BatchSize: 2, PollIntervalMS: 100, MaxAttempts: 5}
	if override != nil {
		outboxCfg = *override
	}
	svc, err := NewService(ServiceParams{
		Config:           &config.Config{Outbox: outboxCfg},
		Logger:           logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:               stubDB{},
		PubSub:           stubPubSub{},
		Repository:       store,
		Registry:         resolver,
		PublisherFactory: func(string) publisher { return pub },
		DLQRepository:    dlq,
	})
	require.NoError(t, err)
	return svc
}

func orderRow(t *testing.T, eventType enums.OutboxEventType, attempts int) models.OutboxEvent {
	t.Helper()
	id := uuid.New()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    outbox.CurrentVersion,
		EventID:    id.String(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"orderId":"` + uuid.NewString() + `"}`),
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            id,
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       payload,
		AttemptCount:  attempts,
	}
}

// routeAll resolves every row to the orders topic.
func routeAll() *stubResolver {
	return &stubResolver{topic: ordersTopic}
}

type stubResolver struct {
	topic string
	err   error
}

func (r *stubResolver) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			Topic:         r.topic,
		},
		Envelope: outbox.PayloadEnvelope{EventID: event.ID.String(), OccurredAt: time.Now()},
		Payload:  &payloads.OrderCreatedEvent{},
	}, nil
}

type stubStore struct {
	rows       []models.OutboxEvent
	publishErr error
	published  []uuid.UUID
	failed     []uuid.UUID
	terminal   []uuid.UUID
}

func (s *stubStore) FetchUnpublishedForPublish(_ *gorm.DB, _, _ int) ([]models.OutboxEvent, error) {
	return s.rows, nil
}

func (s *stubStore) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	if s.publishErr != nil {
		return s.publishErr
	}
	s.published = append(s.published, id)
	return nil
}

func (s *stubStore) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	s.failed = append(s.failed, id)
	return nil
}

func (s *stubStore) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	s.terminal = append(s.terminal, id)
	return nil
}

type stubDB struct{}

func (stubDB) Ping(context.Context) error { return nil }

func (stubDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type stubPubSub struct{}

func (stubPubSub) Ping(context.Context) error { return nil }

func (stubPubSub) Publisher(string) *gcppubsub.Publisher { return nil }

type stubPublisher struct {
	acks    []publishResult
	sent    []*gcppubsub.Message
	stopped bool
}

func (p *stubPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.sent = append(p.sent, msg)
	if len(p.acks) == 0 {
		return nil
	}
	ack := p.acks[0]
	p.acks = p.acks[1:]
	return ack
}

func (p *stubPublisher) Stop() { p.stopped = true }

type stubAck struct {
	err error
}

func (a stubAck) Get(context.Context) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "server-id", nil
}

type stubDLQ struct {
	rows []models.OutboxDLQ
}

func (d *stubDLQ) DeadLetterTx(_ *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, _ error) error {
	d.rows = append(d.rows, event.DeadLetter(reason, nil, time.Now()))
	return nil
}

type stubObserver struct {
	counts map[string]int
}

func (o *stubObserver) ObservePublish(eventType, result string) {
	if o.counts == nil {
		o.counts = map[string]int{}
	}
	o.counts[eventType+"/"+result]++
}
