package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/bnd-apparel/storefront-backend/pkg/db/models"
	"github.com/bnd-apparel/storefront-backend/pkg/enums"
	"github.com/bnd-apparel/storefront-backend/pkg/outbox/registry"
)

// inflight is one claimed row between Publish and settlement.
type inflight struct {
	event    models.OutboxEvent
	resolved *registry.ResolvedEvent
	result   publishResult
	err      error
}

// processBatch claims up to batchSize rows, hands them all to Pub/Sub so the
// client can batch them, then settles each from its publish result. A crash
// before commit leaves every row claimable again.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		processed = len(events) > 0

		publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		defer cancel()

		batch := make([]inflight, 0, len(events))
		for _, event := range events {
			batch = append(batch, s.send(publishCtx, event))
		}
		for _, item := range batch {
			if err := s.settle(publishCtx, tx, item); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

// send resolves the row and starts its publish without waiting for the ack.
func (s *Service) send(ctx context.Context, event models.OutboxEvent) inflight {
	item := inflight{event: event}
	item.resolved, item.err = s.registry.Resolve(event)
	if item.err != nil {
		return item
	}
	topic := item.resolved.Descriptor.Topic
	pub := s.publisherFor(topic)
	if pub == nil {
		item.err = registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
		return item
	}
	item.result = pub.Publish(ctx, newMessage(event, item.resolved))
	if item.result == nil {
		item.err = registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	return item
}

// settle records the outcome of one row. Only bookkeeping failures are
// returned; publish failures are written to the row itself.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, item inflight) error {
	event := item.event
	err := item.err
	if err == nil {
		_, err = item.result.Get(ctx)
	}
	logCtx := s.logg.WithFields(ctx, eventFields(event, item.resolved))

	switch {
	case err == nil:
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.observe(event, "published")
		s.logg.Info(logCtx, "order event published")
		return nil
	case registry.IsNonRetryable(err):
		return s.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonNonRetryable, err)
	case event.AttemptCount+1 >= s.maxAttempts:
		return s.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("max publish attempts reached: %w", err))
	}

	s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "order event publish failed, will retry")
	s.observe(event, "retry")
	if err := s.repo.MarkFailedTx(tx, event.ID, err); err != nil {
		return fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	return nil
}

// deadLetter parks the row in outbox_dlq and stops it from being claimed.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"error":        cause.Error(),
		"error_reason": reason,
	}), "order event dead-lettered")

	if err := s.dlq.DeadLetterTx(tx, event, reason, cause); err != nil {
		return fmt.Errorf("dead-letter %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	s.observe(event, "dead_lettered")
	return nil
}

// newMessage carries the stored envelope as the body; attributes let
// subscribers filter without decoding it.
func newMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if src := resolved.Envelope.Source; src != nil && src.Source != "" {
		attrs["source"] = src.Source
	}
	return &gcppubsub.Message{Data: event.Payload, Attributes: attrs}
}

func eventFields(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"aggregate_id":  event.AggregateID.String(),
		"attempt_count": event.AttemptCount,
	}
	if resolved != nil {
		fields["topic"] = resolved.Descriptor.Topic
		if resolved.Envelope.EventID != "" {
			fields["event_id"] = resolved.Envelope.EventID
		}
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

var errNilResult = errors.New("publish result is nil")
