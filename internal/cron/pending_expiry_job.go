package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/bnd-apparel/storefront-backend/internal/orders"
	"github.com/bnd-apparel/storefront-backend/pkg/db/models"
	"github.com/bnd-apparel/storefront-backend/pkg/enums"
	"github.com/bnd-apparel/storefront-backend/pkg/logger"
	"github.com/bnd-apparel/storefront-backend/pkg/outbox"
	"github.com/bnd-apparel/storefront-backend/pkg/outbox/payloads"
)

const (
	defaultPendingTTL      = 24 * time.Hour
	defaultExpiryBatchSize = 100
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type pendingOrderStore interface {
	ListPendingBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) ([]models.Order, error)
	TransitionToFailed(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (bool, error)
}

type reconciliationRecorder interface {
	IncReconciliation(source, outcome, result string)
}

// PendingExpiryJobParams configure the abandoned-order sweep.
type PendingExpiryJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Orders    pendingOrderStore
	Outbox    outboxEmitter
	Metrics   reconciliationRecorder
	TTL       time.Duration
	BatchSize int
}

// NewPendingExpiryJob builds the job that fails pending orders older than the
// configured TTL. Stock is only deducted on payment, so nothing is restored.
func NewPendingExpiryJob(params PendingExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	return &pendingExpiryJob{
		logg:    params.Logger,
		db:      params.DB,
		orders:  params.Orders,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		ttl:     positiveOr(params.TTL, defaultPendingTTL),
		batch:   positiveOr(params.BatchSize, defaultExpiryBatchSize),
		now:     time.Now,
	}, nil
}

type pendingExpiryJob struct {
	logg    *logger.Logger
	db      txRunner
	orders  pendingOrderStore
	outbox  outboxEmitter
	metrics reconciliationRecorder
	ttl     time.Duration
	batch   int
	now     func() time.Time
}

func (j *pendingExpiryJob) Name() string { return "pending-order-expiry" }

func (j *pendingExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)

	var stale []models.Order
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.orders.ListPendingBefore(ctx, tx, cutoff, j.batch)
		if err != nil {
			return err
		}
		stale = rows
		return nil
	})
	if err != nil {
		return fmt.Errorf("query pending orders for expiry: %w", err)
	}

	var errs error
	expired := 0
	for _, order := range stale {
		changed, err := j.expireOrder(ctx, order)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", order.ID, err))
			continue
		}
		if changed {
			expired++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":     cutoff,
		"candidates": len(stale),
		"expired":    expired,
		"failed":     len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "pending order expiry loop complete")
	return errs
}

// expireOrder re-checks the order under lock; a payment that landed after the
// listing wins and the order is skipped.
func (j *pendingExpiryJob) expireOrder(ctx context.Context, order models.Order) (bool, error) {
	var changed bool
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := j.orders.TransitionToFailed(ctx, tx, order.ID, orders.ReasonExpired)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		changed = true
		now := j.now().UTC()
		return j.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderExpired,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			OccurredAt:    now,
			Source:        &outbox.SourceRef{Source: enums.ReconciliationSourceExpiry.String()},
			Data: payloads.OrderExpiredEvent{
				OrderID:   order.ID,
				CreatedAt: order.CreatedAt.UTC(),
				ExpiredAt: now,
			},
		})
	})
	if err != nil {
		return false, err
	}
	if changed && j.metrics != nil {
		j.metrics.IncReconciliation(enums.ReconciliationSourceExpiry.String(), string(enums.PaymentOutcomeFailure), "failed")
	}
	return changed, nil
}
