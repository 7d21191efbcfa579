// Package reconciliation converges payment outcome notifications into one
// authoritative order state. Callback, browser return and manual verification
// all parse their input into a Signal and call Apply.
package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bnd-apparel/storefront-backend/internal/inventory"
	"github.com/bnd-apparel/storefront-backend/internal/orders"
	"github.com/bnd-apparel/storefront-backend/pkg/db/models"
	"github.com/bnd-apparel/storefront-backend/pkg/enums"
	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
	"github.com/bnd-apparel/storefront-backend/pkg/logger"
	"github.com/bnd-apparel/storefront-backend/pkg/outbox"
	"github.com/bnd-apparel/storefront-backend/pkg/outbox/payloads"
	"github.com/bnd-apparel/storefront-backend/pkg/toyyibpay"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type orderStore interface {
	Lock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	Items(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.OrderItem, error)
	TransitionToPaid(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error)
	TransitionToFailed(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (bool, error)
	GetModel(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type stockDeducter interface {
	ReserveAndDeduct(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, quantity int) error
}

type transactionLister interface {
	GetBillTransactions(ctx context.Context, billCode string) ([]toyyibpay.Transaction, error)
}

type reconciliationMetrics interface {
	IncReconciliation(source, outcome, result string)
	AddStockDeducted(units int)
}

// Signal is a normalized payment outcome for one order.
type Signal struct {
	OrderID  uuid.UUID
	Outcome  enums.PaymentOutcome
	Source   enums.ReconciliationSource
	BillCode *string
	// Reason is recorded on failure; it defaults to gateway_failure.
	Reason string
}

// Action names what Apply did with a signal.
type Action string

const (
	ActionPaid              Action = "paid"
	ActionAlreadyPaid       Action = "already_paid"
	ActionFailed            Action = "failed"
	ActionAlreadyFailed     Action = "already_failed"
	ActionUnchanged         Action = "unchanged"
	ActionInsufficientStock Action = "insufficient_stock"
)

// Result reports the stored order state after a signal was applied.
type Result struct {
	OrderID uuid.UUID            `json:"orderId"`
	Status  enums.OrderStatus    `json:"status"`
	Outcome enums.PaymentOutcome `json:"outcome"`
	Action  Action               `json:"result"`
}

// Service is the single transition function behind every payment entry point.
type Service struct {
	tx      txRunner
	orders  orderStore
	ledger  stockDeducter
	outbox  outbox.Emitter
	metrics reconciliationMetrics
	gateway transactionLister
	guard   *CallbackGuard
	logg    *logger.Logger
	now     func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithGatewayLookup lets Verify ask the gateway for the bill's latest
// transaction when the operator supplies no status.
func WithGatewayLookup(gateway transactionLister) Option {
	return func(s *Service) {
		s.gateway = gateway
	}
}

// WithCallbackGuard enables replay skipping for callback deliveries.
func WithCallbackGuard(guard *CallbackGuard) Option {
	return func(s *Service) {
		s.guard = guard
	}
}

// NewService builds the reconciliation service. metrics may be nil.
func NewService(tx txRunner, store orderStore, ledger stockDeducter, publisher outbox.Emitter, metrics reconciliationMetrics, logg *logger.Logger, opts ...Option) (*Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if store == nil {
		return nil, fmt.Errorf("order store required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	svc := &Service{
		tx:      tx,
		orders:  store,
		ledger:  ledger,
		outbox:  publisher,
		metrics: metrics,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// HandleCallback applies a callback delivery. A delivery already applied
// within the dedupe window is answered from the stored order without
// re-entering Apply; the mark is dropped again when Apply fails so the
// gateway's retry is processed.
func (s *Service) HandleCallback(ctx context.Context, p Parsed) (*Result, error) {
	if s.guard == nil || !p.HasStatus() {
		return s.Apply(ctx, p.Signal)
	}
	key := DeliveryKey(p)
	seen, err := s.guard.CheckAndMark(ctx, key)
	if err != nil {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "callback dedupe unavailable")
		}
		return s.Apply(ctx, p.Signal)
	}
	if seen {
		order, err := s.orders.GetModel(ctx, p.OrderID)
		if err != nil {
			return nil, err
		}
		return &Result{OrderID: order.ID, Status: order.Status, Outcome: p.Outcome, Action: ActionUnchanged}, nil
	}

	result, err := s.Apply(ctx, p.Signal)
	if err != nil {
		if rerr := s.guard.Release(ctx, key); rerr != nil && s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", rerr.Error()), "release callback dedupe key failed")
		}
		return nil, err
	}
	return result, nil
}

// Verify applies an operator verification. When no status was supplied and
// gateway lookup is enabled, the outcome comes from the latest transaction of
// the order's stored bill.
func (s *Service) Verify(ctx context.Context, p Parsed) (*Result, error) {
	if p.HasStatus() || s.gateway == nil {
		return s.Apply(ctx, p.Signal)
	}
	order, err := s.orders.GetModel(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if order.BillCode == nil || *order.BillCode == "" {
		return s.Apply(ctx, p.Signal)
	}
	txs, err := s.gateway.GetBillTransactions(ctx, *order.BillCode)
	if err != nil {
		return nil, err
	}
	sig := p.Signal
	sig.BillCode = order.BillCode
	sig.Outcome = OutcomeFromGateway(toyyibpay.LatestOutcome(txs))
	if sig.Outcome == enums.PaymentOutcomeFailure {
		sig.Reason = orders.ReasonGatewayFailure
	}
	return s.Apply(ctx, sig)
}

// Apply converges the order named by sig. It is safe to call any number of
// times, in any order and concurrently for the same order: paid is terminal
// and stock is deducted at most once.
func (s *Service) Apply(ctx context.Context, sig Signal) (result *Result, err error) {
	if sig.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order reference is required")
	}
	if !sig.Source.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown signal source %q", sig.Source))
	}

	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithSource(s.logg.WithOrderID(ctx, sig.OrderID.String()), sig.Source.String())
	}
	defer func() {
		label := string(pkgerrors.CodeOf(err))
		if err == nil {
			label = string(result.Action)
		}
		if s.metrics != nil {
			s.metrics.IncReconciliation(sig.Source.String(), string(sig.Outcome), label)
		}
	}()

	switch sig.Outcome {
	case enums.PaymentOutcomeSuccess:
		return s.applySuccess(logCtx, sig)
	case enums.PaymentOutcomeFailure:
		reason := sig.Reason
		if reason == "" {
			reason = orders.ReasonGatewayFailure
		}
		return s.applyFailure(logCtx, sig, reason)
	case enums.PaymentOutcomePending:
		order, err := s.orders.GetModel(ctx, sig.OrderID)
		if err != nil {
			return nil, err
		}
		return &Result{OrderID: order.ID, Status: order.Status, Outcome: sig.Outcome, Action: ActionUnchanged}, nil
	default:
		order, err := s.orders.GetModel(ctx, sig.OrderID)
		if err != nil {
			return nil, err
		}
		if s.logg != nil {
			s.logg.Warn(logCtx, "ambiguous payment status; order left unchanged")
		}
		return nil, pkgerrors.New(pkgerrors.CodeAmbiguousStatus, "payment status could not be determined").WithDetails(map[string]any{
			"orderId": order.ID,
			"status":  order.Status,
		})
	}
}

func (s *Service) applySuccess(ctx context.Context, sig Signal) (*Result, error) {
	var (
		alreadyPaid bool
		deducted    int
		items       []models.OrderItem
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		alreadyPaid, err = s.orders.TransitionToPaid(ctx, tx, sig.OrderID)
		if err != nil || alreadyPaid {
			return err
		}

		items, err = s.orders.Items(ctx, tx, sig.OrderID)
		if err != nil {
			return err
		}
		quantities := make(map[uuid.UUID]int, len(items))
		lines := make([]inventory.Line, 0, len(items))
		for _, item := range items {
			if _, seen := quantities[item.VariantID]; !seen {
				lines = append(lines, inventory.Line{VariantID: item.VariantID})
			}
			quantities[item.VariantID] += item.Quantity
		}
		for _, line := range inventory.SortLines(lines) {
			if err := s.ledger.ReserveAndDeduct(ctx, tx, line.VariantID, quantities[line.VariantID]); err != nil {
				return err
			}
			deducted += quantities[line.VariantID]
		}

		order, err := s.orders.Lock(ctx, tx, sig.OrderID)
		if err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   sig.OrderID,
			Source:        outbox.SourceFrom(ctx, sig.Source.String()),
			Data: payloads.OrderPaidEvent{
				OrderID:     order.ID,
				CustomerID:  order.CustomerID,
				TotalAmount: order.TotalAmount.StringFixed(2),
				BillCode:    firstNonNil(sig.BillCode, order.BillCode),
				Source:      sig.Source,
				Lines:       paidLines(items),
				PaidAt:      paidAt(order, s.now()),
			},
		})
	})

	switch {
	case err == nil && alreadyPaid:
		return &Result{OrderID: sig.OrderID, Status: enums.OrderStatusPaid, Outcome: sig.Outcome, Action: ActionAlreadyPaid}, nil
	case err == nil:
		if s.metrics != nil {
			s.metrics.AddStockDeducted(deducted)
		}
		if s.logg != nil {
			s.logg.Info(s.logg.WithField(ctx, "units", deducted), "payment confirmed; stock deducted")
		}
		return &Result{OrderID: sig.OrderID, Status: enums.OrderStatusPaid, Outcome: sig.Outcome, Action: ActionPaid}, nil
	case pkgerrors.Is(err, pkgerrors.CodeInsufficientStock):
		if s.logg != nil {
			s.logg.Error(ctx, "payment confirmed but stock is short; failing order", err)
		}
		failed, ferr := s.applyFailure(ctx, sig, orders.ReasonInsufficientStock)
		if ferr != nil {
			return nil, ferr
		}
		if failed.Action == ActionFailed {
			failed.Action = ActionInsufficientStock
		}
		return failed, nil
	case pkgerrors.Is(err, pkgerrors.CodeStateConflict):
		if s.logg != nil {
			s.logg.Error(ctx, "payment success reported for a failed order; operator follow-up needed", err)
		}
		return nil, err
	default:
		return nil, err
	}
}

func (s *Service) applyFailure(ctx context.Context, sig Signal, reason string) (*Result, error) {
	result := &Result{OrderID: sig.OrderID, Outcome: sig.Outcome}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.Lock(ctx, tx, sig.OrderID)
		if err != nil {
			return err
		}
		result.Status = order.Status
		switch order.Status {
		case enums.OrderStatusPaid:
			result.Action = ActionUnchanged
			return nil
		case enums.OrderStatusFailed:
			result.Action = ActionAlreadyFailed
			return nil
		}

		changed, err := s.orders.TransitionToFailed(ctx, tx, sig.OrderID, reason)
		if err != nil {
			return err
		}
		if !changed {
			result.Action = ActionUnchanged
			return nil
		}
		result.Status = enums.OrderStatusFailed
		result.Action = ActionFailed
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   sig.OrderID,
			Source:        outbox.SourceFrom(ctx, sig.Source.String()),
			Data: payloads.OrderFailedEvent{
				OrderID:  sig.OrderID,
				Reason:   reason,
				Source:   sig.Source,
				FailedAt: s.now(),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func paidLines(items []models.OrderItem) []payloads.OrderLine {
	out := make([]payloads.OrderLine, len(items))
	for i, item := range items {
		out[i] = payloads.OrderLine{
			VariantID:       item.VariantID,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase.StringFixed(2),
		}
	}
	return out
}

func paidAt(order *models.Order, fallback time.Time) time.Time {
	if order.PaymentDate != nil {
		return order.PaymentDate.UTC()
	}
	return fallback
}

func firstNonNil(values ...*string) *string {
	for _, v := range values {
		if v != nil && *v != "" {
			return v
		}
	}
	return nil
}
