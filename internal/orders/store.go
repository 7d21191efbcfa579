package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/bnd-apparel/storefront-backend/pkg/db"
	"github.com/bnd-apparel/storefront-backend/pkg/db/models"
	"github.com/bnd-apparel/storefront-backend/pkg/enums"
	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
	"github.com/bnd-apparel/storefront-backend/pkg/logger"
)

// Store owns order records and the pending -> paid / pending -> failed
// lifecycle. Transitions run inside the caller's transaction and hold the
// order row lock until it ends.
type Store struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// NewStore builds an order store with the required dependencies.
func NewStore(repo Repository, logg *logger.Logger) (*Store, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	return &Store{repo: repo, logg: logg, now: func() time.Time { return time.Now().UTC() }}, nil
}

// CreatePendingOrder inserts the order header and every item in tx. Stock is
// not touched.
func (s *Store) CreatePendingOrder(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, items []NewItem, totals Totals) (uuid.UUID, error) {
	if tx == nil {
		return uuid.Nil, errors.New("transaction required")
	}
	if customerID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "customer is required")
	}
	if len(items) == 0 {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}
	if totals.Total.IsNegative() || totals.ShippingCost.IsNegative() || totals.ProcessingFee.IsNegative() {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order amounts must not be negative")
	}
	for i, item := range items {
		if item.VariantID == uuid.Nil || item.Quantity <= 0 || item.PriceAtPurchase.IsNegative() {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order item at index %d", i))
		}
	}

	repo := s.repo.WithTx(tx)
	order, err := repo.CreateOrder(ctx, &models.Order{
		CustomerID:    customerID,
		Status:        enums.OrderStatusPending,
		TotalAmount:   totals.Total,
		ShippingCost:  totals.ShippingCost,
		ProcessingFee: totals.ProcessingFee,
	})
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}

	rows := make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		rows = append(rows, models.OrderItem{
			OrderID:         order.ID,
			VariantID:       item.VariantID,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase,
		})
	}
	if err := repo.CreateOrderItems(ctx, rows); err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order items")
	}
	return order.ID, nil
}

// Lock reads the order with its row lock held for the rest of tx.
func (s *Store) Lock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	order, err := s.repo.WithTx(tx).LockOrder(ctx, orderID)
	if err != nil {
		return nil, mapFindError(err, "lock order")
	}
	return order, nil
}

// Items lists the immutable item snapshots of an order ordered by variant id.
func (s *Store) Items(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.OrderItem, error) {
	items, err := s.repo.WithTx(tx).FindOrderItems(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
	}
	return items, nil
}

// TransitionToPaid marks a pending order paid with payment_date = now. A paid
// order is reported as alreadyPaid with no write; a failed order is a
// STATE_CONFLICT.
func (s *Store) TransitionToPaid(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (alreadyPaid bool, err error) {
	order, err := s.Lock(ctx, tx, orderID)
	if err != nil {
		return false, err
	}
	switch order.Status {
	case enums.OrderStatusPaid:
		return true, nil
	case enums.OrderStatusPending:
	default:
		return false, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is %s and cannot be paid", order.Status)).
			WithDetails(map[string]any{"orderId": orderID, "status": order.Status})
	}

	affected, err := s.repo.WithTx(tx).UpdateOrderStatus(ctx, orderID, enums.OrderStatusPending, enums.OrderStatusPaid, map[string]any{
		"payment_date":   s.now(),
		"failure_reason": nil,
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
	}
	if affected == 0 {
		return false, pkgerrors.New(pkgerrors.CodeConflict, "order changed while locked")
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithOrderID(ctx, orderID.String()), "order marked paid")
	}
	return false, nil
}

// TransitionToFailed moves a pending order to failed with reason. Failed and
// paid orders are left untouched and reported with changed=false.
func (s *Store) TransitionToFailed(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (changed bool, err error) {
	order, err := s.Lock(ctx, tx, orderID)
	if err != nil {
		return false, err
	}
	if !order.Status.CanTransitionTo(enums.OrderStatusFailed) {
		return false, nil
	}

	var reasonValue any
	if reason != "" {
		reasonValue = reason
	}
	affected, err := s.repo.WithTx(tx).UpdateOrderStatus(ctx, orderID, enums.OrderStatusPending, enums.OrderStatusFailed, map[string]any{
		"failure_reason": reasonValue,
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order failed")
	}
	if affected > 0 && s.logg != nil {
		logCtx := s.logg.WithField(s.logg.WithOrderID(ctx, orderID.String()), "reason", reason)
		s.logg.Info(logCtx, "order marked failed")
	}
	return affected > 0, nil
}

// AttachBill records the gateway bill code and external reference on a
// pending order. Terminal orders keep their stored values.
func (s *Store) AttachBill(ctx context.Context, orderID uuid.UUID, billCode, externalRef string) error {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return mapFindError(err, "load order")
	}
	if order.Status != enums.OrderStatusPending {
		return nil
	}
	if err := s.repo.UpdateOrder(ctx, orderID, map[string]any{
		"bill_code":          billCode,
		"external_reference": externalRef,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach bill")
	}
	return nil
}

// GetModel loads the stored order header.
func (s *Store) GetModel(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, mapFindError(err, "load order")
	}
	return order, nil
}

// Get returns the public summary of an order.
func (s *Store) Get(ctx context.Context, orderID uuid.UUID) (*OrderSummary, error) {
	order, err := s.GetModel(ctx, orderID)
	if err != nil {
		return nil, err
	}
	summary := SummaryFromModel(*order)
	return &summary, nil
}

// GetDetail returns the order with its customer and labelled items.
func (s *Store) GetDetail(ctx context.Context, orderID uuid.UUID) (*OrderDetail, error) {
	order, err := s.repo.FindOrderDetail(ctx, orderID)
	if err != nil {
		return nil, mapFindError(err, "load order detail")
	}
	detail := detailFromModel(*order)
	return &detail, nil
}

// ListPendingBefore returns up to limit pending orders created before cutoff,
// locked in tx.
func (s *Store) ListPendingBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) ([]models.Order, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	orders, err := s.repo.WithTx(tx).FindPendingOrdersBefore(ctx, cutoff, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending orders")
	}
	return orders, nil
}

func mapFindError(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if dbpkg.IsLockTimeout(err) {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, msg+": lock timeout")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
