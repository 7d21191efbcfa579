package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/bnd-apparel/storefront-backend/internal/customers"
	"github.com/bnd-apparel/storefront-backend/internal/inventory"
	"github.com/bnd-apparel/storefront-backend/internal/orders"
	pkgcheckout "github.com/bnd-apparel/storefront-backend/pkg/checkout"
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

type stockLedger interface {
	CheckAvailableBatch(ctx context.Context, lines []inventory.Line) ([]inventory.StockCheck, error)
	LockAndVerify(ctx context.Context, tx *gorm.DB, lines []inventory.Line) ([]inventory.LineResult, error)
}

type customerRegistry interface {
	Upsert(ctx context.Context, tx *gorm.DB, contact customers.Contact) (uuid.UUID, error)
}

type orderStore interface {
	CreatePendingOrder(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, items []orders.NewItem, totals orders.Totals) (uuid.UUID, error)
	Lock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	Items(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.OrderItem, error)
	AttachBill(ctx context.Context, orderID uuid.UUID, billCode, externalRef string) error
}

// BillCreator opens a hosted payment page for an order.
type BillCreator interface {
	CreateBill(ctx context.Context, req toyyibpay.BillRequest) (*toyyibpay.Bill, error)
}

type priceCatalog interface {
	UnitPrices(ctx context.Context, variantIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
}

type checkoutMetrics interface {
	IncCheckout(err error)
}

// Options configures URLs and cart policy.
type Options struct {
	PublicBaseURL       string
	ReferencePrefix     string
	MinorUnits          int32
	Limits              Limits
	EnforceCatalogPrice bool
}

// Dependencies wires the collaborators of the checkout service. Prices and
// Metrics are optional.
type Dependencies struct {
	Tx        txRunner
	Ledger    stockLedger
	Customers customerRegistry
	Orders    orderStore
	Gateway   BillCreator
	Outbox    outbox.Emitter
	Prices    priceCatalog
	Metrics   checkoutMetrics
	Logger    *logger.Logger
}

// Service orchestrates stock verification, order creation and bill creation.
type Service struct {
	tx        txRunner
	ledger    stockLedger
	customers customerRegistry
	orders    orderStore
	gateway   BillCreator
	outbox    outbox.Emitter
	prices    priceCatalog
	metrics   checkoutMetrics
	logg      *logger.Logger
	opts      Options
	now       func() time.Time
}

// NewService builds the checkout service.
func NewService(deps Dependencies, opts Options) (*Service, error) {
	if deps.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if deps.Customers == nil {
		return nil, fmt.Errorf("customer registry required")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if opts.EnforceCatalogPrice && deps.Prices == nil {
		return nil, fmt.Errorf("price catalog required when catalog prices are enforced")
	}
	if strings.TrimSpace(opts.PublicBaseURL) == "" {
		return nil, fmt.Errorf("public base url required")
	}
	opts.PublicBaseURL = strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/")
	if opts.MinorUnits <= 0 {
		opts.MinorUnits = 2
	}
	return &Service{
		tx:        deps.Tx,
		ledger:    deps.Ledger,
		customers: deps.Customers,
		orders:    deps.Orders,
		gateway:   deps.Gateway,
		outbox:    deps.Outbox,
		prices:    deps.Prices,
		metrics:   deps.Metrics,
		logg:      deps.Logger,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Limits exposes the cart bounds so callers can build carts with NewCart.
func (s *Service) Limits() Limits {
	return s.opts.Limits
}

// StockValidation is the locked verification result for a cart.
type StockValidation struct {
	AllValid bool                   `json:"allValid"`
	Lines    []inventory.LineResult `json:"items"`
}

// StockAvailability is the advisory, unlocked availability of a cart.
type StockAvailability struct {
	AllInStock bool                   `json:"allInStock"`
	Lines      []inventory.StockCheck `json:"items"`
}

var errValidationRollback = errors.New("stock validation rollback")

// ValidateStock locks every cart variant and reports per-line availability.
// The transaction is always rolled back.
func (s *Service) ValidateStock(ctx context.Context, cart Cart) (*StockValidation, error) {
	if cart.Len() == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	result := &StockValidation{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		lines, err := s.ledger.LockAndVerify(ctx, tx, cart.InventoryLines())
		if err != nil && !pkgerrors.Is(err, pkgerrors.CodeInsufficientStock) {
			return err
		}
		result.Lines = lines
		result.AllValid = err == nil
		return errValidationRollback
	})
	if err != nil && !errors.Is(err, errValidationRollback) {
		return nil, err
	}
	return result, nil
}

// CheckStock reports advisory availability without locking.
func (s *Service) CheckStock(ctx context.Context, cart Cart) (*StockAvailability, error) {
	if cart.Len() == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	checks, err := s.ledger.CheckAvailableBatch(ctx, cart.InventoryLines())
	if err != nil {
		return nil, err
	}
	out := &StockAvailability{AllInStock: true, Lines: checks}
	for _, check := range checks {
		if !check.InStock {
			out.AllInStock = false
			break
		}
	}
	return out, nil
}

// CreateOrder verifies stock under lock, resolves the customer and writes a
// pending order in one transaction. Stock is not deducted.
func (s *Service) CreateOrder(ctx context.Context, contact customers.Contact, cart Cart, fees Fees) (orderID uuid.UUID, err error) {
	defer func() { s.observe(err) }()

	contact, err = s.prepare(ctx, contact, cart, fees)
	if err != nil {
		return uuid.Nil, err
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		id, _, err := s.createPending(ctx, tx, contact, cart, fees)
		if err != nil {
			return err
		}
		orderID = id
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return orderID, nil
}

// CheckoutRequest is the input of a full checkout. OrderID optionally names a
// pending order whose bill creation should be retried.
type CheckoutRequest struct {
	Contact customers.Contact
	Cart    Cart
	Fees    Fees
	OrderID *uuid.UUID
}

// CheckoutResult is returned once the hosted bill exists.
type CheckoutResult struct {
	OrderID    uuid.UUID `json:"orderId"`
	PaymentURL string    `json:"paymentUrl"`
	BillCode   string    `json:"billCode"`
	Resumed    bool      `json:"resumed"`
}

type pendingOrder struct {
	id      uuid.UUID
	total   decimal.Decimal
	items   []orders.NewItem
	resumed bool
}

// Checkout creates (or resumes) a pending order and opens a gateway bill for
// it. The gateway is called after the order transaction commits; a gateway
// failure leaves the order pending.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (result *CheckoutResult, err error) {
	defer func() { s.observe(err) }()

	contact, err := s.prepare(ctx, req.Contact, req.Cart, req.Fees)
	if err != nil {
		return nil, err
	}

	var pending pendingOrder
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if req.OrderID != nil && *req.OrderID != uuid.Nil {
			resumed, ok, err := s.resumePending(ctx, tx, *req.OrderID)
			if err != nil {
				return err
			}
			if ok {
				pending = resumed
				return nil
			}
		}
		id, totals, err := s.createPending(ctx, tx, contact, req.Cart, req.Fees)
		if err != nil {
			return err
		}
		pending = pendingOrder{id: id, total: totals.Total, items: req.Cart.orderItems()}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithOrderID(ctx, pending.id.String())
	}

	reference := toyyibpay.ExternalReference(s.opts.ReferencePrefix, pending.id, s.now())
	bill, err := s.gateway.CreateBill(ctx, toyyibpay.BillRequest{
		OrderID:           pending.id.String(),
		AmountSen:         toyyibpay.MinorUnits(pending.total, s.opts.MinorUnits),
		Description:       describe(pending.items, req.Cart),
		PayerName:         contact.Name,
		PayerEmail:        contact.Email,
		PayerPhone:        contact.Phone,
		ReturnURL:         fmt.Sprintf("%s/thank-you/%s", s.opts.PublicBaseURL, pending.id),
		CallbackURL:       s.opts.PublicBaseURL + "/toyyibpay-callback",
		ExternalReference: reference,
	})
	if err != nil {
		if s.logg != nil {
			s.logg.Error(logCtx, "create bill failed; order left pending", err)
		}
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeGateway, err, "create bill")
		}
		return nil, err
	}

	// The bill exists even if this write fails; the callback carries the
	// reference needed to reconcile.
	if err := s.orders.AttachBill(ctx, pending.id, bill.BillCode, reference); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "attach bill code failed")
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithField(logCtx, "bill_code", bill.BillCode), "checkout bill created")
	}

	return &CheckoutResult{
		OrderID:    pending.id,
		PaymentURL: bill.PaymentURL,
		BillCode:   bill.BillCode,
		Resumed:    pending.resumed,
	}, nil
}

// prepare validates everything that does not need the database lock.
func (s *Service) prepare(ctx context.Context, contact customers.Contact, cart Cart, fees Fees) (customers.Contact, error) {
	contact = contact.Normalize()
	if err := contact.Validate(); err != nil {
		return contact, err
	}
	if cart.Len() == 0 {
		return contact, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	if err := fees.validate(); err != nil {
		return contact, err
	}
	// The gateway bills whole minor units, and a zero bill is refused.
	total := cart.Totals(fees).Total
	switch {
	case toyyibpay.MinorUnits(total, s.opts.MinorUnits) <= 0:
		return contact, pkgerrors.New(pkgerrors.CodeValidation, "order total must be greater than 0").
			WithDetails(map[string]string{"total": total.String()})
	case total.GreaterThan(pkgcheckout.MaxAmount):
		return contact, pkgerrors.New(pkgerrors.CodeValidation, "order total is too large").
			WithDetails(map[string]string{"total": "must be at most " + pkgcheckout.MaxAmount.StringFixed(pkgcheckout.MoneyScale)})
	}
	if s.opts.EnforceCatalogPrice {
		if err := s.checkCatalogPrices(ctx, cart); err != nil {
			return contact, err
		}
	}
	return contact, nil
}

func (s *Service) checkCatalogPrices(ctx context.Context, cart Cart) error {
	lines := cart.Lines()
	ids := make([]uuid.UUID, len(lines))
	for i, line := range lines {
		ids[i] = line.VariantID
	}
	prices, err := s.prices.UnitPrices(ctx, ids)
	if err != nil {
		return err
	}
	inputs := make([]pkgcheckout.PriceCheckInput, len(lines))
	for i, line := range lines {
		input := pkgcheckout.PriceCheckInput{VariantID: line.VariantID, Submitted: line.Price}
		if price, ok := prices[line.VariantID]; ok {
			price := price
			input.CatalogPrice = &price
		}
		inputs[i] = input
	}
	return pkgcheckout.ValidateCatalogPrices(inputs)
}

func (s *Service) createPending(ctx context.Context, tx *gorm.DB, contact customers.Contact, cart Cart, fees Fees) (uuid.UUID, orders.Totals, error) {
	if _, err := s.ledger.LockAndVerify(ctx, tx, cart.InventoryLines()); err != nil {
		return uuid.Nil, orders.Totals{}, err
	}
	customerID, err := s.customers.Upsert(ctx, tx, contact)
	if err != nil {
		return uuid.Nil, orders.Totals{}, err
	}
	totals := cart.Totals(fees)
	items := cart.orderItems()
	orderID, err := s.orders.CreatePendingOrder(ctx, tx, customerID, items, totals)
	if err != nil {
		return uuid.Nil, orders.Totals{}, err
	}

	created := s.now()
	event := outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Source:        outbox.SourceFrom(ctx, "checkout"),
		Data: payloads.OrderCreatedEvent{
			OrderID:     orderID,
			CustomerID:  customerID,
			TotalAmount: totals.Total.StringFixed(2),
			Lines:       eventLines(items),
			CreatedAt:   created,
		},
		OccurredAt: created,
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return uuid.Nil, orders.Totals{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue order_created")
	}
	return orderID, totals, nil
}

// resumePending re-verifies a stored pending order under lock. ok is false
// when a new order should be created instead: the id is unknown or the order
// already failed. A paid order is never billed again.
func (s *Service) resumePending(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (pendingOrder, bool, error) {
	order, err := s.orders.Lock(ctx, tx, orderID)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			return pendingOrder{}, false, nil
		}
		return pendingOrder{}, false, err
	}
	switch order.Status {
	case enums.OrderStatusPaid:
		return pendingOrder{}, false, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid").WithDetails(map[string]string{
			"orderId": orderID.String(),
			"status":  string(order.Status),
		})
	case enums.OrderStatusFailed:
		return pendingOrder{}, false, nil
	}

	stored, err := s.orders.Items(ctx, tx, orderID)
	if err != nil {
		return pendingOrder{}, false, err
	}
	items := make([]orders.NewItem, len(stored))
	lines := make([]inventory.Line, len(stored))
	for i, item := range stored {
		items[i] = orders.NewItem{VariantID: item.VariantID, Quantity: item.Quantity, PriceAtPurchase: item.PriceAtPurchase}
		lines[i] = inventory.Line{VariantID: item.VariantID, Quantity: item.Quantity}
	}
	if _, err := s.ledger.LockAndVerify(ctx, tx, lines); err != nil {
		return pendingOrder{}, false, err
	}
	return pendingOrder{id: order.ID, total: order.TotalAmount, items: items, resumed: true}, true, nil
}

func (s *Service) observe(err error) {
	if s.metrics != nil {
		s.metrics.IncCheckout(err)
	}
}

// describe renders "Name Size (xN)" per item, using the cart's display hints
// when they are present.
func describe(items []orders.NewItem, cart Cart) string {
	hints := make(map[uuid.UUID]CartLine, cart.Len())
	for _, line := range cart.Lines() {
		hints[line.VariantID] = line
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		label := fmt.Sprintf("Variant %s", item.VariantID)
		if hint, ok := hints[item.VariantID]; ok && hint.Name != nil && strings.TrimSpace(*hint.Name) != "" {
			label = strings.TrimSpace(*hint.Name)
			if hint.Size != nil && strings.TrimSpace(*hint.Size) != "" {
				label += " " + strings.TrimSpace(*hint.Size)
			}
		}
		parts = append(parts, fmt.Sprintf("%s (x%d)", label, item.Quantity))
	}
	return strings.Join(parts, ", ")
}

func eventLines(items []orders.NewItem) []payloads.OrderLine {
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
