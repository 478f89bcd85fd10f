package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/supermarket-backend/internal/cart"
	"github.com/angelmondragon/supermarket-backend/internal/orders"
	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/supermarket-backend/pkg/errors"
	"github.com/angelmondragon/supermarket-backend/pkg/lock"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
	"github.com/angelmondragon/supermarket-backend/pkg/metrics"
	"github.com/angelmondragon/supermarket-backend/pkg/outbox"
	"github.com/angelmondragon/supermarket-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type cartClearer interface {
	ClearCart(ctx context.Context, cartID uuid.UUID) (*cart.ClearReport, error)
}

// Service converts a cart into an order.
type Service interface {
	Execute(ctx context.Context, userID uuid.UUID) (*Result, error)
}

// Deps groups the checkout collaborators. Locks, Metrics and Logger are optional.
type Deps struct {
	Carts    cart.CartRepository
	Clearer  cartClearer
	Orders   orders.Repository
	Products cart.ProductReader
	Tx       txRunner
	Events   outbox.Emitter
	Locks    lock.Factory
	Metrics  *metrics.CommerceMetrics
	Logger   *logger.Logger
}

type service struct {
	carts    cart.CartRepository
	clearer  cartClearer
	orders   orders.Repository
	products cart.ProductReader
	tx       txRunner
	events   outbox.Emitter
	locks    lock.Factory
	metrics  *metrics.CommerceMetrics
	logg     *logger.Logger
}

// NewService builds the checkout service.
func NewService(deps Deps) (Service, error) {
	switch {
	case deps.Carts == nil:
		return nil, fmt.Errorf("cart repository required")
	case deps.Clearer == nil:
		return nil, fmt.Errorf("cart clearer required")
	case deps.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case deps.Products == nil:
		return nil, fmt.Errorf("product reader required")
	case deps.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case deps.Events == nil:
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		carts:    deps.Carts,
		clearer:  deps.Clearer,
		orders:   deps.Orders,
		products: deps.Products,
		tx:       deps.Tx,
		events:   deps.Events,
		locks:    deps.Locks,
		metrics:  deps.Metrics,
		logg:     deps.Logger,
	}, nil
}

type pricedLine struct {
	item    models.CartItem
	product *models.Product
}

// Execute checks out the user's cart.
//
// The order row is written first as pending. Each cart line then moves into
// the order in its own transaction, and only once every line was attempted is
// the order settled as complete or partial. A crash at any point leaves either
// lines still in the cart or a pending order that reconciliation picks up once
// it goes stale, never an empty cart without an order. Whatever is left in the
// cart at the end goes back to the shelf.
func (s *service) Execute(ctx context.Context, userID uuid.UUID) (*Result, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	ctx = s.withField(ctx, "user_id", userID.String())

	release, err := s.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	c, err := s.carts.FindByUser(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.metrics.ObserveCheckout(metrics.CheckoutEmpty)
		return nil, emptyCart()
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if s.logg != nil {
		ctx = s.logg.WithCartID(ctx, c.ID.String())
	}

	items, err := s.carts.ListItems(ctx, c.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list cart lines")
	}
	if len(items) == 0 {
		s.metrics.ObserveCheckout(metrics.CheckoutEmpty)
		return nil, emptyCart()
	}

	lines, total, err := s.price(ctx, items)
	if err != nil {
		return nil, err
	}

	order, err := s.openOrder(ctx, userID, total, len(lines))
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		ctx = s.logg.WithOrderID(ctx, order.ID.String())
	}

	recorded, failed, lineErrs := s.moveLines(ctx, c.ID, order.ID, lines)

	status := enums.OrderStatusComplete
	if len(failed) > 0 {
		status = enums.OrderStatusPartial
		if s.logg != nil {
			s.logg.Error(s.logg.WithField(ctx, "failed_lines", len(failed)), "checkout.order_lines_failed", lineErrs)
		}
	}
	if err := s.finalize(ctx, order, status, recorded, failed); err != nil {
		// The row stays pending; reconciliation picks it up once stale.
		status = enums.OrderStatusPartial
		if s.logg != nil {
			s.logg.Error(ctx, "checkout.finalize_failed", err)
		}
	} else {
		order.Status = status
		order.FailedLineCount = len(failed)
	}

	report, err := s.clearer.ClearCart(ctx, c.ID)
	if err != nil && s.logg != nil {
		s.logg.Error(ctx, "checkout.cart_clear_failed", err)
	}

	order.Items = recorded
	s.metrics.AddOrderLineFailures(len(failed))
	if status == enums.OrderStatusComplete {
		s.metrics.ObserveCheckout(metrics.CheckoutComplete)
		s.info(ctx, "checkout.completed")
	} else {
		s.metrics.ObserveCheckout(metrics.CheckoutPartial)
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "failed_lines", len(failed)), "checkout.partial")
		}
	}

	return &Result{
		Order:       orders.ToOrderDTO(order),
		Status:      status,
		FailedLines: failed,
		Cart:        report,
	}, nil
}

// acquire takes the per-user checkout lease. A lease store outage degrades to
// running unguarded; line moves stay safe on their own.
func (s *service) acquire(ctx context.Context, userID uuid.UUID) (func(), error) {
	noop := func() {}
	if s.locks == nil {
		return noop, nil
	}
	lease, err := s.locks.New("checkout:" + userID.String())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build checkout lock")
	}
	ok, err := lease.Acquire(ctx)
	if err != nil {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "checkout.lock_unavailable")
		}
		return noop, nil
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a checkout for this cart is already in progress")
	}
	return func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil && s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "checkout.lock_release_failed")
		}
	}, nil
}

// price snapshots current catalog prices. The total covers every line whose
// product still exists.
func (s *service) price(ctx context.Context, items []models.CartItem) ([]pricedLine, decimal.Decimal, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart products")
	}

	total := decimal.Zero
	lines := make([]pricedLine, 0, len(items))
	for _, item := range items {
		line := pricedLine{item: item}
		if product, ok := products[item.ProductID]; ok {
			line.product = &product
			total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
		lines = append(lines, line)
	}
	return lines, total, nil
}

func (s *service) openOrder(ctx context.Context, userID uuid.UUID, total decimal.Decimal, lineCount int) (*models.Order, error) {
	order := &models.Order{
		UserID:          userID,
		TotalAmount:     total,
		Status:          enums.OrderStatusPending,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.orders.WithTx(tx).CreateOrder(ctx, order); err != nil {
			return err
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: userID, Role: enums.UserRoleUser.String()},
			Data: payloads.OrderCreatedEvent{
				OrderID:     order.ID,
				UserID:      userID,
				TotalAmount: total.StringFixed(2),
				LineCount:   lineCount,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	return order, nil
}

// moveLines turns each cart line into an order line. A line leaves the cart
// and enters the order in the same transaction, so its units are counted
// exactly once. Failures are collected; every line is attempted.
func (s *service) moveLines(ctx context.Context, cartID, orderID uuid.UUID, lines []pricedLine) ([]models.OrderItem, []FailedLine, error) {
	recorded := make([]models.OrderItem, 0, len(lines))
	var failed []FailedLine
	var errs error

	for _, line := range lines {
		productID := line.item.ProductID
		qty := line.item.Quantity
		if line.product == nil {
			failed = append(failed, FailedLine{ProductID: productID, Quantity: qty, Reason: "product no longer exists"})
			errs = multierr.Append(errs, fmt.Errorf("product %s: not found", productID))
			continue
		}

		orderItem := models.OrderItem{
			OrderID:     orderID,
			ProductID:   productID,
			ProductName: line.product.Name,
			Quantity:    qty,
			UnitPrice:   line.product.Price,
		}
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			moved, err := s.carts.WithTx(tx).DeleteItem(ctx, cartID, productID, qty)
			if err != nil {
				return err
			}
			if !moved {
				return pkgerrors.New(pkgerrors.CodeConflict, "cart line changed concurrently")
			}
			return s.orders.WithTx(tx).CreateOrderItem(ctx, &orderItem)
		})
		if err != nil {
			failed = append(failed, FailedLine{ProductID: productID, Quantity: qty, Reason: failureReason(err)})
			errs = multierr.Append(errs, fmt.Errorf("product %s: %w", productID, err))
			continue
		}
		recorded = append(recorded, orderItem)
	}
	return recorded, failed, errs
}

func (s *service) finalize(ctx context.Context, order *models.Order, status enums.OrderStatus, recorded []models.OrderItem, failed []FailedLine) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.orders.WithTx(tx).FinalizeOutcome(ctx, order.ID, status, len(failed)); err != nil {
			return err
		}
		outcome := payloads.OrderLinesRecordedEvent{
			OrderID:  order.ID,
			Status:   status.String(),
			Recorded: make([]payloads.OrderLineOutcome, 0, len(recorded)),
		}
		for _, item := range recorded {
			outcome.Recorded = append(outcome.Recorded, payloads.OrderLineOutcome{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice.StringFixed(2),
			})
		}
		for _, line := range failed {
			outcome.Failed = append(outcome.Failed, payloads.OrderLineOutcome{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Error:     line.Reason,
			})
		}
		if err := s.emitOrderEvent(ctx, tx, order, enums.EventOrderLinesRecorded, outcome); err != nil {
			return err
		}
		if status != enums.OrderStatusPartial {
			return nil
		}
		return s.emitOrderEvent(ctx, tx, order, enums.EventOrderPartial, payloads.OrderCreatedEvent{
			OrderID:     order.ID,
			UserID:      order.UserID,
			TotalAmount: order.TotalAmount.StringFixed(2),
			LineCount:   len(recorded) + len(failed),
		})
	})
}

func (s *service) emitOrderEvent(ctx context.Context, tx *gorm.DB, order *models.Order, eventType enums.OutboxEventType, data any) error {
	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{UserID: order.UserID, Role: enums.UserRoleUser.String()},
		Data:          data,
	})
}

func (s *service) withField(ctx context.Context, key, value string) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithField(ctx, key, value)
}

func (s *service) info(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Info(ctx, msg)
	}
}

func emptyCart() error {
	return pkgerrors.New(pkgerrors.CodeEmptyCart, "cart is empty")
}

func failureReason(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Message()
	}
	return "storage failure"
}
