package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/supermarket-backend/pkg/db"
	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/supermarket-backend/pkg/errors"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
	"github.com/angelmondragon/supermarket-backend/pkg/metrics"
)

const clearWarning = "some items could not be returned to stock; they have been flagged for review"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes the cart operations. Every stock movement is a single
// conditional statement against the products table.
type Service interface {
	GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	View(ctx context.Context, userID uuid.UUID) (*CartView, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*CartView, error)
	UpdateItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*CartView, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*CartView, error)
	Clear(ctx context.Context, userID uuid.UUID) (*ClearReport, error)
	ClearCart(ctx context.Context, cartID uuid.UUID) (*ClearReport, error)
}

// Deps groups the collaborators of the cart service.
type Deps struct {
	Repo     CartRepository
	Stock    StockLedger
	Products ProductReader
	Tx       txRunner
	Observer StockObserver
	Metrics  *metrics.CommerceMetrics
	Logger   *logger.Logger
}

type service struct {
	repo     CartRepository
	stock    StockLedger
	products ProductReader
	tx       txRunner
	observer StockObserver
	metrics  *metrics.CommerceMetrics
	logg     *logger.Logger
}

// NewService builds a cart service. Observer, Metrics and Logger are optional.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if deps.Stock == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if deps.Products == nil {
		return nil, fmt.Errorf("product reader required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{
		repo:     deps.Repo,
		stock:    deps.Stock,
		products: deps.Products,
		tx:       deps.Tx,
		observer: deps.Observer,
		metrics:  deps.Metrics,
		logg:     deps.Logger,
	}, nil
}

// GetOrCreateCart returns the user's cart, creating it on first use. Two
// concurrent first calls converge on the same row through the unique user index.
func (s *service) GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cart, err := s.repo.FindByUser(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}

	created, err := s.repo.Create(ctx, &models.Cart{UserID: userID})
	if err == nil {
		return created, nil
	}
	if !db.IsUniqueViolation(err, "") {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
	}
	cart, err = s.repo.FindByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return cart, nil
}

func (s *service) View(ctx context.Context, userID uuid.UUID) (*CartView, error) {
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, cart.ID)
}

// AddItem reserves stock and then records it on the cart line. If the line
// write fails the reservation is handed back with a compensating increment.
func (s *service) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*CartView, error) {
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	ctx = s.withCart(ctx, cart.ID, productID)

	if err := s.reserve(ctx, productID, quantity); err != nil {
		return nil, err
	}

	if err := s.addToLine(ctx, cart.ID, productID, quantity); err != nil {
		return nil, s.compensate(ctx, productID, quantity, err)
	}

	s.stockChanged(ctx, productID)
	s.info(ctx, "cart.item_added")
	return s.view(ctx, cart.ID)
}

// UpdateItem moves the line to quantity, adjusting stock by the difference
// before the line itself changes.
func (s *service) UpdateItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*CartView, error) {
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	ctx = s.withCart(ctx, cart.ID, productID)

	line, err := s.findLine(ctx, s.repo, cart.ID, productID)
	if err != nil {
		return nil, err
	}

	delta := quantity - line.Quantity
	switch {
	case delta == 0:
		return s.view(ctx, cart.ID)
	case delta > 0:
		if err := s.reserve(ctx, productID, delta); err != nil {
			return nil, err
		}
		if err := s.swapLine(ctx, s.repo, cart.ID, productID, line.Quantity, quantity); err != nil {
			return nil, s.compensate(ctx, productID, delta, err)
		}
	default:
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.stock.WithTx(tx).Release(ctx, productID, -delta); err != nil {
				return err
			}
			return s.swapLine(ctx, s.repo.WithTx(tx), cart.ID, productID, line.Quantity, quantity)
		})
		if err != nil {
			return nil, asDependency(err, "shrink cart line")
		}
		s.metrics.ObserveRelease(metrics.ReleaseUpdate)
	}

	s.stockChanged(ctx, productID)
	s.info(ctx, "cart.item_updated")
	return s.view(ctx, cart.ID)
}

// RemoveItem returns the line's units to the shelf and drops the line in one
// transaction, so a line never outlives its released stock.
func (s *service) RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*CartView, error) {
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	ctx = s.withCart(ctx, cart.ID, productID)

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		line, err := s.findLine(ctx, repo, cart.ID, productID)
		if err != nil {
			return err
		}
		return s.releaseLine(ctx, tx, cart.ID, productID, line.Quantity)
	})
	if err != nil {
		return nil, asDependency(err, "remove cart line")
	}

	s.metrics.ObserveRelease(metrics.ReleaseRemove)
	s.stockChanged(ctx, productID)
	s.info(ctx, "cart.item_removed")
	return s.view(ctx, cart.ID)
}

// Clear releases every line of the user's cart.
func (s *service) Clear(ctx context.Context, userID uuid.UUID) (*ClearReport, error) {
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.ClearCart(ctx, cart.ID)
}

// ClearCart empties a cart line by line, returning each line's units to the
// shelf. Each line is its own unit of work; failures are collected and
// reported while the remaining lines still clear.
func (s *service) ClearCart(ctx context.Context, cartID uuid.UUID) (*ClearReport, error) {
	ctx = s.withCart(ctx, cartID, uuid.Nil)
	items, err := s.repo.ListItems(ctx, cartID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list cart lines")
	}
	report := &ClearReport{CartID: cartID, Cleared: []ClearedLine{}}

	var failures error
	var touched []uuid.UUID
	for _, item := range items {
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.releaseLine(ctx, tx, cartID, item.ProductID, item.Quantity)
		})
		if err != nil {
			failures = multierr.Append(failures, fmt.Errorf("product %s: %w", item.ProductID, err))
			report.Failed = append(report.Failed, FailedLine{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Reason:    failureReason(err),
			})
			continue
		}
		report.Cleared = append(report.Cleared, ClearedLine{ProductID: item.ProductID, Quantity: item.Quantity})
		s.metrics.ObserveRelease(metrics.ReleaseClear)
		touched = append(touched, item.ProductID)
	}

	if len(touched) > 0 {
		s.stockChanged(ctx, touched...)
	}
	if failures != nil {
		report.Warning = clearWarning
		s.metrics.AddClearFailures(len(multierr.Errors(failures)))
		if s.logg != nil {
			s.logg.Error(s.logg.WithField(ctx, "failed_lines", len(report.Failed)), "cart.clear_incomplete", failures)
		}
	} else {
		s.info(ctx, "cart.cleared")
	}
	return report, nil
}

func (s *service) reserve(ctx context.Context, productID uuid.UUID, qty int) error {
	err := s.stock.Reserve(ctx, productID, qty)
	switch {
	case err == nil:
		s.metrics.ObserveReservation(metrics.ReservationReserved)
	case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock):
		s.metrics.ObserveReservation(metrics.ReservationInsufficient)
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		s.metrics.ObserveReservation(metrics.ReservationNotFound)
	default:
		s.metrics.ObserveReservation(metrics.ReservationError)
	}
	return err
}

// compensate hands back a reservation whose cart line could not be written.
func (s *service) compensate(ctx context.Context, productID uuid.UUID, qty int, cause error) error {
	if err := s.stock.Release(ctx, productID, qty); err != nil {
		combined := multierr.Append(cause, err)
		if s.logg != nil {
			s.logg.Error(s.logg.WithField(ctx, "stranded_quantity", qty), "cart.compensation_failed", combined)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, combined, "cart line write failed and stock could not be returned")
	}
	s.metrics.IncCompensation()
	if s.logg != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"quantity": qty, "error": cause.Error()}), "cart.reservation_compensated")
	}
	return asDependency(cause, "write cart line")
}

func (s *service) addToLine(ctx context.Context, cartID, productID uuid.UUID, qty int) error {
	found, err := s.repo.IncrementItem(ctx, cartID, productID, qty)
	if err != nil || found {
		return err
	}
	err = s.repo.InsertItem(ctx, &models.CartItem{CartID: cartID, ProductID: productID, Quantity: qty})
	if err == nil || !db.IsUniqueViolation(err, "") {
		return err
	}
	// Lost the insert race to a concurrent add of the same product.
	found, err = s.repo.IncrementItem(ctx, cartID, productID, qty)
	if err != nil {
		return err
	}
	if !found {
		return pkgerrors.New(pkgerrors.CodeConflict, "cart line changed concurrently")
	}
	return nil
}

func (s *service) swapLine(ctx context.Context, repo CartRepository, cartID, productID uuid.UUID, from, to int) error {
	swapped, err := repo.SwapItemQuantity(ctx, cartID, productID, from, to)
	if err != nil {
		return err
	}
	if !swapped {
		return pkgerrors.New(pkgerrors.CodeConflict, "cart line changed concurrently")
	}
	return nil
}

// releaseLine returns a line's qty units to the shelf and drops the line,
// provided it still holds exactly qty. Must run inside tx.
func (s *service) releaseLine(ctx context.Context, tx *gorm.DB, cartID, productID uuid.UUID, qty int) error {
	if err := s.stock.WithTx(tx).Release(ctx, productID, qty); err != nil {
		return err
	}
	deleted, err := s.repo.WithTx(tx).DeleteItem(ctx, cartID, productID, qty)
	if err != nil {
		return err
	}
	if !deleted {
		return pkgerrors.New(pkgerrors.CodeConflict, "cart line changed concurrently")
	}
	return nil
}

func (s *service) findLine(ctx context.Context, repo CartRepository, cartID, productID uuid.UUID) (*models.CartItem, error) {
	line, err := repo.FindItem(ctx, cartID, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart line not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart line")
	}
	return line, nil
}

func (s *service) view(ctx context.Context, cartID uuid.UUID) (*CartView, error) {
	items, err := s.repo.ListItems(ctx, cartID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list cart lines")
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart products")
	}

	view := &CartView{CartID: cartID, Items: make([]LineView, 0, len(items)), Total: decimal.Zero}
	for _, item := range items {
		line := LineView{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: decimal.Zero, Subtotal: decimal.Zero}
		if product, ok := products[item.ProductID]; ok {
			line.Name = product.Name
			line.ImageRef = product.ImageRef
			line.UnitPrice = product.Price
			line.Archived = product.Archived
			line.Subtotal = product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		}
		view.Items = append(view.Items, line)
		view.ItemCount += item.Quantity
		view.Total = view.Total.Add(line.Subtotal)
	}
	return view, nil
}

func (s *service) stockChanged(ctx context.Context, ids ...uuid.UUID) {
	if s.observer == nil {
		return
	}
	if err := s.observer.Invalidate(ctx, ids...); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cart.cache_invalidate_failed")
	}
}

func (s *service) withCart(ctx context.Context, cartID, productID uuid.UUID) context.Context {
	if s.logg == nil {
		return ctx
	}
	ctx = s.logg.WithCartID(ctx, cartID.String())
	if productID != uuid.Nil {
		ctx = s.logg.WithField(ctx, "product_id", productID.String())
	}
	return ctx
}

func (s *service) info(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Info(ctx, msg)
	}
}

func validateQuantity(quantity int) error {
	if quantity < 1 {
		return pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity must be at least 1").
			WithDetails(map[string]any{"quantity": quantity})
	}
	return nil
}

func asDependency(err error, action string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}

func failureReason(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Message()
	}
	return "storage failure"
}
