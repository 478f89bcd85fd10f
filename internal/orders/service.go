package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/supermarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/supermarket-backend/pkg/errors"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
	"github.com/angelmondragon/supermarket-backend/pkg/outbox"
	"github.com/angelmondragon/supermarket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/supermarket-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes order history to shoppers and order review to admins.
type Service interface {
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderPage, error)
	GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*OrderDTO, error)
	ListAll(ctx context.Context, filter ListFilter, params pagination.Params) (*OrderPage, error)
	Get(ctx context.Context, orderID uuid.UUID) (*OrderDTO, error)
	MarkReconciled(ctx context.Context, actor outbox.ActorRef, orderID uuid.UUID) (*OrderDTO, error)
	CountPendingReconciliation(ctx context.Context) (int64, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	events outbox.Emitter
	logg   *logger.Logger
	now    func() time.Time
}

// NewService builds the orders service.
func NewService(repo Repository, tx txRunner, events outbox.Emitter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		repo:   repo,
		tx:     tx,
		events: events,
		logg:   logg,
		now:    time.Now,
	}, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderPage, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return s.list(ctx, ListFilter{UserID: &userID}, params)
}

// GetForUser hides other users' orders behind NOT_FOUND.
func (s *service) GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*OrderDTO, error) {
	dto, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if dto.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return dto, nil
}

func (s *service) ListAll(ctx context.Context, filter ListFilter, params pagination.Params) (*OrderPage, error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}
	return s.list(ctx, filter, params)
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*OrderDTO, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, mapFindError(err)
	}
	return ToOrderDTO(order), nil
}

// MarkReconciled records that an admin settled an order by hand. A partial
// order keeps its status and lines; a pending order left behind by an
// interrupted checkout is settled as partial. Orders still being written and
// complete orders are refused.
func (s *service) MarkReconciled(ctx context.Context, actor outbox.ActorRef, orderID uuid.UUID) (*OrderDTO, error) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrder(ctx, orderID)
		if err != nil {
			return mapFindError(err)
		}
		if order.ReconciledAt != nil {
			return nil
		}
		if !NeedsReconciliation(order, s.now()) {
			if order.Status == enums.OrderStatusPending {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order is still being recorded")
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only partial orders need reconciliation")
		}

		at := s.now().UTC()
		marked, err := repo.MarkReconciled(ctx, orderID, at)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order reconciled")
		}
		if !marked {
			return nil
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderReconciled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &actor,
			Data: payloads.OrderReconciledEvent{
				OrderID:      orderID,
				ReconciledAt: at,
				ReconciledBy: actor.UserID,
			},
		})
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconcile order")
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithOrderID(ctx, orderID.String()), "orders.reconciled")
	}
	return s.Get(ctx, orderID)
}

func (s *service) CountPendingReconciliation(ctx context.Context) (int64, error) {
	count, err := s.repo.CountPendingReconciliation(ctx)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count orders awaiting reconciliation")
	}
	return count, nil
}

func (s *service) list(ctx context.Context, filter ListFilter, params pagination.Params) (*OrderPage, error) {
	rows, err := s.repo.ListOrders(ctx, filter, params)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return toOrderPage(rows, params.Limit), nil
}

func mapFindError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}
