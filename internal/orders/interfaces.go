package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
	"github.com/angelmondragon/supermarket-backend/pkg/pagination"
)

// Repository defines persistence operations for the orders tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	FinalizeOutcome(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus, failedLines int) error
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.Order, error)
	MarkReconciled(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error)
	CountPendingReconciliation(ctx context.Context) (int64, error)
}

// ListFilter narrows an order listing. Zero values match everything.
type ListFilter struct {
	UserID       *uuid.UUID
	Status       *enums.OrderStatus
	Unreconciled bool
}
