package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
)

// CartRepository defines the persistence surface required by the cart service.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	FindByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	Create(ctx context.Context, cart *models.Cart) (*models.Cart, error)
	FindItem(ctx context.Context, cartID, productID uuid.UUID) (*models.CartItem, error)
	ListItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error)
	InsertItem(ctx context.Context, item *models.CartItem) error
	IncrementItem(ctx context.Context, cartID, productID uuid.UUID, delta int) (bool, error)
	SwapItemQuantity(ctx context.Context, cartID, productID uuid.UUID, from, to int) (bool, error)
	DeleteItem(ctx context.Context, cartID, productID uuid.UUID, expectedQty int) (bool, error)
}

// StockLedger moves units between the shelf and carts. Reserve must be a
// single conditional decrement; Release is an unconditional increment.
type StockLedger interface {
	WithTx(tx *gorm.DB) StockLedger
	Reserve(ctx context.Context, productID uuid.UUID, qty int) error
	Release(ctx context.Context, productID uuid.UUID, qty int) error
}

// ProductReader loads the catalog rows backing a cart view.
type ProductReader interface {
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

// StockObserver is told which products changed stock so cached reads can be dropped.
type StockObserver interface {
	Invalidate(ctx context.Context, ids ...uuid.UUID) error
}
