package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
	"github.com/angelmondragon/supermarket-backend/pkg/pagination"
)

// StalePendingAfter is how long an order may sit in pending before it is
// treated as an interrupted checkout and surfaced for reconciliation.
const StalePendingAfter = 15 * time.Minute

// ErrAlreadySettled reports a finalize against an order that is no longer pending.
var ErrAlreadySettled = errors.New("order already settled")

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db, now: time.Now}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, now: r.now}
}

// awaitingReconciliation matches unreconciled partial orders and pending
// orders whose checkout never settled.
func (r *repository) awaitingReconciliation(query *gorm.DB) *gorm.DB {
	return query.Where(
		"((status = ? AND reconciled_at IS NULL) OR (status = ? AND created_at < ?))",
		enums.OrderStatusPartial, enums.OrderStatusPending, r.now().UTC().Add(-StalePendingAfter),
	)
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Omit("Items").Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// FinalizeOutcome settles a pending order. It reports ErrAlreadySettled when
// the order left pending by other means.
func (r *repository) FinalizeOutcome(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus, failedLines int) error {
	if !status.IsTerminal() {
		return fmt.Errorf("cannot settle order as %q", status)
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, enums.OrderStatusPending).
		Updates(map[string]any{"status": status, "failed_line_count": failedLines})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadySettled
	}
	return nil
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC").Order("id ASC")
		}).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders returns orders newest first with one extra row for page detection.
func (r *repository) ListOrders(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Unreconciled {
		query = r.awaitingReconciliation(query)
	}
	query, err := pagination.Keyset(query, params)
	if err != nil {
		return nil, err
	}
	var rows []models.Order
	if err := query.
		Preload("Items").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkReconciled stamps an order awaiting reconciliation once. A stale pending
// order is settled as partial in the same write. It reports false when the
// order is not awaiting reconciliation.
func (r *repository) MarkReconciled(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error) {
	res := r.awaitingReconciliation(r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", orderID)).
		Updates(map[string]any{"reconciled_at": at, "status": enums.OrderStatusPartial})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CountPendingReconciliation(ctx context.Context) (int64, error) {
	var count int64
	err := r.awaitingReconciliation(r.db.WithContext(ctx).Model(&models.Order{})).
		Count(&count).Error
	return count, err
}
