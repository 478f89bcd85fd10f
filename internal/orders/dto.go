package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
	"github.com/angelmondragon/supermarket-backend/pkg/pagination"
)

// OrderItemDTO is a frozen order line.
type OrderItemDTO struct {
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// OrderDTO is the order detail payload.
type OrderDTO struct {
	ID              uuid.UUID         `json:"id"`
	UserID          uuid.UUID         `json:"user_id"`
	TotalAmount     decimal.Decimal   `json:"total_amount"`
	Status          enums.OrderStatus `json:"status"`
	FailedLineCount int               `json:"failed_line_count"`
	ReconciledAt    *time.Time        `json:"reconciled_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	Items           []OrderItemDTO    `json:"items"`
}

// OrderSummary is one row of an order listing.
type OrderSummary struct {
	ID                  uuid.UUID         `json:"id"`
	UserID              uuid.UUID         `json:"user_id"`
	TotalAmount         decimal.Decimal   `json:"total_amount"`
	Status              enums.OrderStatus `json:"status"`
	ItemCount           int               `json:"item_count"`
	NeedsReconciliation bool              `json:"needs_reconciliation"`
	CreatedAt           time.Time         `json:"created_at"`
}

// OrderPage is one page of an order listing.
type OrderPage = pagination.Page[OrderSummary]

// ToOrderDTO maps a loaded order and its lines.
func ToOrderDTO(order *models.Order) *OrderDTO {
	if order == nil {
		return nil
	}
	dto := &OrderDTO{
		ID:              order.ID,
		UserID:          order.UserID,
		TotalAmount:     order.TotalAmount,
		Status:          order.Status,
		FailedLineCount: order.FailedLineCount,
		ReconciledAt:    order.ReconciledAt,
		CreatedAt:       order.CreatedAt,
		Items:           make([]OrderItemDTO, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		dto.Items = append(dto.Items, OrderItemDTO{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal(),
		})
	}
	return dto
}

// NeedsReconciliation reports whether an admin still has to settle the order:
// an unreconciled partial order, or a pending one whose checkout never finished.
func NeedsReconciliation(order *models.Order, now time.Time) bool {
	switch order.Status {
	case enums.OrderStatusPartial:
		return order.ReconciledAt == nil
	case enums.OrderStatusPending:
		return order.CreatedAt.Before(now.Add(-StalePendingAfter))
	default:
		return false
	}
}

func toSummary(order models.Order) OrderSummary {
	count := 0
	for _, item := range order.Items {
		count += item.Quantity
	}
	return OrderSummary{
		ID:                  order.ID,
		UserID:              order.UserID,
		TotalAmount:         order.TotalAmount,
		Status:              order.Status,
		ItemCount:           count,
		NeedsReconciliation: NeedsReconciliation(&order, time.Now()),
		CreatedAt:           order.CreatedAt,
	}
}

func toOrderPage(rows []models.Order, limit int) *OrderPage {
	summaries := make([]OrderSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, toSummary(row))
	}
	page := pagination.BuildPage(summaries, limit, func(s OrderSummary) pagination.Cursor {
		return pagination.Cursor{CreatedAt: s.CreatedAt, ID: s.ID}
	})
	return &page
}
