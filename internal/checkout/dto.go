package checkout

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/supermarket-backend/internal/cart"
	"github.com/angelmondragon/supermarket-backend/internal/orders"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/supermarket-backend/pkg/errors"
)

// FailedLine is a cart line that did not become an order line.
type FailedLine struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason"`
}

// Result is the outcome of a checkout that produced an order.
type Result struct {
	Order       *orders.OrderDTO  `json:"order"`
	Status      enums.OrderStatus `json:"status"`
	FailedLines []FailedLine      `json:"failed_lines,omitempty"`
	Cart        *cart.ClearReport `json:"cart"`
}

// Partial reports whether at least one line failed.
func (r *Result) Partial() bool {
	return r != nil && r.Status == enums.OrderStatusPartial
}

// PartialError describes a partial checkout for the caller. It returns nil for
// complete orders.
func (r *Result) PartialError() error {
	if !r.Partial() {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(r.FailedLines))
	for _, line := range r.FailedLines {
		ids = append(ids, line.ProductID)
	}
	return pkgerrors.New(pkgerrors.CodePartialCheckout, "order created but some items could not be recorded; it has been flagged for review").
		WithDetails(map[string]any{
			"order_id":           r.Order.ID,
			"failed_product_ids": ids,
		})
}
