package cart

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartView is the shopper-facing cart. Prices are current catalog prices;
// they are only frozen at checkout.
type CartView struct {
	CartID    uuid.UUID       `json:"cart_id"`
	Items     []LineView      `json:"items"`
	ItemCount int             `json:"item_count"`
	Total     decimal.Decimal `json:"total"`
}

// LineView is one reserved line joined with its product.
type LineView struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	ImageRef  *string         `json:"image_ref,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Archived  bool            `json:"archived,omitempty"`
}

// ClearedLine reports a line whose units went back on the shelf.
type ClearedLine struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// FailedLine reports a line that could not be cleared.
type FailedLine struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason"`
}

// ClearReport is the outcome of emptying a cart. A non-empty Failed list is a
// recoverable warning, not an error.
type ClearReport struct {
	CartID  uuid.UUID     `json:"cart_id"`
	Cleared []ClearedLine `json:"cleared"`
	Failed  []FailedLine  `json:"failed,omitempty"`
	Warning string        `json:"warning,omitempty"`
}

// Complete reports whether every line was cleared.
func (r *ClearReport) Complete() bool {
	return r == nil || len(r.Failed) == 0
}
