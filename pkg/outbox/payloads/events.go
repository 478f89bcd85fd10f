package payloads

import (
	"time"

	"github.com/google/uuid"
)

// OrderCreatedEvent backs order_created, queued with the order row, and
// order_partial, queued once a line is known to have failed.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID `json:"orderId"`
	UserID      uuid.UUID `json:"userId"`
	TotalAmount string    `json:"totalAmount"`
	LineCount   int       `json:"lineCount"`
}

// OrderLineOutcome describes one cart line's fate during checkout.
type OrderLineOutcome struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
	UnitPrice string    `json:"unitPrice"`
	Error     string    `json:"error,omitempty"`
}

// OrderLinesRecordedEvent follows OrderCreatedEvent once every line was attempted.
type OrderLinesRecordedEvent struct {
	OrderID  uuid.UUID          `json:"orderId"`
	Status   string             `json:"status"`
	Recorded []OrderLineOutcome `json:"recorded"`
	Failed   []OrderLineOutcome `json:"failed,omitempty"`
}

type OrderReconciledEvent struct {
	OrderID      uuid.UUID `json:"orderId"`
	ReconciledAt time.Time `json:"reconciledAt"`
	ReconciledBy uuid.UUID `json:"reconciledBy"`
}

type ProductArchivedEvent struct {
	ProductID         uuid.UUID `json:"productId"`
	AvailableQuantity int       `json:"availableQuantity"`
}

// UserStatusChangedEvent backs both user_disabled and user_enabled.
type UserStatusChangedEvent struct {
	UserID     uuid.UUID `json:"userId"`
	IsDisabled bool      `json:"isDisabled"`
	ChangedBy  uuid.UUID `json:"changedBy"`
}
