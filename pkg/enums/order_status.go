package enums

import "fmt"

// OrderStatus moves once: checkout inserts the row as pending and settles it
// to complete or partial after attempting every line. Both settled states are
// terminal.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusComplete OrderStatus = "complete"
	OrderStatusPartial  OrderStatus = "partial"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusComplete,
	OrderStatusPartial,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}

// IsTerminal reports whether the status can no longer change.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusComplete || s == OrderStatusPartial
}
