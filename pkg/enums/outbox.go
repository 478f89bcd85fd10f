package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregateProduct OutboxAggregateType = "product"
	AggregateUser    OutboxAggregateType = "user"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateProduct,
	AggregateUser,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType is the event_type column of outbox_events.
type OutboxEventType string

const (
	EventOrderCreated       OutboxEventType = "order_created"
	EventOrderPartial       OutboxEventType = "order_partial"
	EventOrderLinesRecorded OutboxEventType = "order_lines_recorded"
	EventOrderReconciled    OutboxEventType = "order_reconciled"
	EventProductArchived    OutboxEventType = "product_archived"
	EventUserDisabled       OutboxEventType = "user_disabled"
	EventUserEnabled        OutboxEventType = "user_enabled"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPartial,
	EventOrderLinesRecorded,
	EventOrderReconciled,
	EventProductArchived,
	EventUserDisabled,
	EventUserEnabled,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// DeadLetterReason records why the relay gave up on an outbox row.
type DeadLetterReason string

const (
	// DeadLetterUnresolvable rows carry an event type or payload the
	// registry cannot route to a stream.
	DeadLetterUnresolvable DeadLetterReason = "unresolvable"
	// DeadLetterRejected rows were refused by the stream itself.
	DeadLetterRejected DeadLetterReason = "rejected"
	// DeadLetterMaxAttempts rows kept failing with retryable errors.
	DeadLetterMaxAttempts DeadLetterReason = "max_attempts"
)

func (r DeadLetterReason) IsValid() bool {
	switch r {
	case DeadLetterUnresolvable, DeadLetterRejected, DeadLetterMaxAttempts:
		return true
	}
	return false
}
