// Package registry knows which outbox events the storefront emits, which
// aggregate each belongs to and what its payload looks like, so the relay can
// refuse malformed rows before they reach a consumer.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
	"github.com/angelmondragon/supermarket-backend/pkg/outbox"
	"github.com/angelmondragon/supermarket-backend/pkg/outbox/payloads"
)

// PoisonError marks a row that can never be relayed as written. Retrying it
// is pointless; it belongs in the dead-letter table.
type PoisonError struct {
	Err error
}

func (e PoisonError) Error() string { return "poison outbox row: " + e.Err.Error() }
func (e PoisonError) Unwrap() error { return e.Err }

// Poison wraps err as a PoisonError.
func Poison(err error) error {
	return PoisonError{Err: err}
}

// IsPoison reports whether err, or anything it wraps, is a PoisonError.
func IsPoison(err error) bool {
	var p PoisonError
	return errors.As(err, &p)
}

// Resolved is a validated row ready to append.
type Resolved struct {
	EventType enums.OutboxEventType
	Stream    string
	Envelope  outbox.PayloadEnvelope
	Payload   any
}

type schema struct {
	aggregate enums.OutboxAggregateType
	decode    func(json.RawMessage) (any, error)
}

func schemaOf[T any](aggregate enums.OutboxAggregateType) schema {
	return schema{aggregate: aggregate, decode: func(raw json.RawMessage) (any, error) {
		v := new(T)
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, err
		}
		return v, nil
	}}
}

var schemas = map[enums.OutboxEventType]schema{
	enums.EventOrderCreated:       schemaOf[payloads.OrderCreatedEvent](enums.AggregateOrder),
	enums.EventOrderPartial:       schemaOf[payloads.OrderCreatedEvent](enums.AggregateOrder),
	enums.EventOrderLinesRecorded: schemaOf[payloads.OrderLinesRecordedEvent](enums.AggregateOrder),
	enums.EventOrderReconciled:    schemaOf[payloads.OrderReconciledEvent](enums.AggregateOrder),
	enums.EventProductArchived:    schemaOf[payloads.ProductArchivedEvent](enums.AggregateProduct),
	enums.EventUserDisabled:       schemaOf[payloads.UserStatusChangedEvent](enums.AggregateUser),
	enums.EventUserEnabled:        schemaOf[payloads.UserStatusChangedEvent](enums.AggregateUser),
}

// Registry routes every storefront event to one stream.
type Registry struct {
	stream string
}

func New(stream string) (*Registry, error) {
	stream = strings.TrimSpace(stream)
	if stream == "" {
		return nil, errors.New("stream is required")
	}
	return &Registry{stream: stream}, nil
}

// Resolve checks the row against its schema and decodes the payload. Every
// failure is a PoisonError.
func (r *Registry) Resolve(row models.OutboxEvent) (*Resolved, error) {
	s, ok := schemas[row.EventType]
	switch {
	case !ok:
		return nil, Poison(fmt.Errorf("unknown event type %q", row.EventType))
	case row.AggregateType != s.aggregate:
		return nil, Poison(fmt.Errorf("%s belongs to %s, row says %s", row.EventType, s.aggregate, row.AggregateType))
	case row.AggregateID == uuid.Nil:
		return nil, Poison(errors.New("aggregate id missing"))
	}

	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &env); err != nil {
		return nil, Poison(fmt.Errorf("envelope: %w", err))
	}
	if env.EventID == "" {
		return nil, Poison(errors.New("envelope has no event id"))
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, Poison(fmt.Errorf("%s has no data", row.EventType))
	}
	payload, err := s.decode(env.Data)
	if err != nil {
		return nil, Poison(fmt.Errorf("%s data: %w", row.EventType, err))
	}
	return &Resolved{EventType: row.EventType, Stream: r.stream, Envelope: env, Payload: payload}, nil
}
