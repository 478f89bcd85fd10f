package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/supermarket-backend/pkg/config"
	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
	"github.com/angelmondragon/supermarket-backend/pkg/outbox/registry"
)

const (
	relayName = "outbox-publisher"

	defaultBatchSize   = 50
	defaultPoll        = 500 * time.Millisecond
	defaultMaxAttempts = 10
	appendTimeout      = 5 * time.Second
	maxBackoff         = 10 * time.Second
	jitterWindow       = 250 * time.Millisecond
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

// streamWriter is the slice of the redis client the relay appends through.
type streamWriter interface {
	Ping(context.Context) error
	XAdd(ctx context.Context, stream string, maxLen int64, fields map[string]any) (string, error)
}

type outboxStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterStore interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.Resolved, error)
}

// deliveryLedger remembers rows that already reached the stream, so a row
// whose commit failed after XADD is not appended twice.
type deliveryLedger interface {
	Claim(ctx context.Context, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, eventID uuid.UUID) error
}

type RelayParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          txRunner
	Streams     streamWriter
	Outbox      outboxStore
	Registry    resolver
	DeadLetters deadLetterStore
	// Ledger is optional; without it a lost commit re-appends the row.
	Ledger deliveryLedger
}

// Relay drains outbox_events into the storefront event stream. Each batch is
// read and settled inside one transaction so two relays never append the
// same row concurrently.
type Relay struct {
	logg        *logger.Logger
	db          txRunner
	outbox      outboxStore
	streams     streamWriter
	registry    resolver
	deadLetters deadLetterStore
	ledger      deliveryLedger

	streamMaxLen int64
	batchSize    int
	maxAttempts  int
	poll         time.Duration
}

func NewRelay(p RelayParams) (*Relay, error) {
	switch {
	case p.Config == nil:
		return nil, errors.New("config is required")
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.Streams == nil:
		return nil, errors.New("stream writer is required")
	case p.Outbox == nil:
		return nil, errors.New("outbox store is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	case p.DeadLetters == nil:
		return nil, errors.New("dead letter store is required")
	}

	cfg := p.Config.Outbox
	relay := &Relay{
		logg:         p.Logger,
		db:           p.DB,
		outbox:       p.Outbox,
		streams:      p.Streams,
		registry:     p.Registry,
		deadLetters:  p.DeadLetters,
		ledger:       p.Ledger,
		streamMaxLen: cfg.StreamMaxLen,
		batchSize:    cfg.BatchSize,
		maxAttempts:  cfg.MaxAttempts,
		poll:         time.Duration(cfg.PollIntervalMS) * time.Millisecond,
	}
	if relay.batchSize <= 0 {
		relay.batchSize = defaultBatchSize
	}
	if relay.maxAttempts <= 0 {
		relay.maxAttempts = defaultMaxAttempts
	}
	if relay.poll <= 0 {
		relay.poll = defaultPoll
	}
	return relay, nil
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// the next one; failures back off exponentially up to maxBackoff.
func (r *Relay) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{"database": r.db.Ping, "redis": r.streams.Ping} {
		if err := ping(ctx); err != nil {
			r.logg.Error(ctx, name+" not reachable", err)
			return fmt.Errorf("%s ping: %w", name, err)
		}
	}

	pace := pacer{base: r.poll, max: maxBackoff}
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "outbox relay stopping")
			return err
		}

		busy, err := r.drain(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox batch aborted", err)
			wait = pace.failed()
		case busy:
			pace.reset()
			continue
		default:
			wait = pace.idle()
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// drain relays one batch and reports whether there was anything to relay.
func (r *Relay) drain(ctx context.Context) (bool, error) {
	var fetched int
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.outbox.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		fetched = len(rows)
		for _, row := range rows {
			if err := r.relayRow(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
	return fetched > 0, err
}

// relayRow appends one row or records why it could not be appended. Only a
// failure to write that bookkeeping aborts the batch.
func (r *Relay) relayRow(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) error {
	resolved, err := r.registry.Resolve(row)
	if err != nil {
		return r.deadLetter(ctx, tx, row, enums.DeadLetterUnresolvable, err, "")
	}
	stream := resolved.Stream

	appendErr := r.appendRow(ctx, row, resolved)
	switch {
	case appendErr == nil:
		if err := r.outbox.MarkPublishedTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark %s published: %w", row.ID, err)
		}
		r.logg.Info(r.rowContext(ctx, row, stream), "outbox event published")
		return nil
	case registry.IsPoison(appendErr):
		return r.deadLetter(ctx, tx, row, enums.DeadLetterRejected, appendErr, stream)
	case row.AttemptCount+1 >= r.maxAttempts:
		exhausted := fmt.Errorf("gave up after %d attempts: %w", row.AttemptCount+1, appendErr)
		return r.deadLetter(ctx, tx, row, enums.DeadLetterMaxAttempts, exhausted, stream)
	}

	r.logg.Warn(r.logg.WithField(r.rowContext(ctx, row, stream), "error", appendErr.Error()), "outbox append failed, will retry")
	if err := r.outbox.MarkFailedTx(tx, row.ID, appendErr); err != nil {
		return fmt.Errorf("mark %s failed: %w", row.ID, err)
	}
	return nil
}

func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.DeadLetterReason, cause error, stream string) error {
	logCtx := r.logg.WithFields(r.rowContext(ctx, row, stream), map[string]any{
		"dead_letter_reason": reason,
		"error":              cause.Error(),
	})
	r.logg.Warn(logCtx, "outbox event dead-lettered")

	msg := cause.Error()
	if err := r.deadLetters.InsertTx(tx, models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("dead-letter %s: %w", row.ID, err)
	}
	if err := r.outbox.MarkTerminalTx(tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("park %s: %w", row.ID, err)
	}
	return nil
}

// appendRow writes the row to its stream. A row the ledger has already seen
// counts as appended.
func (r *Relay) appendRow(ctx context.Context, row models.OutboxEvent, resolved *registry.Resolved) error {
	stream := resolved.Stream
	if stream == "" {
		return registry.Poison(fmt.Errorf("no stream configured for %s", row.EventType))
	}

	if r.ledger != nil {
		first, err := r.ledger.Claim(ctx, row.ID)
		if err != nil {
			return fmt.Errorf("claim delivery: %w", err)
		}
		if !first {
			return nil
		}
	}

	appendCtx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()
	_, err := r.streams.XAdd(appendCtx, stream, r.streamMaxLen, map[string]any{
		"event_id":       resolved.Envelope.EventID,
		"outbox_id":      row.ID.String(),
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
		"payload":        string(row.Payload),
	})
	if err != nil && r.ledger != nil {
		if relErr := r.ledger.Release(ctx, row.ID); relErr != nil {
			r.logg.Warn(r.logg.WithField(ctx, "error", relErr.Error()), "outbox delivery claim not released")
		}
	}
	return err
}

func (r *Relay) rowContext(ctx context.Context, row models.OutboxEvent, stream string) context.Context {
	fields := map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
	}
	if stream != "" {
		fields["stream"] = stream
	}
	return r.logg.WithFields(ctx, fields)
}

// pacer spaces out polls: the base interval while idle, doubling after each
// failed batch until max.
type pacer struct {
	base, max, current time.Duration
}

func (p *pacer) reset() { p.current = p.base }

func (p *pacer) idle() time.Duration {
	p.reset()
	return withJitter(p.base)
}

func (p *pacer) failed() time.Duration {
	p.current = min(max(p.current, p.base)*2, p.max)
	return withJitter(p.current)
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
