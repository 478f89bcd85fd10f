package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
	"github.com/angelmondragon/supermarket-backend/pkg/outbox/payloads"
)

func openOutboxDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:outbox_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.OutboxEvent{}))
	return conn
}

func TestEmitWritesEnvelope(t *testing.T) {
	conn := openOutboxDB(t)
	repo := NewRepository(conn)
	w := NewWriter(repo, nil)

	orderID := uuid.New()
	err := conn.Transaction(func(tx *gorm.DB) error {
		return w.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          payloads.OrderCreatedEvent{OrderID: orderID, TotalAmount: "9.99", LineCount: 2},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, orderID, rows[0].AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	require.Equal(t, defaultEventVersion, envelope.Version)
	require.NotEmpty(t, envelope.EventID)

	var data payloads.OrderCreatedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	require.Equal(t, "9.99", data.TotalAmount)
}

func TestEmitValidatesEvent(t *testing.T) {
	conn := openOutboxDB(t)
	w := NewWriter(NewRepository(conn), nil)

	require.Error(t, w.Emit(context.Background(), nil, DomainEvent{}))
	require.Error(t, w.Emit(context.Background(), conn, DomainEvent{
		EventType:     "order_paid",
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
	}))
	require.Error(t, w.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventUserDisabled,
		AggregateType: enums.AggregateUser,
	}))
}

func TestEmitStampsEnvelope(t *testing.T) {
	conn := openOutboxDB(t)
	w := NewWriter(NewRepository(conn), nil)
	fixed := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	admin := &ActorRef{UserID: uuid.New(), Role: string(enums.UserRoleAdmin)}
	productID := uuid.New()
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return w.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventProductArchived,
			AggregateType: enums.AggregateProduct,
			AggregateID:   productID,
			Actor:         admin,
			Version:       2,
			Data:          map[string]string{"product_id": productID.String()},
		})
	}))

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	require.Equal(t, 2, envelope.Version)
	require.True(t, fixed.Equal(envelope.OccurredAt))
	require.Equal(t, admin, envelope.Actor)
}

func TestEmitRollsBackWithCaller(t *testing.T) {
	conn := openOutboxDB(t)
	w := NewWriter(NewRepository(conn), nil)

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := w.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventUserDisabled,
			AggregateType: enums.AggregateUser,
			AggregateID:   uuid.New(),
		}); err != nil {
			return err
		}
		return assertErr("role change refused")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := openOutboxDB(t)
	repo := NewRepository(conn)

	first := models.OutboxEvent{EventType: enums.EventProductArchived, AggregateType: enums.AggregateProduct, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	second := models.OutboxEvent{EventType: enums.EventUserEnabled, AggregateType: enums.AggregateUser, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	require.NoError(t, repo.Insert(conn, first))
	require.NoError(t, repo.Insert(conn, second))

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, repo.MarkPublishedTx(conn, rows[0].ID))
	require.NoError(t, repo.MarkTerminalTx(conn, rows[1].ID, assertErr("bad payload"), 3))

	rows, err = repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Empty(t, rows)

	deleted, err := repo.DeletePublishedBefore(context.Background(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	var remaining int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&remaining).Error)
	require.EqualValues(t, 1, remaining)
}

func TestMarkFailedIncrementsAttempts(t *testing.T) {
	conn := openOutboxDB(t)
	repo := NewRepository(conn)
	event := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	require.NoError(t, repo.Insert(conn, event))

	require.NoError(t, repo.MarkFailedTx(conn, event.ID, assertErr("redis down")))
	require.NoError(t, repo.MarkFailedTx(conn, event.ID, assertErr("redis down")))

	var stored models.OutboxEvent
	require.NoError(t, conn.First(&stored, "id = ?", event.ID).Error)
	require.Equal(t, 2, stored.AttemptCount)
	require.NotNil(t, stored.LastError)
	require.Equal(t, "redis down", *stored.LastError)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
