package outbox

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
)

func TestDLQInsertIgnoresDuplicateEvent(t *testing.T) {
	conn := openOutboxDB(t)
	require.NoError(t, conn.AutoMigrate(&models.OutboxDLQ{}))
	repo := NewDLQRepository(conn)

	eventID := uuid.New()
	entry := models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventOrderPartial,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1}`),
		ErrorReason:   enums.DeadLetterMaxAttempts,
		AttemptCount:  10,
		FailedAt:      time.Now().UTC(),
	}
	require.NoError(t, repo.InsertTx(conn, entry))
	require.NoError(t, repo.InsertTx(conn, entry))

	rows, err := repo.ListRecent(nil, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, eventID, rows[0].EventID)
	require.Equal(t, enums.DeadLetterMaxAttempts, rows[0].ErrorReason)
}

func TestDLQInsertRequiresTransaction(t *testing.T) {
	repo := NewDLQRepository(nil)
	require.Error(t, repo.InsertTx(nil, models.OutboxDLQ{}))
}
