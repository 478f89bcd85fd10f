package outbox

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
)

// DLQRepository stores rows the publisher will not retry.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx records entry; a second insert for the same event is ignored.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&entry).Error
}

// ListRecent returns the newest entries first.
func (r *DLQRepository) ListRecent(tx *gorm.DB, limit int) ([]models.OutboxDLQ, error) {
	if tx == nil {
		tx = r.db
	}
	var rows []models.OutboxDLQ
	err := tx.Order("failed_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
