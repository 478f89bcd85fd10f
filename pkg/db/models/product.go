package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is a catalog entry. AvailableQuantity is unreserved shelf stock; units
// held in carts have already been subtracted from it.
type Product struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Name              string          `gorm:"column:name;not null"`
	Price             decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null;check:chk_products_price,price >= 0"`
	AvailableQuantity int             `gorm:"column:available_quantity;not null;default:0;check:chk_products_available_quantity,available_quantity >= 0"`
	ImageRef          *string         `gorm:"column:image_ref"`
	Archived          bool            `gorm:"column:archived;not null;default:false"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
