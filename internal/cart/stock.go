package cart

import (
	"gorm.io/gorm"

	"github.com/angelmondragon/supermarket-backend/internal/catalog"
)

type catalogStock struct {
	*catalog.Repository
}

// NewCatalogStock adapts the catalog repository's conditional stock statements.
func NewCatalogStock(repo *catalog.Repository) StockLedger {
	return catalogStock{Repository: repo}
}

func (c catalogStock) WithTx(tx *gorm.DB) StockLedger {
	return catalogStock{Repository: c.Repository.WithTx(tx)}
}
