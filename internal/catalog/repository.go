package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/supermarket-backend/pkg/errors"
	"github.com/angelmondragon/supermarket-backend/pkg/pagination"
)

// ListParams filters catalog listings.
type ListParams struct {
	IncludeArchived bool
	pagination.Params
}

// Repository persists catalog products.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindByID loads a product, archived or not.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// FindByIDs loads every product in ids keyed by id. Missing ids are absent from the map.
func (r *Repository) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	out := make(map[uuid.UUID]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// List returns products newest first, fetching one extra row so callers can
// tell whether another page exists.
func (r *Repository) List(ctx context.Context, params ListParams) ([]models.Product, error) {
	query := r.db.WithContext(ctx).Model(&models.Product{})
	if !params.IncludeArchived {
		query = query.Where("archived = ?", false)
	}
	query, err := pagination.Keyset(query, params.Params)
	if err != nil {
		return nil, err
	}
	var rows []models.Product
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Create inserts a product.
func (r *Repository) Create(ctx context.Context, product *models.Product) (*models.Product, error) {
	if err := r.db.WithContext(ctx).Create(product).Error; err != nil {
		return nil, err
	}
	return product, nil
}

// UpdateDetails writes name, price and image. Stock is never touched here.
func (r *Repository) UpdateDetails(ctx context.Context, product *models.Product) error {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", product.ID).
		Updates(map[string]any{
			"name":       product.Name,
			"price":      product.Price,
			"image_ref":  product.ImageRef,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Archive flips the archived flag. Archived products keep their rows so order
// history stays intact.
func (r *Repository) Archive(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", id).
		Updates(map[string]any{"archived": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Reserve takes qty units off the shelf in one conditional statement. It
// succeeds only when the product exists, is not archived, and has at least
// qty units available.
func (r *Repository) Reserve(ctx context.Context, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity must be at least 1")
	}
	res := r.db.WithContext(ctx).Exec(`
		UPDATE products
		SET available_quantity = available_quantity - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND archived = ? AND available_quantity >= ?
	`, qty, productID, false, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve stock")
	}
	if res.RowsAffected == 1 {
		return nil
	}
	return r.explainReserveMiss(ctx, productID, qty)
}

func (r *Repository) explainReserveMiss(ctx context.Context, productID uuid.UUID, qty int) error {
	var product models.Product
	err := r.db.WithContext(ctx).Select("id", "archived", "available_quantity").First(&product, "id = ?", productID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	case err != nil:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	case product.Archived:
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return InsufficientStock(productID, qty, product.AvailableQuantity)
}

// Release puts qty units back on the shelf. Releases are unconditional.
func (r *Repository) Release(ctx context.Context, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Exec(`
		UPDATE products
		SET available_quantity = available_quantity + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, qty, productID)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return nil
}

// Restock adds delivered units to the shelf.
func (r *Repository) Restock(ctx context.Context, productID uuid.UUID, delta int) error {
	if delta <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidQuantity, "restock quantity must be at least 1")
	}
	return r.Release(ctx, productID, delta)
}

// InsufficientStock builds the error returned when a reservation cannot be met.
func InsufficientStock(productID uuid.UUID, requested, available int) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "not enough stock available").
		WithDetails(map[string]any{
			"product_id": productID.String(),
			"requested":  requested,
			"available":  available,
		})
}
