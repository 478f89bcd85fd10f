package users

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
	"github.com/angelmondragon/supermarket-backend/pkg/pagination"
)

// Repository reads and writes shopper and admin accounts.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a copy bound to tx; a nil tx keeps the current handle.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) accounts(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.User{})
}

// one loads the first account matching cond. Not-found surfaces as
// gorm.ErrRecordNotFound so services can map it.
func (r *Repository) one(ctx context.Context, cond string, arg any, columns ...string) (*models.User, error) {
	query := r.db.WithContext(ctx)
	if len(columns) > 0 {
		query = query.Select(columns)
	}
	account := new(models.User)
	return account, query.Where(cond, arg).Take(account).Error
}

func (r *Repository) Create(ctx context.Context, dto CreateUserDTO) (*models.User, error) {
	account := dto.ToModel()
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		return nil, err
	}
	return account, nil
}

// FindByEmail expects an already normalized address.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	account, err := r.one(ctx, "email = ?", email)
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	account, err := r.one(ctx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (r *Repository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.accounts(ctx).Where("id = ?", id).UpdateColumn("last_login_at", at).Error
}

// ListExcept pages through accounts newest first, leaving out the caller.
func (r *Repository) ListExcept(ctx context.Context, excluded uuid.UUID, params pagination.Params) ([]models.User, error) {
	query, err := pagination.Keyset(r.accounts(ctx).Where("id <> ?", excluded), params)
	if err != nil {
		return nil, err
	}
	var page []models.User
	if err := query.Find(&page).Error; err != nil {
		return nil, err
	}
	return page, nil
}

// SetDisabled flips the disabled flag and reports whether the row changed.
// Flipping to the current value changes nothing.
func (r *Repository) SetDisabled(ctx context.Context, id uuid.UUID, disabled bool) (bool, error) {
	changed, err := patch(r.accounts(ctx).Where("id = ? AND is_disabled = ?", id, !disabled), map[string]any{"is_disabled": disabled})
	return changed > 0, err
}

// SetRole fails with gorm.ErrRecordNotFound for an unknown account.
func (r *Repository) SetRole(ctx context.Context, id uuid.UUID, role enums.UserRole) error {
	changed, err := patch(r.accounts(ctx).Where("id = ?", id), map[string]any{"role": role})
	if err == nil && changed == 0 {
		return gorm.ErrRecordNotFound
	}
	return err
}

func patch(scope *gorm.DB, fields map[string]any) (int64, error) {
	fields["updated_at"] = time.Now().UTC()
	res := scope.Updates(fields)
	return res.RowsAffected, res.Error
}

// IsDisabled backs the per-request account check. Unknown accounts read as
// disabled so a deleted user's token stops working.
func (r *Repository) IsDisabled(ctx context.Context, id uuid.UUID) (bool, error) {
	account, err := r.one(ctx, "id = ?", id, "id", "is_disabled")
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return true, nil
	case err != nil:
		return false, err
	}
	return account.IsDisabled, nil
}
