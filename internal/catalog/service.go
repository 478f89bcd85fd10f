package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/angelmondragon/supermarket-backend/pkg/db"
	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/supermarket-backend/pkg/errors"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
	"github.com/angelmondragon/supermarket-backend/pkg/outbox"
	"github.com/angelmondragon/supermarket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/supermarket-backend/pkg/pagination"
)

// Service exposes catalog management and shopper reads.
type Service interface {
	CreateProduct(ctx context.Context, input CreateProductInput) (*ProductDTO, error)
	UpdateProduct(ctx context.Context, productID uuid.UUID, input UpdateProductInput) (*ProductDTO, error)
	Restock(ctx context.Context, productID uuid.UUID, quantity int) (*ProductDTO, error)
	Archive(ctx context.Context, actor outbox.ActorRef, productID uuid.UUID) (*ProductDTO, error)
	GetProduct(ctx context.Context, productID uuid.UUID, includeArchived bool) (*ProductDTO, error)
	ListProducts(ctx context.Context, params ListParams) (*ProductPage, error)
}

// CreateProductInput holds the validated payload to create a product.
type CreateProductInput struct {
	Name              string
	Price             decimal.Decimal
	AvailableQuantity int
	ImageRef          *string
}

// UpdateProductInput holds optional detail changes. Stock moves only through
// Restock and the cart.
type UpdateProductInput struct {
	Name     *string
	Price    *decimal.Decimal
	ImageRef *string
}

type service struct {
	repo     *Repository
	dbClient *db.Client
	cache    *Cache
	events   outbox.Emitter
	logg     *logger.Logger
	sfg      singleflight.Group
}

// NewService constructs a catalog service. cache may be nil.
func NewService(repo *Repository, dbClient *db.Client, cache *Cache, events outbox.Emitter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		repo:     repo,
		dbClient: dbClient,
		cache:    cache,
		events:   events,
		logg:     logg,
	}, nil
}

func (s *service) CreateProduct(ctx context.Context, input CreateProductInput) (*ProductDTO, error) {
	name, err := normalizeName(input.Name)
	if err != nil {
		return nil, err
	}
	if err := validatePrice(input.Price); err != nil {
		return nil, err
	}
	if input.AvailableQuantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidQuantity, "available_quantity cannot be negative")
	}

	product := &models.Product{
		Name:              name,
		Price:             input.Price.Round(2),
		AvailableQuantity: input.AvailableQuantity,
		ImageRef:          trimmedOrNil(input.ImageRef),
	}
	created, err := s.repo.Create(ctx, product)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: insert product")
	}
	s.invalidate(ctx, created.ID)
	return toProductDTO(created), nil
}

func (s *service) UpdateProduct(ctx context.Context, productID uuid.UUID, input UpdateProductInput) (*ProductDTO, error) {
	product, err := s.load(ctx, s.repo, productID)
	if err != nil {
		return nil, err
	}
	if product.Archived {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "archived products cannot be edited")
	}

	if input.Name != nil {
		name, err := normalizeName(*input.Name)
		if err != nil {
			return nil, err
		}
		product.Name = name
	}
	if input.Price != nil {
		if err := validatePrice(*input.Price); err != nil {
			return nil, err
		}
		product.Price = input.Price.Round(2)
	}
	if input.ImageRef != nil {
		product.ImageRef = trimmedOrNil(input.ImageRef)
	}

	if err := s.repo.UpdateDetails(ctx, product); err != nil {
		return nil, mapLoadError(err, "update product")
	}
	s.invalidate(ctx, productID)
	return s.reload(ctx, productID)
}

func (s *service) Restock(ctx context.Context, productID uuid.UUID, quantity int) (*ProductDTO, error) {
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidQuantity, "restock quantity must be at least 1").
			WithDetails(map[string]any{"quantity": quantity})
	}
	if err := s.repo.Restock(ctx, productID, quantity); err != nil {
		return nil, err
	}
	s.invalidate(ctx, productID)
	return s.reload(ctx, productID)
}

func (s *service) Archive(ctx context.Context, actor outbox.ActorRef, productID uuid.UUID) (*ProductDTO, error) {
	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		product, err := s.load(ctx, txRepo, productID)
		if err != nil {
			return err
		}
		if product.Archived {
			return nil
		}
		if err := txRepo.Archive(ctx, productID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "archive product")
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProductArchived,
			AggregateType: enums.AggregateProduct,
			AggregateID:   productID,
			Actor:         &actor,
			Data: payloads.ProductArchivedEvent{
				ProductID:         productID,
				AvailableQuantity: product.AvailableQuantity,
			},
		})
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "archive product")
	}
	s.invalidate(ctx, productID)
	return s.reload(ctx, productID)
}

// GetProduct reads through the cache. Archived products are hidden unless
// includeArchived is set.
func (s *service) GetProduct(ctx context.Context, productID uuid.UUID, includeArchived bool) (*ProductDTO, error) {
	v, err, _ := s.sfg.Do("product:"+productID.String(), func() (any, error) {
		cached, err := s.cache.GetProduct(ctx, productID)
		if err == nil {
			return cached, nil
		}
		s.logCacheError(ctx, err)

		product, err := s.load(ctx, s.repo, productID)
		if err != nil {
			return nil, err
		}
		dto := toProductDTO(product)
		if err := s.cache.SetProduct(ctx, dto); err != nil {
			s.logCacheError(ctx, err)
		}
		return dto, nil
	})
	if err != nil {
		return nil, err
	}
	dto := *v.(*ProductDTO)
	if dto.Archived && !includeArchived {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return &dto, nil
}

// ListProducts pages through the catalog. Only the default first page of the
// shopper listing is cached.
func (s *service) ListProducts(ctx context.Context, params ListParams) (*ProductPage, error) {
	cacheable := !params.IncludeArchived && params.Cursor == "" && pagination.NormalizeLimit(params.Limit) == pagination.DefaultLimit
	if !cacheable {
		return s.listFromDB(ctx, params)
	}

	v, err, _ := s.sfg.Do("list:"+firstPageVariant, func() (any, error) {
		cached, err := s.cache.GetFirstPage(ctx)
		if err == nil {
			return cached, nil
		}
		s.logCacheError(ctx, err)

		page, err := s.listFromDB(ctx, params)
		if err != nil {
			return nil, err
		}
		if err := s.cache.SetFirstPage(ctx, page); err != nil {
			s.logCacheError(ctx, err)
		}
		return page, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ProductPage), nil
}

func (s *service) listFromDB(ctx context.Context, params ListParams) (*ProductPage, error) {
	rows, err := s.repo.List(ctx, params)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products")
	}
	return toProductPage(rows, params.Limit), nil
}

func (s *service) load(ctx context.Context, repo *Repository, productID uuid.UUID) (*models.Product, error) {
	product, err := repo.FindByID(ctx, productID)
	if err != nil {
		return nil, mapLoadError(err, "load product")
	}
	return product, nil
}

func (s *service) reload(ctx context.Context, productID uuid.UUID) (*ProductDTO, error) {
	product, err := s.load(ctx, s.repo, productID)
	if err != nil {
		return nil, err
	}
	return toProductDTO(product), nil
}

func (s *service) invalidate(ctx context.Context, ids ...uuid.UUID) {
	if err := s.cache.Invalidate(ctx, ids...); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "catalog.cache_invalidate_failed")
	}
}

func (s *service) logCacheError(ctx context.Context, err error) {
	if err == nil || errors.Is(err, ErrCacheMiss) || s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "catalog.cache_read_failed")
}

func mapLoadError(err error, action string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}

// maxNameRunes caps product names; longer names are cut on a rune boundary.
const maxNameRunes = 200

func normalizeName(raw string) (string, error) {
	if !utf8.ValidString(raw) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "name must be valid UTF-8")
	}
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		name = strings.TrimSpace(string([]rune(name)[:maxNameRunes]))
	}
	return name, nil
}

func validatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "price must be greater than zero")
	}
	return nil
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
