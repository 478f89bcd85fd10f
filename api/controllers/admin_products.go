package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/supermarket-backend/api/middleware"
	"github.com/angelmondragon/supermarket-backend/api/validators"
	"github.com/angelmondragon/supermarket-backend/internal/catalog"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
)

type createProductRequest struct {
	Name              string          `json:"name" validate:"required,max=200"`
	Price             decimal.Decimal `json:"price"`
	AvailableQuantity int             `json:"available_quantity"`
	ImageRef          *string         `json:"image_ref,omitempty" validate:"omitempty,max=512"`
}

type updateProductRequest struct {
	Name     *string          `json:"name,omitempty" validate:"omitempty,max=200"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	ImageRef *string          `json:"image_ref,omitempty" validate:"omitempty,max=512"`
}

type restockRequest struct {
	Quantity int `json:"quantity"`
}

// AdminProductsList includes archived products when include_archived is set.
func AdminProductsList(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("catalog", logg)
	}
	return serve(logg, func(r *http.Request) (reply, error) {
		params, err := pageParams(r)
		if err != nil {
			return reply{}, err
		}
		page, err := svc.ListProducts(r.Context(), catalog.ListParams{
			IncludeArchived: queryBool(r, "include_archived"),
			Params:          params,
		})
		if err != nil {
			return reply{}, err
		}
		return ok(page)
	})
}

func AdminProductCreate(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("catalog", logg)
	}
	return serve(logg, func(r *http.Request) (reply, error) {
		var body createProductRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			return reply{}, err
		}
		product, err := svc.CreateProduct(r.Context(), catalog.CreateProductInput{
			Name:              body.Name,
			Price:             body.Price,
			AvailableQuantity: body.AvailableQuantity,
			ImageRef:          body.ImageRef,
		})
		if err != nil {
			return reply{}, err
		}
		return created(product)
	})
}

// productAction adapts the admin routes that act on the {productId} in the path.
func productAction(svc catalog.Service, logg *logger.Logger, act func(r *http.Request, productID uuid.UUID) (any, error)) http.HandlerFunc {
	if svc == nil {
		return unavailable("catalog", logg)
	}
	return serve(logg, func(r *http.Request) (reply, error) {
		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			return reply{}, err
		}
		out, err := act(r, productID)
		if err != nil {
			return reply{}, err
		}
		return ok(out)
	})
}

func AdminProductUpdate(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return productAction(svc, logg, func(r *http.Request, productID uuid.UUID) (any, error) {
		var body updateProductRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			return nil, err
		}
		return svc.UpdateProduct(r.Context(), productID, catalog.UpdateProductInput{
			Name:     body.Name,
			Price:    body.Price,
			ImageRef: body.ImageRef,
		})
	})
}

func AdminProductRestock(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return productAction(svc, logg, func(r *http.Request, productID uuid.UUID) (any, error) {
		var body restockRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			return nil, err
		}
		return svc.Restock(r.Context(), productID, body.Quantity)
	})
}

func AdminProductArchive(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return productAction(svc, logg, func(r *http.Request, productID uuid.UUID) (any, error) {
		return svc.Archive(r.Context(), middleware.ActorFromContext(r.Context()), productID)
	})
}
