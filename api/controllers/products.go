package controllers

import (
	"net/http"

	"github.com/angelmondragon/supermarket-backend/api/validators"
	"github.com/angelmondragon/supermarket-backend/internal/catalog"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
)

// ProductsList pages through the active catalog.
func ProductsList(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("catalog", logg)
	}
	return serve(logg, func(r *http.Request) (reply, error) {
		params, err := pageParams(r)
		if err != nil {
			return reply{}, err
		}
		page, err := svc.ListProducts(r.Context(), catalog.ListParams{Params: params})
		if err != nil {
			return reply{}, err
		}
		return ok(page)
	})
}

// ProductDetail returns one active product. Archived products are not found.
func ProductDetail(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("catalog", logg)
	}
	return serve(logg, func(r *http.Request) (reply, error) {
		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			return reply{}, err
		}
		product, err := svc.GetProduct(r.Context(), productID, false)
		if err != nil {
			return reply{}, err
		}
		return ok(product)
	})
}
