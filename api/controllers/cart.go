package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/supermarket-backend/api/validators"
	"github.com/angelmondragon/supermarket-backend/internal/cart"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
)

type addCartItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

// CartFetch returns the caller's cart, creating it on first access.
func CartFetch(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("cart", logg)
	}
	return serveAccount(logg, func(r *http.Request, userID uuid.UUID) (reply, error) {
		view, err := svc.View(r.Context(), userID)
		if err != nil {
			return reply{}, err
		}
		return ok(view)
	})
}

// CartAddItem reserves stock for a product and adds it to the cart.
func CartAddItem(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("cart", logg)
	}
	return serveAccount(logg, func(r *http.Request, userID uuid.UUID) (reply, error) {
		var body addCartItemRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			return reply{}, err
		}
		view, err := svc.AddItem(r.Context(), userID, body.ProductID, body.Quantity)
		if err != nil {
			return reply{}, err
		}
		return created(view)
	})
}

// CartUpdateItem sets a line's quantity. Zero removes the line.
func CartUpdateItem(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("cart", logg)
	}
	return serveAccount(logg, func(r *http.Request, userID uuid.UUID) (reply, error) {
		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			return reply{}, err
		}
		var body updateCartItemRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			return reply{}, err
		}

		var view *cart.CartView
		if *body.Quantity == 0 {
			view, err = svc.RemoveItem(r.Context(), userID, productID)
		} else {
			view, err = svc.UpdateItem(r.Context(), userID, productID, *body.Quantity)
		}
		if err != nil {
			return reply{}, err
		}
		return ok(view)
	})
}

func CartRemoveItem(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("cart", logg)
	}
	return serveAccount(logg, func(r *http.Request, userID uuid.UUID) (reply, error) {
		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			return reply{}, err
		}
		view, err := svc.RemoveItem(r.Context(), userID, productID)
		if err != nil {
			return reply{}, err
		}
		return ok(view)
	})
}

// CartClear empties the cart. Lines that could not be restocked come back in
// the report's failed list with a warning rather than as an error.
func CartClear(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("cart", logg)
	}
	return serveAccount(logg, func(r *http.Request, userID uuid.UUID) (reply, error) {
		report, err := svc.Clear(r.Context(), userID)
		if err != nil {
			return reply{}, err
		}
		return ok(report)
	})
}
