package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/supermarket-backend/api/validators"
	"github.com/angelmondragon/supermarket-backend/internal/orders"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
)

// OrdersList pages through the caller's orders, newest first.
func OrdersList(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("orders", logg)
	}
	return serveAccount(logg, func(r *http.Request, userID uuid.UUID) (reply, error) {
		params, err := pageParams(r)
		if err != nil {
			return reply{}, err
		}
		page, err := svc.ListForUser(r.Context(), userID, params)
		if err != nil {
			return reply{}, err
		}
		return ok(page)
	})
}

// OrderDetail returns one of the caller's orders with its lines. Another
// shopper's order is reported as not found.
func OrderDetail(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("orders", logg)
	}
	return serveAccount(logg, func(r *http.Request, userID uuid.UUID) (reply, error) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			return reply{}, err
		}
		order, err := svc.GetForUser(r.Context(), userID, orderID)
		if err != nil {
			return reply{}, err
		}
		return ok(order)
	})
}
