package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/supermarket-backend/internal/checkout"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
)

// Checkout turns the caller's cart into an order. A complete order answers
// 201; an order with failed lines answers 202 with the order and a
// PARTIAL_CHECKOUT error side by side.
func Checkout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("checkout", logg)
	}
	return serveAccount(logg, func(r *http.Request, userID uuid.UUID) (reply, error) {
		result, err := svc.Execute(r.Context(), userID)
		if err != nil {
			return reply{}, err
		}
		partial := result.PartialError()
		if partial == nil {
			return created(result)
		}
		if logg != nil {
			ctx := logg.WithOrderID(r.Context(), result.Order.ID.String())
			logg.Warn(logg.WithField(ctx, "failed_lines", len(result.FailedLines)), "checkout.partial_response")
		}
		return reply{data: result, partial: partial}, nil
	})
}
