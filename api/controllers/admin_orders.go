package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/supermarket-backend/api/middleware"
	"github.com/angelmondragon/supermarket-backend/api/validators"
	"github.com/angelmondragon/supermarket-backend/internal/orders"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/supermarket-backend/pkg/errors"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
)

// AdminOrdersList lists every order. Supported filters: status, user_id and
// unreconciled=true.
func AdminOrdersList(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("orders", logg)
	}
	return serve(logg, func(r *http.Request) (reply, error) {
		params, err := pageParams(r)
		if err != nil {
			return reply{}, err
		}
		filter, err := adminOrderFilter(r)
		if err != nil {
			return reply{}, err
		}
		page, err := svc.ListAll(r.Context(), filter, params)
		if err != nil {
			return reply{}, err
		}
		return ok(page)
	})
}

func AdminOrderDetail(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return orderAction(svc, logg, func(r *http.Request, orderID uuid.UUID) (any, error) {
		return svc.Get(r.Context(), orderID)
	})
}

// AdminOrderReconcile records that a partial order was settled by hand.
func AdminOrderReconcile(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return orderAction(svc, logg, func(r *http.Request, orderID uuid.UUID) (any, error) {
		return svc.MarkReconciled(r.Context(), middleware.ActorFromContext(r.Context()), orderID)
	})
}

func orderAction(svc orders.Service, logg *logger.Logger, act func(r *http.Request, orderID uuid.UUID) (any, error)) http.HandlerFunc {
	if svc == nil {
		return unavailable("orders", logg)
	}
	return serve(logg, func(r *http.Request) (reply, error) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			return reply{}, err
		}
		out, err := act(r, orderID)
		if err != nil {
			return reply{}, err
		}
		return ok(out)
	})
}

func adminOrderFilter(r *http.Request) (orders.ListFilter, error) {
	var filter orders.ListFilter
	q := r.URL.Query()

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := enums.ParseOrderStatus(strings.ToLower(raw))
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(q.Get("user_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user_id filter")
		}
		filter.UserID = &id
	}
	filter.Unreconciled = queryBool(r, "unreconciled")
	return filter, nil
}
