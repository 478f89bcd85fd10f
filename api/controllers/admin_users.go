package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/supermarket-backend/api/middleware"
	"github.com/angelmondragon/supermarket-backend/api/validators"
	"github.com/angelmondragon/supermarket-backend/internal/users"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
)

type changeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin user"`
}

// AdminUsersList lists every account except the caller's.
func AdminUsersList(svc users.AdminService, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("user", logg)
	}
	return serve(logg, func(r *http.Request) (reply, error) {
		params, err := pageParams(r)
		if err != nil {
			return reply{}, err
		}
		page, err := svc.List(r.Context(), middleware.ActorFromContext(r.Context()), params)
		if err != nil {
			return reply{}, err
		}
		return ok(page)
	})
}

func AdminUserDetail(svc users.AdminService, logg *logger.Logger) http.HandlerFunc {
	return userAction(svc, logg, func(r *http.Request, userID uuid.UUID) (any, error) {
		return svc.Get(r.Context(), userID)
	})
}

// AdminUserSetDisabled serves both the disable and the enable route.
func AdminUserSetDisabled(svc users.AdminService, disabled bool, logg *logger.Logger) http.HandlerFunc {
	return userAction(svc, logg, func(r *http.Request, userID uuid.UUID) (any, error) {
		return svc.SetDisabled(r.Context(), middleware.ActorFromContext(r.Context()), userID, disabled)
	})
}

func AdminUserChangeRole(svc users.AdminService, logg *logger.Logger) http.HandlerFunc {
	return userAction(svc, logg, func(r *http.Request, userID uuid.UUID) (any, error) {
		var body changeRoleRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			return nil, err
		}
		return svc.ChangeRole(r.Context(), middleware.ActorFromContext(r.Context()), userID, enums.UserRole(body.Role))
	})
}

// userAction adapts the routes that act on the {userId} in the path. The
// service refuses actions an admin takes on their own account.
func userAction(svc users.AdminService, logg *logger.Logger, act func(r *http.Request, userID uuid.UUID) (any, error)) http.HandlerFunc {
	if svc == nil {
		return unavailable("user", logg)
	}
	return serve(logg, func(r *http.Request) (reply, error) {
		userID, err := validators.ParseUUIDParam(r, "userId")
		if err != nil {
			return reply{}, err
		}
		out, err := act(r, userID)
		if err != nil {
			return reply{}, err
		}
		return ok(out)
	})
}
