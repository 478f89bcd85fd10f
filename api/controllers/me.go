package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/supermarket-backend/internal/users"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
)

type profileReader interface {
	Get(ctx context.Context, id uuid.UUID) (*users.UserDTO, error)
}

// Me returns the signed-in account's profile.
func Me(svc profileReader, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("user", logg)
	}
	return serveAccount(logg, func(r *http.Request, userID uuid.UUID) (reply, error) {
		profile, err := svc.Get(r.Context(), userID)
		if err != nil {
			return reply{}, err
		}
		return ok(profile)
	})
}
