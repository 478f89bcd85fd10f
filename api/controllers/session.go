package controllers

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/angelmondragon/supermarket-backend/api/middleware"
	"github.com/angelmondragon/supermarket-backend/api/validators"
	pkgAuth "github.com/angelmondragon/supermarket-backend/pkg/auth"
	"github.com/angelmondragon/supermarket-backend/pkg/auth/session"
	"github.com/angelmondragon/supermarket-backend/pkg/config"
	"github.com/angelmondragon/supermarket-backend/pkg/errors"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
)

type sessionTokenRotator interface {
	Rotate(ctx context.Context, oldAccessID, provided string) (string, string, error)
	Revoke(ctx context.Context, accessID string) error
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// presentedSession returns the claims of the caller's access token. Logout and
// refresh accept an expired token: the session it names is what matters.
func presentedSession(r *http.Request, cfg config.JWTConfig) (*pkgAuth.AccessTokenClaims, error) {
	token, err := middleware.BearerToken(r)
	if err != nil {
		return nil, err
	}
	claims, err := pkgAuth.ParseAccessTokenAllowExpired(cfg, token)
	if err != nil {
		return nil, errors.Wrap(errors.CodeUnauthorized, err, "invalid token")
	}
	return claims, nil
}

// AuthLogout ends the session behind the presented token. Logging out twice
// succeeds.
func AuthLogout(sessions sessionTokenRotator, cfg config.JWTConfig, logg *logger.Logger) http.HandlerFunc {
	return serve(logg, func(r *http.Request) (reply, error) {
		claims, err := presentedSession(r, cfg)
		if err != nil {
			return reply{}, err
		}
		if err := sessions.Revoke(r.Context(), claims.ID); err != nil {
			return reply{}, errors.Wrap(errors.CodeDependency, err, "revoke session")
		}
		return ok(map[string]string{"status": "logged_out"})
	})
}

// AuthRefresh trades the refresh token for a new token pair. The old pair
// stops working whether or not the caller receives the response.
func AuthRefresh(sessions sessionTokenRotator, cfg config.JWTConfig, logg *logger.Logger) http.HandlerFunc {
	return serve(logg, func(r *http.Request) (reply, error) {
		var body refreshRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			return reply{}, err
		}
		claims, err := presentedSession(r, cfg)
		if err != nil {
			return reply{}, err
		}

		accessID, refresh, err := sessions.Rotate(r.Context(), claims.ID, body.RefreshToken)
		switch {
		case stderrors.Is(err, session.ErrInvalidRefreshToken):
			return reply{}, errors.New(errors.CodeUnauthorized, "invalid refresh token")
		case err != nil:
			return reply{}, errors.Wrap(errors.CodeDependency, err, "rotate session")
		}

		access, err := pkgAuth.MintAccessToken(cfg, time.Now().UTC(), pkgAuth.AccessTokenPayload{
			UserID: claims.UserID,
			Role:   claims.Role,
			JTI:    accessID,
		})
		if err != nil {
			return reply{}, errors.Wrap(errors.CodeInternal, err, "mint access token")
		}
		return ok(refreshResponse{AccessToken: access, RefreshToken: refresh})
	})
}
