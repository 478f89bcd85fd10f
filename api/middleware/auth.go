package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/supermarket-backend/api/responses"
	pkgAuth "github.com/angelmondragon/supermarket-backend/pkg/auth"
	"github.com/angelmondragon/supermarket-backend/pkg/auth/session"
	"github.com/angelmondragon/supermarket-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/supermarket-backend/pkg/errors"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
)

// AccountStatusChecker is consulted on every request so disabling a shopper
// locks them out before their token expires.
type AccountStatusChecker interface {
	IsDisabled(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Auth admits requests carrying a live access token and puts the caller's id
// and role on the context. sessions and accounts may be nil.
func Auth(cfg config.JWTConfig, sessions session.AccessSessionChecker, accounts AccountStatusChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := authenticate(r, cfg, sessions, accounts)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			userID, role := claims.UserID.String(), string(claims.Role)
			ctx := WithRole(WithUserID(r.Context(), userID), role)
			if logg != nil {
				ctx = logg.WithActorRole(logg.WithUserID(ctx, userID), role)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(r *http.Request, cfg config.JWTConfig, sessions session.AccessSessionChecker, accounts AccountStatusChecker) (*pkgAuth.AccessTokenClaims, error) {
	token, err := BearerToken(r)
	if err != nil {
		return nil, err
	}
	claims, err := pkgAuth.ParseAccessToken(cfg, token)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token")
	}

	if sessions != nil {
		live, err := sessions.HasSession(r.Context(), claims.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "validate session")
		}
		if !live {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "session ended")
		}
	}
	if accounts != nil {
		disabled, err := accounts.IsDisabled(r.Context(), claims.UserID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check account status")
		}
		if disabled {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "account disabled")
		}
	}
	return claims, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
// Other schemes are rejected rather than read as a token.
func BearerToken(r *http.Request) (string, error) {
	scheme, token, _ := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	token = strings.TrimSpace(token)
	if !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	return token, nil
}
