package controllers

import (
	"net/http"

	"github.com/angelmondragon/supermarket-backend/api/validators"
	"github.com/angelmondragon/supermarket-backend/internal/auth"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
)

// AuthLogin exchanges credentials for a token pair.
func AuthLogin(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("auth", logg)
	}
	return serve(logg, func(r *http.Request) (reply, error) {
		var body auth.LoginRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			return reply{}, err
		}
		result, err := svc.Login(r.Context(), body)
		if err != nil {
			return reply{}, err
		}
		return ok(result)
	})
}

// AuthRegister creates an account and signs it in. The role is fixed by the
// RegisterService it is mounted with.
func AuthRegister(reg auth.RegisterService, svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	if reg == nil || svc == nil {
		return unavailable("auth", logg)
	}
	return serve(logg, func(r *http.Request) (reply, error) {
		var body auth.RegisterRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			return reply{}, err
		}
		if _, err := reg.Register(r.Context(), body); err != nil {
			return reply{}, err
		}
		result, err := svc.Login(r.Context(), auth.LoginRequest{Email: body.Email, Password: body.Password})
		if err != nil {
			return reply{}, err
		}
		return created(result)
	})
}
