package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/supermarket-backend/api/responses"
	pkgerrors "github.com/angelmondragon/supermarket-backend/pkg/errors"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
)

// reply is an endpoint's successful answer. A reply carrying partial wrote
// data but could not do everything asked; both reach the client.
type reply struct {
	status  int
	data    any
	partial error
}

func ok(data any) (reply, error) {
	return reply{status: http.StatusOK, data: data}, nil
}

func created(data any) (reply, error) {
	return reply{status: http.StatusCreated, data: data}, nil
}

// endpoint is the body of a JSON handler. Errors are written in the error
// envelope with the status their code maps to.
type endpoint func(r *http.Request) (reply, error)

// accountEndpoint is an endpoint that acts on the signed-in account.
type accountEndpoint func(r *http.Request, userID uuid.UUID) (reply, error)

func serve(logg *logger.Logger, fn endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := fn(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if out.partial != nil {
			responses.WritePartial(w, out.data, out.partial)
			return
		}
		responses.WriteSuccessStatus(w, out.status, out.data)
	}
}

func serveAccount(logg *logger.Logger, fn accountEndpoint) http.HandlerFunc {
	return serve(logg, func(r *http.Request) (reply, error) {
		userID, err := currentUserID(r)
		if err != nil {
			return reply{}, err
		}
		return fn(r, userID)
	})
}

// unavailable answers every request with an internal error. Handlers built
// without their service mount it instead of failing at request time.
func unavailable(service string, logg *logger.Logger) http.HandlerFunc {
	return serve(logg, func(*http.Request) (reply, error) {
		return reply{}, pkgerrors.New(pkgerrors.CodeInternal, service+" service unavailable")
	})
}
