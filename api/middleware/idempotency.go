package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/supermarket-backend/api/responses"
	pkgerrors "github.com/angelmondragon/supermarket-backend/pkg/errors"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
	"github.com/angelmondragon/supermarket-backend/pkg/redis"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayHeader      = "Idempotent-Replay"

	maxIdempotencyKeyLen = 128
)

// ReplayStore holds claims and recorded responses.
type ReplayStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// ReplayPolicy names a mutation that clients may safely retry and how long
// its outcome is remembered.
type ReplayPolicy struct {
	Operation string
	TTL       time.Duration
}

var (
	// CheckoutReplay covers POST /checkout. A replay must never place a
	// second order, so its outcome is kept for a week.
	CheckoutReplay  = ReplayPolicy{Operation: "checkout", TTL: 7 * 24 * time.Hour}
	ProductReplay   = ReplayPolicy{Operation: "product-create", TTL: 24 * time.Hour}
	RestockReplay   = ReplayPolicy{Operation: "restock", TTL: 24 * time.Hour}
	ReconcileReplay = ReplayPolicy{Operation: "reconcile", TTL: 24 * time.Hour}
)

type replayState string

const (
	stateInFlight replayState = "in_flight"
	stateDone     replayState = "done"
)

type replayRecord struct {
	State       replayState `json:"state"`
	Fingerprint string      `json:"fingerprint"`
	Status      int         `json:"status,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	Body        []byte      `json:"body,omitempty"`
}

// Idempotent makes a route replay-safe. The first request with a given
// Idempotency-Key claims it before the handler runs; a duplicate arriving
// while the claim is open gets CONFLICT, and one arriving afterwards gets the
// recorded response. Keys are scoped to the caller and the request path, and
// reusing a key with a different body is rejected. Server errors release the
// claim so the client can retry with the same key.
func Idempotent(policy ReplayPolicy, store ReplayStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			switch {
			case clientKey == "":
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, IdempotencyHeader+" header required"))
				return
			case len(clientKey) > maxIdempotencyKeyLen:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, IdempotencyHeader+" header too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := redis.IdempotencyKey(policy.Operation, UserIDFromContext(ctx), fingerprint([]byte(r.URL.Path)), clientKey)
			bodySum := fingerprint(body)

			claim, _ := json.Marshal(replayRecord{State: stateInFlight, Fingerprint: bodySum})
			claimed, err := store.SetNX(ctx, key, string(claim), policy.TTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replayExisting(ctx, store, key, bodySum, w, logg)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			settled := false
			defer func() {
				if !settled {
					forget(ctx, store, key, logg)
				}
			}()
			next.ServeHTTP(capture, r)

			status := capture.statusCode()
			if status >= http.StatusInternalServerError {
				return
			}
			done, _ := json.Marshal(replayRecord{
				State:       stateDone,
				Fingerprint: bodySum,
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			})
			if err := store.Set(ctx, key, string(done), policy.TTL); err != nil {
				logWarn(ctx, logg, "idempotent response not recorded", err)
				return
			}
			settled = true
		})
	}
}

func replayExisting(ctx context.Context, store ReplayStore, key, bodySum string, w http.ResponseWriter, logg *logger.Logger) {
	raw, err := store.Get(ctx, key)
	if redis.IsNil(err) {
		// The claim expired or was released between SETNX and GET.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request is being retried, try again"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}
	var rec replayRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
		return
	}
	switch {
	case rec.Fingerprint != bodySum:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, IdempotencyHeader+" was used with a different request body"))
	case rec.State != stateDone:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "a request with this "+IdempotencyHeader+" is still in progress"))
	default:
		if rec.ContentType != "" {
			w.Header().Set("Content-Type", rec.ContentType)
		}
		w.Header().Set(ReplayHeader, "true")
		w.WriteHeader(rec.Status)
		_, _ = w.Write(rec.Body)
	}
}

func forget(ctx context.Context, store ReplayStore, key string, logg *logger.Logger) {
	// The request context may already be cancelled; the release must still land.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := store.Del(releaseCtx, key); err != nil {
		logWarn(ctx, logg, "idempotency claim not released", err)
	}
}

func fingerprint(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16])
}

func logWarn(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil {
		return
	}
	logg.Warn(logg.WithField(ctx, "error", err.Error()), msg)
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
