package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/supermarket-backend/pkg/errors"
	"github.com/angelmondragon/supermarket-backend/pkg/redis"
)

func checkoutRequest(userID, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	return req.WithContext(WithUserID(req.Context(), userID))
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestIdempotentRequiresKey(t *testing.T) {
	store, _ := testRedis(t)
	called := false
	handler := Idempotent(CheckoutReplay, store, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, checkoutRequest("user-a", "", `{}`))
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, checkoutRequest("user-a", strings.Repeat("k", maxIdempotencyKeyLen+1), `{}`))
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.False(t, called)
}

func TestIdempotentReplaysRecordedResponse(t *testing.T) {
	store, mr := testRedis(t)
	calls := 0
	handler := Idempotent(CheckoutReplay, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"data":{"status":"partial"}}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, checkoutRequest("user-a", "order-1", `{}`))
	require.Equal(t, http.StatusAccepted, first.Code)
	require.Empty(t, first.Header().Get(ReplayHeader))

	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, checkoutRequest("user-a", "order-1", `{}`))
	require.Equal(t, http.StatusAccepted, replay.Code)
	require.Equal(t, "true", replay.Header().Get(ReplayHeader))
	require.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	require.JSONEq(t, `{"data":{"status":"partial"}}`, replay.Body.String())
	require.Equal(t, 1, calls)

	// Checkout outcomes are kept for a week.
	keys := mr.Keys()
	require.Len(t, keys, 1)
	require.Equal(t, CheckoutReplay.TTL, mr.TTL(keys[0]))
}

func TestIdempotentRejectsKeyReuseWithDifferentBody(t *testing.T) {
	store, _ := testRedis(t)
	handler := Idempotent(RestockReplay, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), checkoutRequest("admin", "restock-1", `{"quantity":5}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, checkoutRequest("admin", "restock-1", `{"quantity":50}`))
	require.Equal(t, http.StatusConflict, resp.Code)
	require.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, resp))
}

func TestIdempotentConcurrentDuplicateRunsOnce(t *testing.T) {
	store, _ := testRedis(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	handler := Idempotent(CheckoutReplay, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(entered)
		<-release
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(first, checkoutRequest("user-a", "double-click", `{}`))
	}()
	<-entered

	dup := httptest.NewRecorder()
	handler.ServeHTTP(dup, checkoutRequest("user-a", "double-click", `{}`))
	require.Equal(t, http.StatusConflict, dup.Code)
	require.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, dup))

	close(release)
	<-done
	require.Equal(t, http.StatusCreated, first.Code)

	after := httptest.NewRecorder()
	handler.ServeHTTP(after, checkoutRequest("user-a", "double-click", `{}`))
	require.Equal(t, http.StatusCreated, after.Code)
	require.Equal(t, "true", after.Header().Get(ReplayHeader))
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)
}

func TestIdempotentReleasesClaimOnServerError(t *testing.T) {
	store, mr := testRedis(t)
	fail := true
	calls := 0
	handler := Idempotent(CheckoutReplay, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, checkoutRequest("user-a", "retry-me", `{}`))
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	require.Empty(t, mr.Keys())

	fail = false
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, checkoutRequest("user-a", "retry-me", `{}`))
	require.Equal(t, http.StatusCreated, resp.Code)
	require.Equal(t, 2, calls)
}

func TestIdempotentReleasesClaimWhenHandlerPanics(t *testing.T) {
	store, mr := testRedis(t)
	handler := Idempotent(CheckoutReplay, store, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	require.Panics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), checkoutRequest("user-a", "k", `{}`))
	})
	require.Empty(t, mr.Keys())
}

func TestIdempotentScopesKeysPerCallerAndPath(t *testing.T) {
	store, _ := testRedis(t)
	calls := 0
	handler := Idempotent(RestockReplay, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	send := func(userID, path string) {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"quantity":1}`))
		req.Header.Set(IdempotencyHeader, "same-key")
		handler.ServeHTTP(httptest.NewRecorder(), req.WithContext(WithUserID(req.Context(), userID)))
	}
	send("admin-a", "/api/admin/v1/products/p1/restock")
	send("admin-b", "/api/admin/v1/products/p1/restock")
	send("admin-a", "/api/admin/v1/products/p2/restock")
	send("admin-a", "/api/admin/v1/products/p1/restock")
	require.Equal(t, 3, calls)
}

func TestIdempotentKeyLayout(t *testing.T) {
	store, mr := testRedis(t)
	handler := Idempotent(ReconcileReplay, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), checkoutRequest("admin-a", "k1", `{}`))

	want := redis.IdempotencyKey("reconcile", "admin-a", fingerprint([]byte("/api/v1/checkout")), "k1")
	require.True(t, mr.Exists(want))
	require.Equal(t, 24*time.Hour, mr.TTL(want))
}

type unreachableStore struct{}

func (unreachableStore) Get(context.Context, string) (string, error) { return "", context.DeadlineExceeded }
func (unreachableStore) Set(context.Context, string, any, time.Duration) error {
	return context.DeadlineExceeded
}
func (unreachableStore) SetNX(context.Context, string, any, time.Duration) (bool, error) {
	return false, context.DeadlineExceeded
}
func (unreachableStore) Del(context.Context, ...string) error { return context.DeadlineExceeded }

func TestIdempotentFailsClosedWithoutStore(t *testing.T) {
	called := false
	handler := Idempotent(CheckoutReplay, unreachableStore{}, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, checkoutRequest("user-a", "k", `{}`))
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	require.False(t, called)
}
