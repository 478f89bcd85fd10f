package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/supermarket-backend/api/middleware"
	"github.com/angelmondragon/supermarket-backend/internal/cart"
	"github.com/angelmondragon/supermarket-backend/internal/checkout"
	"github.com/angelmondragon/supermarket-backend/internal/orders"
	"github.com/angelmondragon/supermarket-backend/internal/users"
	pkgAuth "github.com/angelmondragon/supermarket-backend/pkg/auth"
	"github.com/angelmondragon/supermarket-backend/pkg/config"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/supermarket-backend/pkg/errors"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func asUser(req *http.Request, userID uuid.UUID) *http.Request {
	ctx := middleware.WithUserID(req.Context(), userID.String())
	ctx = middleware.WithRole(ctx, string(enums.UserRoleUser))
	return req.WithContext(ctx)
}

type stubCheckout struct {
	result *checkout.Result
	err    error
}

func (s stubCheckout) Execute(context.Context, uuid.UUID) (*checkout.Result, error) {
	return s.result, s.err
}

func TestCheckoutCompleteReturnsCreated(t *testing.T) {
	userID := uuid.New()
	handler := Checkout(stubCheckout{result: &checkout.Result{
		Order:  &orders.OrderDTO{ID: uuid.New(), UserID: userID, Status: enums.OrderStatusComplete},
		Status: enums.OrderStatusComplete,
	}}, nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil), userID))
	require.Equal(t, http.StatusCreated, resp.Code)
	require.NotContains(t, resp.Body.String(), `"error"`)
}

func TestCheckoutPartialReturnsAcceptedWithError(t *testing.T) {
	userID := uuid.New()
	handler := Checkout(stubCheckout{result: &checkout.Result{
		Order:       &orders.OrderDTO{ID: uuid.New(), UserID: userID, Status: enums.OrderStatusPartial, FailedLineCount: 1},
		Status:      enums.OrderStatusPartial,
		FailedLines: []checkout.FailedLine{{ProductID: uuid.New(), Quantity: 2, Reason: "product not found"}},
	}}, nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil), userID))
	require.Equal(t, http.StatusAccepted, resp.Code)

	var body struct {
		Data  checkout.Result `json:"data"`
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, enums.OrderStatusPartial, body.Data.Status)
	require.Equal(t, string(pkgerrors.CodePartialCheckout), body.Error.Code)
}

func TestCheckoutEmptyCartIsRejected(t *testing.T) {
	handler := Checkout(stubCheckout{err: pkgerrors.New(pkgerrors.CodeEmptyCart, "cart is empty")}, nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil), uuid.New()))
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, string(pkgerrors.CodeEmptyCart), body.Error.Code)
}

func TestCheckoutWithoutIdentity(t *testing.T) {
	handler := Checkout(stubCheckout{}, nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil))
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

type recordingCart struct {
	cart.Service
	removed []uuid.UUID
	updated map[uuid.UUID]int
}

func (c *recordingCart) RemoveItem(_ context.Context, _ uuid.UUID, productID uuid.UUID) (*cart.CartView, error) {
	c.removed = append(c.removed, productID)
	return &cart.CartView{}, nil
}

func (c *recordingCart) UpdateItem(_ context.Context, _ uuid.UUID, productID uuid.UUID, quantity int) (*cart.CartView, error) {
	if c.updated == nil {
		c.updated = map[uuid.UUID]int{}
	}
	c.updated[productID] = quantity
	return &cart.CartView{}, nil
}

func cartRouter(svc cart.Service, userID uuid.UUID) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, asUser(req, userID))
		})
	})
	r.Patch("/cart/items/{productId}", CartUpdateItem(svc, nil))
	return r
}

func TestCartUpdateWithZeroRemovesLine(t *testing.T) {
	svc := &recordingCart{}
	productID := uuid.New()
	router := cartRouter(svc, uuid.New())

	req := httptest.NewRequest(http.MethodPatch, "/cart/items/"+productID.String(), strings.NewReader(`{"quantity":0}`))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Equal(t, []uuid.UUID{productID}, svc.removed)
	require.Empty(t, svc.updated)

	req = httptest.NewRequest(http.MethodPatch, "/cart/items/"+productID.String(), strings.NewReader(`{"quantity":3}`))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Equal(t, 3, svc.updated[productID])
}

func TestCartUpdateRejectsBadProductID(t *testing.T) {
	router := cartRouter(&recordingCart{}, uuid.New())

	req := httptest.NewRequest(http.MethodPatch, "/cart/items/not-a-uuid", strings.NewReader(`{"quantity":1}`))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

func TestHealthReadyReportsFailingDependency(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}
	handler := HealthReady(cfg, map[string]Pinger{"database": okPinger{}, "redis": failingPinger{}}, nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, string(pkgerrors.CodeDependency), body.Error.Code)
}

type stubRotator struct {
	revoked []string
	rotated string
	err     error
}

func (s *stubRotator) Rotate(_ context.Context, oldAccessID, _ string) (string, string, error) {
	if s.err != nil {
		return "", "", s.err
	}
	s.rotated = oldAccessID
	return "next-access", "next-refresh", nil
}

func (s *stubRotator) Revoke(_ context.Context, accessID string) error {
	s.revoked = append(s.revoked, accessID)
	return nil
}

func testJWT() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "supermarket", ExpirationMinutes: 15}
}

func TestAuthLogoutRevokesSession(t *testing.T) {
	cfg := testJWT()
	token, err := pkgAuth.MintAccessToken(cfg, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.UserRoleUser,
		JTI:    "access-1",
	})
	require.NoError(t, err)

	rotator := &stubRotator{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	AuthLogout(rotator, cfg, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, []string{"access-1"}, rotator.revoked)
}

func TestAuthRefreshIssuesNewTokens(t *testing.T) {
	cfg := testJWT()
	token, err := pkgAuth.MintAccessToken(cfg, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.UserRoleAdmin,
		JTI:    "access-1",
	})
	require.NoError(t, err)

	rotator := &stubRotator{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", strings.NewReader(`{"refresh_token":"refresh-1"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	AuthRefresh(rotator, cfg, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Equal(t, "access-1", rotator.rotated)
	require.Contains(t, resp.Body.String(), "next-refresh")
}

func TestAdminOrderFilterRejectsUnknownStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/orders?status=shipped", nil)
	_, err := adminOrderFilter(req)
	require.Error(t, err)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/v1/orders?status=PARTIAL&unreconciled=true", nil)
	filter, err := adminOrderFilter(req)
	require.NoError(t, err)
	require.NotNil(t, filter.Status)
	require.Equal(t, enums.OrderStatusPartial, *filter.Status)
	require.True(t, filter.Unreconciled)
}

type stubProfiles struct {
	requested []uuid.UUID
}

func (s *stubProfiles) Get(_ context.Context, id uuid.UUID) (*users.UserDTO, error) {
	s.requested = append(s.requested, id)
	return &users.UserDTO{ID: id, Username: "shopper", Role: enums.UserRoleUser}, nil
}

func TestMeReturnsCallerProfile(t *testing.T) {
	profiles := &stubProfiles{}
	userID := uuid.New()

	resp := httptest.NewRecorder()
	Me(profiles, nil).ServeHTTP(resp, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/me", nil), userID))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Equal(t, []uuid.UUID{userID}, profiles.requested)

	var body struct {
		Data users.UserDTO `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, userID, body.Data.ID)

	resp = httptest.NewRecorder()
	Me(profiles, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestHandlersWithoutServiceAnswerInternal(t *testing.T) {
	handlers := map[string]http.HandlerFunc{
		"cart":     CartFetch(nil, nil),
		"catalog":  ProductsList(nil, nil),
		"orders":   AdminOrderDetail(nil, nil),
		"user":     AdminUserDetail(nil, nil),
		"checkout": Checkout(nil, nil),
		"auth":     AuthRegister(nil, nil, nil),
	}
	for name, handler := range handlers {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, asUser(httptest.NewRequest(http.MethodGet, "/", nil), uuid.New()))
		require.Equal(t, http.StatusInternalServerError, resp.Code, name)

		var body errorBody
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body), name)
		require.Equal(t, string(pkgerrors.CodeInternal), body.Error.Code, name)
	}
}

func TestAccountEndpointsNeedACaller(t *testing.T) {
	called := false
	handler := serveAccount(nil, func(*http.Request, uuid.UUID) (reply, error) {
		called = true
		return ok(nil)
	})

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.False(t, called)
}
