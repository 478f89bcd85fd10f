package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/supermarket-backend/pkg/auth"
	"github.com/angelmondragon/supermarket-backend/pkg/auth/session"
	"github.com/angelmondragon/supermarket-backend/pkg/config"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "supermarket", ExpirationMinutes: 60}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func mintTestToken(t *testing.T, userID uuid.UUID, role enums.UserRole) string {
	t.Helper()
	token, err := auth.MintAccessToken(testJWT, time.Now(), auth.AccessTokenPayload{
		UserID: userID,
		Role:   role,
		JTI:    session.NewAccessID(),
	})
	require.NoError(t, err)
	return token
}

type stubSessionVerifier struct {
	ok  bool
	err error
}

func (s stubSessionVerifier) HasSession(context.Context, string) (bool, error) {
	return s.ok, s.err
}

type stubAccounts struct {
	disabled map[uuid.UUID]bool
	err      error
}

func (s stubAccounts) IsDisabled(_ context.Context, id uuid.UUID) (bool, error) {
	return s.disabled[id], s.err
}

func TestAuthRejections(t *testing.T) {
	shopper := uuid.New()
	valid := "Bearer " + mintTestToken(t, shopper, enums.UserRoleUser)
	live := stubSessionVerifier{ok: true}

	cases := []struct {
		name     string
		header   string
		sessions session.AccessSessionChecker
		accounts AccountStatusChecker
		want     int
	}{
		{name: "no header", sessions: live, want: http.StatusUnauthorized},
		{name: "basic scheme", header: "Basic c2hvcHBlcjpwdw==", sessions: live, want: http.StatusUnauthorized},
		{name: "bare bearer", header: "Bearer ", sessions: live, want: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer invalid", sessions: live, want: http.StatusUnauthorized},
		{name: "logged out", header: valid, sessions: stubSessionVerifier{ok: false}, want: http.StatusUnauthorized},
		{name: "session store down", header: valid, sessions: stubSessionVerifier{err: errors.New("redis down")}, want: http.StatusServiceUnavailable},
		{name: "disabled shopper", header: valid, sessions: live, accounts: stubAccounts{disabled: map[uuid.UUID]bool{shopper: true}}, want: http.StatusForbidden},
		{name: "account lookup fails", header: valid, accounts: stubAccounts{err: errors.New("db down")}, want: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp := httptest.NewRecorder()
			Auth(testJWT, tc.sessions, tc.accounts, nil)(okHandler()).ServeHTTP(resp, req)
			require.Equal(t, tc.want, resp.Code)
		})
	}
}

func TestAuthSeedsCaller(t *testing.T) {
	userID := uuid.New()
	var gotUser, gotRole string
	handler := Auth(testJWT, stubSessionVerifier{ok: true}, stubAccounts{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotRole = UserIDFromContext(r.Context()), RoleFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("Authorization", "bearer "+mintTestToken(t, userID, enums.UserRoleAdmin))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, userID.String(), gotUser)
	require.Equal(t, string(enums.UserRoleAdmin), gotRole)
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(string(enums.UserRoleAdmin), nil)(okHandler())

	for role, want := range map[enums.UserRole]int{
		enums.UserRoleUser:  http.StatusForbidden,
		enums.UserRoleAdmin: http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/orders", nil)
		req = req.WithContext(WithRole(req.Context(), string(role)))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		require.Equal(t, want, resp.Code, role)
	}
}
