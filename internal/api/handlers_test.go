package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotex/internal/auth"
	"spotex/internal/engine"
)

const testSecret = "test-secret"

// newTestHandler builds a handler without a database: these tests only
// exercise auth middleware and input validation, which reject requests
// before any storage access.
func newTestHandler() *Handler {
	authService := auth.NewAuthService(nil, testSecret)
	eng := engine.New(nil, nil, nil)
	return NewHandler(nil, eng, authService, nil)
}

func signToken(t *testing.T, userID int, secret string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     exp.Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTAuthMiddleware(t *testing.T) {
	h := newTestHandler()

	var gotUserID int
	protected := h.JWTAuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = callerID(r)
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"MissingHeader", "", http.StatusUnauthorized},
		{"Garbage", "not-a-token", http.StatusUnauthorized},
		{"WrongSecret", "Bearer " + signToken(t, 1, "other-secret", time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"Expired", "Bearer " + signToken(t, 1, testSecret, time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		{"Valid", "Bearer " + signToken(t, 42, testSecret, time.Now().Add(time.Hour)), http.StatusOK},
		{"ValidWithoutBearer", signToken(t, 42, testSecret, time.Now().Add(time.Hour)), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, 42, gotUserID)
			}
		})
	}
}

func TestPlaceOrder_RejectsBadInput(t *testing.T) {
	h := newTestHandler()
	token := "Bearer " + signToken(t, 1, testSecret, time.Now().Add(time.Hour))
	handler := h.JWTAuthMiddleware(http.HandlerFunc(h.PlaceOrder))

	tests := []struct {
		name string
		body string
	}{
		{"MalformedJSON", `{"symbol":`},
		{"UnsupportedSymbol", `{"symbol":"DOGE","side":"buy","price":"100","amount":"1"}`},
		{"BadSide", `{"symbol":"BTC","side":"hold","price":"100","amount":"1"}`},
		{"ZeroPrice", `{"symbol":"BTC","side":"buy","price":"0","amount":"1"}`},
		{"NegativeAmount", `{"symbol":"BTC","side":"buy","price":"100","amount":"-1"}`},
		{"MissingFields", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(tt.body))
			req.Header.Set("Authorization", token)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPlaceOrder_RequiresAuth(t *testing.T) {
	h := newTestHandler()
	handler := h.JWTAuthMiddleware(http.HandlerFunc(h.PlaceOrder))

	req := httptest.NewRequest(http.MethodPost, "/orders",
		bytes.NewBufferString(`{"symbol":"BTC","side":"buy","price":"100","amount":"1"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
