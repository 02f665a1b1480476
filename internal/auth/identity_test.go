package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-checkout/internal/auth"
)

func serve(t *testing.T, req *http.Request) (int, string) {
	t.Helper()
	var seen string
	h := auth.Identity()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.UserID(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, seen
}

func TestIdentityFromBearerToken(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-42"}).SignedString([]byte("gateway"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	code, uid := serve(t, req)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "user-42", uid)
}

func TestIdentityFromHeaderAndAnonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(auth.RequesterHeader, "scanner-7")
	_, uid := serve(t, req)
	assert.Equal(t, "scanner-7", uid)

	code, uid := serve(t, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, uid)
}

func TestIdentityRejectsMalformedToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	code, _ := serve(t, req)
	assert.Equal(t, http.StatusUnauthorized, code)

	req.Header.Set("Authorization", "Bearer not-a-jwt")
	code, _ = serve(t, req)
	assert.Equal(t, http.StatusUnauthorized, code)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"name": "x"}).SignedString([]byte("k"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+noSub)
	code, _ = serve(t, req)
	assert.Equal(t, http.StatusUnauthorized, code)
}
