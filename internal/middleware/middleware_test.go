package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"commerce/internal/config"
	"commerce/internal/domain/model"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newTestEcho() *echo.Echo {
	e := echo.New()
	cfg := config.Config{JWTSecret: testSecret}

	g := e.Group("")
	g.Use(AuthJWT(cfg))
	g.GET("/whoami", func(c echo.Context) error {
		id, _ := SessionID(c)
		return c.String(http.StatusOK, id)
	})

	admin := e.Group("/admin")
	admin.Use(AuthJWT(cfg))
	admin.Use(AdminRoleGuard())
	admin.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})
	return e
}

func token(t *testing.T, secret string, sub string, role model.Role, ttl time.Duration) string {
	t.Helper()
	tok, _, err := IssueToken(secret, sub, role, time.Now(), ttl)
	require.NoError(t, err)
	return tok
}

func do(e *echo.Echo, path string, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAuthJWT_SetsSession(t *testing.T) {
	e := newTestEcho()

	rec := do(e, "/whoami", "Bearer "+token(t, testSecret, "session-1", model.RoleUser, time.Minute))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "session-1", rec.Body.String())
}

func TestAuthJWT_Rejects(t *testing.T) {
	e := newTestEcho()

	// 署名方式が違う
	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "s", "role": "USER"})
	noneTok, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"missing header": "",
		"not bearer":     "Basic abc",
		"empty token":    "Bearer ",
		"wrong secret":   "Bearer " + token(t, "other", "session-1", model.RoleUser, time.Minute),
		"expired":        "Bearer " + token(t, testSecret, "session-1", model.RoleUser, -time.Minute),
		"empty subject":  "Bearer " + token(t, testSecret, "", model.RoleUser, time.Minute),
		"unknown role":   "Bearer " + token(t, testSecret, "session-1", model.Role("ROOT"), time.Minute),
		"alg none":       "Bearer " + noneTok,
	}

	for name, authz := range tests {
		t.Run(name, func(t *testing.T) {
			rec := do(e, "/whoami", authz)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
		})
	}
}

func TestAdminRoleGuard(t *testing.T) {
	e := newTestEcho()

	rec := do(e, "/admin/ping", "Bearer "+token(t, testSecret, "ops", model.RoleAdmin, time.Minute))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, "/admin/ping", "Bearer "+token(t, testSecret, "session-1", model.RoleUser, time.Minute))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"admin only"}`, rec.Body.String())
}
