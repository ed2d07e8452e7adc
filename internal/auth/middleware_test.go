package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dili-feedback-server/internal/domain"
	"github.com/dili-feedback-server/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newGuardedRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	svc, _ := newTestService(t)
	mw := NewMiddleware(svc, logging.Discard())

	router := gin.New()
	api := router.Group("/api", mw.RequireAuth())
	api.GET("/me", func(c *gin.Context) {
		actor, _ := ActorFrom(c)
		c.JSON(http.StatusOK, gin.H{"role": actor.Role})
	})
	api.GET("/negative", mw.RequireRole(domain.RolePharmacist, domain.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router, svc
}

func do(router http.Handler, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuth(t *testing.T) {
	router, svc := newGuardedRouter(t)
	_, token, err := svc.Signup(context.Background(), "C", "c@example.com", "pw")
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, do(router, "/api/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(router, "/api/me", "garbage").Code)

	rec := do(router, "/api/me", token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"role":"clinician"}`, rec.Body.String())

	// EventSource clients cannot set headers.
	assert.Equal(t, http.StatusOK, do(router, "/api/me?token="+token, "").Code)
}

func TestRequireRole(t *testing.T) {
	router, svc := newGuardedRouter(t)
	ctx := context.Background()

	_, clinicianToken, err := svc.Signup(ctx, "C", "c@example.com", "pw")
	require.NoError(t, err)
	_, pharmacistToken, err := svc.Signup(ctx, "P", "p@example.com", "pw")
	require.NoError(t, err)
	require.NoError(t, svc.SetRole(ctx, "p@example.com", domain.RolePharmacist))

	assert.Equal(t, http.StatusForbidden, do(router, "/api/negative", clinicianToken).Code)
	assert.Equal(t, http.StatusOK, do(router, "/api/negative", pharmacistToken).Code)
}

func TestLoginLimiter(t *testing.T) {
	limiter, err := NewLoginLimiter(0.001, 2, 10)
	require.NoError(t, err)

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"), "clients are throttled independently")

	router := gin.New()
	router.POST("/login", limiter.Handler(), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
