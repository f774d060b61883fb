package middlewares

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"melodyquest/auth"
	"melodyquest/models"
)

var secret = []byte("jwt-secret")

func newRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(secret, 72*time.Hour, zaptest.NewLogger(t)))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": UserID(c), "username": Username(c)})
	})
	return r
}

func get(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := newRouter(t)
	token, err := auth.IssueSessionToken(secret, models.User{ID: 7, Username: "alice"}, time.Hour*24)
	require.NoError(t, err)

	w := get(r, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":7,"username":"alice"}`, w.Body.String())
	assert.Empty(t, w.Header().Get("Authorization"))
}

func TestAuthMiddlewareRejects(t *testing.T) {
	r := newRouter(t)
	forged, err := auth.IssueSessionToken([]byte("other"), models.User{ID: 7, Username: "alice"}, time.Hour)
	require.NoError(t, err)
	expired, err := auth.IssueSessionToken(secret, models.User{ID: 7, Username: "alice"}, -time.Minute)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"missing": "",
		"garbage": "not-a-jwt",
		"forged":  forged,
		"expired": expired,
	} {
		t.Run(name, func(t *testing.T) {
			w := get(r, token)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), "INVALID_TOKEN")
		})
	}
}

func TestAuthMiddlewareRefreshesExpiringToken(t *testing.T) {
	r := newRouter(t)
	token, err := auth.IssueSessionToken(secret, models.User{ID: 7, Username: "alice"}, 10*time.Minute)
	require.NoError(t, err)

	w := get(r, token)
	require.Equal(t, http.StatusOK, w.Code)
	refreshed := strings.TrimPrefix(w.Header().Get("Authorization"), "Bearer ")
	require.NotEmpty(t, refreshed)

	claims, err := auth.ParseSessionToken(secret, refreshed)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.True(t, time.Until(claims.ExpiresAt.Time) > time.Hour)
}
