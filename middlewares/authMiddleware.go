package middlewares

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"melodyquest/auth"
	"melodyquest/models"
)

const (
	userIDKey   = "UserID"
	usernameKey = "Username"

	// Tokens closer than this to expiry are reissued on the response.
	refreshWindow = time.Hour
)

// AuthMiddleware accepts "Authorization: Bearer <jwt>" and puts the caller's
// identity on the context.
func AuthMiddleware(secret []byte, ttl time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if tokenString == "" {
			unauthorized(c, "token is required")
			return
		}

		claims, err := auth.ParseSessionToken(secret, tokenString)
		if err != nil {
			logger.Warn("Failed to parse JWT token", zap.Error(err))
			unauthorized(c, "token is invalid or expired")
			return
		}

		refreshTokenIfNeeded(c, secret, ttl, claims, logger)

		c.Set(userIDKey, claims.UserID)
		c.Set(usernameKey, claims.Username)
		c.Next()
	}
}

func refreshTokenIfNeeded(c *gin.Context, secret []byte, ttl time.Duration, claims *models.MyClaims, logger *zap.Logger) {
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) >= refreshWindow {
		return
	}
	newToken, err := auth.IssueSessionToken(secret, models.User{ID: claims.UserID, Username: claims.Username}, ttl)
	if err != nil {
		logger.Error("Failed to refresh token", zap.Uint("userID", claims.UserID), zap.Error(err))
		return
	}
	c.Header("Authorization", "Bearer "+newToken)
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"ok":    false,
		"error": gin.H{"code": "INVALID_TOKEN", "message": message},
	})
}

// UserID returns the authenticated caller set by AuthMiddleware.
func UserID(c *gin.Context) uint {
	return c.GetUint(userIDKey)
}

func Username(c *gin.Context) string {
	return c.GetString(usernameKey)
}
