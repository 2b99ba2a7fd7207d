package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	APIKeyHeader = "X-API-Key"
	UserIDHeader = "X-User-Id"

	userIDKey = "UserId"
)

// APIKeyMiddleware rejects requests without the configured key
func APIKeyMiddleware(validKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader(APIKeyHeader))
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing API key"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(validKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}
		c.Next()
	}
}

// UserIDMiddleware stores the caller identity; the core trusts it as-is
func UserIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(userIDKey, strings.TrimSpace(c.GetHeader(UserIDHeader)))
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
