package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"duet-backend/internal/domain"
	"duet-backend/pkg/jwt"
	"duet-backend/pkg/response"
)

const (
	userIDKey   = "user_id"
	userNameKey = "user_name"
)

// AuthMiddleware creates a Gin middleware that validates JWT tokens.
// The token comes from the Authorization header, or from the token query
// parameter on websocket upgrades where browsers cannot set headers.
// If valid, it sets user_id and user_name in the Gin context.
func AuthMiddleware(jwtManager *jwt.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			response.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}

		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Set(userNameKey, claims.Name)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if c.Request.Method == http.MethodGet && c.GetHeader("Upgrade") != "" {
		if token := c.Query("token"); token != "" {
			return token, true
		}
	}
	return "", false
}

// CurrentUser returns the identity set by AuthMiddleware
func CurrentUser(c *gin.Context) (domain.Identity, bool) {
	v, exists := c.Get(userIDKey)
	if !exists {
		return domain.Identity{}, false
	}
	id, ok := v.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return domain.Identity{}, false
	}
	return domain.Identity{UserID: id, Name: c.GetString(userNameKey)}, true
}
