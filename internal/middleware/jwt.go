package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/etekaf/backend/internal/auth"
	"github.com/etekaf/backend/pkg/response"
)

const (
	// ContextUserID is the key for the account ID in gin context.
	ContextUserID = auth.ContextUserID
	// ContextUserRole is the key for the account role in gin context.
	ContextUserRole = "user_role"
	// ContextUsername is the key for the username in gin context.
	ContextUsername = "username"
)

// JWT returns a middleware that validates a Bearer token and sets the account claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			response.Unauthorized(c, "invalid authorization header")
			return
		}
		claims, err := jwtService.Validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextUsername, claims.Username)
		c.Next()
	}
}
