package rbac

import (
	"net/http"

	"numbershop/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireAdmin gates admin surfaces. The engine does not know chat-specific
// identities; the presentation layer maps its admins onto admin-role tokens.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if !IsAdmin(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
