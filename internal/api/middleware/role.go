package middleware

import (
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/vpn_access_server/internal/pkg/response"
)

// RequireRole 角色检查中间件，必须在 Auth 之后使用
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := GetRole(c)
		if !ok {
			response.AuthError(c, "")
			c.Abort()
			return
		}

		if !slices.Contains(roles, role) {
			response.PermissionError(c, "")
			c.Abort()
			return
		}

		c.Next()
	}
}
