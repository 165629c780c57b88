package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/vpn_access_server/internal/pkg/jwt"
	"github.com/qs3c/vpn_access_server/internal/pkg/response"
)

const (
	CallerKey = "caller"
	RoleKey   = "role"
)

// Auth JWT 认证中间件
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.AuthError(c, "请提供认证信息")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			response.AuthError(c, "认证格式错误")
			c.Abort()
			return
		}

		claims, err := jwt.ParseToken(tokenString, jwtSecret)
		if err != nil {
			response.AuthError(c, "认证失败或已过期")
			c.Abort()
			return
		}

		c.Set(CallerKey, claims.Caller)
		c.Set(RoleKey, claims.Role)
		c.Next()
	}
}

// GetCaller 从上下文获取调用方
func GetCaller(c *gin.Context) (string, bool) {
	v, exists := c.Get(CallerKey)
	if !exists {
		return "", false
	}
	caller, ok := v.(string)
	return caller, ok
}

// GetRole 从上下文获取调用方角色
func GetRole(c *gin.Context) (string, bool) {
	v, exists := c.Get(RoleKey)
	if !exists {
		return "", false
	}
	role, ok := v.(string)
	return role, ok
}
