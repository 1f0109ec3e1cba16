package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/claimwatch/internal/utils"
	"github.com/huangang/claimwatch/pkg/response"
)

const (
	ContextLogin = "login"
	ContextRole  = "role"
)

// AuthRequired checks for a valid bearer token and stores the maintainer
// login and role in the context.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "authorization header required")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			response.Unauthorized(c, "invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := utils.ParseToken(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextLogin, claims.Login)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// MaintainerRequired allows maintainers and admins. It must run after AuthRequired.
func MaintainerRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch GetRole(c) {
		case "maintainer", "admin":
			c.Next()
		default:
			response.Forbidden(c, "maintainer access required")
			c.Abort()
		}
	}
}

// AdminRequired allows admins only. It must run after AuthRequired.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != "admin" {
			response.Forbidden(c, "admin access required")
			c.Abort()
			return
		}
		c.Next()
	}
}

func GetLogin(c *gin.Context) string {
	if login, exists := c.Get(ContextLogin); exists {
		return login.(string)
	}
	return ""
}

func GetRole(c *gin.Context) string {
	if role, exists := c.Get(ContextRole); exists {
		return role.(string)
	}
	return ""
}
