package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/huangang/claimwatch/internal/middleware"
	"github.com/huangang/claimwatch/internal/services"
	"github.com/huangang/claimwatch/pkg/response"
)

type AuthHandler struct {
	auth *services.MaintainerAuth
}

func NewAuthHandler(auth *services.MaintainerAuth) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Login exchanges maintainer credentials for a bearer token
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.auth.Login(&req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			response.Unauthorized(c, "invalid login or password")
			return
		}
		response.ServerError(c, "login failed")
		return
	}
	response.Success(c, result)
}

// Me returns the maintainer behind the current token
// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	response.Success(c, gin.H{
		"login": middleware.GetLogin(c),
		"role":  middleware.GetRole(c),
	})
}

// Config tells the login page which methods are available
// GET /api/auth/config
func (h *AuthHandler) Config(c *gin.Context) {
	response.Success(c, gin.H{
		"ldap_enabled": h.auth.DirectoryEnabled(),
	})
}
