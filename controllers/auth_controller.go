package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rabby420bd/tj/common/auth"
	apperrors "github.com/rabby420bd/tj/common/errors"
	"github.com/rabby420bd/tj/common/logger"
	"go.uber.org/zap"
)

// AdminLogin issues admin tokens. auth.AdminAuthenticator satisfies it.
type AdminLogin interface {
	Login(email, password string) (string, error)
}

type AuthController struct {
	admin AdminLogin
}

func NewAuthController(admin AdminLogin) *AuthController {
	return &AuthController{admin: admin}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (ac *AuthController) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required", err)
		return
	}
	token, err := ac.admin.Login(req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		logger.Warn(c, "admin login rejected", zap.String("client_ip", c.ClientIP()))
		apperrors.Abort(c, apperrors.ErrInvalidCredentials)
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "token_type": "Bearer"})
}
