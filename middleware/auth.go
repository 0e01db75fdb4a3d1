package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	apperrors "github.com/rabby420bd/tj/common/errors"
	"github.com/rabby420bd/tj/common/logger"
	"go.uber.org/zap"
)

// AdminEmailKey is the gin context key holding the authenticated admin email.
const AdminEmailKey = "admin_email"

// TokenVerifier validates an admin access token. auth.AdminAuthenticator
// satisfies it.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// AdminAuth rejects requests without a valid "Bearer" admin token.
func AdminAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			apperrors.Abort(c, apperrors.ErrUnauthorized)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			apperrors.Abort(c, apperrors.ErrInvalidToken)
			return
		}

		email, err := verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			logger.Warn(c, "admin token rejected", zap.String("reason", err.Error()))
			apperrors.Abort(c, apperrors.ErrInvalidToken.Wrap(err))
			return
		}
		c.Set(AdminEmailKey, email)
		c.Next()
	}
}
