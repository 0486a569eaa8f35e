package middleware

import (
	"context"
	"errors"

	"tasktracker/internal/api/auth"
	"tasktracker/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

const (
	// ContextUserID gin 上下文中的用户 ID（uint）。
	ContextUserID = "userID"
	// ContextUsername gin 上下文中的用户名。
	ContextUsername = "username"
)

// TokenVerifier 令牌校验接口，由 auth.Service 实现。
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Identity, error)
}

// AuthMiddleware 校验 Bearer 令牌并将身份写入上下文。
// 缺少令牌返回 401，令牌无效返回 403，均不会进入后续 handler。
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, err := verifier.Verify(c.Request.Context(), auth.BearerToken(c.GetHeader("Authorization")))
		if err != nil {
			reason := "invalid"
			if errors.Is(err, auth.ErrUnauthenticated) {
				reason = "missing"
			}
			metrics.AuthTokenRejectedTotal.WithLabelValues(reason).Inc()

			status, message := auth.StatusFor(err)
			c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message})
			return
		}

		c.Set(ContextUserID, ident.ID)
		c.Set(ContextUsername, ident.Username)
		c.Next()
	}
}

// UserID 读取中间件写入的用户 ID。
func UserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	if !ok || id == 0 {
		return 0, false
	}
	return id, true
}
