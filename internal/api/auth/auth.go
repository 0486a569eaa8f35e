package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tasktracker/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// LoginLimiter 登录尝试限流。
type LoginLimiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// WelcomeMailer 注册成功后的欢迎邮件投递。
type WelcomeMailer interface {
	EnqueueWelcome(toEmail, username string) bool
}

// Handler 提供注册、登录与注销接口。
type Handler struct {
	svc     *Service
	limiter LoginLimiter
	mailer  WelcomeMailer
	logger  *slog.Logger
}

// NewHandler 创建 Auth Handler，limiter 与 mailer 可为 nil。
func NewHandler(svc *Service, limiter LoginLimiter, mailer WelcomeMailer, logger *slog.Logger) *Handler {
	return &Handler{
		svc:     svc,
		limiter: limiter,
		mailer:  mailer,
		logger:  logger,
	}
}

type signupRequest struct {
	Username        string `json:"username" binding:"required"`
	Email           string `json:"email" binding:"omitempty,email"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirm_password"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success  bool   `json:"success"`
	Token    string `json:"token"`
	Username string `json:"username"`
}

// Signup 创建新用户。
func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Username and password are required", "error": err.Error()})
		return
	}
	if req.ConfirmPassword != "" && req.ConfirmPassword != req.Password {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Passwords do not match"})
		return
	}

	id, err := h.svc.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.respondError(c, "signup failed", err)
		return
	}

	username := strings.TrimSpace(req.Username)
	if h.mailer != nil && req.Email != "" {
		h.mailer.EnqueueWelcome(req.Email, username)
	}
	if h.logger != nil {
		h.logger.Info("user registered", slog.String("username", username), slog.Uint64("user_id", uint64(id)))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"id": id}})
}

// Login 校验用户并返回 JWT。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Username and password are required", "error": err.Error()})
		return
	}
	username := strings.TrimSpace(req.Username)

	if h.limiter != nil {
		allowed, wait, err := h.limiter.Allow(c.Request.Context(), "login:"+username+":"+c.ClientIP())
		if err != nil {
			// 限流依赖不可用时放行
			if h.logger != nil {
				h.logger.Warn("login rate limiter failed", slog.String("error", err.Error()))
			}
		} else if !allowed {
			metrics.AuthLoginTotal.WithLabelValues("throttled").Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success":        false,
				"message":        "Too many login attempts",
				"retry_after_ms": wait.Milliseconds(),
			})
			return
		}
	}

	token, id, err := h.svc.Authenticate(c.Request.Context(), username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			metrics.AuthLoginTotal.WithLabelValues("invalid").Inc()
		} else {
			metrics.AuthLoginTotal.WithLabelValues("error").Inc()
		}
		h.respondError(c, "login failed", err)
		return
	}

	metrics.AuthLoginTotal.WithLabelValues("success").Inc()
	if h.logger != nil {
		h.logger.Info("user logged in", slog.String("username", id.Username))
	}
	c.JSON(http.StatusOK, loginResponse{Success: true, Token: token, Username: id.Username})
}

// Logout 注销当前令牌。
func (h *Handler) Logout(c *gin.Context) {
	if err := h.svc.Revoke(c.Request.Context(), BearerToken(c.GetHeader("Authorization"))); err != nil {
		h.respondError(c, "logout failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// BearerToken 从 Authorization 头中取出令牌，格式不符时返回空串。
func BearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// StatusFor 将认证错误映射为 HTTP 状态码与提示信息。
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid username or password"
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, "Authentication required"
	case errors.Is(err, ErrInvalidToken):
		return http.StatusForbidden, "Invalid token"
	case errors.Is(err, ErrUsernameTaken):
		return http.StatusConflict, "Username already exists"
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, "Username and password are required"
	}
	return http.StatusInternalServerError, "Server error"
}

func (h *Handler) respondError(c *gin.Context, op string, err error) {
	status, message := StatusFor(err)
	if status == http.StatusInternalServerError {
		if h.logger != nil {
			h.logger.Error(op, slog.String("error", err.Error()))
		}
		c.JSON(status, gin.H{"success": false, "message": message, "error": err.Error()})
		return
	}
	c.JSON(status, gin.H{"success": false, "message": message})
}
