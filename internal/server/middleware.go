package server

import (
	"errors"
	"net/http"
	"strings"

	"messenger/internal/models"
	"messenger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrAccountBanned), errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrBlockedPair):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrDuplicateUsername):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError 把业务错误映射为 {kind, error} 响应，内部错误不向外泄露细节。
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("internal error")
		c.JSON(status, gin.H{"kind": "internal_error", "error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"kind": service.Kind(err), "error": err.Error()})
}

func bearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("Bearer "):])
}

// SessionMiddleware 校验 Bearer 令牌，封禁用户的会话在这里立即失效。
func SessionMiddleware(sessions *service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"kind": "invalid_token", "error": "missing bearer token"})
			return
		}
		user, err := sessions.Validate(token)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set("user", user)
		c.Set("token", token)
		c.Next()
	}
}

// AdminMiddleware 要求令牌属于管理员，否则返回 forbidden。
func AdminMiddleware(admin *service.AdminService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"kind": "invalid_token", "error": "missing bearer token"})
			return
		}
		user, err := admin.Authorize(token)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set("user", user)
		c.Set("token", token)
		c.Next()
	}
}

func currentUser(c *gin.Context) *models.User {
	if v, ok := c.Get("user"); ok {
		if u, ok2 := v.(*models.User); ok2 {
			return u
		}
	}
	return nil
}

func currentToken(c *gin.Context) string {
	if v, ok := c.Get("token"); ok {
		if t, ok2 := v.(string); ok2 {
			return t
		}
	}
	return ""
}
