//go:build !tinygo

package devcloud

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID = "userId"
	ctxRole   = "role"
)

func bearer(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func (h *Handler) userMiddleware(c *gin.Context) {
	token, ok := bearer(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"message": "missing or malformed Authorization header",
		})
		return
	}
	claims, err := h.svc.ParseToken(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"message": "invalid or expired token",
		})
		return
	}
	c.Set(ctxUserID, claims.Subject)
	c.Set(ctxRole, claims.Role)
	c.Next()
}

func (h *Handler) adminOnly(c *gin.Context) {
	if c.GetString(ctxRole) != RoleAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "admin only"})
		return
	}
	c.Next()
}
