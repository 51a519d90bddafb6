package middleware

import (
	"strings"

	"github.com/Reyuuh/eshop-soulcaller-backend/common/auth"
	apperrors "github.com/Reyuuh/eshop-soulcaller-backend/common/errors"
	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"github.com/gin-gonic/gin"
)

const (
	UserIDKey = "userID"
	RoleKey   = "role"
)

// TokenParser validates bearer tokens.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller's id and role on the context.
func RequireAuth(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			abort(c, apperrors.Unauthorized("Missing or invalid Authorization header"))
			return
		}

		claims, err := tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			abort(c, apperrors.Unauthorized("Invalid or expired token"))
			return
		}
		c.Set(UserIDKey, claims.UserID)
		c.Set(RoleKey, claims.Role)
		c.Next()
	}
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			abort(c, apperrors.Forbidden("Admin access required"))
			return
		}
		c.Next()
	}
}

func GetUserID(c *gin.Context) (uint, bool) {
	id, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	uid, ok := id.(uint)
	return uid, ok && uid != 0
}

func GetRole(c *gin.Context) string {
	return c.GetString(RoleKey)
}

func IsAdmin(c *gin.Context) bool {
	return GetRole(c) == string(models.RoleAdmin)
}

func abort(c *gin.Context, err *apperrors.Error) {
	c.AbortWithStatusJSON(err.Code, err.Body())
}
