package middleware

import (
	"context"
	"strings"

	"mavedb/auth"
	"mavedb/internal/domain"
	"mavedb/internal/errors"

	"github.com/gin-gonic/gin"
)

type UserProvider interface {
	GetUserByID(ctx context.Context, id uint64) (*domain.User, error)
}

type Auth struct {
	UserService UserProvider
}

// Required rejects requests without a valid bearer token.
func (m *Auth) Required() gin.HandlerFunc {
	return m.handle(true)
}

// Optional authenticates the caller when a token is present and otherwise
// lets the request through as anonymous.
func (m *Auth) Optional() gin.HandlerFunc {
	return m.handle(false)
}

func (m *Auth) handle(required bool) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		if authHeader == "" {
			if required {
				ctx.Error(errors.Unauthorized("Authorization is not found!", nil))
				ctx.Abort()
				return
			}
			ctx.Next()
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		parsedToken, err := auth.VerifyJWT(token)
		if err != nil {
			ctx.Error(errors.Unauthorized("Invalid token!", err))
			ctx.Abort()
			return
		}

		userID, tokenVersion, err := auth.GetDataFromToken(parsedToken)
		if err != nil {
			ctx.Error(errors.Unauthorized("Invalid token!", err))
			ctx.Abort()
			return
		}

		user, err := m.UserService.GetUserByID(ctx.Request.Context(), userID)
		if err != nil {
			ctx.Error(errors.Unauthorized("Invalid User ID!", err))
			ctx.Abort()
			return
		}

		if user.TokenVersion != tokenVersion || !user.IsActive {
			ctx.Error(errors.Unauthorized("Invalid token version!", nil))
			ctx.Abort()
			return
		}

		ctx.Set("user_id", userID)
		ctx.Set("user", user)
		ctx.Set("jwt_token", token)
		ctx.Next()
	}
}

// UserID returns the authenticated user's id, or 0 for anonymous requests.
func UserID(c *gin.Context) uint64 {
	v, ok := c.Get("user_id")
	if !ok {
		return 0
	}
	id, _ := v.(uint64)
	return id
}

// CurrentUser returns the authenticated user, or nil for anonymous requests.
func CurrentUser(c *gin.Context) *domain.User {
	v, ok := c.Get("user")
	if !ok {
		return nil
	}
	user, _ := v.(*domain.User)
	return user
}
