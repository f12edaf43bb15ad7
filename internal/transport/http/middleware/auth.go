package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"ai-chatbot/internal/app"
	"ai-chatbot/internal/model"
	"ai-chatbot/internal/pkg/jwtutil"
	"ai-chatbot/internal/transport/http/response"
)

const ContextUserKey = "current_user"

// Auth verifies the bearer token and resolves its subject to an active
// user, which handlers read back with CurrentUser.
func Auth(secret string, authService *app.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Error(c, 401, "missing authorization header")
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, 401, "invalid authorization scheme")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		email, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Error(c, 401, "invalid or expired token")
			c.Abort()
			return
		}

		user, err := authService.GetUserByEmail(email)
		if err != nil {
			response.Error(c, 500, "internal server error")
			c.Abort()
			return
		}
		if user == nil || !user.IsActive {
			response.Error(c, 401, "invalid token")
			c.Abort()
			return
		}

		c.Set(ContextUserKey, user)
		c.Next()
	}
}

func CurrentUser(c *gin.Context) (*model.User, bool) {
	userAny, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	user, ok := userAny.(*model.User)
	return user, ok
}
