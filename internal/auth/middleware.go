package auth

import (
	"net/http"
	"strings"

	"github.com/dili-feedback-server/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	actorKey = "auth.actor"
	userKey  = "auth.user"
)

// Middleware guards routes with bearer tokens and roles
type Middleware struct {
	service *Service
	log     *logrus.Logger
}

// NewMiddleware creates route guards backed by service
func NewMiddleware(service *Service, logger *logrus.Logger) *Middleware {
	return &Middleware{service: service, log: logger}
}

// RequireAuth rejects requests without a valid token with 401 and stores
// the caller on the context
func (m *Middleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ExtractToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "missing or invalid token",
			})
			return
		}

		user, err := m.service.Authenticate(c.Request.Context(), tokenString)
		if err != nil {
			m.log.WithError(err).WithField("path", c.FullPath()).Debug("Token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "missing or invalid token",
			})
			return
		}

		c.Set(actorKey, domain.Actor{UserID: user.ID, Email: user.Email, Role: user.Role})
		c.Set(userKey, user)
		c.Set("user_id", user.ID)
		c.Next()
	}
}

// RequireRole rejects callers whose role is not listed with 403.
// It must run after RequireAuth.
func (m *Middleware) RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "missing or invalid token",
			})
			return
		}
		for _, role := range roles {
			if actor.Role == role {
				c.Next()
				return
			}
		}

		m.log.WithFields(logrus.Fields{
			"user_id": actor.UserID,
			"role":    actor.Role,
			"path":    c.FullPath(),
		}).Warn("Role check failed")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"success": false,
			"message": "forbidden",
		})
	}
}

// ActorFrom returns the authenticated caller
func ActorFrom(c *gin.Context) (domain.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return domain.Actor{}, false
	}
	actor, ok := v.(domain.Actor)
	return actor, ok
}

// UserFrom returns the authenticated user as loaded for this request
func UserFrom(c *gin.Context) (*domain.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*domain.User)
	return user, ok
}

// ExtractToken reads the bearer token from the Authorization header, or
// from the token query parameter for EventSource and websocket clients.
func ExtractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return c.Query("token")
}
