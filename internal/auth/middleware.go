package auth

import (
	"net/http"
	"strings"

	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const identityKey = "identity"

// FromContext returns the identity set by the middleware, or nil for a guest
func FromContext(c *gin.Context) *Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	identity, _ := v.(*Identity)
	return identity
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", true
	}
	return strings.TrimSpace(parts[1]), true
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": message})
}

// OptionalAuth attaches an identity when a bearer token is present.
// Requests without one continue as guests; a bad token is rejected.
func OptionalAuth(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, present := bearerToken(c)
		if !present {
			c.Next()
			return
		}

		identity, err := authn.Authenticate(token)
		if err != nil {
			util.GetLogger().Debug("Rejected bearer token", zap.Error(err))
			unauthorized(c, "Invalid token")
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// RequireAuth rejects requests without a valid bearer token
func RequireAuth(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if FromContext(c) != nil {
			c.Next()
			return
		}

		token, present := bearerToken(c)
		if !present {
			unauthorized(c, "Authentication required")
			return
		}
		identity, err := authn.Authenticate(token)
		if err != nil {
			util.GetLogger().Debug("Rejected bearer token", zap.Error(err))
			unauthorized(c, "Invalid token")
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// RequireCapability must run after RequireAuth
func RequireCapability(authz Authorizer, capability string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authz.Authorize(FromContext(c), capability); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "Forbidden"})
			return
		}
		c.Next()
	}
}
