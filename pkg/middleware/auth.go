package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/elshodweb/diploma-backend/internal/models"
	"github.com/elshodweb/diploma-backend/pkg/logger"
)

// Context keys set by AuthMiddleware.
const (
	ClaimsKey    = "claims"
	PrincipalKey = "principal"
	TokenKey     = "accessToken"
)

// Token is minimal interface for a verified token that can expose claims
type Token interface {
	Claims(v interface{}) error
}

// Verifier is the minimal interface the middleware depends on
type Verifier interface {
	Verify(ctx context.Context, raw string) (Token, error)
}

// RevocationChecker reports whether an access token was revoked before
// its expiry.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// AuthMiddleware verifies Bearer tokens, rejects revoked ones and stores the
// resolved models.Principal in the context. revocations may be nil.
func AuthMiddleware(ver Verifier, revocations RevocationChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		scheme, token, ok := strings.Cut(auth, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header"})
			return
		}

		if revocations != nil {
			revoked, err := revocations.IsRevoked(c.Request.Context(), token)
			if err != nil {
				logger.Warnf("revocation check failed: %v", err)
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "token revocation check failed"})
				return
			}
			if revoked {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token revoked"})
				return
			}
		}

		verified, err := ver.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "details": err.Error()})
			return
		}

		var claims map[string]interface{}
		if err := verified.Claims(&claims); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "failed to parse claims"})
			return
		}
		p, ok := PrincipalFromClaims(claims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has no subject"})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(PrincipalKey, p)
		c.Set(TokenKey, token)
		c.Next()
	}
}

// PrincipalFromClaims maps token claims to a principal. The role comes from
// a "role" claim, or from Keycloak realm_access.roles containing ADMIN.
func PrincipalFromClaims(claims map[string]interface{}) (models.Principal, bool) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return models.Principal{}, false
	}
	p := models.Principal{ID: sub, Role: models.RoleUser}
	if role, ok := claims["role"].(string); ok {
		p.Role = models.ParseRole(role)
		return p, true
	}
	if ra, ok := claims["realm_access"].(map[string]interface{}); ok {
		if roles, ok := ra["roles"].([]interface{}); ok {
			for _, r := range roles {
				if s, ok := r.(string); ok && models.ParseRole(s) == models.RoleAdmin {
					p.Role = models.RoleAdmin
					break
				}
			}
		}
	}
	return p, true
}

// CurrentPrincipal returns the principal stored by AuthMiddleware.
func CurrentPrincipal(c *gin.Context) (models.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return models.Principal{}, false
	}
	p, ok := v.(models.Principal)
	return p, ok
}

// limiterKey prefers the authenticated principal, otherwise the client IP.
func limiterKey(c *gin.Context) string {
	if p, ok := CurrentPrincipal(c); ok && p.ID != "" {
		return "sub:" + p.ID
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}
