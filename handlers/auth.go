package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/elshodweb/diploma-backend/internal/config"
	"github.com/elshodweb/diploma-backend/internal/models"
	"github.com/elshodweb/diploma-backend/internal/tokens"
	"github.com/elshodweb/diploma-backend/pkg/logger"
	"github.com/elshodweb/diploma-backend/pkg/middleware"
)

// Revoker records access tokens revoked before they expire.
type Revoker interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
}

// AuthHandler holds dependencies
type AuthHandler struct {
	cfg         *config.Config
	revocations Revoker
}

func NewAuthHandler(cfg *config.Config, revocations Revoker) *AuthHandler {
	return &AuthHandler{cfg: cfg, revocations: revocations}
}

// Register mounts /auth/revoke on authed, a group already behind
// middleware.AuthMiddleware. Outside production /auth/token is mounted on
// public to issue development tokens.
func (h *AuthHandler) Register(public, authed gin.IRouter) {
	authed.POST("/auth/revoke", h.Revoke)
	if !h.cfg.IsProduction() {
		public.POST("/auth/token", h.IssueToken)
	}
}

// IssueToken signs an HS256 access token for {sub, role}. Development only.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req struct {
		Sub  string `json:"sub" binding:"required"`
		Role string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.cfg.JWT.Secret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "JWT_SECRET not configured"})
		return
	}
	p := models.Principal{ID: req.Sub, Role: models.ParseRole(req.Role)}
	tok, err := tokens.GenerateAccessToken(h.cfg, p, h.cfg.JWT.AccessTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": tok,
		"token_type":   "Bearer",
		"expires_in":   int(h.cfg.JWT.AccessTokenTTL.Seconds()),
		"role":         p.Role,
	})
}

// Revoke blacklists the presented bearer token until it would expire.
func (h *AuthHandler) Revoke(c *gin.Context) {
	if h.revocations == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token revocation not configured"})
		return
	}
	token := c.GetString(middleware.TokenKey)
	claims, _ := c.Get(middleware.ClaimsKey)
	m, _ := claims.(map[string]interface{})
	ttl := tokens.ExpiresIn(m)
	if token == "" || ttl <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token has no remaining lifetime"})
		return
	}
	if err := h.revocations.Revoke(c.Request.Context(), token, ttl); err != nil {
		logger.Errorf("revoke token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke access token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "token revoked"})
}
