package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elshodweb/diploma-backend/internal/config"
	"github.com/elshodweb/diploma-backend/internal/models"
	"github.com/elshodweb/diploma-backend/internal/sessions"
	"github.com/elshodweb/diploma-backend/internal/tokens"
	"github.com/elshodweb/diploma-backend/pkg/middleware"
)

func newAuthRouter(t *testing.T, cfg *config.Config) (*gin.Engine, *mr.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rev := sessions.NewRevocations(client, "")
	g := gin.New()
	authed := g.Group("/api", middleware.AuthMiddleware(tokens.NewHMACVerifier(cfg.JWT.Secret), rev))
	NewAuthHandler(cfg, rev).Register(g.Group("/api"), authed)
	return g, m
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.JWT.Secret = "testsecret123456789012345678901234"
	cfg.JWT.AccessTokenTTL = 5 * time.Minute
	return cfg
}

func issue(t *testing.T, g *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	return w
}

func TestIssueAndRevokeToken(t *testing.T) {
	g, m := newAuthRouter(t, testConfig())

	w := issue(t, g, `{"sub":"alice","role":"admin"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		AccessToken string `json:"access_token"`
		Role        string `json:"role"`
		ExpiresIn   int    `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ADMIN", resp.Role)
	assert.Equal(t, 300, resp.ExpiresIn)

	revoke := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/revoke", nil)
		req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
		w := httptest.NewRecorder()
		g.ServeHTTP(w, req)
		return w.Code
	}
	require.Equal(t, http.StatusOK, revoke())
	assert.Len(t, m.Keys(), 1)
	ttl := m.TTL(m.Keys()[0])
	assert.True(t, ttl > 0 && ttl <= 5*time.Minute, ttl)

	// the revoked token no longer authenticates
	require.Equal(t, http.StatusUnauthorized, revoke())
}

func TestIssueToken_Validation(t *testing.T) {
	g, _ := newAuthRouter(t, testConfig())
	w := issue(t, g, `{"role":"ADMIN"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	cfg := testConfig()
	cfg.JWT.Secret = ""
	g, _ = newAuthRouter(t, cfg)
	w = issue(t, g, `{"sub":"alice"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestIssueToken_DisabledInProduction(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Environment = "production"
	g, _ := newAuthRouter(t, cfg)
	w := issue(t, g, `{"sub":"alice"}`)
	require.Equal(t, http.StatusNotFound, w.Code)
}

type failingRevoker struct{}

func (failingRevoker) Revoke(context.Context, string, time.Duration) error {
	return assert.AnError
}

func TestRevoke_StoreFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	tok, err := tokens.GenerateAccessToken(cfg, testPrincipal, time.Minute)
	require.NoError(t, err)

	g := gin.New()
	authed := g.Group("/api", middleware.AuthMiddleware(tokens.NewHMACVerifier(cfg.JWT.Secret), nil))
	NewAuthHandler(cfg, failingRevoker{}).Register(g.Group("/api"), authed)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/revoke", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

var testPrincipal = models.Principal{ID: "bob", Role: models.RoleUser}
