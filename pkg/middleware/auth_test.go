package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elshodweb/diploma-backend/internal/models"
	"github.com/elshodweb/diploma-backend/internal/sessions"
)

// fakeToken implements Token
type fakeToken struct {
	data map[string]interface{}
}

func (t *fakeToken) Claims(v interface{}) error {
	if mm, ok := v.(*map[string]interface{}); ok {
		*mm = t.data
		return nil
	}
	return fmt.Errorf("unsupported claims type")
}

// fakeVerifier implements Verifier
type fakeVerifier struct{}

func (f *fakeVerifier) Verify(ctx context.Context, raw string) (Token, error) {
	switch raw {
	case "goodtoken":
		return &fakeToken{data: map[string]interface{}{"sub": "user1", "role": "USER"}}, nil
	case "admintoken":
		return &fakeToken{data: map[string]interface{}{"sub": "admin1", "role": "admin"}}, nil
	case "kctoken":
		return &fakeToken{data: map[string]interface{}{
			"sub":          "kc1",
			"realm_access": map[string]interface{}{"roles": []interface{}{"default-roles", "ADMIN"}},
		}}, nil
	case "nosub":
		return &fakeToken{data: map[string]interface{}{"role": "ADMIN"}}, nil
	}
	return nil, fmt.Errorf("invalid token")
}

type brokenRevocations struct{}

func (brokenRevocations) IsRevoked(context.Context, string) (bool, error) {
	return false, fmt.Errorf("redis down")
}

func serve(t *testing.T, mw gin.HandlerFunc, header string) (*httptest.ResponseRecorder, models.Principal) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	g := gin.New()
	var got models.Principal
	g.GET("/", mw, func(c *gin.Context) {
		got, _ = CurrentPrincipal(c)
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rw := httptest.NewRecorder()
	g.ServeHTTP(rw, req)
	return rw, got
}

func TestAuthMiddleware_NoHeader(t *testing.T) {
	rw, _ := serve(t, AuthMiddleware(&fakeVerifier{}, nil), "")
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestAuthMiddleware_InvalidHeader(t *testing.T) {
	for _, h := range []string{"BadHeader", "Basic goodtoken", "Bearer "} {
		rw, _ := serve(t, AuthMiddleware(&fakeVerifier{}, nil), h)
		require.Equal(t, http.StatusUnauthorized, rw.Code, h)
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	rw, _ := serve(t, AuthMiddleware(&fakeVerifier{}, nil), "Bearer forged")
	require.Equal(t, http.StatusUnauthorized, rw.Code)
	require.Contains(t, rw.Body.String(), "invalid token")
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	rw, p := serve(t, AuthMiddleware(&fakeVerifier{}, nil), "Bearer goodtoken")
	require.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, models.Principal{ID: "user1", Role: models.RoleUser}, p)

	rw, p = serve(t, AuthMiddleware(&fakeVerifier{}, nil), "bearer admintoken")
	require.Equal(t, http.StatusOK, rw.Code)
	assert.True(t, p.IsAdmin())
}

func TestAuthMiddleware_RealmRoles(t *testing.T) {
	rw, p := serve(t, AuthMiddleware(&fakeVerifier{}, nil), "Bearer kctoken")
	require.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, models.Principal{ID: "kc1", Role: models.RoleAdmin}, p)
}

func TestAuthMiddleware_MissingSubject(t *testing.T) {
	rw, _ := serve(t, AuthMiddleware(&fakeVerifier{}, nil), "Bearer nosub")
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestAuthMiddleware_RevokedToken(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer client.Close()

	rev := sessions.NewRevocations(client, "")
	mw := AuthMiddleware(&fakeVerifier{}, rev)

	rw, _ := serve(t, mw, "Bearer goodtoken")
	require.Equal(t, http.StatusOK, rw.Code)

	require.NoError(t, rev.Revoke(context.Background(), "goodtoken", time.Minute))
	rw, _ = serve(t, mw, "Bearer goodtoken")
	require.Equal(t, http.StatusUnauthorized, rw.Code)
	require.Contains(t, rw.Body.String(), "revoked")

	// other tokens are unaffected
	rw, _ = serve(t, mw, "Bearer admintoken")
	require.Equal(t, http.StatusOK, rw.Code)
}

func TestAuthMiddleware_RevocationCheckFails(t *testing.T) {
	rw, _ := serve(t, AuthMiddleware(&fakeVerifier{}, brokenRevocations{}), "Bearer goodtoken")
	require.Equal(t, http.StatusServiceUnavailable, rw.Code)
}

func TestPrincipalFromClaims(t *testing.T) {
	_, ok := PrincipalFromClaims(map[string]interface{}{})
	assert.False(t, ok)

	p, ok := PrincipalFromClaims(map[string]interface{}{"sub": "u", "role": "superuser"})
	require.True(t, ok)
	assert.Equal(t, models.RoleUser, p.Role)
}
