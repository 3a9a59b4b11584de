package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/elshodweb/diploma-backend/internal/config"
	"github.com/elshodweb/diploma-backend/internal/models"
	"github.com/elshodweb/diploma-backend/pkg/middleware"
)

// GenerateAccessToken creates a signed HS256 access token carrying the
// principal's id and role.
func GenerateAccessToken(cfg *config.Config, p models.Principal, ttl time.Duration) (string, error) {
	if p.ID == "" {
		return "", errors.New("tokens: principal id is required")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  p.ID,
		"role": string(p.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	jt := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return jt.SignedString([]byte(cfg.JWT.Secret))
}

// claimsToken exposes verified JWT claims to the auth middleware.
type claimsToken struct {
	claims jwt.MapClaims
}

func (t *claimsToken) Claims(v interface{}) error {
	b, err := json.Marshal(t.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// HMACVerifier verifies HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(_ context.Context, raw string) (middleware.Token, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	return &claimsToken{claims: claims}, nil
}

// ExpiresIn returns how long the token in claims stays valid, or zero when
// there is no usable exp claim.
func ExpiresIn(claims map[string]interface{}) time.Duration {
	exp, ok := claims["exp"].(float64)
	if !ok {
		return 0
	}
	d := time.Until(time.Unix(int64(exp), 0))
	if d < 0 {
		return 0
	}
	return d
}
