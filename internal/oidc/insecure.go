package oidc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/elshodweb/diploma-backend/pkg/middleware"
)

// claimSet exposes claims decoded from an unverified JWT payload.
type claimSet map[string]interface{}

func (c claimSet) Claims(v interface{}) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// InsecureVerifier accepts any well-formed JWT without checking its
// signature. It still rejects tokens whose exp claim has passed.
// Only for local and integration runs behind ALLOW_INSECURE_TOKEN=true.
type InsecureVerifier struct {
	now func() time.Time
}

func NewInsecureVerifier() *InsecureVerifier { return &InsecureVerifier{now: time.Now} }

func (v *InsecureVerifier) Verify(_ context.Context, raw string) (middleware.Token, error) {
	_, rest, ok := strings.Cut(raw, ".")
	if !ok {
		return nil, errors.New("invalid token format")
	}
	body, _, _ := strings.Cut(rest, ".")
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(body, "="))
	if err != nil {
		return nil, err
	}
	claims := claimSet{}
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, err
	}
	if exp, ok := claims["exp"].(float64); ok && v.now().After(time.Unix(int64(exp), 0)) {
		return nil, errors.New("token expired")
	}
	return claims, nil
}
