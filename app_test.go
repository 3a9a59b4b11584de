package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elshodweb/diploma-backend/internal/config"
	"github.com/elshodweb/diploma-backend/internal/ledger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:    config.ServerConfig{Environment: "test"},
		Storage:   config.StorageConfig{Backend: "filesystem", Dir: t.TempDir(), Compression: "zstd"},
		Ledger:    config.LedgerConfig{Backend: "hashchain", ChainSecret: "app-test", Journal: filepath.Join(t.TempDir(), "chain.jsonl"), CommitRetries: 1, CommitTimeout: time.Second},
		Documents: config.DocumentsConfig{Store: "memory", MaxUploadBytes: 1 << 20},
		JWT:       config.JWTConfig{Secret: "testsecret123456789012345678901234", AccessTokenTTL: time.Minute},
		RateLimit: config.RateLimitConfig{Enabled: true, RPS: 100, Burst: 100},
	}
}

func call(t *testing.T, h http.Handler, method, path, token string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func token(t *testing.T, h http.Handler, sub, role string) string {
	t.Helper()
	w := call(t, h, http.MethodPost, "/api/auth/token", "", bytes.NewBufferString(`{"sub":"`+sub+`","role":"`+role+`"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.AccessToken
}

func TestApp_EndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	cfg := testConfig(t)
	host, port, _ := strings.Cut(m.Addr(), ":")
	cfg.Redis = config.RedisConfig{Host: host, Port: port}
	cfg.Ledger.Backend = "redis"
	cfg.Ledger.RedisPrefix = "ledger:chain"
	cfg.RateLimit.UseRedis = true
	cfg.RateLimit.Window = time.Minute

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	h := a.router

	assert.Equal(t, http.StatusOK, call(t, h, http.MethodGet, "/health", "", nil, "").Code)
	w := call(t, h, http.MethodGet, "/ready", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"redis":true`)

	assert.Equal(t, http.StatusUnauthorized, call(t, h, http.MethodGet, "/api/documents", "", nil, "").Code)

	user := token(t, h, "student-1", "USER")
	admin := token(t, h, "dean", "ADMIN")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "diploma.pdf")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("%PDF-1.7 diploma"))
	require.NoError(t, mw.WriteField("title", "Diploma"))
	require.NoError(t, mw.Close())
	w = call(t, h, http.MethodPost, "/api/documents", user, &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var doc struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))

	w = call(t, h, http.MethodPut, "/api/documents/"+doc.ID+"/status", admin, bytes.NewBufferString(`{"status":"APPROVED"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = call(t, h, http.MethodGet, "/api/documents/"+doc.ID+"/history/verify", user, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"valid":true`)

	w = call(t, h, http.MethodGet, "/metrics", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "provenance_documents_ingested_total")
	assert.Contains(t, w.Body.String(), "provenance_ledger_commits_total")

	// the chain lives in redis and verifies end to end
	assert.True(t, m.Exists("ledger:chain:records"))
	w = call(t, h, http.MethodPost, "/api/auth/revoke", user, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusUnauthorized, call(t, h, http.MethodGet, "/api/documents", user, nil, "").Code)
}

func TestApp_JournalSurvivesRestart(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig(t)

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	user := token(t, a.router, "student-1", "USER")
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "a.txt")
	_, _ = fw.Write([]byte("a"))
	require.NoError(t, mw.Close())
	w := call(t, a.router, http.MethodPost, "/api/documents", user, &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	a.Close()

	records, err := ledger.ReadJournal(cfg.Ledger.Journal)
	require.NoError(t, err)
	require.Len(t, records, 1)

	a, err = newApp(context.Background(), cfg)
	require.NoError(t, err)
	a.Close()
}

func TestApp_RequiresVerifier(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWT.Secret = ""
	_, err := newApp(context.Background(), cfg)
	require.Error(t, err)
}
