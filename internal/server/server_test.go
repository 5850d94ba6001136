package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/repo-analyser/internal/auth"
	"github.com/sakif/repo-analyser/internal/config"
	"github.com/sakif/repo-analyser/internal/model"
)

const testSecret = "server-test-session-secret"

func testConfig(llmURL string) *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080, PublicBaseURL: "http://localhost:8080"},
		Database: config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"},
		Auth:     config.AuthConfig{SessionSecret: testSecret, TokenTTL: time.Hour},
		GitHub:   config.GitHubConfig{ClientID: "id", ClientSecret: "secret", MaxBlobBytes: 1 << 20},
		Webhook:  config.WebhookConfig{Secret: "hook-secret"},
		LLM:      config.LLMConfig{Provider: "groq", APIKey: "test-key", BaseURL: llmURL},
		Analysis: config.AnalysisConfig{
			MaxFiles:        15,
			Extensions:      []string{".go"},
			BlobConcurrency: 2,
			RunTimeout:      time.Minute,
		},
		Queue:     config.QueueConfig{Driver: "memory", Workers: 1},
		RateLimit: config.RateLimitConfig{AnalysePerMinute: 1},
	}
}

// newTestServer wires a server against an in-memory store and a stub model
// endpoint that answers every completion with "looks fine".
func newTestServer(t *testing.T) *Server {
	t.Helper()
	llmStub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"looks fine"}}],"usage":{"total_tokens":7}}`)
	}))
	t.Cleanup(llmStub.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(context.Background(), testConfig(llmStub.URL), logger, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

// signIn stores a user and returns a session token for them.
func signIn(t *testing.T, s *Server) (*model.User, string) {
	t.Helper()
	sealer, err := auth.NewSealer(testSecret)
	require.NoError(t, err)
	sealed, err := sealer.Seal("gho_test")
	require.NoError(t, err)

	u := &model.User{GitHubID: 42, Login: "octocat", SealedToken: sealed}
	require.NoError(t, s.db.Upsert(context.Background(), u))

	tokens, err := auth.NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)
	token, err := tokens.Generate(u.ID)
	require.NoError(t, err)
	return u, token
}

func do(s *Server, method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)

	rec := do(s, http.MethodGet, "/healthz", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestServer_ProtectedRoutesRequireSession(t *testing.T) {
	s := newTestServer(t)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/me"},
		{http.MethodGet, "/repositories"},
		{http.MethodPost, "/repositories/sync"},
		{http.MethodGet, "/repositories/abc"},
		{http.MethodPost, "/repositories/abc/analyse"},
		{http.MethodGet, "/repositories/abc/analyse"},
		{http.MethodGet, "/repositories/abc/compare"},
		{http.MethodGet, "/repositories/abc/webhook"},
		{http.MethodPost, "/repositories/abc/webhook"},
		{http.MethodGet, "/repositories/abc/webhook/logs"},
		{http.MethodGet, "/analyses"},
		{http.MethodGet, "/analytics"},
		{http.MethodPost, "/snippets/analyse"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rec := do(s, rt.method, rt.path, "", "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestServer_Me(t *testing.T) {
	s := newTestServer(t)
	u, token := signIn(t, s)

	rec := do(s, http.MethodGet, "/me", token, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var got model.User
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "octocat", got.Login)
	assert.NotContains(t, rec.Body.String(), "sealed")
}

func TestServer_EmptyListings(t *testing.T) {
	s := newTestServer(t)
	_, token := signIn(t, s)

	rec := do(s, http.MethodGet, "/repositories", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())

	rec = do(s, http.MethodGet, "/repositories/missing", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_BadgeIsPublic(t *testing.T) {
	s := newTestServer(t)

	rec := do(s, http.MethodGet, "/repositories/unknown/badge", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "No Analysis")
}

func TestServer_WebhookRejectsBadSignature(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/source-host", strings.NewReader(`{}`))
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", "sha256=00")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_SnippetReviewIsRateLimited(t *testing.T) {
	s := newTestServer(t)
	_, token := signIn(t, s)
	body := `{"code":"print(1)","language":"python"}`

	rec := do(s, http.MethodPost, "/snippets/analyse", token, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var review model.SnippetReview
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&review))
	assert.Equal(t, "looks fine", review.Analysis)
	assert.Equal(t, "general", review.Focus)

	rec = do(s, http.MethodPost, "/snippets/analyse", token, body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestServer_MetricsUseRoutePatterns(t *testing.T) {
	s := newTestServer(t)
	do(s, http.MethodGet, "/repositories/abc/badge", "", "")

	rec := do(s, http.MethodGet, "/metrics", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/repositories/{id}/badge"`)
	assert.NotContains(t, rec.Body.String(), `route="/repositories/abc/badge"`)
}

func TestServer_CloseWithoutStart(t *testing.T) {
	s := newTestServer(t)
	assert.NoError(t, s.Close(context.Background()))
}
