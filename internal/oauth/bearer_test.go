package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgate/internal/vault"
)

const invalidTokenEnvelope = `{"jsonrpc":"2.0","error":{"code":-32000,"message":"Invalid access token"},"id":null}`

func newBearerEnv(t *testing.T) (*Provider, *vault.MemoryVault) {
	t.Helper()
	v := vault.NewMemoryVault()
	t.Cleanup(func() { _ = v.Close() })
	return NewProvider(Endpoints{}, v, ProviderOptions{}), v
}

func issueToken(t *testing.T, v *vault.MemoryVault, scope string, ttl time.Duration) string {
	t.Helper()
	opaque, err := v.SaveAccessToken(context.Background(), vault.TokenBundle{
		AccessToken: "upstream-secret",
		ClientID:    "abc123",
		Scope:       scope,
	}, ttl)
	require.NoError(t, err)
	return opaque
}

func TestRequireBearerRejectsMissingHeader(t *testing.T) {
	p, _ := newBearerEnv(t)
	gate := RequireBearer(p, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without credentials")
	}))

	rec := httptest.NewRecorder()
	gate.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Bearer error="invalid_token"`, rec.Header().Get("WWW-Authenticate"))
	assert.JSONEq(t, invalidTokenEnvelope, rec.Body.String())
}

func TestRequireBearerRejectsUnknownToken(t *testing.T) {
	p, _ := newBearerEnv(t)
	gate := RequireBearer(p, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run with an unknown token")
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer never-issued")
	rec := httptest.NewRecorder()
	gate.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, invalidTokenEnvelope, rec.Body.String())
}

func TestRequireBearerRejectsExpiredToken(t *testing.T) {
	p, v := newBearerEnv(t)
	opaque := issueToken(t, v, "", 20*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	gate := RequireBearer(p, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run with an expired token")
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+opaque)
	rec := httptest.NewRecorder()
	gate.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireBearerAcceptsValidToken(t *testing.T) {
	p, v := newBearerEnv(t)
	opaque := issueToken(t, v, "email profile", time.Hour)

	var seen *TokenInfo
	gate := RequireBearer(p, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := TokenInfoFromContext(r.Context())
		require.True(t, ok)
		seen = info
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+opaque)
	rec := httptest.NewRecorder()
	gate.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "abc123", seen.ClientID)
	assert.Equal(t, []string{"email", "profile"}, seen.Scopes)
}

func TestRequireBearerSchemeIsCaseInsensitive(t *testing.T) {
	p, v := newBearerEnv(t)
	opaque := issueToken(t, v, "", time.Hour)

	gate := RequireBearer(p, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "bearer "+opaque)
	rec := httptest.NewRecorder()
	gate.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireBearerWithScopes(t *testing.T) {
	p, v := newBearerEnv(t)
	opaque := issueToken(t, v, "email", time.Hour)

	gate := RequireBearerWithScopes(p, []string{"admin"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without the required scope")
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+opaque)
	rec := httptest.NewRecorder()
	gate.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
