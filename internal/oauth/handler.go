package oauth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"mcpgate/internal/vault"
	"mcpgate/pkg/logging"
)

// OAuth error codes per RFC 6749 section 5.2 and RFC 7591.
const (
	errorCodeInvalidRequest          = "invalid_request"
	errorCodeInvalidClient           = "invalid_client"
	errorCodeUnsupportedGrantType    = "unsupported_grant_type"
	errorCodeUnsupportedResponseType = "unsupported_response_type"
	errorCodeServerError             = "server_error"
)

// maxRegistrationBodyBytes caps the size of an accepted registration payload.
const maxRegistrationBodyBytes = 64 << 10

// Handler serves the OAuth authorization-server surface of the proxy:
// discovery metadata, authorization, token, registration, and revocation
// endpoints. The heavy lifting happens in Provider; the handler translates
// HTTP to provider calls and provider errors to RFC 6749 error responses.
type Handler struct {
	provider  *Provider
	issuerURL string
	baseURL   string
}

// NewHandler creates an OAuth HTTP handler. issuerURL names the upstream
// identity provider; baseURL is this service's externally visible address,
// used to advertise the proxy's own endpoints in discovery metadata.
func NewHandler(provider *Provider, issuerURL, baseURL string) *Handler {
	return &Handler{
		provider:  provider,
		issuerURL: issuerURL,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

// RegisterRoutes mounts the OAuth endpoints on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/.well-known/oauth-authorization-server", h.ServeAuthorizationServerMetadata)
	mux.HandleFunc("/.well-known/oauth-protected-resource", h.ServeProtectedResourceMetadata)
	mux.HandleFunc("/authorize", h.ServeAuthorization)
	mux.HandleFunc("/token", h.ServeToken)
	mux.HandleFunc("/register", h.ServeClientRegistration)
	mux.HandleFunc("/revoke", h.ServeTokenRevocation)

	logging.Info("OAuth", "Registered OAuth endpoints")
}

// ServeAuthorizationServerMetadata serves the RFC 8414 discovery document.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	metadata := ServerMetadata{
		Issuer:                            h.issuerURL,
		AuthorizationEndpoint:             h.baseURL + "/authorize",
		TokenEndpoint:                     h.baseURL + "/token",
		RegistrationEndpoint:              h.baseURL + "/register",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post", "none"},
		CodeChallengeMethodsSupported:     []string{codeChallengeMethod},
		ScopesSupported:                   strings.Fields(defaultScope),
	}
	if h.provider.SupportsRevocation() {
		metadata.RevocationEndpoint = h.baseURL + "/revoke"
	}

	writeJSON(w, http.StatusOK, metadata)
}

// ServeProtectedResourceMetadata serves the RFC 9728 discovery document.
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, ResourceMetadata{
		Resource:               h.baseURL,
		AuthorizationServers:   []string{h.baseURL},
		BearerMethodsSupported: []string{"header"},
	})
}

// ServeAuthorization handles the authorization endpoint: it resolves the
// client, validates the request, and redirects the user agent to the
// upstream authorization endpoint.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeError(w, errorCodeInvalidRequest, "malformed request", http.StatusBadRequest)
		return
	}

	clientID := r.Form.Get("client_id")
	if clientID == "" {
		h.writeError(w, errorCodeInvalidRequest, "client_id is required", http.StatusBadRequest)
		return
	}

	client, err := h.provider.GetClient(r.Context(), clientID)
	if err != nil {
		logging.Error("OAuth", err, "Failed to load client %s", clientID)
		h.writeError(w, errorCodeServerError, "storage backend unavailable", http.StatusInternalServerError)
		return
	}
	if client == nil {
		h.writeError(w, errorCodeInvalidClient, "unknown client", http.StatusBadRequest)
		return
	}

	if rt := r.Form.Get("response_type"); rt != "code" {
		h.writeError(w, errorCodeUnsupportedResponseType, "only the authorization code flow is supported", http.StatusBadRequest)
		return
	}

	redirectURI := r.Form.Get("redirect_uri")
	if redirectURI != "" && !slices.Contains(client.RedirectURIs, redirectURI) {
		h.writeError(w, errorCodeInvalidRequest, "redirect_uri is not registered for this client", http.StatusBadRequest)
		return
	}

	codeChallenge := r.Form.Get("code_challenge")
	if codeChallenge == "" {
		h.writeError(w, errorCodeInvalidRequest, "code_challenge is required", http.StatusBadRequest)
		return
	}
	if method := r.Form.Get("code_challenge_method"); method != "" && method != codeChallengeMethod {
		h.writeError(w, errorCodeInvalidRequest, "only the S256 code challenge method is supported", http.StatusBadRequest)
		return
	}

	params := AuthorizationParams{
		RedirectURI:   redirectURI,
		CodeChallenge: codeChallenge,
		State:         r.Form.Get("state"),
	}
	if scope := r.Form.Get("scope"); scope != "" {
		params.Scopes = strings.Fields(scope)
	}

	target, err := h.provider.AuthorizeURL(client, params)
	if err != nil {
		logging.Error("OAuth", err, "Failed to build authorization redirect for client %s", clientID)
		h.writeError(w, errorCodeServerError, "authorization request failed", http.StatusInternalServerError)
		return
	}

	logging.Debug("OAuth", "Redirecting client %s to upstream authorization endpoint", clientID)
	http.Redirect(w, r, target, http.StatusFound)
}

// ServeToken handles the token endpoint for the authorization_code grant.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeError(w, errorCodeInvalidRequest, "malformed request", http.StatusBadRequest)
		return
	}

	if grantType := r.Form.Get("grant_type"); grantType != "authorization_code" {
		h.writeError(w, errorCodeUnsupportedGrantType, "only authorization_code is supported", http.StatusBadRequest)
		return
	}

	clientID := r.Form.Get("client_id")
	code := r.Form.Get("code")
	if clientID == "" || code == "" {
		h.writeError(w, errorCodeInvalidRequest, "client_id and code are required", http.StatusBadRequest)
		return
	}

	client, err := h.provider.GetClient(r.Context(), clientID)
	if err != nil {
		logging.Error("OAuth", err, "Failed to load client %s", clientID)
		h.writeError(w, errorCodeServerError, "storage backend unavailable", http.StatusInternalServerError)
		return
	}
	if client == nil {
		h.writeError(w, errorCodeInvalidClient, "unknown client", http.StatusUnauthorized)
		return
	}

	tokens, err := h.provider.ExchangeAuthorizationCode(r.Context(), client, code, r.Form.Get("code_verifier"))
	if err != nil {
		// Upstream rejection details are logged by the provider, not leaked.
		logging.Error("OAuth", err, "Code exchange failed for client %s", clientID)
		h.writeError(w, errorCodeServerError, "token exchange failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, tokens)
}

// ServeClientRegistration proxies RFC 7591 dynamic client registration.
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRegistrationBodyBytes))
	if err != nil {
		h.writeError(w, errorCodeInvalidRequest, "failed to read request body", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		h.writeError(w, errorCodeInvalidRequest, "request body is not valid JSON", http.StatusBadRequest)
		return
	}

	client, err := h.provider.RegisterClient(r.Context(), body)
	if err != nil {
		var regErr *RegistrationError
		if errors.As(err, &regErr) {
			logging.Error("OAuth", err, "Client registration failed")
			h.writeError(w, errorCodeServerError, "client registration failed", http.StatusInternalServerError)
			return
		}
		logging.Error("OAuth", err, "Failed to persist registered client")
		h.writeError(w, errorCodeServerError, "storage backend unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(clientDocument(client))
}

// ServeTokenRevocation forwards RFC 7009 revocation requests upstream when a
// revocation endpoint is configured. Local opaque-token mappings are not
// revoked; they lapse via TTL.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.provider.SupportsRevocation() {
		h.writeError(w, errorCodeInvalidRequest, "token revocation is not supported", http.StatusServiceUnavailable)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeError(w, errorCodeInvalidRequest, "malformed request", http.StatusBadRequest)
		return
	}
	if r.Form.Get("token") == "" {
		h.writeError(w, errorCodeInvalidRequest, "token is required", http.StatusBadRequest)
		return
	}

	form := url.Values{}
	for key, values := range r.Form {
		for _, v := range values {
			form.Add(key, v)
		}
	}

	if err := h.provider.RevokeToken(r.Context(), form); err != nil {
		logging.Error("OAuth", err, "Upstream token revocation failed")
		h.writeError(w, errorCodeServerError, "token revocation failed", http.StatusInternalServerError)
		return
	}

	// RFC 7009: the revocation endpoint responds with 200 regardless of
	// whether the token was previously valid.
	w.WriteHeader(http.StatusOK)
}

// clientDocument returns the JSON document for a registered client,
// preferring the verbatim upstream response when available.
func clientDocument(client *vault.ClientInformation) []byte {
	if len(client.Raw) > 0 {
		return client.Raw
	}
	data, err := json.Marshal(client)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("OAuth", "Failed to encode response: %v", err)
	}
}
