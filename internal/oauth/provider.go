package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"mcpgate/internal/vault"
	"mcpgate/pkg/logging"
)

// defaultTokenTTL is applied when the upstream token response declares no
// expiry.
const defaultTokenTTL = 24 * time.Hour

// maxUpstreamResponseBytes caps how much of an upstream response body is
// read when proxying registration and revocation.
const maxUpstreamResponseBytes = 1 << 20

// Provider implements the authorization-code flow against an upstream
// identity provider, minting opaque local tokens through the vault.
//
// The provider is stateless aside from its vault and upstream HTTP calls, so
// a single instance is safe for concurrent use across requests.
type Provider struct {
	endpoints  Endpoints
	vault      vault.Vault
	httpClient *http.Client
}

// ProviderOptions configures optional Provider behavior.
type ProviderOptions struct {
	// HTTPClient is used for upstream calls. Defaults to a client with a
	// 30-second timeout. Retry policy, if any, belongs to this client; the
	// provider itself never retries upstream calls.
	HTTPClient *http.Client
}

// NewProvider creates a proxy authorization provider for the given upstream
// endpoints and vault.
func NewProvider(endpoints Endpoints, v vault.Vault, opts ProviderOptions) *Provider {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Provider{
		endpoints:  endpoints,
		vault:      v,
		httpClient: httpClient,
	}
}

// GetClient resolves a registered client from the vault. Returns (nil, nil)
// for unknown clients.
func (p *Provider) GetClient(ctx context.Context, clientID string) (*vault.ClientInformation, error) {
	return p.vault.GetClient(ctx, clientID)
}

// AuthorizeURL builds the upstream authorization redirect for a registered
// client. The PKCE challenge method is fixed to S256. When the caller
// requests no scopes, a default identity scope set is used.
func (p *Provider) AuthorizeURL(client *vault.ClientInformation, params AuthorizationParams) (string, error) {
	redirectURI := params.RedirectURI
	if redirectURI == "" {
		if len(client.RedirectURIs) == 0 {
			return "", fmt.Errorf("client %s has no redirect URI on file", client.ClientID)
		}
		redirectURI = client.RedirectURIs[0]
	}

	target, err := url.Parse(p.endpoints.AuthorizationURL)
	if err != nil {
		return "", fmt.Errorf("parsing authorization URL: %w", err)
	}

	q := url.Values{}
	q.Set("client_id", client.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", redirectURI)
	q.Set("code_challenge", params.CodeChallenge)
	q.Set("code_challenge_method", codeChallengeMethod)
	if params.State != "" {
		q.Set("state", params.State)
	}
	if len(params.Scopes) > 0 {
		q.Set("scope", strings.Join(params.Scopes, " "))
	} else {
		q.Set("scope", defaultScope)
	}

	target.RawQuery = q.Encode()
	return target.String(), nil
}

// ExchangeAuthorizationCode redeems an authorization code at the upstream
// token endpoint, stores the upstream bundle in the vault, and returns a
// token response whose access token is the freshly minted opaque token. The
// upstream refresh and ID tokens are retained server-side only.
func (p *Provider) ExchangeAuthorizationCode(ctx context.Context, client *vault.ClientInformation, code, codeVerifier string) (*TokenResponse, error) {
	if len(client.RedirectURIs) == 0 {
		return nil, fmt.Errorf("client %s has no redirect URI on file", client.ClientID)
	}
	redirectURI := client.RedirectURIs[0]

	conf := &oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL: p.endpoints.TokenURL,
			// The upstream expects client credentials in the form body, not
			// basic auth.
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	var exchangeOpts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		exchangeOpts = append(exchangeOpts, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := conf.Exchange(exchangeCtx, code, exchangeOpts...)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			logging.Error("OAuth", err, "Token exchange rejected by upstream with status %d", retrieveErr.Response.StatusCode)
			return nil, &UpstreamError{Operation: "token exchange", Status: retrieveErr.Response.StatusCode, Err: err}
		}
		logging.Error("OAuth", err, "Token exchange request failed")
		return nil, &UpstreamError{Operation: "token exchange", Err: err}
	}

	ttl := defaultTokenTTL
	if !tok.Expiry.IsZero() {
		if remaining := time.Until(tok.Expiry); remaining > 0 {
			ttl = remaining
		}
	}

	scope, _ := tok.Extra("scope").(string)
	idToken, _ := tok.Extra("id_token").(string)

	opaque, err := p.vault.SaveAccessToken(ctx, vault.TokenBundle{
		AccessToken:  tok.AccessToken,
		IDToken:      idToken,
		RefreshToken: tok.RefreshToken,
		ClientID:     client.ClientID,
		Scope:        scope,
	}, ttl)
	if err != nil {
		return nil, fmt.Errorf("storing access token mapping: %w", err)
	}

	logging.Info("OAuth", "Issued opaque token for client %s (ttl %s)", client.ClientID, ttl.Round(time.Second))

	return &TokenResponse{
		AccessToken: opaque,
		TokenType:   tok.Type(),
		ExpiresIn:   int64(ttl / time.Second),
		Scope:       scope,
	}, nil
}

// RegisterClient forwards a dynamic client registration payload verbatim to
// the upstream registration endpoint, validates the returned record, and
// persists it in the vault. The upstream registrar does not let us read a
// client back later, so without this persistence step once-issued records
// would be unrecoverable.
func (p *Provider) RegisterClient(ctx context.Context, metadata json.RawMessage) (*vault.ClientInformation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoints.RegistrationURL, bytes.NewReader(metadata))
	if err != nil {
		return nil, &RegistrationError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		logging.Error("OAuth", err, "Client registration request failed")
		return nil, &RegistrationError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamResponseBytes))
	if err != nil {
		return nil, &RegistrationError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.Error("OAuth", nil, "Client registration rejected by upstream with status %d", resp.StatusCode)
		return nil, &RegistrationError{Status: resp.StatusCode}
	}

	var client vault.ClientInformation
	if err := json.Unmarshal(body, &client); err != nil {
		return nil, &RegistrationError{Err: fmt.Errorf("parsing registration response: %w", err)}
	}
	client.Raw = body
	if err := client.Validate(); err != nil {
		return nil, &RegistrationError{Err: err}
	}

	if err := p.vault.SaveClient(ctx, client.ClientID, &client); err != nil {
		return nil, fmt.Errorf("persisting registered client: %w", err)
	}

	logging.Info("OAuth", "Registered client %s", client.ClientID)
	return &client, nil
}

// VerifyAccessToken resolves an opaque token through the vault. An unknown
// or expired token yields an InvalidTokenError; storage failures propagate
// unchanged so callers can answer with a server error instead of a 401.
func (p *Provider) VerifyAccessToken(ctx context.Context, opaqueToken string) (*TokenInfo, error) {
	record, err := p.vault.GetAccessToken(ctx, opaqueToken)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, &InvalidTokenError{}
	}

	return &TokenInfo{
		Token:     opaqueToken,
		ClientID:  record.ClientID,
		Scopes:    record.Scopes(),
		ExpiresIn: int64(record.RemainingTTL() / time.Second),
	}, nil
}

// SupportsRevocation reports whether an upstream revocation endpoint is
// configured.
func (p *Provider) SupportsRevocation() bool {
	return p.endpoints.RevocationURL != ""
}

// RevokeToken forwards an RFC 7009 revocation request upstream. Local token
// mappings are not touched; they lapse through TTL expiry.
func (p *Provider) RevokeToken(ctx context.Context, form url.Values) error {
	if !p.SupportsRevocation() {
		return fmt.Errorf("no revocation endpoint configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoints.RevocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return &UpstreamError{Operation: "token revocation", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &UpstreamError{Operation: "token revocation", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxUpstreamResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{Operation: "token revocation", Status: resp.StatusCode}
	}
	return nil
}
