package oauth

// defaultScope is requested upstream when the client asks for no scopes of
// its own. Identity scopes only; anything beyond that must be requested
// explicitly.
const defaultScope = "email profile openid"

// codeChallengeMethod is the only PKCE challenge method the proxy accepts.
const codeChallengeMethod = "S256"

// Endpoints are the upstream identity provider URLs the proxy talks to.
type Endpoints struct {
	AuthorizationURL string
	TokenURL         string
	RegistrationURL  string

	// RevocationURL is optional. When empty, revocation requests are
	// reported as unsupported; token mappings still lapse via TTL expiry.
	RevocationURL string
}

// AuthorizationParams carries the client-supplied parameters of an
// authorization request through to the upstream redirect.
type AuthorizationParams struct {
	RedirectURI   string
	CodeChallenge string
	State         string
	Scopes        []string
}

// TokenResponse is the token bundle returned to the client after a code
// exchange. It mirrors the upstream response except that AccessToken holds
// the locally issued opaque token and the upstream refresh and ID tokens are
// withheld (they stay server-side in the vault record).
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// TokenInfo is the result of verifying an opaque token. The upstream access
// token is deliberately not part of this type.
type TokenInfo struct {
	// Token is the opaque token that was verified.
	Token string

	// ClientID is the client the token was granted to.
	ClientID string

	// Scopes is the granted scope set.
	Scopes []string

	// ExpiresIn is the remaining lifetime in seconds.
	ExpiresIn int64
}

// ServerMetadata is the RFC 8414 authorization server metadata document
// advertised by the proxy. The issuer is the upstream provider; the
// endpoints are the proxy's own, so clients route their flow through us.
type ServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
}

// ResourceMetadata is the RFC 9728 protected resource metadata document.
// MCP clients fetch it to discover which authorization server guards the
// resource.
type ResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
}
