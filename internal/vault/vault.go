package vault

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrStorageUnavailable indicates the storage backend could not be reached.
// Callers must surface this as a server error, never treat it as a missing
// record.
var ErrStorageUnavailable = errors.New("storage backend unavailable")

// opaqueTokenBytes is the number of random bytes in a locally issued token.
// 32 bytes gives 256 bits of entropy; uniqueness is guaranteed statistically,
// not by collision checking.
const opaqueTokenBytes = 32

// ClientInformation is a registered OAuth client as returned by the upstream
// registration endpoint. Records are immutable after creation and have no
// expiry.
type ClientInformation struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	RedirectURIs []string `json:"redirect_uris"`

	// Raw is the full registration response body. The upstream response may
	// carry metadata beyond the fields modeled here; keeping the raw document
	// lets us return it to the client verbatim.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Validate checks that the client record satisfies the expected schema.
func (c *ClientInformation) Validate() error {
	if c == nil {
		return fmt.Errorf("client record is nil")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client record has no client_id")
	}
	if len(c.RedirectURIs) == 0 {
		return fmt.Errorf("client %s has no redirect URIs", c.ClientID)
	}
	return nil
}

// TokenBundle is the upstream token material persisted when a local opaque
// token is minted. The upstream access token never crosses the system
// boundary outward; it is only reachable through GetAccessToken.
type TokenBundle struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ClientID     string `json:"client_id"`
	Scope        string `json:"scope,omitempty"`
}

// TokenRecord is a stored access-token mapping.
type TokenRecord struct {
	TokenBundle

	// ExpiresAt is the absolute expiry deadline for the mapping.
	ExpiresAt time.Time `json:"expires_at"`
}

// Scopes returns the granted scope set as a slice.
func (r *TokenRecord) Scopes() []string {
	if r.Scope == "" {
		return nil
	}
	return strings.Fields(r.Scope)
}

// RemainingTTL returns the remaining lifetime of the record, or zero if it
// has already expired.
func (r *TokenRecord) RemainingTTL() time.Duration {
	remaining := time.Until(r.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Expired reports whether the record's TTL has elapsed.
func (r *TokenRecord) Expired() bool {
	return !time.Now().Before(r.ExpiresAt)
}

// Vault persists client registration records and access-token mappings.
//
// Both backends implement the identical contract so the proxy authorization
// service can run against either. Lookups for missing keys return (nil, nil);
// errors are reserved for backend failures.
type Vault interface {
	// SaveClient stores a client registration record. The operation is an
	// idempotent upsert.
	SaveClient(ctx context.Context, clientID string, client *ClientInformation) error

	// GetClient returns the record for clientID, or (nil, nil) when absent.
	GetClient(ctx context.Context, clientID string) (*ClientInformation, error)

	// SaveAccessToken mints a fresh opaque token, stores the mapping to the
	// upstream bundle, and declares expiry after ttl. It returns the opaque
	// token; the caller hands it to the client in place of the upstream one.
	SaveAccessToken(ctx context.Context, bundle TokenBundle, ttl time.Duration) (string, error)

	// GetAccessToken returns the mapping for an opaque token, or (nil, nil)
	// once the TTL has elapsed or the token was never issued.
	GetAccessToken(ctx context.Context, opaqueToken string) (*TokenRecord, error)

	// Close releases backend resources.
	Close() error
}

// NewOpaqueToken generates a high-entropy, URL-safe token string.
func NewOpaqueToken() (string, error) {
	buf := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate opaque token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
