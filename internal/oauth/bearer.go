package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"mcpgate/pkg/logging"
)

type tokenInfoKey struct{}

// TokenInfoFromContext returns the verified token info attached by the
// bearer middleware, if any.
func TokenInfoFromContext(ctx context.Context) (*TokenInfo, bool) {
	info, ok := ctx.Value(tokenInfoKey{}).(*TokenInfo)
	return info, ok
}

// RequireBearer wraps next with bearer-token authentication: the opaque
// token from the Authorization header is verified through the provider and
// the resulting token info is attached to the request context. Requests
// without a valid, unexpired token are rejected.
//
// No scopes are required by default; scope enforcement is the downstream
// handler's responsibility via RequireBearerWithScopes.
func RequireBearer(provider *Provider, next http.Handler) http.Handler {
	return RequireBearerWithScopes(provider, nil, next)
}

// RequireBearerWithScopes is RequireBearer with a required-scope set; a
// verified token missing any required scope is rejected with 403.
func RequireBearerWithScopes(provider *Provider, requiredScopes []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractBearerToken(r)
		if !ok {
			writeUnauthorized(w)
			return
		}

		info, err := provider.VerifyAccessToken(r.Context(), token)
		if err != nil {
			var invalidErr *InvalidTokenError
			if errors.As(err, &invalidErr) {
				writeUnauthorized(w)
				return
			}
			// Storage failures must not masquerade as bad credentials.
			logging.Error("OAuth", err, "Token verification failed")
			writeProtocolError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		for _, required := range requiredScopes {
			if !hasScope(info.Scopes, required) {
				logging.Warn("OAuth", "Client %s lacks required scope %s", info.ClientID, required)
				writeProtocolError(w, http.StatusForbidden, "Insufficient scope")
				return
			}
		}

		ctx := context.WithValue(r.Context(), tokenInfoKey{}, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func hasScope(scopes []string, required string) bool {
	for _, s := range scopes {
		if s == required {
			return true
		}
	}
	return false
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	writeProtocolError(w, http.StatusUnauthorized, "Invalid access token")
}

// writeProtocolError writes a JSON-RPC error envelope. The bearer gate
// guards protocol endpoints, so its rejections speak the protocol's error
// format rather than the OAuth one.
func writeProtocolError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"jsonrpc":"2.0","error":{"code":-32000,"message":%q},"id":null}`, message)
}
