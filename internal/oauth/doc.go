// Package oauth implements the proxy authorization service: an OAuth 2.0
// authorization-code flow proxied against an upstream identity provider.
//
// The proxy never hands upstream credentials to clients. During code exchange
// the upstream token bundle is persisted in the vault and a locally issued
// opaque token is returned in its place; every later request presents that
// opaque token to the bearer middleware, which resolves it back through the
// vault. Dynamic client registration is forwarded verbatim to the upstream
// registrar, with the returned client record persisted locally so the proxy
// can resolve clients on subsequent authorization and token requests.
package oauth
