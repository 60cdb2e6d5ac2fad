// Package vault stores OAuth client registrations and access-token mapping
// records for the token-indirection proxy.
//
// Clients never see the upstream identity provider's access tokens. On code
// exchange the proxy saves the upstream token bundle here and receives a
// freshly minted, high-entropy opaque token in return; that opaque token is
// the only credential ever handed to a client, and expires with a TTL equal
// to the upstream-granted lifetime.
//
// Two interchangeable backends implement the Vault contract: MemoryVault for
// single-process deployments (lazy expiry on read plus a periodic sweep) and
// RedisVault for horizontal scaling (server-side key TTLs). The backend is
// chosen once at startup via configuration.
package vault
