package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mcpgate/pkg/logging"
)

// Key prefixes keep client and token records in separate namespaces within
// one Redis database.
const (
	redisClientPrefix = "mcpgate:client:"
	redisTokenPrefix  = "mcpgate:token:"
)

// RedisVault is a Vault backed by a shared Redis instance. Token expiry is
// enforced server-side via key TTLs, so multiple replicas observe the same
// records and the same expiry behavior.
type RedisVault struct {
	client *redis.Client
}

// RedisOptions configures the Redis vault backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisVault creates a Redis-backed vault. The connection is verified with
// a ping so a misconfigured backend fails at startup rather than on the first
// request.
func NewRedisVault(ctx context.Context, opts RedisOptions) (*RedisVault, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrStorageUnavailable, opts.Addr, err)
	}

	logging.Info("Vault", "Connected to Redis at %s", opts.Addr)
	return &RedisVault{client: client}, nil
}

// SaveClient stores a client registration record with no expiry.
func (v *RedisVault) SaveClient(ctx context.Context, clientID string, client *ClientInformation) error {
	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("marshaling client %s: %w", clientID, err)
	}

	if err := v.client.Set(ctx, redisClientPrefix+clientID, data, 0).Err(); err != nil {
		return fmt.Errorf("%w: saving client %s: %v", ErrStorageUnavailable, clientID, err)
	}
	return nil
}

// GetClient returns the stored record for clientID, or (nil, nil) when absent.
func (v *RedisVault) GetClient(ctx context.Context, clientID string) (*ClientInformation, error) {
	data, err := v.client.Get(ctx, redisClientPrefix+clientID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading client %s: %v", ErrStorageUnavailable, clientID, err)
	}

	var client ClientInformation
	if err := json.Unmarshal(data, &client); err != nil {
		return nil, fmt.Errorf("unmarshaling client %s: %w", clientID, err)
	}
	return &client, nil
}

// SaveAccessToken mints an opaque token and stores the mapping record with a
// server-side TTL equal to the granted token lifetime.
func (v *RedisVault) SaveAccessToken(ctx context.Context, bundle TokenBundle, ttl time.Duration) (string, error) {
	opaque, err := NewOpaqueToken()
	if err != nil {
		return "", err
	}

	record := &TokenRecord{
		TokenBundle: bundle,
		ExpiresAt:   time.Now().Add(ttl),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshaling token record: %w", err)
	}

	if err := v.client.Set(ctx, redisTokenPrefix+opaque, data, ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: saving access token: %v", ErrStorageUnavailable, err)
	}

	logging.Debug("Vault", "Stored access token for client %s (expires in %s)", bundle.ClientID, ttl)
	return opaque, nil
}

// GetAccessToken returns the mapping for an opaque token. Redis removes the
// key once the TTL elapses, so expired tokens read as absent. ExpiresAt in
// the record is re-checked locally in case of minor clock drift between this
// process and the backend.
func (v *RedisVault) GetAccessToken(ctx context.Context, opaqueToken string) (*TokenRecord, error) {
	data, err := v.client.Get(ctx, redisTokenPrefix+opaqueToken).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading access token: %v", ErrStorageUnavailable, err)
	}

	var record TokenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshaling token record: %w", err)
	}
	if record.Expired() {
		return nil, nil
	}
	return &record, nil
}

// Close closes the Redis connection.
func (v *RedisVault) Close() error {
	return v.client.Close()
}
