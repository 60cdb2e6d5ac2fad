package vault

import (
	"context"
	"sync"
	"time"

	"mcpgate/pkg/logging"
)

// defaultSweepInterval is how often the background sweep removes expired
// token records. Expiry is also checked lazily on every read, so the sweep
// only bounds memory growth; it does not define expiry granularity.
const defaultSweepInterval = time.Minute

// MemoryVault is a single-process, in-memory Vault. Suitable for development
// and single-instance deployments; use the Redis backend when running more
// than one replica.
type MemoryVault struct {
	mu      sync.RWMutex
	clients map[string]*ClientInformation
	tokens  map[string]*TokenRecord

	sweepInterval time.Duration
	stopSweep     chan struct{}
	stopOnce      sync.Once
}

// NewMemoryVault creates an in-memory vault and starts its expiry sweeper.
// Callers must Close it to stop the background goroutine.
func NewMemoryVault() *MemoryVault {
	v := &MemoryVault{
		clients:       make(map[string]*ClientInformation),
		tokens:        make(map[string]*TokenRecord),
		sweepInterval: defaultSweepInterval,
		stopSweep:     make(chan struct{}),
	}

	go v.sweepLoop()

	return v
}

// SaveClient stores a client registration record.
func (v *MemoryVault) SaveClient(_ context.Context, clientID string, client *ClientInformation) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.clients[clientID] = client
	logging.Debug("Vault", "Stored client %s", clientID)
	return nil
}

// GetClient returns the stored record for clientID, or (nil, nil) when absent.
func (v *MemoryVault) GetClient(_ context.Context, clientID string) (*ClientInformation, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return v.clients[clientID], nil
}

// SaveAccessToken mints an opaque token and stores the mapping record.
func (v *MemoryVault) SaveAccessToken(_ context.Context, bundle TokenBundle, ttl time.Duration) (string, error) {
	opaque, err := NewOpaqueToken()
	if err != nil {
		return "", err
	}

	record := &TokenRecord{
		TokenBundle: bundle,
		ExpiresAt:   time.Now().Add(ttl),
	}

	v.mu.Lock()
	v.tokens[opaque] = record
	v.mu.Unlock()

	logging.Debug("Vault", "Stored access token for client %s (expires in %s)", bundle.ClientID, ttl)
	return opaque, nil
}

// GetAccessToken returns the mapping for an opaque token. Expired records are
// reported as absent even before the sweeper has removed them.
func (v *MemoryVault) GetAccessToken(_ context.Context, opaqueToken string) (*TokenRecord, error) {
	v.mu.RLock()
	record, ok := v.tokens[opaqueToken]
	v.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if record.Expired() {
		// Lazy eviction. A concurrent sweep removing the same entry is fine;
		// both observers agree the token is gone.
		v.mu.Lock()
		delete(v.tokens, opaqueToken)
		v.mu.Unlock()
		return nil, nil
	}

	return record, nil
}

// Close stops the background sweeper. Safe to call more than once.
func (v *MemoryVault) Close() error {
	v.stopOnce.Do(func() {
		close(v.stopSweep)
	})
	return nil
}

// TokenCount returns the number of token records currently held, including
// expired records the sweeper has not visited yet.
func (v *MemoryVault) TokenCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.tokens)
}

func (v *MemoryVault) sweepLoop() {
	ticker := time.NewTicker(v.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			v.sweep()
		case <-v.stopSweep:
			return
		}
	}
}

func (v *MemoryVault) sweep() {
	v.mu.Lock()
	defer v.mu.Unlock()

	count := 0
	for opaque, record := range v.tokens {
		if record.Expired() {
			delete(v.tokens, opaque)
			count++
		}
	}

	if count > 0 {
		logging.Debug("Vault", "Swept %d expired token records", count)
	}
}
