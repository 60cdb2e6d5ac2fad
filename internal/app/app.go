// Package app bootstraps and runs the proxy. It wires the token vault, the
// OAuth provider, the transport handler, and the HTTP server together, then
// manages their lifecycle until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"mcpgate/internal/config"
	"mcpgate/internal/mcpserver"
	"mcpgate/internal/oauth"
	"mcpgate/internal/transport"
	"mcpgate/internal/vault"
	"mcpgate/pkg/logging"
)

// shutdownTimeout bounds how long in-flight requests may delay shutdown.
const shutdownTimeout = 10 * time.Second

// Application holds the assembled components of a running proxy instance.
type Application struct {
	cfg       *config.Config
	vault     vault.Vault
	transport *transport.Handler
	server    *http.Server
}

// NewApplication performs the bootstrap sequence: logging, configuration,
// vault backend selection, OAuth wiring, and HTTP route setup. It returns an
// error when any component cannot be constructed, so a misconfigured proxy
// fails at startup rather than on the first request.
func NewApplication(ctx context.Context, cfg *config.Config, version string) (*Application, error) {
	logging.Init(logging.ParseLevel(cfg.LogLevel), os.Stdout)

	v, err := newVault(ctx, cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize token vault")
		return nil, fmt.Errorf("failed to initialize token vault: %w", err)
	}

	provider := oauth.NewProvider(oauth.Endpoints{
		AuthorizationURL: cfg.AuthorizationURL,
		TokenURL:         cfg.TokenURL,
		RegistrationURL:  cfg.RegistrationURL,
		RevocationURL:    cfg.RevocationURL,
	}, v, oauth.ProviderOptions{})

	oauthHandler := oauth.NewHandler(provider, cfg.IssuerURL, cfg.BaseURL)
	transportHandler := transport.NewHandler(mcpserver.New(version))

	mux := http.NewServeMux()
	oauthHandler.RegisterRoutes(mux)
	transportHandler.RegisterRoutes(mux, func(next http.Handler) http.Handler {
		return oauth.RequireBearer(provider, next)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Application{
		cfg:       cfg,
		vault:     v,
		transport: transportHandler,
		server:    server,
	}, nil
}

// newVault constructs the storage backend selected by configuration.
func newVault(ctx context.Context, cfg *config.Config) (vault.Vault, error) {
	switch cfg.Storage {
	case config.StorageRedis:
		return vault.NewRedisVault(ctx, vault.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
	default:
		return vault.NewMemoryVault(), nil
	}
}

// Run starts the HTTP server and blocks until the context is canceled or the
// server fails. Shutdown drains in-flight requests, then tears down live
// sessions and the vault.
func (a *Application) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("Server", "Listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logging.Info("Server", "Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := a.server.Shutdown(shutdownCtx)
		a.transport.Close()
		a.vault.Close()
		return err
	})

	return g.Wait()
}
