package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mcpgate/internal/app"
	"mcpgate/internal/config"
)

// serveCmd starts the proxy server. Configuration comes from environment
// variables (optionally via a .env file); see the command help for the list.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the OAuth-protected MCP proxy server",
	Long: `Starts the HTTP server exposing the MCP transports and the OAuth proxy
endpoints.

Configuration is read from environment variables (a .env file in the
working directory is loaded if present):

  OAUTH_ISSUER_URL         Upstream issuer URL (required)
  OAUTH_AUTHORIZATION_URL  Upstream authorization endpoint (required)
  OAUTH_TOKEN_URL          Upstream token endpoint (required)
  OAUTH_REGISTRATION_URL   Upstream client registration endpoint (required)
  OAUTH_REVOCATION_URL     Upstream revocation endpoint (optional)
  THIS_HOSTNAME            Externally visible base URL of this server (required)
  STORAGE_BACKEND          Token storage: "memory" (default) or "redis"
  REDIS_ADDR               Redis address (default "localhost:6379")
  REDIS_PASSWORD           Redis password (optional)
  PORT                     Listening port (default 5050)
  LOG_LEVEL                debug, info, warn, or error (default "info")`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg, rootCmd.Version)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
