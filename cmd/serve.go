package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"svchub/internal/aggregator"
	"svchub/internal/auth"
	"svchub/internal/config"
	"svchub/internal/gateway"
	"svchub/internal/provider"
	"svchub/internal/realtime"
	"svchub/internal/router"
	"svchub/internal/services"
	"svchub/pkg/logging"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var configPath string
	var listenHost string
	var listenPort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator",
		Long: `Load configuration, start all auto-start services and serve the
HTTP, realtime and aggregation endpoints until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			if listenHost != "" {
				cfg.Server.Host = listenHost
			}
			if listenPort != 0 {
				cfg.Server.Port = listenPort
			}

			logging.Init(logging.ParseLevel(cfg.Logging.Level), os.Stderr, cfg.Logging.Pretty)
			defer logging.Sync()

			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (overrides discovery)")
	cmd.Flags().StringVar(&listenHost, "host", "", "host to bind the gateway to")
	cmd.Flags().IntVar(&listenPort, "port", 0, "port to bind the gateway to")

	return cmd
}

func runServe(cfg config.Config) error {
	providers := provider.NewRegistry()
	registerBuiltins(providers)

	registry, err := services.NewRegistry(cfg.Services, providers)
	if err != nil {
		return fmt.Errorf("building service registry: %w", err)
	}

	authenticator := auth.NewAuthenticator(cfg.Auth, cfg.Identities)
	if authenticator.Identities() == 0 {
		logging.Warn("Serve", "No identities registered; only public paths will be reachable")
	}

	rt := router.New(registry)
	hub := realtime.NewHub(authenticator, rt, originChecker(cfg.CORS.AllowedOrigins))
	server := gateway.New(&cfg, registry, rt, authenticator, hub)

	// Lifecycle events reach realtime clients too. The subscription lives
	// for the whole process; registry shutdown closes it.
	go hub.ForwardLifecycleEvents(registry.Subscribe())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := registry.Initialize(ctx); err != nil {
		// Individual start failures are already reflected in service
		// status; initialization itself keeps going.
		logging.Warn("Serve", "Some services failed to start: %v", err)
	}

	var agg *aggregator.Server
	if cfg.Aggregator.Enabled {
		agg = aggregator.New(cfg.Aggregator, registry, rt)
		if err := agg.Start(ctx); err != nil {
			return fmt.Errorf("starting aggregator: %w", err)
		}
		logging.Info("Serve", "Aggregation endpoint at %s", agg.Endpoint())
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("Serve", "Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			logging.Error("Serve", err, "HTTP server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logging.Warn("Serve", "Gateway shutdown: %v", err)
	}
	if agg != nil {
		if err := agg.Stop(shutdownCtx); err != nil {
			logging.Warn("Serve", "Aggregator shutdown: %v", err)
		}
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Serve", "Service shutdown: %v", err)
	}

	logging.Info("Serve", "Shutdown complete")
	return nil
}

// registerBuiltins registers the in-process provider modules available to
// service definitions.
func registerBuiltins(providers *provider.Registry) {
	_ = providers.Register("echo", func(cfg map[string]interface{}) (provider.Provider, error) {
		return provider.NewEchoProvider(), nil
	})
}

// originChecker builds the realtime origin policy from the CORS allow-list.
// Requests without an Origin header (non-browser clients) always pass.
func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(allowedOrigins))
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll || allowed[origin] {
			return true
		}
		if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
			return true
		}
		return false
	}
}
