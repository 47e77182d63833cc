// Package app provides the main application struct for centralized dependency
// management and lifecycle control of the relay server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"formpost/config"
	"formpost/internal/cache"
	"formpost/internal/history"
	"formpost/internal/httpclient"
	"formpost/internal/observability"
	"formpost/internal/server"
	"formpost/internal/submit"
)

// App represents the relay application with all its dependencies.
type App struct {
	config  *config.Config
	client  *submit.Client
	history *history.Result
	cache   cache.Cache
	server  *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the options for creating an App.
type Config struct {
	// AppConfig is the loaded application configuration.
	AppConfig *config.Config

	// Registerer receives the submission metrics. Nil uses the Prometheus
	// default registerer.
	Registerer prometheus.Registerer

	// Gatherer backs the metrics endpoint. Nil uses Registerer when it is
	// also a Gatherer (a *prometheus.Registry is both), otherwise the
	// Prometheus default gatherer.
	Gatherer prometheus.Gatherer

	// HTTPClient replaces the upstream client built from AppConfig.HTTP.
	HTTPClient *http.Client
}

// NewSubmitClient builds the upstream client from the http section of cfg.
func NewSubmitClient(cfg *config.Config, opts ...submit.Option) *submit.Client {
	clientCfg := httpclient.DefaultConfig()
	if cfg.HTTP.Timeout > 0 {
		clientCfg.Timeout = cfg.HTTP.Timeout
	}
	if cfg.HTTP.ResponseHeaderTimeout > 0 {
		clientCfg.ResponseHeaderTimeout = cfg.HTTP.ResponseHeaderTimeout
	}
	opts = append([]submit.Option{submit.WithHTTPClient(httpclient.NewHTTPClient(&clientCfg))}, opts...)
	return submit.New(opts...)
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	appCfg := cfg.AppConfig

	app := &App{config: appCfg}

	var opts []submit.Option
	if cfg.HTTPClient != nil {
		opts = append(opts, submit.WithHTTPClient(cfg.HTTPClient))
	}
	if appCfg.Metrics.Enabled {
		opts = append(opts, submit.WithObserver(observability.NewPrometheusObserver(cfg.Registerer)))
	}
	app.client = NewSubmitClient(appCfg, opts...)

	historyResult, err := history.New(ctx, appCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history: %w", err)
	}
	app.history = historyResult

	replay, err := cache.New(appCfg.Cache)
	if err != nil {
		closeErr := app.history.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize cache: %w (also failed to close history: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	app.cache = replay

	app.server = server.New(app.client, &server.Config{
		MasterKey:       appCfg.Server.MasterKey,
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		BodySizeLimit:   appCfg.Server.BodySizeLimit,
		Gatherer:        metricsGatherer(cfg),
		Target:          appCfg.Target,
		Timeout:         appCfg.HTTP.Timeout,
		Cache:           app.cache,
		History:         app.history.Writer,
		Records:         app.history.Store,
	})

	app.logStartupInfo()
	return app, nil
}

func metricsGatherer(cfg Config) prometheus.Gatherer {
	if cfg.Gatherer != nil {
		return cfg.Gatherer
	}
	if g, ok := cfg.Registerer.(prometheus.Gatherer); ok {
		return g
	}
	return prometheus.DefaultGatherer
}

// Handler returns the HTTP handler, for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown tears down components in dependency order: the HTTP server stops
// accepting requests, then the history writer drains, then the cache closes.
// It is idempotent, attempts every step and joins the failures.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.history != nil {
		if err := a.history.Close(); err != nil {
			slog.Error("history close error", "error", err)
			errs = append(errs, fmt.Errorf("history close: %w", err))
		}
	}

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Error("cache close error", "error", err)
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

func (a *App) logStartupInfo() {
	cfg := a.config

	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: FORMPOST_MASTER_KEY not set - relay running in UNSAFE MODE",
			"security_risk", "anyone can submit with the upstream credential",
			"recommendation", "set FORMPOST_MASTER_KEY environment variable to secure this relay")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	if cfg.Target.APIKey == "" {
		slog.Warn("no upstream API key configured", "env", "FORMPOST_API_KEY")
	}
	slog.Info("upstream target", "host", cfg.Target.Host, "path", cfg.Target.Path)

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	if cfg.History.Enabled {
		slog.Info("submission history enabled",
			"storage_type", cfg.Storage.Type,
			"buffer_size", cfg.History.BufferSize,
			"flush_interval", cfg.History.FlushInterval,
		)
	} else {
		slog.Info("submission history disabled")
	}

	slog.Info("idempotency cache configured", "type", cfg.Cache.Type, "ttl", cfg.Cache.TTL)
}
