package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/veridian-id/veridian/internal/auth/cache"
	"github.com/veridian-id/veridian/internal/auth/dpop"
	httpapi "github.com/veridian-id/veridian/internal/auth/http"
	"github.com/veridian-id/veridian/internal/auth/service"
	"github.com/veridian-id/veridian/internal/auth/store"
	"github.com/veridian-id/veridian/internal/auth/store/drivers/sqlite"
	"github.com/veridian-id/veridian/pkg/cryptox"
	"github.com/veridian-id/veridian/pkg/jwtx"
	"github.com/veridian-id/veridian/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the authorization server with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db         store.Store
	cache      *cache.RedisCache
	keyManager *jwtx.KeyManager

	// Protocol services
	issuers             *service.IssuerResolver
	clientAuthenticator *service.ClientAuthenticator
	scopeValidator      *service.ScopeValidator
	tokenValidator      *service.TokenRequestValidator
	tokenIssuer         *service.TokenIssuer
	introspection       *service.IntrospectionAuthorizer
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "veridian",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initCache(); err != nil {
		return nil, err
	}

	// Signing keys are ephemeral: generated at startup, gone on restart.
	keyManager, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: cfg.Algorithm,
		Issuer:    cfg.Issuer,
		RSABits:   cfg.RSABits,
		NumKeys:   cfg.NumKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT keys: %w", err)
	}
	app.keyManager = keyManager

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("veridian starting", "port", app.cfg.Port, "version", BuildVersion)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		// Perform graceful shutdown
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down veridian...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Shutdown the HTTP server
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.cache.Close(); err != nil {
		app.logger.Error("error closing cache", "error", err)
	}

	// Close database connection
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("veridian stopped")
	return nil
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initCache connects the redis-backed replay cache used for assertion and
// DPoP proof jti tracking.
func (app *Application) initCache() error {
	c, err := cache.NewRedisCache(app.cfg.RedisAddr, app.cfg.RedisPassword, app.cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("failed to connect replay cache: %w", err)
	}
	app.cache = c
	return nil
}

// initServices initializes the protocol services
func (app *Application) initServices() {
	app.issuers = &service.IssuerResolver{BaseURL: app.cfg.Issuer}

	app.clientAuthenticator = &service.ClientAuthenticator{
		Store:   app.db,
		Cache:   app.cache,
		Issuers: app.issuers,
	}

	app.scopeValidator = &service.ScopeValidator{Resources: app.db.Resources()}

	nonceSecret := app.cfg.DPoPNonceSecret
	if nonceSecret == "" {
		// A per-process secret is enough: nonces only need to outlive a
		// single challenge round trip.
		nonceSecret = cryptox.MustGenerateToken(cryptox.TokenSize256)
	}

	app.tokenValidator = &service.TokenRequestValidator{
		Clients: app.clientAuthenticator,
		Scopes:  app.scopeValidator,
		Store:   app.db,
		DPoP: &dpop.Validator{
			Cache:        app.cache,
			NonceSecret:  []byte(nonceSecret),
			RequireNonce: app.cfg.DPoPRequireNonce,
		},
	}

	app.tokenIssuer = &service.TokenIssuer{
		KeyManager: app.keyManager,
		Store:      app.db,
		Issuers:    app.issuers,
		AccessTTL:  app.cfg.AccessTokenTTL,
		RefreshTTL: app.cfg.RefreshTokenTTL,
	}

	app.introspection = &service.IntrospectionAuthorizer{
		Store:    app.db,
		Verifier: app.keyManager.Verifier,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keyManager.KeySet,
		BuildVersion,
		app.db,
		app.cache,
		app.logger,
	)

	// Wire services to router
	router.TokenValidator = app.tokenValidator
	router.TokenIssuer = app.tokenIssuer
	router.Introspection = app.introspection

	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.cfg.Port),
		Handler: router,
	}
}
