package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	identity "github.com/giantswarm/identity-adapter"
	"github.com/giantswarm/identity-adapter/instrumentation"
	"github.com/giantswarm/identity-adapter/security"
	"github.com/giantswarm/identity-adapter/storage/sqlite"
	"github.com/giantswarm/identity-adapter/storage/valkey"
)

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	writeTimeout      = 15 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 10 * time.Second

	// purgeInterval is how often lapsed revocations and refresh tokens are
	// deleted from sqlite.
	purgeInterval = 10 * time.Minute

	// sessionKeyPurpose separates the valkey session key from other uses
	// of SESSION_SECRET.
	sessionKeyPurpose = "valkey-session"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Starts the identity API. Pending migrations are applied to the sqlite
database before the listener opens. When VALKEY_ADDR is set, revoked
access tokens, redeemed OAuth states (and sessions with SESSION_STORE=valkey)
are kept in Valkey; otherwise they are kept in the sqlite database.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Observability)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "identity-adapter",
		ServiceVersion: GetVersion(),
		Enabled:        cfg.Observability.MetricsEnabled,
		LogClientIPs:   cfg.Observability.TraceClientIPs,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shut down instrumentation", "error", err)
		}
	}()

	store, err := sqlite.Open(sqlite.Config{
		Path:            cfg.DatabasePath,
		Migrate:         true,
		RefreshTokenTTL: cfg.Refresh.TTL,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close database", "error", err)
		}
	}()
	store.SetInstrumentation(inst)

	deps := identity.Dependencies{
		Store:           store,
		Instrumentation: inst,
		Logger:          logger,
	}

	if cfg.Valkey.Addr != "" {
		vs, err := openValkey(cfg, logger)
		if err != nil {
			return err
		}
		defer vs.Close()
		deps.Revocations = vs
		if cfg.Session.Store == identity.SessionStoreValkey {
			deps.SessionBackend = vs
		}
	} else {
		deps.Revocations = store
	}

	purgeCtx, cancelPurge := context.WithCancel(ctx)
	purgeDone := make(chan struct{})
	go func() {
		defer close(purgeDone)
		purgeLoop(purgeCtx, store, purgeInterval, logger)
	}()
	defer func() {
		cancelPurge()
		<-purgeDone
	}()

	svc, err := identity.NewService(cfg, deps)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           svc.Handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting identity API",
			"addr", server.Addr,
			"env", cfg.Env,
			"api_prefix", cfg.APIPrefix,
			"session_store", cfg.Session.Store,
			"providers", svc.Server.Registry().EnabledKeys(),
			"metrics_enabled", cfg.Observability.MetricsEnabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down identity API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// expiredPurger deletes expired rows.
type expiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// purgeLoop runs PurgeExpired every interval until ctx is done.
func purgeLoop(ctx context.Context, store expiredPurger, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("Failed to purge expired rows", "error", err)
				}
				continue
			}
			if n > 0 {
				logger.Debug("Purged expired rows", "count", n)
			}
		}
	}
}

func openValkey(cfg *identity.Config, logger *slog.Logger) (*valkey.Store, error) {
	vs, err := valkey.New(valkey.Config{
		Address:  cfg.Valkey.Addr,
		Password: cfg.Valkey.Password,
		DB:       cfg.Valkey.DB,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	if cfg.Session.Secret != "" {
		enc, err := security.NewEncryptorFromSecret(cfg.Session.Secret, sessionKeyPurpose)
		if err != nil {
			vs.Close()
			return nil, fmt.Errorf("failed to derive session key: %w", err)
		}
		vs.SetEncryptor(enc)
	}
	return vs, nil
}
