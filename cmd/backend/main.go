package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	announceimpl "github.com/foxseedlab/circles/external/announce"
	configloader "github.com/foxseedlab/circles/external/config"
	"github.com/foxseedlab/circles/external/dedup"
	"github.com/foxseedlab/circles/external/httpapi"
	identityimpl "github.com/foxseedlab/circles/external/identity"
	"github.com/foxseedlab/circles/external/livekit"
	storeimpl "github.com/foxseedlab/circles/external/store"
	userdirimpl "github.com/foxseedlab/circles/external/userdir"
	"github.com/foxseedlab/circles/internal/circle"
	"github.com/foxseedlab/circles/internal/config"
	"github.com/foxseedlab/circles/internal/schedule"
	"github.com/foxseedlab/circles/internal/store"
	"github.com/foxseedlab/circles/internal/userdir"
	"github.com/samber/do/v2"
)

const (
	recoverTimeout  = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "store_driver", cfg.StoreDriver)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: recovering pending circle checks")
	recoverPending(injector)

	serve(injector)
	closeResources(injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	storeimpl.RegisterDI(injector)
	dedup.RegisterDI(injector)
	livekit.RegisterDI(injector)
	userdirimpl.RegisterDI(injector)
	identityimpl.RegisterDI(injector)
	announceimpl.RegisterDI(injector)
	circle.RegisterDI(injector)
	httpapi.RegisterDI(injector)

	return injector
}

func recoverPending(injector do.Injector) {
	detector, err := do.Invoke[*circle.FailureDetector](injector)
	if err != nil {
		slog.Error("failed to resolve failure detector", "error", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), recoverTimeout)
	defer cancel()
	if err := detector.Recover(ctx); err != nil {
		slog.Error("failed to recover pending checks", "error", err)
		os.Exit(1)
	}
}

func serve(injector do.Injector) {
	srv, err := do.Invoke[*http.Server](injector)
	if err != nil {
		slog.Error("failed to resolve http server", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	go func() {
		slog.Info("startup: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
		}
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		slog.Info("shutting down")
	case <-done:
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
}

// closeResources releases resources in reverse dependency order; the
// document store goes last.
func closeResources(injector do.Injector) {
	if sched, err := do.Invoke[*schedule.Scheduler](injector); err == nil {
		sched.Shutdown()
	}
	type closable struct {
		name  string
		value any
	}
	var closers []closable
	if ledger, err := do.Invoke[*dedup.BadgerLedger](injector); err == nil {
		closers = append(closers, closable{"dedup ledger", ledger})
	}
	if users, err := do.Invoke[userdir.Directory](injector); err == nil {
		closers = append(closers, closable{"user directory", users})
	}
	if s, err := do.Invoke[store.Store](injector); err == nil {
		closers = append(closers, closable{"document store", s})
	}
	for _, c := range closers {
		closer, ok := c.value.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			slog.Error("close failed", "resource", c.name, "error", err)
		}
	}
}
