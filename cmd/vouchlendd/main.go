package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"vouchlend/config"
	"vouchlend/native/collateral"
	"vouchlend/native/lending"
	"vouchlend/observability"
	"vouchlend/observability/logging"
	"vouchlend/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "Path to the TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "vouchlendd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.Setup("vouchlendd", cfg.Environment)

	authority, err := cfg.Authority()
	if err != nil {
		return err
	}
	lendingVault, err := cfg.LendingVault()
	if err != nil {
		return err
	}
	collateralVault, err := cfg.CollateralVault()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := storage.Open(filepath.Join(cfg.DataDir, "vouchlend.db"), nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("close store", "error", err)
		}
	}()

	emitter := observability.NewMetricsEmitter()

	registry := collateral.NewRegistry(authority)
	registry.SetState(store)
	registry.SetEmitter(emitter)

	engine := lending.NewEngine(authority, lendingVault, collateralVault, cfg.Lending.Params())
	engine.SetState(store)
	engine.SetEmitter(emitter)

	server := NewServer(log, registry, engine)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("vouchlendd listening", "addr", cfg.ListenAddress, "dataDir", cfg.DataDir)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
