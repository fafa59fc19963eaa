package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	lsmhttp "lsmkv/internal/http"
	"lsmkv/pkg/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	dataDir := flag.String("dir", "", "data directory (overrides db.persistence.path)")
	flag.Parse()

	if err := run(*configPath, *dataDir); err != nil {
		fmt.Fprintf(os.Stderr, "lsmkv: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, dataDir string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := initConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dataDir != "" {
		cfg.Persistence.RootPath = dataDir
	}

	if err := initLogger(cfg.Logger, os.Stdout); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	db, err := store.Open(cfg.DB, store.WithRegisterer(reg))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Warn("failed to close store", "error", err)
		}
	}()

	server := lsmhttp.NewServer(db, cfg.Server, reg)
	if err := server.Start(); err != nil {
		return err
	}

	slog.Info("LSMKV running", "dir", cfg.Persistence.RootPath, "addr", server.URL)

	<-ctx.Done()

	if err := server.Stop(); err != nil {
		slog.Error("error stopping server", "error", err)
	}

	slog.Info("LSMKV stopped")
	return nil
}
