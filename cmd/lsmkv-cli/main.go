package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"lsmkv/pkg/config"
	"lsmkv/pkg/rpc"
	"lsmkv/pkg/store"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	dir := flag.String("dir", "", "open the store in this directory instead of connecting to a server")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addr, *dir); err != nil {
		fmt.Fprintf(os.Stderr, "lsmkv-cli: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr, dir string) error {
	if dir == "" {
		client := rpc.NewHTTPStore(addr)
		if err := client.Health(ctx); err != nil {
			return fmt.Errorf("server %s is not available: %w", addr, err)
		}
		return repl(ctx, os.Stdin, os.Stdout, client)
	}

	// в embedded режиме логи движка только мешают вводу
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	cfg := config.Default()
	cfg.Persistence.RootPath = dir

	db, err := store.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Warn("failed to close store", "error", err)
		}
	}()

	return repl(ctx, os.Stdin, os.Stdout, embedded{db: db})
}
