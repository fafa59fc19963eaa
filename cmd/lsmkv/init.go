package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"lsmkv/pkg/config"
)

// initConfig загружает конфиг из YAML. Если файл не найден, возвращается config.Default().
func initConfig(path string) (config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Info("config file not found, using default config", "path", path)
	}
	return config.Load(path)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// initLogger настраивает глобальный slog.Logger (JSON или текстовый).
func initLogger(cfg config.LoggerConfig, w io.Writer) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{AddSource: true, Level: level}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", "level", level.String(), "json", cfg.JSON)
	return nil
}
