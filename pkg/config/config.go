package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Config - корневая структура конфигурации приложения
type Config struct {
	Logger LoggerConfig `yaml:"logger"`
	Server ServerConfig `yaml:"http-server"`
	DB     `yaml:"db"`
}

type ServerConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

type DB struct {
	Memtable    MemtableConfig    `yaml:"memtable"`
	WAL         WALConfig         `yaml:"wal"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

type MemtableConfig struct {
	// flush happens once the memtable holds more than StoreThreshold keys
	StoreThreshold int `yaml:"store_threshold"`
}

type WALConfig struct {
	Sync bool `yaml:"sync"`
}

type PersistenceConfig struct {
	RootPath string        `yaml:"path"`
	Segment  SegmentConfig `yaml:"segment"`
	Cache    CacheConfig   `yaml:"cache"`
}

type SegmentConfig struct {
	BlockSize        int `yaml:"block_size"`
	CompactThreshold int `yaml:"compact_threshold"`
}

type CacheConfig struct {
	// number of decoded blocks; 0 disables the cache
	Capacity int `yaml:"capacity"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: time.Second,
		},
		DB: DB{
			Memtable: MemtableConfig{
				StoreThreshold: 1000,
			},
			WAL: WALConfig{
				Sync: true,
			},
			Persistence: PersistenceConfig{
				RootPath: "./data",
				Segment: SegmentConfig{
					BlockSize:        64,
					CompactThreshold: 4,
				},
				Cache: CacheConfig{
					Capacity: 256,
				},
			},
		},
	}
}

// Load reads a YAML config from path on top of Default. A missing file is
// not an error: the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	var errs []error

	switch strings.ToUpper(c.Logger.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("logger.level: unknown level %q", c.Logger.Level))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("http-server.port: %d out of range", c.Server.Port))
	}
	if c.Server.ReadHeaderTimeout < 0 {
		errs = append(errs, fmt.Errorf("http-server.read_header_timeout: negative"))
	}
	if err := c.DB.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (db *DB) Validate() error {
	var errs []error

	if db.Memtable.StoreThreshold < 1 {
		errs = append(errs, fmt.Errorf("db.memtable.store_threshold: must be >= 1, got %d", db.Memtable.StoreThreshold))
	}
	if db.Persistence.RootPath == "" {
		errs = append(errs, fmt.Errorf("db.persistence.path: required"))
	}
	if db.Persistence.Segment.BlockSize < 1 {
		errs = append(errs, fmt.Errorf("db.persistence.segment.block_size: must be >= 1, got %d", db.Persistence.Segment.BlockSize))
	}
	if db.Persistence.Segment.CompactThreshold < 1 {
		errs = append(errs, fmt.Errorf("db.persistence.segment.compact_threshold: must be >= 1, got %d", db.Persistence.Segment.CompactThreshold))
	}
	if db.Persistence.Cache.Capacity < 0 {
		errs = append(errs, fmt.Errorf("db.persistence.cache.capacity: negative"))
	}

	return errors.Join(errs...)
}
