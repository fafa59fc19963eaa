package store

import (
	"os"
	"path/filepath"
	"testing"

	"lsmkv/pkg/config"
)

func testConfig(tb testing.TB, mutate func(*config.DB)) config.DB {
	tb.Helper()

	cfg := config.Default().DB
	cfg.Persistence.RootPath = tb.TempDir()
	cfg.WAL.Sync = false
	if mutate != nil {
		mutate(&cfg)
	}
	return cfg
}

func openStore(tb testing.TB, cfg config.DB) *Store {
	tb.Helper()

	s, err := Open(cfg)
	if err != nil {
		tb.Fatalf("Open failed: %v", err)
	}
	tb.Cleanup(func() {
		if err := s.Close(); err != nil {
			tb.Errorf("Close failed: %v", err)
		}
	})
	return s
}

func newTestStore(tb testing.TB, mutate func(*config.DB)) *Store {
	tb.Helper()
	return openStore(tb, testConfig(tb, mutate))
}

func mustSet(tb testing.TB, s *Store, key, value string) {
	tb.Helper()
	if err := s.Set(key, value); err != nil {
		tb.Fatalf("Set(%q) failed: %v", key, err)
	}
}

func mustGet(tb testing.TB, s *Store, key string) (string, bool) {
	tb.Helper()
	value, found, err := s.Get(key)
	if err != nil {
		tb.Fatalf("Get(%q) failed: %v", key, err)
	}
	return value, found
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func fileSize(tb testing.TB, path string) int64 {
	tb.Helper()
	info, err := os.Stat(path)
	if err != nil {
		tb.Fatalf("stat %s: %v", path, err)
	}
	return info.Size()
}

func segmentFiles(tb testing.TB, dir string) []string {
	tb.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.table"))
	if err != nil {
		tb.Fatalf("glob: %v", err)
	}
	return files
}
