package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"lsmkv/pkg/clock"
	"lsmkv/pkg/command"
	"lsmkv/pkg/config"
	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/memtable"
	"lsmkv/pkg/metrics"
	"lsmkv/pkg/segment"
	"lsmkv/pkg/wal"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	walName    = "wal"
	walTmpName = "walTmp"
)

type Option func(*options)

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer registers the store metrics on r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// Store is a single-directory LSM key-value store. One RWMutex guards all of
// its state: Get holds the read lock, Set and Rm hold the write lock for the
// whole operation including any flush and compaction they trigger.
type Store struct {
	mu sync.RWMutex

	cfg     config.DB
	dataDir string
	log     *slog.Logger
	metrics *metrics.Store
	clock   *clock.MillisClock
	cache   *segment.BlockCache

	jr  *wal.WAL
	mt  *memtable.Memtable
	imm *memtable.Memtable // non-nil only while a flush is outstanding

	segments    []*segment.Segment // newest first
	immSegments []*segment.Segment // inputs of a running compaction

	// broken is set when the WAL/memtable protocol can no longer be trusted;
	// every later mutation fails with it.
	broken error
	closed bool
}

// Stats is a point-in-time view of the store layout.
type Stats struct {
	MemtableEntries int
	Flushing        bool
	Segments        []string // file paths, newest first
	Broken          error
}

// Open opens (or creates) the store in cfg.Persistence.RootPath and recovers
// its state from the files found there.
func Open(cfg config.DB, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	dataDir := filepath.Clean(cfg.Persistence.RootPath)
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{
		cfg:     cfg,
		dataDir: dataDir,
		log:     o.logger.With("component", "store"),
		metrics: metrics.NewStore(o.registerer),
		clock:   clock.NewMillis(0),
		cache:   segment.NewBlockCache(cfg.Persistence.Cache.Capacity),
		mt:      memtable.New(),
	}

	if err := s.recover(); err != nil {
		s.closeFiles()
		return nil, err
	}

	return s, nil
}

func (s *Store) Set(key, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("%w: value of %q", dberrors.ErrInvalidUTF8, key)
	}
	return s.apply(command.Put(key, value), metrics.OpSet)
}

// Rm deletes key. Removing an absent key is not an error.
func (s *Store) Rm(key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return s.apply(command.Delete(key), metrics.OpRm)
}

func checkKey(key string) error {
	if key == "" {
		return dberrors.ErrEmptyKey
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: key %q", dberrors.ErrInvalidUTF8, key)
	}
	return nil
}

func (s *Store) apply(c command.Command, op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return dberrors.ErrClosed
	}
	if s.broken != nil {
		return fmt.Errorf("store is unusable: %w", s.broken)
	}

	if err := s.jr.Append(c); err != nil {
		s.broken = err
		return fmt.Errorf("failed to append to WAL: %w", err)
	}
	s.mt.Apply(c)
	s.metrics.Writes.WithLabelValues(op).Inc()
	s.metrics.MemtableEntries.Set(float64(s.mt.Len()))

	if s.mt.Len() <= s.cfg.Memtable.StoreThreshold {
		return nil
	}

	if err := s.flush(); err != nil {
		s.broken = err
		return err
	}

	return s.maybeCompact()
}

// Get returns the newest value of key. Sources are consulted in order:
// memtable, immutable memtable, segments newest to oldest.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", false, dberrors.ErrClosed
	}

	c, found, err := s.lookup(key)
	if err != nil {
		return "", false, err
	}

	if found && c.Kind == command.KindPut {
		s.metrics.Reads.WithLabelValues(metrics.ResultHit).Inc()
		return c.Value, true, nil
	}
	s.metrics.Reads.WithLabelValues(metrics.ResultMiss).Inc()
	return "", false, nil
}

func (s *Store) lookup(key string) (command.Command, bool, error) {
	if c, ok := s.mt.Get(key); ok {
		return c, true, nil
	}
	if s.imm != nil {
		if c, ok := s.imm.Get(key); ok {
			return c, true, nil
		}
	}

	for _, list := range [][]*segment.Segment{s.segments, s.immSegments} {
		for _, seg := range list {
			c, ok, err := seg.Query(key)
			if err != nil {
				return command.Command{}, false, fmt.Errorf("failed to query segment: %w", err)
			}
			if ok {
				return c, true, nil
			}
		}
	}

	return command.Command{}, false, nil
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.segments))
	for _, seg := range s.segments {
		paths = append(paths, seg.Path())
	}

	return Stats{
		MemtableEntries: s.mt.Len(),
		Flushing:        s.imm != nil,
		Segments:        paths,
		Broken:          s.broken,
	}
}

// Close closes the WAL and every segment handle. Segments are not rewritten.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.closeFiles()
}

func (s *Store) closeFiles() error {
	var errs []error
	if s.jr != nil {
		if err := s.jr.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, list := range [][]*segment.Segment{s.segments, s.immSegments} {
		for _, seg := range list {
			if err := seg.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Store) walPath() string {
	return filepath.Join(s.dataDir, walName)
}

func (s *Store) walTmpPath() string {
	return filepath.Join(s.dataDir, walTmpName)
}
