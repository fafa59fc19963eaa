package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lsmkv/pkg/command"
	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/memtable"
	"lsmkv/pkg/segment"
)

// flush runs SWITCHING then FLUSHING. The caller holds the write lock.
func (s *Store) flush() error {
	if s.imm != nil {
		return fmt.Errorf("%w: flush already outstanding", dberrors.ErrWALRotation)
	}
	if err := s.switchMemtable(); err != nil {
		return err
	}
	return s.flushImmutable()
}

// switchMemtable freezes the active memtable and moves its WAL to walTmp.
// The WAL is rotated first so that a failure leaves the memtable untouched
// and its records on disk under one of the two names.
func (s *Store) switchMemtable() error {
	next, err := s.jr.Rotate(s.walTmpPath())
	if err != nil {
		return fmt.Errorf("failed to switch memtable: %w", err)
	}

	s.jr = next
	s.imm = s.mt
	s.mt = memtable.New()
	s.metrics.MemtableEntries.Set(0)

	s.log.Debug("memtable switched", "entries", s.imm.Len())
	return nil
}

// flushImmutable persists the immutable memtable as the newest segment and
// drops walTmp.
func (s *Store) flushImmutable() error {
	start := time.Now()

	entries := s.imm.Len()
	seg, err := s.writeSegment(s.imm.Sorted())
	if err != nil {
		return fmt.Errorf("failed to flush memtable: %w", err)
	}

	s.segments = append([]*segment.Segment{seg}, s.segments...)
	s.imm = nil

	if err := os.Remove(s.walTmpPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %w", dberrors.ErrWALRotation, s.walTmpPath(), err)
	}

	s.metrics.Flushes.Inc()
	s.metrics.FlushDuration.Observe(time.Since(start).Seconds())
	s.metrics.Segments.Set(float64(len(s.segments)))

	s.log.Info("memtable flushed",
		"segment", seg.Path(),
		"entries", entries,
		"blocks", seg.Blocks(),
		"duration", time.Since(start),
	)
	return nil
}

func (s *Store) writeSegment(cmds []command.Command) (*segment.Segment, error) {
	path := filepath.Join(s.dataDir, segment.FileName(s.clock.Next()))
	return segment.Write(path, s.cfg.Persistence.Segment.BlockSize, cmds, s.cache, segment.WithLogger(s.log))
}
