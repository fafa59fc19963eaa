package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"lsmkv/pkg/command"
	"lsmkv/pkg/memtable"
	"lsmkv/pkg/segment"
	"lsmkv/pkg/wal"
)

type segmentFile struct {
	ts   int64
	path string
}

// recover rebuilds the in-memory state from the data directory: walTmp (left
// by an interrupted flush) is replayed first, then segments are loaded newest
// first, then the live WAL is replayed on top. If walTmp was present the
// recovered memtable is flushed right away so that walTmp only ever exists
// while a flush is in progress.
func (s *Store) recover() error {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	var (
		hasTmp bool
		files  []segmentFile
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case name == walTmpName:
			hasTmp = true
		case strings.HasSuffix(name, segment.Ext+segment.TmpSuffix):
			path := filepath.Join(s.dataDir, name)
			s.log.Warn("removing incomplete segment", "path", path)
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove incomplete segment: %w", err)
			}
		case strings.HasSuffix(name, segment.Ext):
			ts, ok := segment.ParseFileName(name)
			if !ok {
				s.log.Warn("ignoring segment with unexpected name", "name", name)
				continue
			}
			files = append(files, segmentFile{ts: ts, path: filepath.Join(s.dataDir, name)})
		}
	}

	if hasTmp {
		if _, err := s.replay(s.walTmpPath(), s.mt); err != nil {
			return err
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ts > files[j].ts
	})
	for _, f := range files {
		seg, err := segment.Open(f.path, s.cache, segment.WithLogger(s.log))
		if err != nil {
			return err
		}
		s.segments = append(s.segments, seg)
		s.clock.Set(f.ts)
	}

	stats, err := s.replay(s.walPath(), s.mt)
	if err != nil {
		return err
	}
	if err := wal.TruncateTail(s.walPath(), stats); err != nil {
		return err
	}

	s.jr, err = wal.Open(s.walPath(), s.cfg.WAL.Sync, wal.WithLogger(s.log))
	if err != nil {
		return err
	}

	if hasTmp {
		if err := s.recoverFlush(); err != nil {
			return err
		}
	}

	s.metrics.Segments.Set(float64(len(s.segments)))
	s.metrics.MemtableEntries.Set(float64(s.mt.Len()))
	s.log.Info("store opened",
		"dir", s.dataDir,
		"segments", len(s.segments),
		"memtable_entries", s.mt.Len(),
		"recovered_tmp_wal", hasTmp,
	)
	return nil
}

// recoverFlush persists what walTmp and the live WAL recovered, then removes
// walTmp and empties the live WAL, in that order.
func (s *Store) recoverFlush() error {
	if s.mt.Len() > 0 {
		s.imm = s.mt
		s.mt = memtable.New()
		if err := s.flushImmutable(); err != nil {
			return fmt.Errorf("failed to flush recovered memtable: %w", err)
		}
	} else if err := os.Remove(s.walTmpPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", s.walTmpPath(), err)
	}

	if err := s.jr.Reset(); err != nil {
		return fmt.Errorf("failed to reset WAL after recovery: %w", err)
	}

	return s.maybeCompact()
}

func (s *Store) replay(path string, mt *memtable.Memtable) (wal.ReplayStats, error) {
	stats, err := wal.Replay(path, func(c command.Command) error {
		mt.Apply(c)
		return nil
	}, wal.WithLogger(s.log))
	if err != nil {
		return stats, fmt.Errorf("failed to replay %s: %w", path, err)
	}

	if stats.Skipped > 0 || stats.Truncated {
		s.log.Warn("WAL recovered with losses",
			"path", path,
			"records", stats.Records,
			"skipped", stats.Skipped,
			"truncated_tail", stats.Truncated,
		)
	}
	s.metrics.WALRecordsSkipped.Add(float64(stats.Skipped))
	return stats, nil
}
