package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"lsmkv/pkg/command"
	"lsmkv/pkg/dberrors"
)

const lenPrefixSize = 4

// WAL is an append-only log of length-prefixed encoded commands:
//
//	[4-byte big-endian length][length bytes of command JSON]
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	filePath string
	sync     bool
	log      *slog.Logger
}

// ReplayStats summarizes a recovery scan.
type ReplayStats struct {
	Records   int
	Skipped   int
	Truncated bool
	// Offset is the end of the last complete record.
	Offset int64
}

// Open opens or creates the log at path for appending. With syncWrites every
// Append is fsynced before it returns.
func Open(path string, syncWrites bool, opts ...Option) (*WAL, error) {
	o := buildOptions(opts)
	if path == "" {
		return nil, fmt.Errorf("empty WAL path")
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	return &WAL{
		file:     file,
		writer:   bufio.NewWriter(file),
		filePath: path,
		sync:     syncWrites,
		log:      o.logger,
	}, nil
}

func (w *WAL) Path() string {
	return w.filePath
}

// Append writes one record. The record is flushed to the OS (and fsynced when
// configured) before Append returns.
func (w *WAL) Append(c command.Command) error {
	payload, err := command.Encode(c)
	if err != nil {
		return fmt.Errorf("failed to encode WAL entry: %w", err)
	}
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("WAL entry too large: %d", len(payload))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		return fmt.Errorf("WAL writer is nil: %w", dberrors.ErrClosed)
	}

	var lenBuf [lenPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.writer.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("failed to write WAL entry: %w", err)
	}
	if _, err := w.writer.Write(payload); err != nil {
		return fmt.Errorf("failed to write WAL entry: %w", err)
	}

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if w.sync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync WAL: %w", err)
		}
	}

	return nil
}

// Reset truncates the log to zero length.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("WAL file is nil: %w", dberrors.ErrClosed)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL before reset: %w", err)
	}
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate WAL: %w", err)
	}
	return w.file.Sync()
}

// Rotate moves the live log to tmpPath and opens a fresh, empty log under
// the original name. The receiver is closed afterwards whatever the outcome.
// An existing tmpPath is a protocol violation and is not touched.
func (w *WAL) Rotate(tmpPath string) (*WAL, error) {
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %w", dberrors.ErrWALRotation, err)
	}

	if _, err := os.Stat(tmpPath); err == nil {
		return nil, fmt.Errorf("%w: %s", dberrors.ErrStaleTempWAL, tmpPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: stat %s: %w", dberrors.ErrWALRotation, tmpPath, err)
	}

	if err := os.Rename(w.filePath, tmpPath); err != nil {
		return nil, fmt.Errorf("%w: %w", dberrors.ErrWALRotation, err)
	}

	next, err := Open(w.filePath, w.sync, WithLogger(w.log))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dberrors.ErrWALRotation, err)
	}
	return next, nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer != nil {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush WAL on close: %w", err)
		}
		w.writer = nil
	}

	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			w.log.Warn("failed to sync WAL on close", "path", w.filePath, "error", err)
		}
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close WAL file: %w", err)
		}
		w.file = nil
	}

	return nil
}

// Replay scans the log at path from offset 0 and calls fn for every
// well-formed command in order. A record whose payload does not decode is
// skipped. A record whose declared length runs past EOF ends the scan.
// A missing file replays nothing.
//
// Appending after a truncated tail would hide the new records behind the
// broken one; TruncateTail cuts the file back to stats.Offset.
func Replay(path string, fn func(command.Command) error, opts ...Option) (ReplayStats, error) {
	var stats ReplayStats
	o := buildOptions(opts)

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stats, nil
		}
		return stats, fmt.Errorf("failed to open WAL for reading: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			o.logger.Warn("failed to close WAL read file", "path", path, "error", cerr)
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return stats, fmt.Errorf("failed to stat WAL: %w", err)
	}

	var (
		reader    = bufio.NewReader(file)
		remaining = info.Size()
		lenBuf    [lenPrefixSize]byte
	)
	for remaining > 0 {
		if remaining < lenPrefixSize {
			stats.Truncated = true
			break
		}
		if _, err := io.ReadFull(reader, lenBuf[:]); err != nil {
			return stats, fmt.Errorf("failed to read WAL record length: %w", err)
		}
		remaining -= lenPrefixSize

		size := int64(binary.BigEndian.Uint32(lenBuf[:]))
		if size > remaining {
			stats.Truncated = true
			break
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return stats, fmt.Errorf("failed to read WAL record: %w", err)
		}
		remaining -= size
		stats.Offset += lenPrefixSize + size

		cmd, err := command.Decode(payload)
		if err != nil {
			o.logger.Warn("skipping undecodable WAL record", "path", path, "offset", stats.Offset-lenPrefixSize-size, "error", err)
			stats.Skipped++
			continue
		}

		stats.Records++
		if err := fn(cmd); err != nil {
			return stats, fmt.Errorf("WAL replay callback failed: %w", err)
		}
	}

	return stats, nil
}

// TruncateTail drops everything after the last complete record found by
// Replay.
func TruncateTail(path string, stats ReplayStats) error {
	if !stats.Truncated {
		return nil
	}
	if err := os.Truncate(path, stats.Offset); err != nil {
		return fmt.Errorf("failed to truncate WAL tail: %w", err)
	}
	return nil
}
