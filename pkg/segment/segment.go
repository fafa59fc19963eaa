// Package segment implements immutable sorted tables: length-partitioned JSON
// blocks, a sparse index of block first keys and a fixed trailer.
package segment

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"lsmkv/pkg/command"
	"lsmkv/pkg/dberrors"
)

type indexEntry struct {
	Key string
	Pos Position
}

// Segment is an opened, read-only segment file.
type Segment struct {
	filePath string
	file     *os.File
	meta     Metadata
	// sparse index, ascending by Key
	index []indexEntry
	cache *BlockCache
	log   *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open loads the trailer and sparse index of the segment at path.
func Open(path string, cache *BlockCache, opts ...Option) (*Segment, error) {
	o := buildOptions(opts)

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file: %w", err)
	}

	s := &Segment{filePath: path, file: file, cache: cache, log: o.logger}
	if err := s.load(); err != nil {
		if cerr := file.Close(); cerr != nil {
			o.logger.Warn("failed to close segment file after load error", "path", path, "error", cerr)
		}
		return nil, fmt.Errorf("failed to load segment %s: %w", path, err)
	}

	return s, nil
}

func (s *Segment) load() error {
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	size := info.Size()
	if size < footerSize {
		return fmt.Errorf("%w: file too small (%d bytes)", dberrors.ErrCorruptSegment, size)
	}

	footer := make([]byte, footerSize)
	if _, err := s.file.ReadAt(footer, size-footerSize); err != nil {
		return fmt.Errorf("failed to read footer: %w", err)
	}
	meta, err := decodeMetadata(footer)
	if err != nil {
		return err
	}
	if err := meta.validate(uint64(size)); err != nil {
		return err
	}

	raw := make([]byte, meta.IndexLen)
	if _, err := s.file.ReadAt(raw, int64(meta.IndexStart)); err != nil {
		return fmt.Errorf("failed to read sparse index: %w", err)
	}
	var mapping map[string]Position
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return fmt.Errorf("%w: sparse index: %w", dberrors.ErrCorruptSegment, err)
	}

	index := make([]indexEntry, 0, len(mapping))
	for k, pos := range mapping {
		if pos.Len == 0 || !meta.contains(pos) {
			return fmt.Errorf("%w: block %q at [%d,+%d) outside data region",
				dberrors.ErrCorruptSegment, k, pos.Start, pos.Len)
		}
		index = append(index, indexEntry{Key: k, Pos: pos})
	}
	sort.Slice(index, func(i, j int) bool {
		return index[i].Key < index[j].Key
	})

	// blocks follow key order on disk; readBlocks relies on it
	for i := 1; i < len(index); i++ {
		prev, cur := index[i-1], index[i]
		if cur.Pos.Start < prev.Pos.end() {
			return fmt.Errorf("%w: block %q at %d overlaps or precedes block %q ending at %d",
				dberrors.ErrCorruptSegment, cur.Key, cur.Pos.Start, prev.Key, prev.Pos.end())
		}
	}

	s.meta = meta
	s.index = index
	return nil
}

func (s *Segment) Path() string {
	return s.filePath
}

func (s *Segment) Metadata() Metadata {
	return s.meta
}

// Blocks is the number of data blocks.
func (s *Segment) Blocks() int {
	return len(s.index)
}

// Query returns the command stored for key, if any. It brackets key between
// the greatest index key <= key and the least index key > key, reads the
// candidate blocks in one contiguous I/O and looks the key up in them.
func (s *Segment) Query(key string) (command.Command, bool, error) {
	hi := sort.Search(len(s.index), func(i int) bool {
		return s.index[i].Key > key
	})
	lo := hi - 1

	candidates := make([]indexEntry, 0, 2)
	if lo >= 0 {
		candidates = append(candidates, s.index[lo])
	}
	if hi < len(s.index) {
		candidates = append(candidates, s.index[hi])
	}
	if len(candidates) == 0 {
		return command.Command{}, false, nil
	}

	blocks, err := s.readBlocks(candidates)
	if err != nil {
		return command.Command{}, false, err
	}
	for _, b := range blocks {
		if c, ok := b[key]; ok {
			return c, true, nil
		}
	}

	return command.Command{}, false, nil
}

// readBlocks returns the decoded blocks for entries, which must be adjacent
// in the index. Blocks missing from the cache are fetched with one read
// spanning all of them.
func (s *Segment) readBlocks(entries []indexEntry) ([]block, error) {
	out := make([]block, len(entries))
	missing := make([]int, 0, len(entries))
	for i, e := range entries {
		if b, ok := s.cache.get(blockKey{s.filePath, e.Pos.Start}); ok {
			out[i] = b
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	var (
		first = entries[missing[0]].Pos
		last  = entries[missing[len(missing)-1]].Pos
		span  = make([]byte, last.end()-first.Start)
	)
	if _, err := s.file.ReadAt(span, int64(first.Start)); err != nil {
		return nil, fmt.Errorf("failed to read blocks of %s: %w", s.filePath, err)
	}

	for _, i := range missing {
		pos := entries[i].Pos
		rel := pos.Start - first.Start
		b := s.decodeBlock(span[rel : rel+pos.Len])
		s.cache.set(blockKey{s.filePath, pos.Start}, b)
		out[i] = b
	}

	return out, nil
}

// decodeBlock parses one block. Undecodable commands are dropped, an
// undecodable block yields no commands.
func (s *Segment) decodeBlock(data []byte) block {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.log.Warn("skipping undecodable segment block", "path", s.filePath, "error", err)
		return block{}
	}

	b := make(block, len(raw))
	for k, v := range raw {
		c, err := command.Decode(v)
		if err != nil || c.Key != k {
			s.log.Warn("skipping undecodable segment record", "path", s.filePath, "key", k, "error", err)
			continue
		}
		b[k] = c
	}
	return b
}

// Scan calls fn for every command of the segment in ascending key order
// until fn returns false.
func (s *Segment) Scan(fn func(command.Command) bool) error {
	if len(s.index) == 0 {
		return nil
	}

	data := make([]byte, s.meta.DataLen)
	if _, err := s.file.ReadAt(data, int64(s.meta.DataStart)); err != nil {
		return fmt.Errorf("failed to read data region of %s: %w", s.filePath, err)
	}

	for _, e := range s.index {
		rel := e.Pos.Start - s.meta.DataStart
		b := s.decodeBlock(data[rel : rel+e.Pos.Len])

		keys := make([]string, 0, len(b))
		for k := range b {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if !fn(b[k]) {
				return nil
			}
		}
	}

	return nil
}

// Close releases the file handle. It is safe to call more than once.
func (s *Segment) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.file.Close()
	})
	return s.closeErr
}

// Remove closes the segment, drops its cached blocks and deletes the file.
func (s *Segment) Remove() error {
	if err := s.Close(); err != nil {
		s.log.Warn("failed to close segment before removal", "path", s.filePath, "error", err)
	}
	s.cache.evictPath(s.filePath)

	if err := os.Remove(s.filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove segment %s: %w", s.filePath, err)
	}
	return nil
}
