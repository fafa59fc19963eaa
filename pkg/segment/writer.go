package segment

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"lsmkv/pkg/command"
)

// Write persists cmds, which must be sorted by key with unique keys, as a
// segment at path and opens it. The file is assembled under path+TmpSuffix
// and renamed into place once complete.
//
// Layout: data blocks (each a JSON object of at most blockSize commands keyed
// by command key, in key order), then the sparse index (a JSON object of the
// first key of every block to its Position), then the 48-byte trailer.
func Write(path string, blockSize int, cmds []command.Command, cache *BlockCache, opts ...Option) (*Segment, error) {
	o := buildOptions(opts)

	if blockSize < 1 {
		return nil, fmt.Errorf("invalid block size %d", blockSize)
	}
	for i := 1; i < len(cmds); i++ {
		if cmds[i-1].Key >= cmds[i].Key {
			return nil, fmt.Errorf("commands not sorted: %q before %q", cmds[i-1].Key, cmds[i].Key)
		}
	}

	tmpPath := path + TmpSuffix
	if err := writeFile(tmpPath, blockSize, cmds); err != nil {
		if rerr := os.Remove(tmpPath); rerr != nil && !os.IsNotExist(rerr) {
			o.logger.Warn("failed to remove incomplete segment", "path", tmpPath, "error", rerr)
		}
		return nil, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("failed to publish segment: %w", err)
	}
	syncDir(o.logger, filepath.Dir(path))

	return Open(path, cache, opts...)
}

func writeFile(path string, blockSize int, cmds []command.Command) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create segment file: %w", err)
	}
	defer file.Close()

	var (
		w     = bufio.NewWriter(file)
		meta  = Metadata{Version: Version, BlockSize: uint64(blockSize)}
		index = make([]indexEntry, 0, len(cmds)/blockSize+1)
		off   uint64
	)

	for start := 0; start < len(cmds); start += blockSize {
		end := min(start+blockSize, len(cmds))

		data, err := encodeBlock(cmds[start:end])
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("failed to write data block: %w", err)
		}

		index = append(index, indexEntry{
			Key: cmds[start].Key,
			Pos: Position{Start: off, Len: uint64(len(data))},
		})
		off += uint64(len(data))
	}
	meta.DataLen = off

	indexBytes, err := encodeIndex(index)
	if err != nil {
		return err
	}
	meta.IndexStart = off
	meta.IndexLen = uint64(len(indexBytes))
	if _, err := w.Write(indexBytes); err != nil {
		return fmt.Errorf("failed to write sparse index: %w", err)
	}

	if _, err := w.Write(meta.encode()); err != nil {
		return fmt.Errorf("failed to write segment footer: %w", err)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush segment: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync segment: %w", err)
	}
	return file.Close()
}

// encodeBlock renders commands as one JSON object keeping their order.
func encodeBlock(cmds []command.Command) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range cmds {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.Key)
		if err != nil {
			return nil, err
		}
		val, err := command.Encode(c)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func encodeIndex(index []indexEntry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range index {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		pos, err := json.Marshal(e.Pos)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(pos)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func syncDir(log *slog.Logger, dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		log.Debug("directory sync failed", "dir", dir, "error", err)
	}
}
