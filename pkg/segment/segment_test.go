package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"lsmkv/pkg/command"
	"lsmkv/pkg/dberrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sortedCommands returns n commands keyed key-000..key-(n-1); every fifth is
// a tombstone.
func sortedCommands(n int) []command.Command {
	cmds := make([]command.Command, 0, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%03d", i)
		if i%5 == 4 {
			cmds = append(cmds, command.Delete(key))
			continue
		}
		cmds = append(cmds, command.Put(key, fmt.Sprintf("value-%d", i)))
	}
	return cmds
}

func writeSegment(t *testing.T, blockSize int, cmds []command.Command, cache *BlockCache) *Segment {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName(1700000000000))
	seg, err := Write(path, blockSize, cmds, cache)
	require.NoError(t, err)
	t.Cleanup(func() { _ = seg.Close() })
	return seg
}

func TestRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name      string
		n         int
		blockSize int
	}{
		{"single block", 4, 10},
		{"exact blocks", 12, 4},
		{"partial last block", 13, 4},
		{"one per block", 7, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cmds := sortedCommands(tc.n)
			seg := writeSegment(t, tc.blockSize, cmds, nil)

			wantBlocks := (tc.n + tc.blockSize - 1) / tc.blockSize
			assert.Equal(t, wantBlocks, seg.Blocks())

			for _, want := range cmds {
				got, ok, err := seg.Query(want.Key)
				require.NoError(t, err)
				require.True(t, ok, "key %s", want.Key)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestQueryAbsent(t *testing.T) {
	seg := writeSegment(t, 3, sortedCommands(10), nil)

	for _, key := range []string{
		"",            // before everything
		"a",           // before first index key
		"key-000a",    // inside first block
		"key-004-",    // inside a middle block
		"key-009\x00", // after last key
		"zzz",         // after last index key
	} {
		_, ok, err := seg.Query(key)
		require.NoError(t, err)
		assert.False(t, ok, "key %q", key)
	}
}

func TestQueryReadsBothCandidates(t *testing.T) {
	cache := NewBlockCache(16)
	seg := writeSegment(t, 2, sortedCommands(6), cache)

	// key-001 is the last key of block 0; block 1 is the right bracket
	_, ok, err := seg.Query("key-001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, cache.Len())

	// same bracket, served from cache
	got, ok, err := seg.Query("key-000")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value-0", got.Value)
	assert.Equal(t, 2, cache.Len())
}

func TestEmptySegment(t *testing.T) {
	seg := writeSegment(t, 4, nil, nil)
	assert.Zero(t, seg.Blocks())

	_, ok, err := seg.Query("anything")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFooterLayout(t *testing.T) {
	cmds := sortedCommands(9)
	seg := writeSegment(t, 4, cmds, nil)

	raw, err := os.ReadFile(seg.Path())
	require.NoError(t, err)
	footer := raw[len(raw)-footerSize:]

	field := func(i int) uint64 { return binary.BigEndian.Uint64(footer[i*8:]) }
	meta := seg.Metadata()
	assert.Equal(t, uint64(4), field(0), "blockSize")
	assert.Equal(t, uint64(0), field(1), "dataStart")
	assert.Equal(t, meta.DataLen, field(2), "dataLen")
	assert.Equal(t, meta.IndexStart, field(3), "indexStart")
	assert.Equal(t, meta.IndexLen, field(4), "indexLen")
	assert.Equal(t, Version, field(5), "version")

	assert.Equal(t, uint64(len(raw)-footerSize), meta.IndexStart+meta.IndexLen)
	assert.Equal(t, byte('{'), raw[meta.IndexStart])
}

func TestReopen(t *testing.T) {
	cmds := sortedCommands(20)
	seg := writeSegment(t, 3, cmds, nil)
	require.NoError(t, seg.Close())

	reopened, err := Open(seg.Path(), nil)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, seg.Metadata(), reopened.Metadata())
	for _, want := range cmds {
		got, ok, err := reopened.Query(want.Key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestScanOrder(t *testing.T) {
	cmds := sortedCommands(11)
	seg := writeSegment(t, 3, cmds, nil)

	var got []command.Command
	require.NoError(t, seg.Scan(func(c command.Command) bool {
		got = append(got, c)
		return true
	}))
	assert.Equal(t, cmds, got)

	var n int
	require.NoError(t, seg.Scan(func(command.Command) bool {
		n++
		return n < 4
	}))
	assert.Equal(t, 4, n)
}

func TestWriteRejectsUnsorted(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName(1))
	_, err := Write(path, 2, []command.Command{command.Put("b", "1"), command.Put("a", "2")}, nil)
	require.Error(t, err)

	_, err = Write(path, 0, nil, nil)
	require.Error(t, err)
}

func TestWriteLeavesNoTempFile(t *testing.T) {
	seg := writeSegment(t, 2, sortedCommands(5), nil)

	entries, err := os.ReadDir(filepath.Dir(seg.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(seg.Path()), entries[0].Name())
}

func TestOpenCorrupt(t *testing.T) {
	dir := t.TempDir()

	short := filepath.Join(dir, "1.table")
	require.NoError(t, os.WriteFile(short, []byte("tiny"), 0600))
	_, err := Open(short, nil)
	require.ErrorIs(t, err, dberrors.ErrCorruptSegment)

	seg := writeSegment(t, 2, sortedCommands(5), nil)
	raw, err := os.ReadFile(seg.Path())
	require.NoError(t, err)

	truncated := filepath.Join(dir, "2.table")
	require.NoError(t, os.WriteFile(truncated, raw[:len(raw)-1], 0600))
	_, err = Open(truncated, nil)
	require.ErrorIs(t, err, dberrors.ErrCorruptSegment)
}

// rawSegment assembles a segment file by hand from data blocks and a raw
// index so that the trailer and index can be made inconsistent.
func rawSegment(t *testing.T, data []byte, index string, meta *Metadata) string {
	t.Helper()

	m := Metadata{
		Version:    Version,
		BlockSize:  1,
		DataLen:    uint64(len(data)),
		IndexStart: uint64(len(data)),
		IndexLen:   uint64(len(index)),
	}
	if meta != nil {
		m = *meta
	}

	var buf bytes.Buffer
	buf.Write(data)
	buf.WriteString(index)
	buf.Write(m.encode())

	path := filepath.Join(t.TempDir(), FileName(1700000000000))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))
	return path
}

func blockOf(t *testing.T, cmds ...command.Command) []byte {
	t.Helper()
	b, err := encodeBlock(cmds)
	require.NoError(t, err)
	return b
}

func TestOpenHandBuilt(t *testing.T) {
	data := blockOf(t, command.Put("a", "1"))
	index := fmt.Sprintf(`{"a":{"start":0,"len":%d}}`, len(data))

	seg, err := Open(rawSegment(t, data, index, nil), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = seg.Close() })

	c, ok, err := seg.Query("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, command.Put("a", "1"), c)
}

func TestOpenCorruptIndex(t *testing.T) {
	blockA := blockOf(t, command.Put("a", "1"))
	blockB := blockOf(t, command.Put("b", "2"))
	data := append(append([]byte{}, blockA...), blockB...)
	la, lb := len(blockA), len(blockB)

	tests := []struct {
		name  string
		index string
	}{
		{"length wraps around", `{"a":{"start":1,"len":18446744073709551615}}`},
		{"start past data", fmt.Sprintf(`{"a":{"start":%d,"len":1}}`, len(data))},
		{"start wraps around", `{"a":{"start":18446744073709551615,"len":1}}`},
		{"zero length", `{"a":{"start":0,"len":0}}`},
		{"starts not in key order", fmt.Sprintf(`{"a":{"start":%d,"len":%d},"b":{"start":0,"len":%d}}`, la, lb, la)},
		{"overlapping blocks", fmt.Sprintf(`{"a":{"start":0,"len":%d},"b":{"start":1,"len":%d}}`, la, len(data)-1)},
		{"duplicate start", fmt.Sprintf(`{"a":{"start":0,"len":%d},"b":{"start":0,"len":%d}}`, la, la)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(rawSegment(t, data, tt.index, nil), nil)
			require.ErrorIs(t, err, dberrors.ErrCorruptSegment)
		})
	}
}

func TestOpenCorruptTrailer(t *testing.T) {
	data := blockOf(t, command.Put("a", "1"))
	index := fmt.Sprintf(`{"a":{"start":0,"len":%d}}`, len(data))
	size := uint64(len(data) + len(index) + footerSize)

	tests := []struct {
		name string
		meta Metadata
	}{
		// IndexStart+IndexLen+48 wraps to exactly the file size
		{"index length wraps around", Metadata{
			Version: Version, BlockSize: 1,
			DataLen: size, IndexStart: size, IndexLen: ^uint64(footerSize) + 1,
		}},
		// DataStart+DataLen wraps to exactly IndexStart
		{"data length wraps around", Metadata{
			Version: Version, BlockSize: 1,
			DataStart: uint64(len(data)) + 1, DataLen: ^uint64(0),
			IndexStart: uint64(len(data)), IndexLen: uint64(len(index)),
		}},
		{"data region short of index", Metadata{
			Version: Version, BlockSize: 1,
			DataLen:    uint64(len(data)) - 1,
			IndexStart: uint64(len(data)), IndexLen: uint64(len(index)),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := tt.meta
			_, err := Open(rawSegment(t, data, index, &meta), nil)
			require.ErrorIs(t, err, dberrors.ErrCorruptSegment)
		})
	}
}

func TestUndecodableRecordUsesLogger(t *testing.T) {
	data := []byte(`{"a":{"type":"SET","key":"a","value":"1"},"b":{"type":"NOPE","key":"b"}}`)
	index := fmt.Sprintf(`{"a":{"start":0,"len":%d}}`, len(data))

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil)).With("component", "store")

	seg, err := Open(rawSegment(t, data, index, nil), nil, WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = seg.Close() })

	_, ok, err := seg.Query("b")
	require.NoError(t, err)
	assert.False(t, ok)

	c, ok, err := seg.Query("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", c.Value)

	assert.Contains(t, logs.String(), "skipping undecodable segment record")
	assert.Contains(t, logs.String(), "component=store")
}

func TestRemoveEvictsCache(t *testing.T) {
	cache := NewBlockCache(8)
	seg := writeSegment(t, 2, sortedCommands(6), cache)

	_, _, err := seg.Query("key-002")
	require.NoError(t, err)
	require.NotZero(t, cache.Len())

	require.NoError(t, seg.Remove())
	assert.Zero(t, cache.Len())
	_, err = os.Stat(seg.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestFileNames(t *testing.T) {
	ts, ok := ParseFileName(FileName(1720000000123))
	require.True(t, ok)
	assert.Equal(t, int64(1720000000123), ts)

	for _, bad := range []string{"wal", "walTmp", ".table", "abc.table", "1.table.tmp", "-5.table"} {
		_, ok := ParseFileName(bad)
		assert.False(t, ok, bad)
	}
}
