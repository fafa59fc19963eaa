package segment

import (
	"encoding/binary"
	"fmt"

	"lsmkv/pkg/dberrors"
)

const (
	// Version of the segment layout written by this package.
	Version uint64 = 1

	fieldSize  = 8
	footerSize = 6 * fieldSize
)

// Position is a byte range inside a segment file.
type Position struct {
	Start uint64 `json:"start"`
	Len   uint64 `json:"len"`
}

// end is only safe to call on positions accepted by Metadata.contains.
func (p Position) end() uint64 {
	return p.Start + p.Len
}

// Metadata is the fixed 48-byte trailer of a segment file. On disk the fields
// are big-endian uint64 in this order: BlockSize, DataStart, DataLen,
// IndexStart, IndexLen, Version.
type Metadata struct {
	Version    uint64
	DataStart  uint64
	DataLen    uint64
	IndexStart uint64
	IndexLen   uint64
	BlockSize  uint64
}

func (m Metadata) encode() []byte {
	buf := make([]byte, footerSize)
	for i, v := range []uint64{m.BlockSize, m.DataStart, m.DataLen, m.IndexStart, m.IndexLen, m.Version} {
		binary.BigEndian.PutUint64(buf[i*fieldSize:], v)
	}
	return buf
}

func decodeMetadata(buf []byte) (Metadata, error) {
	if len(buf) != footerSize {
		return Metadata{}, fmt.Errorf("%w: footer is %d bytes", dberrors.ErrCorruptSegment, len(buf))
	}

	field := func(i int) uint64 {
		return binary.BigEndian.Uint64(buf[i*fieldSize:])
	}
	return Metadata{
		BlockSize:  field(0),
		DataStart:  field(1),
		DataLen:    field(2),
		IndexStart: field(3),
		IndexLen:   field(4),
		Version:    field(5),
	}, nil
}

// validate checks the trailer against the file it was read from.
func (m Metadata) validate(fileSize uint64) error {
	switch {
	case m.Version != Version:
		return fmt.Errorf("%w: unsupported version %d", dberrors.ErrCorruptSegment, m.Version)
	case m.BlockSize == 0:
		return fmt.Errorf("%w: zero block size", dberrors.ErrCorruptSegment)
	case fileSize < footerSize:
		return fmt.Errorf("%w: file too small (%d bytes)", dberrors.ErrCorruptSegment, fileSize)
	}

	// subtraction only: a crafted trailer must not wrap around
	body := fileSize - footerSize
	if m.IndexStart > body || m.IndexLen != body-m.IndexStart {
		return fmt.Errorf("%w: index [%d,+%d) does not end at footer, file size %d",
			dberrors.ErrCorruptSegment, m.IndexStart, m.IndexLen, fileSize)
	}
	if m.DataStart > m.IndexStart || m.DataLen != m.IndexStart-m.DataStart {
		return fmt.Errorf("%w: data region [%d,+%d) does not end at index %d",
			dberrors.ErrCorruptSegment, m.DataStart, m.DataLen, m.IndexStart)
	}
	return nil
}

// contains reports whether p lies inside the data region, without
// overflowing on hostile values.
func (m Metadata) contains(p Position) bool {
	return p.Start >= m.DataStart &&
		p.Len <= m.DataLen &&
		p.Start-m.DataStart <= m.DataLen-p.Len
}
