package dberrors

import "errors"

var (
	ErrClosed         = errors.New("lsmkv: closed")
	ErrEmptyKey       = errors.New("lsmkv: empty key")
	// keys and values are stored as JSON strings and must be valid UTF-8
	ErrInvalidUTF8    = errors.New("lsmkv: invalid UTF-8")
	ErrStaleTempWAL   = errors.New("lsmkv: stale temporary WAL present")
	ErrWALRotation    = errors.New("lsmkv: WAL rotation failed")
	ErrCorruptSegment = errors.New("lsmkv: corrupt segment")
)
