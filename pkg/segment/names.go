package segment

import (
	"strconv"
	"strings"
)

const (
	Ext       = ".table"
	TmpSuffix = ".tmp"
)

// FileName is the on-disk name of the segment created at ts (unix millis).
func FileName(ts int64) string {
	return strconv.FormatInt(ts, 10) + Ext
}

// ParseFileName extracts the creation timestamp from a segment file name.
func ParseFileName(name string) (int64, bool) {
	stem, ok := strings.CutSuffix(name, Ext)
	if !ok || stem == "" {
		return 0, false
	}
	ts, err := strconv.ParseInt(stem, 10, 64)
	if err != nil || ts < 0 {
		return 0, false
	}
	return ts, true
}
