package memtable

import (
	"lsmkv/pkg/command"

	"github.com/zhangyunhao116/skipmap"
)

type orderedSet = skipmap.FuncMap[string, command.Command]

// Memtable is an ordered key -> Command buffer. The latest command for a key
// replaces the previous one; Delete commands are kept as tombstones.
type Memtable struct {
	underlying *orderedSet
}

func New() *Memtable {
	return &Memtable{
		underlying: skipmap.NewFunc[string, command.Command](func(a, b string) bool {
			return a < b
		}),
	}
}

func (mt *Memtable) Get(key string) (command.Command, bool) {
	return mt.underlying.Load(key)
}

// Apply stores c under its key, replacing whatever was there.
func (mt *Memtable) Apply(c command.Command) {
	mt.underlying.Store(c.Key, c)
}

// ApplyIfAbsent stores c only when the key has no command yet and reports
// whether it did.
func (mt *Memtable) ApplyIfAbsent(c command.Command) bool {
	_, loaded := mt.underlying.LoadOrStore(c.Key, c)
	return !loaded
}

// Len is the number of distinct keys, tombstones included.
func (mt *Memtable) Len() int {
	return mt.underlying.Len()
}

// Range walks commands in ascending key order until fn returns false.
func (mt *Memtable) Range(fn func(c command.Command) bool) {
	mt.underlying.Range(func(_ string, c command.Command) bool {
		return fn(c)
	})
}

// Sorted returns a key-ordered snapshot of the table.
func (mt *Memtable) Sorted() []command.Command {
	result := make([]command.Command, 0, mt.Len())
	mt.Range(func(c command.Command) bool {
		result = append(result, c)
		return true
	})

	return result
}
