package segment

import (
	"sync"

	"lsmkv/pkg/command"
)

// block is one decoded data block: command key -> command.
type block map[string]command.Command

type blockKey struct {
	path  string
	start uint64
}

// BlockCache is an LRU of decoded segment blocks shared by all segments of a
// store. A nil *BlockCache disables caching.
type BlockCache struct {
	mu       sync.Mutex
	capacity int
	items    map[blockKey]*cacheItem
	head     *cacheItem
	tail     *cacheItem
}

type cacheItem struct {
	key   blockKey
	value block
	prev  *cacheItem
	next  *cacheItem
}

// NewBlockCache returns a cache holding up to capacity blocks, or nil when
// capacity is not positive.
func NewBlockCache(capacity int) *BlockCache {
	if capacity <= 0 {
		return nil
	}
	return &BlockCache{
		capacity: capacity,
		items:    make(map[blockKey]*cacheItem),
	}
}

func (bc *BlockCache) get(key blockKey) (block, bool) {
	if bc == nil {
		return nil, false
	}
	bc.mu.Lock()
	defer bc.mu.Unlock()

	item, found := bc.items[key]
	if !found {
		return nil, false
	}
	bc.moveToHead(item)

	return item.value, true
}

func (bc *BlockCache) set(key blockKey, value block) {
	if bc == nil {
		return
	}
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if item, found := bc.items[key]; found {
		item.value = value
		bc.moveToHead(item)
		return
	}

	item := &cacheItem{key: key, value: value}
	bc.addToHead(item)
	bc.items[key] = item

	if len(bc.items) > bc.capacity {
		bc.evictLRU()
	}
}

// evictPath drops every block of the segment file at path.
func (bc *BlockCache) evictPath(path string) {
	if bc == nil {
		return
	}
	bc.mu.Lock()
	defer bc.mu.Unlock()

	for key, item := range bc.items {
		if key.path == path {
			bc.unlink(item)
			delete(bc.items, key)
		}
	}
}

// Len reports the number of cached blocks.
func (bc *BlockCache) Len() int {
	if bc == nil {
		return 0
	}
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.items)
}

func (bc *BlockCache) moveToHead(item *cacheItem) {
	if item == bc.head {
		return
	}
	bc.unlink(item)
	bc.addToHead(item)
}

func (bc *BlockCache) unlink(item *cacheItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		bc.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		bc.tail = item.prev
	}
	item.prev, item.next = nil, nil
}

func (bc *BlockCache) addToHead(item *cacheItem) {
	item.prev = nil
	item.next = bc.head

	if bc.head != nil {
		bc.head.prev = item
	}
	bc.head = item

	if bc.tail == nil {
		bc.tail = item
	}
}

func (bc *BlockCache) evictLRU() {
	if bc.tail == nil {
		return
	}
	victim := bc.tail
	bc.unlink(victim)
	delete(bc.items, victim.key)
}
