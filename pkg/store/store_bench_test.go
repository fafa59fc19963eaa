package store

import (
	"fmt"
	"math/rand"
	"testing"

	"lsmkv/pkg/config"
)

func BenchmarkStoreWrite(b *testing.B) {
	store := newTestStore(b, nil)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := store.Set(fmt.Sprintf("key-%d", i), "value-"+fmt.Sprint(i)); err != nil {
			b.Fatalf("Set failed: %v", err)
		}
	}
}

func BenchmarkStoreRead(b *testing.B) {
	store := newTestStore(b, nil)

	const preloaded = 10_000
	for i := 0; i < preloaded; i++ {
		if err := store.Set(fmt.Sprintf("key-%d", i), "value-"+fmt.Sprint(i)); err != nil {
			b.Fatalf("Set failed: %v", err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	rng := rand.New(rand.NewSource(42))

	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("key-%d", rng.Intn(preloaded))
		if _, found, err := store.Get(key); err != nil || !found {
			b.Fatalf("Get failed: %v (found=%v)", err, found)
		}
	}
}

func BenchmarkStoreReadUncached(b *testing.B) {
	store := newTestStore(b, func(c *config.DB) { c.Persistence.Cache.Capacity = 0 })

	const preloaded = 10_000
	for i := 0; i < preloaded; i++ {
		if err := store.Set(fmt.Sprintf("key-%d", i), "value-"+fmt.Sprint(i)); err != nil {
			b.Fatalf("Set failed: %v", err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	rng := rand.New(rand.NewSource(42))

	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("key-%d", rng.Intn(preloaded))
		if _, found, err := store.Get(key); err != nil || !found {
			b.Fatalf("Get failed: %v (found=%v)", err, found)
		}
	}
}
