package main

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	lsmhttp "lsmkv/internal/http"
	"lsmkv/pkg/config"
	"lsmkv/pkg/rpc"
	"lsmkv/pkg/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	r := summarize([]time.Duration{3 * time.Millisecond, time.Millisecond, 2 * time.Millisecond})
	assert.Equal(t, time.Millisecond, r.MinLatency)
	assert.Equal(t, 3*time.Millisecond, r.MaxLatency)
	assert.Equal(t, 2*time.Millisecond, r.AvgLatency)

	assert.Equal(t, BenchmarkResult{}, summarize(nil))
}

func TestRunLoad(t *testing.T) {
	var calls atomic.Int64
	r := runLoad(25, 4, func(i int) error {
		calls.Add(1)
		if i%5 == 0 {
			return errors.New("boom")
		}
		return nil
	})

	assert.Equal(t, int64(25), calls.Load())
	assert.Equal(t, 25, r.TotalOps)
	assert.Equal(t, 20, r.SuccessfulOps)
	assert.Equal(t, 5, r.FailedOps)
}

func TestBenchmarkAgainstServer(t *testing.T) {
	cfg := config.Default()
	cfg.Persistence.RootPath = t.TempDir()
	cfg.Memtable.StoreThreshold = 8
	cfg.WAL.Sync = false

	db, err := store.Open(cfg.DB)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	srv := httptest.NewServer(lsmhttp.NewServer(db, cfg.Server, prometheus.NewRegistry()).Handler())
	t.Cleanup(srv.Close)

	ctx := context.Background()
	client := rpc.NewHTTPStore(srv.URL)

	w := benchmarkWrites(ctx, client, "t", 40, 4)
	assert.Equal(t, 40, w.SuccessfulOps)

	r := benchmarkReads(ctx, client, "t", 40, 4)
	assert.Equal(t, 40, r.SuccessfulOps)
	assert.Equal(t, 0, r.FailedOps)
}
