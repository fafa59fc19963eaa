package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"lsmkv/pkg/rpc"

	"github.com/go-faker/faker/v4"
)

type BenchmarkResult struct {
	TotalOps      int
	SuccessfulOps int
	FailedOps     int
	Duration      time.Duration
	OpsPerSec     float64
	AvgLatency    time.Duration
	MinLatency    time.Duration
	MaxLatency    time.Duration
}

var errNotFound = errors.New("key not found")

func main() {
	baseURL := flag.String("addr", "http://localhost:8080", "server base URL")
	ops := flag.Int("ops", 100, "operations per test")
	concurrency := flag.Int("c", 10, "goroutines for the concurrent tests")
	flag.Parse()

	ctx := context.Background()
	client := rpc.NewHTTPStore(*baseURL)

	fmt.Println("=== LSMKV Benchmark Test ===")
	fmt.Printf("Target: %s\n", *baseURL)
	fmt.Println()

	// Проверка доступности
	if err := client.Health(ctx); err != nil {
		fmt.Printf("ERROR: server %s is not available: %v\n", *baseURL, err)
		os.Exit(1)
	}

	fmt.Printf("Test 1: Sequential Writes (%d operations)\n", *ops)
	printResult(benchmarkWrites(ctx, client, "seq", *ops, 1))

	fmt.Printf("\nTest 2: Sequential Reads (%d operations)\n", *ops)
	printResult(benchmarkReads(ctx, client, "seq", *ops, 1))

	fmt.Printf("\nTest 3: Concurrent Writes (%d operations, %d goroutines)\n", *ops, *concurrency)
	printResult(benchmarkWrites(ctx, client, "par", *ops, *concurrency))

	fmt.Printf("\nTest 4: Concurrent Reads (%d operations, %d goroutines)\n", *ops, *concurrency)
	printResult(benchmarkReads(ctx, client, "par", *ops, *concurrency))

	fmt.Println("\n=== Benchmark Complete ===")
}

func benchmarkWrites(ctx context.Context, client *rpc.HTTPStore, prefix string, totalOps, concurrency int) BenchmarkResult {
	return runLoad(totalOps, concurrency, func(i int) error {
		key := fmt.Sprintf("bench_%s_key_%d", prefix, i)
		return client.Set(ctx, key, faker.Sentence())
	})
}

func benchmarkReads(ctx context.Context, client *rpc.HTTPStore, prefix string, totalOps, concurrency int) BenchmarkResult {
	// Сначала создаём ключи для чтения
	for i := 0; i < totalOps; i++ {
		key := fmt.Sprintf("read_%s_%d", prefix, i)
		if err := client.Set(ctx, key, faker.Word()); err != nil {
			fmt.Printf("  preload %s failed: %v\n", key, err)
		}
	}

	return runLoad(totalOps, concurrency, func(i int) error {
		_, found, err := client.Get(ctx, fmt.Sprintf("read_%s_%d", prefix, i))
		if err != nil {
			return err
		}
		if !found {
			return errNotFound
		}
		return nil
	})
}

// runLoad spreads op(0..totalOps-1) over concurrency goroutines and times
// every call.
func runLoad(totalOps, concurrency int, op func(i int) error) BenchmarkResult {
	if concurrency < 1 {
		concurrency = 1
	}

	start := time.Now()
	var wg sync.WaitGroup
	var mu sync.Mutex

	successful := 0
	failed := 0
	latencies := make([]time.Duration, 0, totalOps)

	next := make(chan int)
	for g := 0; g < concurrency; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				opStart := time.Now()
				err := op(i)
				latency := time.Since(opStart)

				mu.Lock()
				if err == nil {
					successful++
				} else {
					failed++
				}
				latencies = append(latencies, latency)
				mu.Unlock()
			}
		}()
	}
	for i := 0; i < totalOps; i++ {
		next <- i
	}
	close(next)

	wg.Wait()
	duration := time.Since(start)

	result := summarize(latencies)
	result.TotalOps = totalOps
	result.SuccessfulOps = successful
	result.FailedOps = failed
	result.Duration = duration
	if duration > 0 {
		result.OpsPerSec = float64(successful) / duration.Seconds()
	}
	return result
}

// Вычисление статистики латентности
func summarize(latencies []time.Duration) BenchmarkResult {
	var r BenchmarkResult
	if len(latencies) == 0 {
		return r
	}

	var sum time.Duration
	r.MinLatency = latencies[0]
	r.MaxLatency = latencies[0]
	for _, lat := range latencies {
		if lat < r.MinLatency {
			r.MinLatency = lat
		}
		if lat > r.MaxLatency {
			r.MaxLatency = lat
		}
		sum += lat
	}
	r.AvgLatency = sum / time.Duration(len(latencies))
	return r
}

func printResult(result BenchmarkResult) {
	fmt.Printf("  Total Operations: %d\n", result.TotalOps)
	fmt.Printf("  Successful: %d\n", result.SuccessfulOps)
	fmt.Printf("  Failed: %d\n", result.FailedOps)
	fmt.Printf("  Duration: %v\n", result.Duration)
	fmt.Printf("  Operations/sec: %.2f\n", result.OpsPerSec)
	fmt.Printf("  Avg Latency: %v\n", result.AvgLatency)
	fmt.Printf("  Min Latency: %v\n", result.MinLatency)
	fmt.Printf("  Max Latency: %v\n", result.MaxLatency)
}
