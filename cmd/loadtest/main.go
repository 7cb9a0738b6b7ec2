// cmd/loadtest/main.go
package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Command line flags
var (
	addr        = flag.String("addr", "http://localhost:8080", "Sequencer API address")
	duration    = flag.Duration("duration", 1*time.Minute, "Test duration")
	concurrency = flag.Int("concurrency", 50, "Number of concurrent clients")
	rate        = flag.Float64("rate", 500, "Target submissions per second")
	payloadSize = flag.Int("payload", 256, "Certificate payload size in bytes")
)

// Statistics
type Stats struct {
	successCount uint64
	failureCount uint64
	latencySum   uint64
	latencyCount uint64
}

func main() {
	flag.Parse()

	fmt.Printf("Load Test Configuration:\n")
	fmt.Printf("  Address: %s\n", *addr)
	fmt.Printf("  Duration: %s\n", *duration)
	fmt.Printf("  Concurrency: %d\n", *concurrency)
	fmt.Printf("  Target rate: %.0f/s\n", *rate)
	fmt.Printf("  Payload size: %d bytes\n", *payloadSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		fmt.Println("\nShutting down...")
		cancel()
	}()

	stats := &Stats{}

	testCtx, testCancel := context.WithTimeout(ctx, *duration)
	defer testCancel()

	// Channel for controlling rate
	rateLimiter := make(chan struct{}, *concurrency*2)
	go func() {
		interval := time.Duration(float64(time.Second) / *rate)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-testCtx.Done():
				return
			case <-ticker.C:
				select {
				case rateLimiter <- struct{}{}:
				default:
					// Channel is full, skip
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go worker(testCtx, i, rateLimiter, stats, &wg)
	}

	// Stats reporter
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	lastSuccess := uint64(0)
	lastFailure := uint64(0)
	startTime := time.Now()

	go func() {
		for {
			select {
			case <-testCtx.Done():
				return
			case <-ticker.C:
				successCount := atomic.LoadUint64(&stats.successCount)
				failureCount := atomic.LoadUint64(&stats.failureCount)
				latencySum := atomic.LoadUint64(&stats.latencySum)
				latencyCount := atomic.LoadUint64(&stats.latencyCount)

				delta := (successCount - lastSuccess) + (failureCount - lastFailure)

				var avgLatency uint64
				if latencyCount > 0 {
					avgLatency = latencySum / latencyCount
				}

				overallRate := float64(successCount) / time.Since(startTime).Seconds()
				fmt.Printf("\rRate: %.2f/s (Current: %d), Success: %d, Failure: %d, Avg Latency: %d µs",
					overallRate, delta, successCount, failureCount, avgLatency)

				lastSuccess = successCount
				lastFailure = failureCount
			}
		}
	}()

	<-testCtx.Done()
	wg.Wait()

	successCount := atomic.LoadUint64(&stats.successCount)
	failureCount := atomic.LoadUint64(&stats.failureCount)
	latencySum := atomic.LoadUint64(&stats.latencySum)
	latencyCount := atomic.LoadUint64(&stats.latencyCount)

	totalCount := successCount + failureCount
	successRate := 0.0
	if totalCount > 0 {
		successRate = float64(successCount) / float64(totalCount) * 100
	}

	var avgLatency uint64
	if latencyCount > 0 {
		avgLatency = latencySum / latencyCount
	}

	elapsedSeconds := time.Since(startTime).Seconds()

	fmt.Printf("\n\nLoad Test Results:\n")
	fmt.Printf("  Test Duration: %.2f seconds\n", elapsedSeconds)
	fmt.Printf("  Total Submissions: %d\n", totalCount)
	fmt.Printf("  Successful: %d (%.2f%%)\n", successCount, successRate)
	fmt.Printf("  Failed: %d (%.2f%%)\n", failureCount, 100-successRate)
	fmt.Printf("  Average Rate: %.2f/s\n", float64(totalCount)/elapsedSeconds)
	fmt.Printf("  Average Latency: %d µs\n", avgLatency)
}

// worker submits random certificate payloads at the controlled rate
func worker(ctx context.Context, id int, rateLimiter <-chan struct{}, stats *Stats, wg *sync.WaitGroup) {
	defer wg.Done()

	client := &http.Client{Timeout: 10 * time.Second}
	url := *addr + "/v1/transactions"

	seq := uint64(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-rateLimiter:
			startTime := time.Now()

			payload := make([]byte, *payloadSize)
			if _, err := rand.Read(payload); err != nil {
				atomic.AddUint64(&stats.failureCount, 1)
				continue
			}
			// Make each payload unique so digests never collide
			binary.BigEndian.PutUint64(payload[:8], uint64(id)<<32|seq)
			seq++

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
			if err != nil {
				atomic.AddUint64(&stats.failureCount, 1)
				continue
			}
			req.Header.Set("Content-Type", "application/octet-stream")

			resp, err := client.Do(req)
			if err != nil {
				atomic.AddUint64(&stats.failureCount, 1)
				continue
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if resp.StatusCode == http.StatusAccepted {
				atomic.AddUint64(&stats.successCount, 1)
				atomic.AddUint64(&stats.latencySum, uint64(time.Since(startTime).Microseconds()))
				atomic.AddUint64(&stats.latencyCount, 1)
			} else {
				atomic.AddUint64(&stats.failureCount, 1)
			}
		}
	}
}
