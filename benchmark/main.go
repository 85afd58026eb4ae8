// Benchmark driver for QTask publish and consume throughput.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/hemant/qtask"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

func main() {
	redisHost := flag.String("redis-host", "localhost", "Redis server host")
	redisPort := flag.Int("redis-port", 6379, "Redis server port")
	partitions := flag.Int("partitions", 8, "Total partitions per topic")
	numMessages := flag.Int("n", 10000, "Number of messages to publish")
	publishRate := flag.Float64("rate", 0, "Publish rate limit in msg/s (0 = unlimited)")
	flag.Parse()

	clearRedis(*redisHost, *redisPort)

	qt, err := qtask.New(qtask.Config{
		RedisHost:       *redisHost,
		RedisPort:       *redisPort,
		TotalPartitions: *partitions,
		LogLevel:        qtask.WarnLevel,
	})
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	if err := qt.Connect(ctx); err != nil {
		log.Fatal(err)
	}
	defer qt.Shutdown()

	benchmarkPublish(ctx, qt, *numMessages, *publishRate)
	benchmarkConsume(ctx, qt, *numMessages)
}

func clearRedis(host string, port int) {
	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", host, port),
	})
	defer client.Close()
	client.FlushAll(context.Background())
}

func benchmarkPublish(ctx context.Context, qt *qtask.QTask, n int, rps float64) {
	log.Printf("\n=== PUBLISH BENCHMARK ===")
	log.Printf("Messages: %d, Rate limit: %.0f msg/s", n, rps)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}

	start := time.Now()
	for i := 0; i < n; i++ {
		if err := limiter.Wait(ctx); err != nil {
			log.Fatal(err)
		}
		key := fmt.Sprintf("key-%d", i)
		if _, err := qt.Publish(ctx, "bench", key, map[string]string{"seq": fmt.Sprint(i)}); err != nil {
			log.Fatalf("publish %d failed: %v", i, err)
		}
	}
	elapsed := time.Since(start)
	log.Printf("Published %d messages in %v (%.0f msg/s)", n, elapsed, float64(n)/elapsed.Seconds())
}

func benchmarkConsume(ctx context.Context, qt *qtask.QTask, n int) {
	log.Printf("\n=== CONSUME BENCHMARK ===")

	var handled int64
	done := make(chan struct{})
	start := time.Now()

	err := qt.Register(qtask.RegisterParams{
		Topic: "bench",
		Group: "bench",
		Handler: qtask.HandlerFunc(func(ctx context.Context, m *qtask.Message) error {
			if atomic.AddInt64(&handled, 1) == int64(n) {
				close(done)
			}
			return nil
		}),
		BlockTimeout: 500 * time.Millisecond,
	})
	if err != nil {
		log.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Minute):
		log.Fatalf("timed out: handled %d of %d", atomic.LoadInt64(&handled), n)
	}
	elapsed := time.Since(start)
	log.Printf("Consumed %d messages in %v (%.0f msg/s)", n, elapsed, float64(n)/elapsed.Seconds())
}
