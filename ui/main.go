// Package main provides a web-based monitoring UI for QTask.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
)

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "Redis server address")
	topics := flag.String("topics", "", "Comma-separated logical topics to monitor")
	partitions := flag.Int("partitions", 1, "Total partitions per topic")
	port := flag.Int("port", 8080, "HTTP server port")
	flag.Parse()

	if *topics == "" {
		log.Fatal("at least one topic is required: -topics orders,notifications")
	}
	if *partitions <= 0 {
		log.Fatalf("invalid partition count: %d", *partitions)
	}

	// Create Redis client
	client := redis.NewClient(&redis.Options{
		Addr: *redisAddr,
	})

	// Verify Redis connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis at %s: %v", *redisAddr, err)
	}
	log.Printf("Connected to Redis at %s", *redisAddr)

	// Create inspector and handler
	inspector := NewInspector(client, strings.Split(*topics, ","), *partitions)
	handler := NewHandler(inspector)

	// Setup routes
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	// Start server
	addr := fmt.Sprintf(":%d", *port)
	server := &http.Server{Addr: addr, Handler: mux}

	// Handle shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down...")
		server.Close()
	}()

	log.Printf("QTask Monitor starting on http://localhost%s", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
