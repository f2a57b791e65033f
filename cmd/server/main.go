package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docqa/internal/app"
	"docqa/internal/config"
	"docqa/internal/telemetry"
)

/*
LEARNING: GRACEFUL SHUTDOWN PATTERN WITH OBSERVABILITY

1. Load configuration
2. Tracing first, so every later operation is traced
3. Build the engine (database, index, model clients, worker pool)
4. Recover state from the previous run, start the workers
5. Serve until SIGINT/SIGTERM, then drain and close in order
*/

func main() {
	log.Println("🚀 Starting docqa...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	shutdownTracing, err := telemetry.Init(telemetry.Options{
		Enabled:     cfg.TracingEnabled,
		ServiceName: "docqa",
		Endpoint:    cfg.JaegerEndpoint,
	})
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		log.Fatalf("❌ Failed to start: %v", err)
	}

	if err := a.Serve(ctx); err != nil {
		log.Printf("❌ Server error: %v", err)
		stop()
		os.Exit(1)
	}

	log.Println("✓ Server shutdown complete")
}
