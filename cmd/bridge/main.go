package main

import (
	"context"
	"crypto/rand"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kpcyrd/d3xs/internal/bledispatch"
	"github.com/kpcyrd/d3xs/internal/bridgeconfig"
	"github.com/kpcyrd/d3xs/internal/bridgerelay"
	"github.com/kpcyrd/d3xs/internal/metrics"
)

// reconnectBackoff is how long the bridge waits before redialing the
// server after a dropped connection (spec.md §7: "all components
// auto-reconnect with a 3-second backoff on disconnection").
const reconnectBackoff = 3 * time.Second

func main() {
	_ = godotenv.Load()

	path := os.Getenv("D3XS_BRIDGE_CONFIG")
	if path == "" && len(os.Args) > 1 {
		path = os.Args[1]
	}
	if path == "" {
		log.Fatal("bridge: no config path given (set D3XS_BRIDGE_CONFIG or pass as the first argument)")
	}

	cfg, err := bridgeconfig.LoadFromPath(path)
	if err != nil {
		log.Fatalf("bridge: failed to load config: %v", err)
	}
	if cfg.System.URL == "" {
		log.Fatal("bridge: config is missing system.url, nowhere to dial")
	}

	m := metrics.New()

	// A real deployment wires a platform BLE adapter here; none ships in
	// this module (spec.md Non-goal: BLE internals below the
	// read/write-characteristic abstraction).
	central := bledispatch.NewFakeCentral()

	b, err := bridgerelay.New(cfg, rand.Reader, central, m)
	if err != nil {
		log.Fatalf("bridge: failed to initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	for ctx.Err() == nil {
		slog.Info("bridge: connecting", "url", cfg.System.URL)
		if err := b.Run(ctx, cfg.System.URL); err != nil && ctx.Err() == nil {
			slog.Warn("bridge: connection ended, reconnecting", "error", err, "backoff", reconnectBackoff)
			select {
			case <-time.After(reconnectBackoff):
			case <-ctx.Done():
			}
		}
	}
}
