package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/kpcyrd/d3xs/internal/config"
	"github.com/kpcyrd/d3xs/internal/relay"
)

func main() {
	_ = godotenv.Load() // dev convenience only; absent in production is fine

	cfg := config.Get()

	bridgeUUID := os.Getenv("D3XS_BRIDGE_UUID")
	if bridgeUUID == "" {
		bridgeUUID = uuid.NewString()
		slog.Warn("D3XS_BRIDGE_UUID not set, generated an ephemeral one for this run", "uuid", bridgeUUID)
	}

	hub := relay.NewHub(bridgeUUID, cfg.Relay.BusCapacity)

	if cfg.Relay.RedisAddr != "" {
		redisCtx, cancelRedis := context.WithCancel(context.Background())
		defer cancelRedis()
		client := redis.NewClient(&redis.Options{Addr: cfg.Relay.RedisAddr})
		hub.EnableRedis(redisCtx, client, "d3xs")
		defer hub.CloseRedis()
		slog.Info("server: redis fan-out enabled", "addr", cfg.Relay.RedisAddr)
	}

	router := relay.NewRouter(hub, cfg.PingInterval())

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	go func() {
		slog.Info("server: listening", "addr", cfg.Server.Addr, "bridge_path", "/bridge/"+bridgeUUID)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: listen failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("server: graceful shutdown failed", "error", err)
	}
}
