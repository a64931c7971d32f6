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

	"github.com/redis/go-redis/v9"

	"github.com/cwrk-planet/logger/pkg/logger"

	"github.com/cwrk-planet/collab-service/config"
	"github.com/cwrk-planet/collab-service/internal/postgres"
	"github.com/cwrk-planet/collab-service/internal/presence"
	"github.com/cwrk-planet/collab-service/internal/service"
	httpx "github.com/cwrk-planet/collab-service/internal/transport/http"
	"github.com/cwrk-planet/collab-service/internal/transport/ws"
	"github.com/cwrk-planet/collab-service/internal/turnserver"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.Env(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting collab-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version)

	// --- postgres ---
	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer db.Close()

	// --- repos ---
	roomRepo := postgres.NewRoomRepository(db.Pool)
	chatRepo := postgres.NewChatRepository(db.Pool)
	codeRepo := postgres.NewCodeRepository(db.Pool)

	// --- services ---
	roomSvc := service.NewRoomService(roomRepo)
	chatSvc := service.NewChatService(chatRepo)
	codeSvc := service.NewCodeService(codeRepo)

	// --- presence registry ---
	var reg presence.Store
	switch cfg.Presence.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Presence.Redis.Addr,
			Password: cfg.Presence.Redis.Password,
			DB:       cfg.Presence.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		reg = presence.NewRedisStore(rdb)
		slog.Info("presence backend", "backend", "redis", "addr", cfg.Presence.Redis.Addr)
	default:
		reg = presence.NewMemoryStore()
		slog.Info("presence backend", "backend", "memory")
	}

	// --- WS Hub & Server ---
	hub := ws.NewHub()
	wsServer := ws.NewServer(hub, reg, chatSvc, codeSvc)

	// --- HTTP ---
	handler := httpx.NewHandler(roomSvc, chatSvc, codeSvc, reg, cfg.WebRTC.STUNURLs, cfg.WebRTC.TURNURLs)
	router := httpx.NewRouter(handler, wsServer)
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- TURN relay (optional) ---
	if cfg.TURN.Enabled {
		turnSrv, err := turnserver.Start(cfg.TURN)
		if err != nil {
			log.Fatalf("turn: %v", err)
		}
		defer turnSrv.Close()
	}

	// --- run ---
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal", "sig", sig)
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpSrv.Shutdown(ctxShutdown)
	slog.Info("stopped")
}
