package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"counsel-platform/internal/auth"
	"counsel-platform/internal/calls"
	"counsel-platform/internal/config"
	"counsel-platform/internal/gateway"
	"counsel-platform/internal/history"
	"counsel-platform/internal/httpapi"
	"counsel-platform/internal/notify"
	"counsel-platform/internal/presence"
	"counsel-platform/internal/rtc"
	"counsel-platform/internal/signaling"
	"counsel-platform/pkg/logger"
	"counsel-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional .env for local development; real deployments inject env directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Realtime core: registry -> gateway -> coordinator -> router, with the
	// fanout bridging coordinator events back onto live connections.
	registry := presence.NewRegistry(presence.WithStaleAfter(cfg.Call.HeartbeatTimeout))
	gw := gateway.New(registry, log)
	fanout := notify.NewFanout(gw, log)
	histSvc := history.NewService(history.NewPostgresRepo(db), log)

	coord := calls.NewCoordinator(registry, fanout, histSvc, calls.Config{
		RingTimeout:       cfg.Call.RingTimeout,
		ReconnectAttempts: cfg.Call.ReconnectAttempts,
		ReconnectDelay:    cfg.Call.ReconnectDelay,
	}, log)
	sigRouter := signaling.NewRouter(coord, gw, log)

	// All listeners are wired before any connection can open.
	registry.Subscribe(presence.EventFuncs{
		OnPresenceChanged: fanout.PresenceChanged,
		OnReachable:       coord.HandleReachable,
		OnUnreachable:     coord.HandleUnreachable,
	})

	// Reap connections whose heartbeats stopped without a close frame.
	go registry.Run(rootCtx, cfg.Call.HeartbeatInterval, gw.Close)

	rtcHandler := rtc.NewHandler(authManager, gw, registry, coord, sigRouter, rdb, cfg.Call, log)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		authMW: auth.RequireAccessToken(authManager),
		rtc:    rtcHandler,
		handlers: httpapi.Handlers{
			Auth:     authManager,
			Presence: registry,
			Calls:    coord,
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// Close websockets after the listener stops accepting; peers see a normal
	// close frame and can resume against another instance.
	gw.CloseAll()
}
