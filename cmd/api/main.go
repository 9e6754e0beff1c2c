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

	"telephony-events/internal/auth"
	"telephony-events/internal/broadcast"
	"telephony-events/internal/calls"
	"telephony-events/internal/config"
	"telephony-events/internal/events"
	"telephony-events/internal/httpapi"
	"telephony-events/internal/messages"
	"telephony-events/internal/payload"
	"telephony-events/internal/reporting"
	"telephony-events/internal/tenancy"
	"telephony-events/internal/voicemail"
	"telephony-events/pkg/logger"
	"telephony-events/pkg/store"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)
	rootCtx = logger.With(rootCtx, log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := store.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), store.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := store.OpenRedis(rootCtx, store.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Tenancy and fan-out
	tenants := tenancy.NewService(db, rdb)

	hub := broadcast.NewHub(cfg.Broadcast.HeartbeatInterval)
	go func() {
		if err := hub.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("broadcast hub stopped", "err", err)
		}
	}()
	publisher := broadcast.NewPublisher(hub, tenants)

	// Repositories
	eventStore := events.NewSQLStore(db)
	callRepo := calls.NewSQLRepository(db)
	voicemailRepo := voicemail.NewSQLRepository(db)
	messageRepo := messages.NewSQLRepository(db)
	reports := reporting.NewService(reporting.NewSQLRepo(db))

	limits := payload.Limits{
		MaxTextLen:  cfg.Sanitizer.MaxTextLen,
		MaxArrayLen: cfg.Sanitizer.MaxArrayLen,
		MaxMapKeys:  cfg.Sanitizer.MaxMapKeys,
		MaxDepth:    cfg.Sanitizer.MaxDepth,
	}

	// Event handlers
	registry := events.NewRegistry()
	calls.NewHandlers(callRepo, publisher, limits).Register(registry)
	voicemail.NewHandler(voicemailRepo, publisher, limits, 0).Register(registry)
	messages.NewHandler(messageRepo, publisher, limits).Register(registry)

	processor := events.NewProcessor(eventStore, registry,
		cfg.Processor.PollInterval, cfg.Processor.BatchSize)
	go func() {
		if err := processor.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("event processor stopped", "err", err)
		}
	}()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:         authManager,
		Tenants:      tenants,
		Events:       eventStore,
		Calls:        callRepo,
		Voicemails:   voicemailRepo,
		Messages:     messageRepo,
		Reports:      reports,
		WebhookToken: cfg.Provider.WebhookToken,
	}
	subscribe := httpapi.NewSubscribeHandler(authManager, hub, cfg.Broadcast)

	registerRoutes(r, db, h, subscribe, auth.RequireAccessToken(authManager))

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

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
