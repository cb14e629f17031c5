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

	"callbridge/internal/config"
	"callbridge/internal/dispatch"
	"callbridge/internal/escalation"
	"callbridge/internal/httpapi"
	"callbridge/internal/messaging"
	"callbridge/internal/records"
	"callbridge/internal/rooms"
	"callbridge/internal/session"
	"callbridge/pkg/logger"
	"callbridge/pkg/utils"

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

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
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

	tokens, err := session.NewTokenManager(cfg.Provider)
	if err != nil {
		log.Error("provider token init failed", "err", err)
		os.Exit(1)
	}

	hub := session.NewHub()
	var provider session.Provider
	if cfg.Provider.URL != "" {
		provider = session.NewHTTPProvider(cfg.Provider.URL, tokens, hub)
	} else {
		// No media server configured; run against the simulator.
		log.Warn("no provider url configured, using simulated provider")
		provider = session.NewSimProvider()
	}

	ctrl := rooms.NewController(provider, rooms.NewRedisRegistry(rdb), cfg.Provider.SIPTrunkID, log)

	var notifier escalation.DriverNotifier = escalation.NopNotifier{}
	if cfg.Provider.DriverURL != "" {
		notifier = escalation.NewHTTPNotifier(cfg.Provider.DriverURL, log)
	}
	calls := escalation.NewService(ctrl, notifier, cfg.Escalation, log)

	var sms messaging.Sender
	if cfg.SMS.AccountSID != "" {
		sms = messaging.Retrying{Sender: messaging.NewTwilioSMS(cfg.SMS)}
	}
	var email messaging.Sender
	if cfg.SMTP.Host != "" {
		email = messaging.Retrying{Sender: messaging.NewSMTPEmail(cfg.SMTP)}
	}

	repo := records.NewPostgresRepo(db)
	coordinator := dispatch.NewCoordinator(calls, sms, email, rdb, repo, cfg.Dispatch, log)

	handlers := httpapi.Handlers{
		Calls:    calls,
		Dispatch: coordinator,
		Reports:  records.NewService(repo),
		Records:  repo,
		Tokens:   tokens,
	}
	legWebhook := session.WebhookHandler{Tokens: tokens, Hub: hub}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, handlers, legWebhook, provider)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Outbound-call requests hold the connection until the call ends.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
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
