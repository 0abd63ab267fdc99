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

	"phone-gateway/internal/auth"
	"phone-gateway/internal/calls"
	"phone-gateway/internal/config"
	"phone-gateway/internal/gateway"
	"phone-gateway/internal/media"
	"phone-gateway/internal/messaging"
	"phone-gateway/internal/numbers"
	"phone-gateway/internal/realtime"
	"phone-gateway/internal/telephony"
	"phone-gateway/internal/tracing"
	"phone-gateway/internal/usage"
	"phone-gateway/pkg/logger"
	"phone-gateway/pkg/utils"

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

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	tracer := tracing.NewManager(cfg.Tracing, cfg.App.Env, log)
	if err := tracer.Initialize(rootCtx); err != nil {
		log.Error("tracing init failed", "err", err)
		os.Exit(1)
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

	provider, err := telephony.NewHTTPProvider(cfg.Provider, log)
	if err != nil {
		log.Error("provider init failed", "err", err)
		os.Exit(1)
	}

	// Carrier-only deployments run without a signaling endpoint.
	var mediaTransport media.Transport
	if cfg.Media.SignalingURL != "" {
		ws := media.NewWSTransport(cfg.Media.SignalingURL, 0, log)
		defer ws.Close(context.Background())
		mediaTransport = ws
	}

	gw := gateway.New(gateway.Deps{
		Numbers:  numbers.NewPostgresRepo(db),
		Calls:    calls.NewPostgresRepo(db),
		Sessions: calls.NewRedisRegistry(rdb, calls.DefaultSessionTTL),
		Messages: messaging.NewPostgresRepo(db),
		Usage:    usage.NewPostgresRepo(db),
		Provider: provider,
		Media:    mediaTransport,
		Stream:   realtime.NewPGNotifyStream(cfg.PostgresDSN(), cfg.Realtime.Channel, log),
		Log:      log,
	}, gateway.Options{
		DefaultTransport: calls.Transport(cfg.Media.DefaultTransport),
		MaxSessions:      cfg.Media.MaxSessions,
	})
	defer gw.Close()

	if cfg.Realtime.RabbitURL != "" {
		fwd, err := realtime.DialAMQP(cfg.Realtime.RabbitURL, cfg.Realtime.RabbitQueue, log)
		if err != nil {
			log.Error("rabbitmq init failed", "err", err)
			os.Exit(1)
		}
		defer fwd.Close()

		stopForwarding, err := gw.ForwardInbound(rootCtx, fwd, cfg.Realtime.DedupeTTL)
		if err != nil {
			log.Error("inbound forwarding failed", "err", err)
			os.Exit(1)
		}
		defer stopForwarding()
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		Gateway:       gw,
		Auth:          authManager,
		WebhookSecret: cfg.Provider.WebhookSecret,
		Ready: func(ctx context.Context) error {
			if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
	})

	// WriteTimeout stays zero: event streams are long-lived responses.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "default_transport", cfg.Media.DefaultTransport)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Closing the subscriptions ends open event streams, so Shutdown can drain.
	gw.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.Error("tracing shutdown failed", "err", err)
	}
}
