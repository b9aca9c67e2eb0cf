package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vantagechat/engage/internal/api/router"
	"github.com/vantagechat/engage/internal/app/bootstrap"
	"github.com/vantagechat/engage/internal/config"
	"github.com/vantagechat/engage/internal/engine"
	"github.com/vantagechat/engage/internal/gateway"
	"github.com/vantagechat/engage/internal/observability/metrics"
	"github.com/vantagechat/engage/internal/session"
	"github.com/vantagechat/engage/internal/webchat"
	"github.com/vantagechat/engage/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Default().Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting engage api", "env", cfg.Env, "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewEngagementMetrics(nil)

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}
	store := session.NewStore(redisClient, cfg.SessionTTL, logger)
	transcript := session.NewTranscriptStore(redisClient, cfg.SessionTTL)

	recorder, closeRecorder := bootstrap.BuildEventRecorder(ctx, cfg, logger)
	defer closeRecorder()

	gw := gateway.NewClient(cfg.ChatAPIBaseURL, cfg.ChatAPIKey, cfg.ChatAPITimeout, m, logger)

	var booking engine.BookingAPI
	if cfg.BookingAPIBaseURL != "" {
		booking = engine.NewHTTPBookingClient(cfg.BookingAPIBaseURL, cfg.ChatAPITimeout, logger)
	}

	factory := bootstrap.BuildEngineFactory(bootstrap.EngineDeps{
		Config:  bootstrap.EngineConfig(cfg),
		Store:   store,
		Gateway: gw,
		Booking: booking,
		Events:  recorder,
		Metrics: m,
		Logger:  logger,
	})

	chat := webchat.NewHandler(factory, store, transcript, webchat.WidgetJS, logger)
	defer chat.Close()

	handler := router.New(&router.Config{
		Logger:             logger,
		Webchat:            chat,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WidgetJWTSecret:    cfg.WidgetJWTSecret,
		RateLimitPerSecond: 10,
		RateLimitBurst:     30,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("engage api stopped")
}
