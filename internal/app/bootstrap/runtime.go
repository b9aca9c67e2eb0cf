// Package bootstrap wires configuration into runtime dependencies shared by
// the binaries.
package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/vantagechat/engage/internal/config"
	"github.com/vantagechat/engage/internal/engine"
	"github.com/vantagechat/engage/internal/events"
	"github.com/vantagechat/engage/internal/gateway"
	"github.com/vantagechat/engage/internal/observability/metrics"
	"github.com/vantagechat/engage/internal/session"
	"github.com/vantagechat/engage/internal/webchat"
	"github.com/vantagechat/engage/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil; the session
// store then runs in degraded in-memory mode.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// BuildEventRecorder opens the Postgres event trail when DATABASE_URL is set.
// Returns a nil recorder (events disabled) otherwise. The second return
// closes the pool.
func BuildEventRecorder(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (engine.EventRecorder, func()) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, func() {}
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Warn("event trail disabled: database unavailable", "error", err)
		return nil, func() {}
	}
	return events.NewRecorder(pool, logger), pool.Close
}

// EngineConfig maps application configuration onto the engine's knobs.
func EngineConfig(cfg *appconfig.Config) engine.Config {
	return engine.Config{
		OnboardingOnly:      cfg.OnboardingOnly,
		AutoOpenOnProactive: cfg.AutoOpenOnProactive,
		VoiceEnabled:        cfg.VoiceEnabled,
		AIQuestionsEnabled:  cfg.AIQuestionsEnabled,

		FollowupDelay:          cfg.FollowupDelay,
		FollowupCap:            cfg.FollowupCap,
		InactivityThreshold:    cfg.InactivityThreshold,
		AutoResponseDelay:      cfg.AutoResponseDelay,
		ScrollStopDelay:        cfg.ScrollStopDelay,
		ContextualAskDelay:     cfg.ContextualAskDelay,
		ContextualAnswerDelay:  cfg.ContextualAnswerDelay,
		RecentEngagementWindow: cfg.RecentEngagementWindow,
		MaxSuggestionButtons:   cfg.MaxSuggestionButtons,

		BookingDayWindow: cfg.BookingDayWindow,
		BookingDuration:  cfg.BookingDuration,
		BookingTimezone:  cfg.BookingTimezone,
	}
}

// EngineDeps bundles the session-independent collaborators an engine needs.
type EngineDeps struct {
	Config  engine.Config
	Store   *session.Store
	Gateway *gateway.Client
	Booking engine.BookingAPI
	Events  engine.EventRecorder
	Metrics *metrics.EngagementMetrics
	Logger  *logging.Logger
}

// BuildEngineFactory returns the per-session engine constructor the webchat
// transport calls on first contact.
func BuildEngineFactory(deps EngineDeps) webchat.EngineFactory {
	return func(sessionID string, sink engine.Sink) webchat.Engine {
		return engine.NewEngine(
			deps.Config,
			sessionID,
			deps.Store,
			deps.Gateway,
			deps.Booking,
			sink,
			deps.Events,
			deps.Metrics,
			deps.Logger,
		)
	}
}
