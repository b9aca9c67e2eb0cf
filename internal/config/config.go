package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	// Upstream conversation completion API.
	ChatAPIBaseURL string
	ChatAPIKey     string
	ChatAPITimeout time.Duration

	// Appointment booking API.
	BookingAPIBaseURL string
	BookingTimezone   string
	BookingDuration   time.Duration
	BookingDayWindow  int

	// Session persistence.
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	SessionTTL    time.Duration

	// Engagement event log (optional; empty disables the pgx event trail).
	DatabaseURL string

	// Widget embed-token verification.
	WidgetJWTSecret string

	CORSAllowedOrigins []string

	// Behavior toggles.
	OnboardingOnly      bool
	AutoOpenOnProactive bool
	VoiceEnabled        bool
	AIQuestionsEnabled  bool

	// Proactive timing. Defaults mirror the production widget.
	FollowupDelay          time.Duration
	FollowupCap            int
	InactivityThreshold    time.Duration
	AutoResponseDelay      time.Duration
	ScrollStopDelay        time.Duration
	ContextualAskDelay     time.Duration
	ContextualAnswerDelay  time.Duration
	RecentEngagementWindow time.Duration
	MaxSuggestionButtons   int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		ChatAPIBaseURL: getEnv("CHAT_API_BASE_URL", ""),
		ChatAPIKey:     getEnv("CHAT_API_KEY", ""),
		ChatAPITimeout: getEnvAsDuration("CHAT_API_TIMEOUT", 30*time.Second),

		BookingAPIBaseURL: getEnv("BOOKING_API_BASE_URL", ""),
		BookingTimezone:   getEnv("BOOKING_TIMEZONE", "UTC"),
		BookingDuration:   getEnvAsDuration("BOOKING_DURATION", 30*time.Minute),
		BookingDayWindow:  getEnvAsInt("BOOKING_DAY_WINDOW", 10),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		SessionTTL:    getEnvAsDuration("SESSION_TTL", 24*time.Hour),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		WidgetJWTSecret: getEnv("WIDGET_JWT_SECRET", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", "*"),

		OnboardingOnly:      getEnvAsBool("ONBOARDING_ONLY", false),
		AutoOpenOnProactive: getEnvAsBool("AUTO_OPEN_ON_PROACTIVE", true),
		VoiceEnabled:        getEnvAsBool("VOICE_ENABLED", false),
		AIQuestionsEnabled:  getEnvAsBool("AI_QUESTIONS_ENABLED", true),

		FollowupDelay:          getEnvAsDuration("FOLLOWUP_DELAY", 60*time.Second),
		FollowupCap:            getEnvAsInt("FOLLOWUP_CAP", 3),
		InactivityThreshold:    getEnvAsDuration("INACTIVITY_THRESHOLD", 45*time.Second),
		AutoResponseDelay:      getEnvAsDuration("AUTO_RESPONSE_DELAY", 30*time.Second),
		ScrollStopDelay:        getEnvAsDuration("SCROLL_STOP_DELAY", 4*time.Second),
		ContextualAskDelay:     getEnvAsDuration("CONTEXTUAL_ASK_DELAY", time.Minute),
		ContextualAnswerDelay:  getEnvAsDuration("CONTEXTUAL_ANSWER_DELAY", time.Minute),
		RecentEngagementWindow: getEnvAsDuration("RECENT_ENGAGEMENT_WINDOW", 10*time.Second),
		MaxSuggestionButtons:   getEnvAsInt("MAX_SUGGESTION_BUTTONS", 3),
	}
}

// Validate rejects configurations that would misbehave at runtime. Optional
// backends (booking API, Postgres, redis) may be blank; timings may not be
// zero or negative.
func (c *Config) Validate() error {
	if c.Env == "production" && c.ChatAPIBaseURL == "" {
		return fmt.Errorf("CHAT_API_BASE_URL is required in production")
	}
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"CHAT_API_TIMEOUT", c.ChatAPITimeout},
		{"SESSION_TTL", c.SessionTTL},
		{"FOLLOWUP_DELAY", c.FollowupDelay},
		{"AUTO_RESPONSE_DELAY", c.AutoResponseDelay},
		{"SCROLL_STOP_DELAY", c.ScrollStopDelay},
		{"CONTEXTUAL_ASK_DELAY", c.ContextualAskDelay},
		{"CONTEXTUAL_ANSWER_DELAY", c.ContextualAnswerDelay},
		{"RECENT_ENGAGEMENT_WINDOW", c.RecentEngagementWindow},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	if c.FollowupCap < 0 {
		return fmt.Errorf("FOLLOWUP_CAP must not be negative, got %d", c.FollowupCap)
	}
	if c.MaxSuggestionButtons < 1 {
		return fmt.Errorf("MAX_SUGGESTION_BUTTONS must be at least 1, got %d", c.MaxSuggestionButtons)
	}
	if c.BookingDayWindow < 1 {
		return fmt.Errorf("BOOKING_DAY_WINDOW must be at least 1, got %d", c.BookingDayWindow)
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
