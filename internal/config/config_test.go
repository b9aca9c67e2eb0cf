package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.FollowupCap != 3 {
		t.Errorf("expected followup cap 3, got %d", cfg.FollowupCap)
	}
	if cfg.ContextualAskDelay != time.Minute {
		t.Errorf("expected 1m contextual ask delay, got %s", cfg.ContextualAskDelay)
	}
	if cfg.BookingDuration != 30*time.Minute {
		t.Errorf("expected 30m booking duration, got %s", cfg.BookingDuration)
	}
	if cfg.MaxSuggestionButtons != 3 {
		t.Errorf("expected 3 suggestion buttons, got %d", cfg.MaxSuggestionButtons)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("FOLLOWUP_DELAY", "90s")
	t.Setenv("ONBOARDING_ONLY", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg := Load()

	if cfg.Port != "9999" {
		t.Errorf("expected port override, got %s", cfg.Port)
	}
	if cfg.FollowupDelay != 90*time.Second {
		t.Errorf("expected 90s followup delay, got %s", cfg.FollowupDelay)
	}
	if !cfg.OnboardingOnly {
		t.Error("expected onboarding-only override")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins: %#v", cfg.CORSAllowedOrigins)
	}
}

func TestValidate(t *testing.T) {
	if err := Load().Validate(); err != nil {
		t.Fatalf("defaults should validate, got %v", err)
	}

	t.Run("production requires chat api", func(t *testing.T) {
		cfg := Load()
		cfg.Env = "production"
		cfg.ChatAPIBaseURL = ""
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for missing CHAT_API_BASE_URL in production")
		}
	})

	t.Run("rejects non-positive delay", func(t *testing.T) {
		cfg := Load()
		cfg.FollowupDelay = 0
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for zero FOLLOWUP_DELAY")
		}
	})

	t.Run("rejects zero suggestion buttons", func(t *testing.T) {
		cfg := Load()
		cfg.MaxSuggestionButtons = 0
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for zero MAX_SUGGESTION_BUTTONS")
		}
	})
}

func TestGetEnvAsDurationInvalid(t *testing.T) {
	t.Setenv("SCROLL_STOP_DELAY", "not-a-duration")

	cfg := Load()
	if cfg.ScrollStopDelay != 4*time.Second {
		t.Errorf("expected fallback to default, got %s", cfg.ScrollStopDelay)
	}
}
