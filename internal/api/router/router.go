// Package router assembles the HTTP surface: widget transport endpoints,
// health, metrics, and the embeddable script.
package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/vantagechat/engage/internal/http/middleware"
	"github.com/vantagechat/engage/internal/webchat"
	"github.com/vantagechat/engage/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	Webchat            *webchat.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// WidgetJWTSecret, when set, gates the chat API behind signed widget
	// tokens. Empty means the widget endpoints are public.
	WidgetJWTSecret string

	// Per-IP rate limit for the chat API. Zero disables limiting.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/healthz", healthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	if cfg.Webchat != nil {
		r.Get("/widget.js", cfg.Webchat.HandleWidgetJS)

		r.Route("/api/v1/chat", func(chat chi.Router) {
			if cfg.RateLimitPerSecond > 0 {
				chat.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
			}
			if cfg.WidgetJWTSecret != "" {
				chat.Use(httpmiddleware.WidgetJWT(cfg.WidgetJWTSecret))
			}
			chat.Get("/ws", cfg.Webchat.HandleWebSocket)
			chat.Post("/message", cfg.Webchat.HandleMessage)
			chat.Post("/event", cfg.Webchat.HandleEvent)
			chat.Get("/history", cfg.Webchat.HandleHistory)
		})
	}

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
