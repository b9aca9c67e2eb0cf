// Package engine is the conversation-engagement core: it owns the message
// log, decides when to speak to a visitor, what to ask based on page
// content, and drives the appointment-booking dialogue. It renders nothing;
// state transitions are pushed to a Sink the transport layer implements.
package engine

import (
	"context"
	"time"

	"github.com/vantagechat/engage/internal/gateway"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message kinds, used for attribution and transcript replay.
const (
	KindReply              = "reply"
	KindGreeting           = "greeting"
	KindContextualQuestion = "contextual_question"
	KindContextualAnswer   = "contextual_answer"
	KindFollowup           = "followup"
	KindAutoResponse       = "auto_response"
	KindOnboarding         = "onboarding"
	KindBooking            = "booking"
)

// Message is one entry of the session's append-only message log. Owned
// exclusively by the engine; immutable once appended.
type Message struct {
	ID                  string              `json:"id"`
	Role                Role                `json:"role"`
	Content             string              `json:"content"`
	Buttons             []string            `json:"buttons,omitempty"`
	EmailPrompt         string              `json:"email_prompt,omitempty"`
	InputFields         []gateway.FieldSpec `json:"input_fields,omitempty"`
	ShowBookingCalendar bool                `json:"show_booking_calendar,omitempty"`
	BookingType         string              `json:"booking_type,omitempty"`
	OnboardingAction    string              `json:"onboarding_action,omitempty"`
	Kind                string              `json:"kind,omitempty"`
	AutoOpen            bool                `json:"auto_open,omitempty"`
	Speak               bool                `json:"speak,omitempty"`
	Timestamp           time.Time           `json:"timestamp"`
}

// Sink receives state transitions for the presentation layer. Implemented
// by the webchat transport; a push failure is the transport's problem, the
// engine never blocks on it.
type Sink interface {
	PushMessage(sessionID string, msg Message)
	PushTyping(sessionID string)
}

// ChatGateway is the engine's view of the upstream conversation API.
// Satisfied by gateway.Client.
type ChatGateway interface {
	SendChatRequest(ctx context.Context, kind gateway.RequestKind, sessionID, pageURL string, payload map[string]any) *gateway.NormalizedResponse
}

// EventRecorder appends engagement events for lead attribution. Best-effort:
// implementations swallow their own failures. A nil recorder is valid.
type EventRecorder interface {
	Record(ctx context.Context, sessionID, eventType string, payload map[string]any)
}

// UserBookingData is collected once per session and reused across booking
// attempts.
type UserBookingData struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Company string `json:"company"`
}

// BookingSlot is a transient date/time selection. Start and end derive from
// the configured appointment duration.
type BookingSlot struct {
	Date      string // ISO date
	Time      string // HH:MM, visitor-local
	StartTime time.Time
	EndTime   time.Time
}

// Config carries the engine's behavior toggles and timing. Zero values are
// replaced by production defaults in ApplyDefaults.
type Config struct {
	OnboardingOnly      bool
	AutoOpenOnProactive bool
	VoiceEnabled        bool
	AIQuestionsEnabled  bool

	FollowupDelay          time.Duration
	FollowupCap            int
	InactivityThreshold    time.Duration
	AutoResponseDelay      time.Duration
	ScrollStopDelay        time.Duration
	ContextualAskDelay     time.Duration
	ContextualAnswerDelay  time.Duration
	RecentEngagementWindow time.Duration
	MaxSuggestionButtons   int

	BookingDayWindow int
	BookingDuration  time.Duration
	BookingTimezone  string
}

// ApplyDefaults fills unset fields with the production widget's values.
func (c *Config) ApplyDefaults() {
	if c.FollowupDelay <= 0 {
		c.FollowupDelay = 60 * time.Second
	}
	if c.FollowupCap <= 0 {
		c.FollowupCap = 3
	}
	if c.InactivityThreshold <= 0 {
		c.InactivityThreshold = 45 * time.Second
	}
	if c.AutoResponseDelay <= 0 {
		c.AutoResponseDelay = 30 * time.Second
	}
	if c.ScrollStopDelay <= 0 {
		c.ScrollStopDelay = 4 * time.Second
	}
	if c.ContextualAskDelay <= 0 {
		c.ContextualAskDelay = time.Minute
	}
	if c.ContextualAnswerDelay <= 0 {
		c.ContextualAnswerDelay = time.Minute
	}
	if c.RecentEngagementWindow <= 0 {
		c.RecentEngagementWindow = 10 * time.Second
	}
	if c.MaxSuggestionButtons <= 0 {
		c.MaxSuggestionButtons = 3
	}
	if c.BookingDayWindow <= 0 {
		c.BookingDayWindow = 10
	}
	if c.BookingDuration <= 0 {
		c.BookingDuration = 30 * time.Minute
	}
	if c.BookingTimezone == "" {
		c.BookingTimezone = "UTC"
	}
}
