// Package gateway talks to the upstream conversation completion API and
// reconciles every response shape it has ever been observed to produce into
// one canonical struct. Nothing past this package sees a raw backend body.
package gateway

// RequestKind names the intent key attached to an outbound chat request.
type RequestKind string

const (
	KindQuestion           RequestKind = "question"
	KindProactive          RequestKind = "proactive"
	KindFollowup           RequestKind = "followup"
	KindContextual         RequestKind = "contextual"
	KindAutoResponse       RequestKind = "autoResponse"
	KindContextualQuestion RequestKind = "contextualQuestionGeneration"
)

// Bot modes carried on normalized responses.
const (
	BotModeDefault = "assistant"
	BotModeError   = "error"
)

// Onboarding actions the backend may attach to a response.
const (
	OnboardingAskNext   = "ask_next"
	OnboardingConfirm   = "confirm"
	OnboardingCompleted = "completed"
)

// FieldSpec describes one input of a multi-field collection form.
type FieldSpec struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Type        string `json:"type"`
	Placeholder string `json:"placeholder,omitempty"`
	Rationale   string `json:"rationale,omitempty"`
	Required    bool   `json:"required"`
	MinLength   int    `json:"minLength,omitempty"`
}

// NormalizedResponse is the canonical shape every raw backend reply is
// converted into. Every field is always defined: absent strings are empty,
// absent lists are empty or nil per the contract in the normalizer.
type NormalizedResponse struct {
	MainText            string
	Buttons             []string
	EmailPrompt         string
	BotMode             string
	UserEmail           string
	ShowBookingCalendar bool
	BookingType         string
	OnboardingAction    string
	InputFields         []FieldSpec
}

// Fixed degraded-mode responses. The widget must never crash the host page,
// so collaborator failures map onto these instead of propagating.
const (
	connectivityMessage = "I'm having trouble reaching our servers right now. Please try again in a moment."
	authFailedMessage   = "The chat service isn't configured correctly (authentication failed). Please contact the site operator."
)

func errorResponse(text string) *NormalizedResponse {
	return &NormalizedResponse{
		MainText: text,
		Buttons:  []string{},
		BotMode:  BotModeError,
	}
}
