package gateway

import (
	"encoding/json"
	"strings"
)

// rawResponse captures every field name the backend has been seen to use.
// The primary text has drifted across mainText/answer/text/message over the
// backend's lifetime; coalescing happens in exactly one place, here.
type rawResponse struct {
	MainText            *string         `json:"mainText"`
	Answer              *string         `json:"answer"`
	Text                *string         `json:"text"`
	Message             *string         `json:"message"`
	Buttons             []string        `json:"buttons"`
	EmailPrompt         *string         `json:"emailPrompt"`
	BotMode             *string         `json:"botMode"`
	UserEmail           *string         `json:"userEmail"`
	ShowBookingCalendar *bool           `json:"showBookingCalendar"`
	BookingType         *string         `json:"bookingType"`
	OnboardingAction    *string         `json:"onboardingAction"`
	InputFields         json.RawMessage `json:"inputFields"`
}

// Normalize converts any response body into the canonical shape. Total: it
// is defined for every input and never returns nil or panics. Non-JSON
// bodies become the primary text verbatim.
func Normalize(body []byte) *NormalizedResponse {
	out := &NormalizedResponse{
		Buttons: []string{},
		BotMode: BotModeDefault,
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return out
	}

	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		out.MainText = trimmed
		return out
	}

	// First present wins: mainText ?? answer ?? text ?? message.
	for _, candidate := range []*string{raw.MainText, raw.Answer, raw.Text, raw.Message} {
		if candidate != nil {
			out.MainText = *candidate
			break
		}
	}

	for _, b := range raw.Buttons {
		if strings.TrimSpace(b) == "" {
			continue
		}
		out.Buttons = append(out.Buttons, b)
	}

	if raw.EmailPrompt != nil {
		out.EmailPrompt = *raw.EmailPrompt
	}
	if raw.BotMode != nil && strings.TrimSpace(*raw.BotMode) != "" {
		out.BotMode = *raw.BotMode
	}
	if raw.UserEmail != nil {
		out.UserEmail = *raw.UserEmail
	}
	if raw.ShowBookingCalendar != nil {
		out.ShowBookingCalendar = *raw.ShowBookingCalendar
	}
	if raw.BookingType != nil {
		out.BookingType = *raw.BookingType
	}
	if raw.OnboardingAction != nil {
		switch *raw.OnboardingAction {
		case OnboardingAskNext, OnboardingConfirm, OnboardingCompleted:
			out.OnboardingAction = *raw.OnboardingAction
		}
	}

	if len(raw.InputFields) > 0 {
		var fields []FieldSpec
		if err := json.Unmarshal(raw.InputFields, &fields); err == nil && len(fields) > 0 {
			out.InputFields = fields
		}
	}

	return out
}
