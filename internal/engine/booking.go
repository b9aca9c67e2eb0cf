package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// BookingState is the booking sub-state-machine's position.
type BookingState string

const (
	BookingIdle            BookingState = "idle"
	BookingCollectingEmail BookingState = "collecting_email"
	BookingSelectingDate   BookingState = "selecting_date"
	BookingSelectingTime   BookingState = "selecting_time"
	BookingSubmitting      BookingState = "submitting"
	BookingConfirmed       BookingState = "confirmed"
	BookingFailed          BookingState = "failed"
)

// Booking failure templates (spec'd taxonomy: validation, conflict,
// invalid email, generic).
const (
	bookingErrConflict   = "It looks like that time was just taken. Could you pick another slot?"
	bookingErrValidation = "Something about those details didn't check out — mind reviewing them and trying again?"
	bookingErrEmail      = "That email address didn't go through. Could you double-check it?"
	bookingErrGeneric    = "Sorry — I couldn't complete the booking just now. Please try again in a moment."
)

// Shown when no booking backend is configured. The flow never starts.
const bookingUnavailable = "Booking isn't available right now — leave your question here and we'll follow up."

var (
	isoDatePattern = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	clockPattern   = regexp.MustCompile(`\b(\d{1,2}:\d{2})\b`)
)

type bookingState struct {
	state        BookingState
	bookingType  string
	rescheduling bool
	bookingID    string
	user         UserBookingData
	selectedDate string
	inProgress   bool
}

// BookingRequest is the create payload for the booking endpoint.
type BookingRequest struct {
	PreferredDate string `json:"preferredDate"`
	PreferredTime string `json:"preferredTime"`
	BookingType   string `json:"bookingType"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Company       string `json:"company"`
	Source        string `json:"source"`
	SessionID     string `json:"sessionId"`
	PageURL       string `json:"pageUrl"`
	Duration      int    `json:"duration"` // minutes
	Timezone      string `json:"timezone"`
}

// RescheduleRequest moves an existing booking.
type RescheduleRequest struct {
	BookingID     string `json:"bookingId"`
	PreferredDate string `json:"preferredDate"`
	PreferredTime string `json:"preferredTime"`
	Timezone      string `json:"timezone"`
}

// BookingConfirmation is the success payload.
type BookingConfirmation struct {
	ConfirmationNumber string `json:"confirmationNumber"`
	BookingID          string `json:"bookingId"`
}

// BookingAPI is the engine's view of the external booking endpoint.
type BookingAPI interface {
	Create(ctx context.Context, req BookingRequest) (*BookingConfirmation, error)
	Reschedule(ctx context.Context, req RescheduleRequest) (*BookingConfirmation, error)
	Cancel(ctx context.Context, bookingID string) error
}

// looksLikeEmail accepts any string with an @ followed, later, by a dot
// with characters on both sides. Looser than RFC validation.
func looksLikeEmail(s string) bool {
	s = strings.TrimSpace(s)
	at := strings.Index(s, "@")
	if at <= 0 {
		return false
	}
	dot := strings.LastIndex(s, ".")
	return dot > at+1 && dot < len(s)-1
}

// BookingFlowState reports the current sub-state.
func (e *Engine) BookingFlowState() BookingState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.booking.state == "" {
		return BookingIdle
	}
	return e.booking.state
}

// StartBookingFlow enters the booking dialogue, triggered by a message
// carrying showBookingCalendar. A known email skips straight to date
// selection; email is mandatory before any slot submission.
func (e *Engine) StartBookingFlow(ctx context.Context, bookingType, knownEmail string) {
	if e.api == nil {
		e.appendMessage(Message{Role: RoleAssistant, Content: bookingUnavailable, Kind: KindBooking})
		return
	}
	e.mu.Lock()
	e.booking = bookingState{state: BookingCollectingEmail, bookingType: bookingType, user: e.booking.user}
	if knownEmail != "" && looksLikeEmail(knownEmail) {
		e.booking.user.Email = knownEmail
	}
	hasEmail := e.booking.user.Email != ""
	if hasEmail {
		e.booking.state = BookingSelectingDate
	}
	e.mu.Unlock()

	if hasEmail {
		e.pushDateChoices(ctx)
		return
	}
	e.appendMessage(Message{
		Role:        RoleAssistant,
		Content:     "Happy to set that up. What email should the invite go to?",
		EmailPrompt: "Your email address",
		Kind:        KindBooking,
	})
}

// StartRescheduleFlow enters the reschedule variant for an existing booking.
func (e *Engine) StartRescheduleFlow(ctx context.Context, bookingID, bookingType string) {
	if e.api == nil {
		e.appendMessage(Message{Role: RoleAssistant, Content: bookingUnavailable, Kind: KindBooking})
		return
	}
	e.mu.Lock()
	user := e.booking.user
	e.booking = bookingState{
		state:        BookingSelectingDate,
		bookingType:  bookingType,
		rescheduling: true,
		bookingID:    bookingID,
		user:         user,
	}
	e.mu.Unlock()
	e.pushDateChoices(ctx)
}

// bookingIntercepts routes user text into the active booking sub-state.
// Returns true when the text was consumed by the flow.
func (e *Engine) bookingIntercepts(ctx context.Context, text string) bool {
	switch e.BookingFlowState() {
	case BookingCollectingEmail:
		e.submitBookingEmail(ctx, text)
		return true
	case BookingSelectingDate:
		if m := isoDatePattern.FindString(text); m != "" {
			e.selectBookingDate(ctx, m)
			return true
		}
		return false
	case BookingSelectingTime:
		if m := clockPattern.FindString(text); m != "" {
			e.selectBookingTime(ctx, m)
			return true
		}
		return false
	case BookingSubmitting:
		// Re-entrant input while a submission is in flight is dropped.
		return true
	default:
		return false
	}
}

func (e *Engine) submitBookingEmail(ctx context.Context, text string) {
	if !looksLikeEmail(text) {
		e.appendMessage(Message{
			Role:        RoleAssistant,
			Content:     "That doesn't look like an email address — could you try again?",
			EmailPrompt: "Your email address",
			Kind:        KindBooking,
		})
		return
	}

	e.mu.Lock()
	e.booking.user.Email = strings.TrimSpace(text)
	e.booking.state = BookingSelectingDate
	e.mu.Unlock()

	e.pushDateChoices(ctx)
}

func (e *Engine) pushDateChoices(ctx context.Context) {
	days := availableDays(e.clock.Now(), e.cfg.BookingDayWindow, e.bookingLocation())
	e.appendMessage(Message{
		Role:    RoleAssistant,
		Content: "Great — which day works for you?",
		Buttons: days,
		Kind:    KindBooking,
	})
}

func (e *Engine) selectBookingDate(ctx context.Context, dateISO string) {
	days := availableDays(e.clock.Now(), e.cfg.BookingDayWindow, e.bookingLocation())
	valid := false
	for _, d := range days {
		if d == dateISO {
			valid = true
			break
		}
	}
	if !valid {
		e.appendMessage(Message{
			Role:    RoleAssistant,
			Content: "That day isn't available — here are the options again.",
			Buttons: days,
			Kind:    KindBooking,
		})
		return
	}

	e.mu.Lock()
	e.booking.selectedDate = dateISO
	e.booking.state = BookingSelectingTime
	e.mu.Unlock()

	bands := timeBands(slotsForDay())
	var lines []string
	var buttons []string
	for _, band := range bands {
		if len(band.Times) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", band.Name, strings.Join(band.Times, ", ")))
		buttons = append(buttons, band.Times[0])
	}
	e.appendMessage(Message{
		Role:    RoleAssistant,
		Content: "Here's what's open on " + dateISO + ":\n" + strings.Join(lines, "\n") + "\nJust tell me a time (like 10:30).",
		Buttons: capButtons(buttons, e.cfg.MaxSuggestionButtons),
		Kind:    KindBooking,
	})
}

func (e *Engine) selectBookingTime(ctx context.Context, hhmm string) {
	valid := false
	for _, s := range slotsForDay() {
		if s == hhmm {
			valid = true
			break
		}
	}
	if !valid {
		e.appendMessage(Message{
			Role:    RoleAssistant,
			Content: "That time isn't on the list — could you pick one of the open slots?",
			Kind:    KindBooking,
		})
		return
	}

	e.mu.Lock()
	if e.booking.inProgress {
		// One in-flight submission at a time; repeat clicks are ignored.
		e.mu.Unlock()
		return
	}
	e.booking.inProgress = true
	e.booking.state = BookingSubmitting
	date := e.booking.selectedDate
	e.mu.Unlock()

	e.submitBooking(ctx, date, hhmm)
}

func (e *Engine) submitBooking(ctx context.Context, dateISO, hhmm string) {
	defer func() {
		e.mu.Lock()
		e.booking.inProgress = false
		e.mu.Unlock()
	}()

	slot, err := buildSlot(dateISO, hhmm, e.bookingLocation(), e.cfg.BookingDuration)
	if err != nil {
		e.bookingFailed(ctx, bookingErrValidation)
		return
	}

	e.mu.Lock()
	b := e.booking
	e.mu.Unlock()

	var confirmation *BookingConfirmation
	var apiErr error
	if b.rescheduling && b.bookingID != "" {
		confirmation, apiErr = e.api.Reschedule(ctx, RescheduleRequest{
			BookingID:     b.bookingID,
			PreferredDate: slot.Date,
			PreferredTime: slot.Time,
			Timezone:      e.cfg.BookingTimezone,
		})
	} else {
		confirmation, apiErr = e.api.Create(ctx, BookingRequest{
			PreferredDate: slot.Date,
			PreferredTime: slot.Time,
			BookingType:   b.bookingType,
			Name:          b.user.Name,
			Email:         b.user.Email,
			Phone:         b.user.Phone,
			Company:       b.user.Company,
			Source:        "widget",
			SessionID:     e.sessionID,
			PageURL:       e.PageURL(),
			Duration:      int(e.cfg.BookingDuration.Minutes()),
			Timezone:      e.cfg.BookingTimezone,
		})
	}

	operation := "create"
	if b.rescheduling {
		operation = "reschedule"
	}

	if apiErr != nil {
		e.metrics.ObserveBooking(operation, "failed")
		e.recordEvent(ctx, "booking_failed", map[string]any{"operation": operation})
		e.notifyIntelligence(ctx, map[string]any{"booking": "failed", "bookingType": b.bookingType})
		e.bookingFailed(ctx, mapBookingError(apiErr))
		return
	}

	e.mu.Lock()
	e.booking.state = BookingConfirmed
	e.booking.rescheduling = false
	e.booking.bookingID = ""
	e.mu.Unlock()

	content := fmt.Sprintf("You're booked for %s at %s.", slot.Date, slot.Time)
	if confirmation != nil && confirmation.ConfirmationNumber != "" {
		content += " Your confirmation number is " + confirmation.ConfirmationNumber + "."
	}
	e.appendMessage(Message{Role: RoleAssistant, Content: content, Kind: KindBooking})

	e.metrics.ObserveBooking(operation, "confirmed")
	e.recordEvent(ctx, "booking_confirmed", map[string]any{
		"operation": operation,
		"date":      slot.Date,
		"time":      slot.Time,
	})
	e.notifyIntelligence(ctx, map[string]any{
		"booking":     "confirmed",
		"bookingType": b.bookingType,
		"email":       b.user.Email,
	})
}

func (e *Engine) bookingFailed(ctx context.Context, userMessage string) {
	e.mu.Lock()
	e.booking.state = BookingFailed
	e.mu.Unlock()
	e.appendMessage(Message{Role: RoleAssistant, Content: userMessage, Kind: KindBooking})
}

// CancelBooking deletes an existing booking by id.
func (e *Engine) CancelBooking(ctx context.Context, bookingID string) {
	if e.api == nil {
		e.appendMessage(Message{Role: RoleAssistant, Content: bookingUnavailable, Kind: KindBooking})
		return
	}
	if err := e.api.Cancel(ctx, bookingID); err != nil {
		e.metrics.ObserveBooking("cancel", "failed")
		e.appendMessage(Message{
			Role:    RoleAssistant,
			Content: "I couldn't cancel that booking — please try again or reply here and I'll sort it out.",
			Kind:    KindBooking,
		})
		return
	}
	e.metrics.ObserveBooking("cancel", "confirmed")
	e.recordEvent(ctx, "booking_cancelled", map[string]any{"booking_id": bookingID})
	e.appendMessage(Message{
		Role:    RoleAssistant,
		Content: "Done — your booking is cancelled. Want to pick a new time?",
		Kind:    KindBooking,
	})
}

// notifyIntelligence fires the best-effort lead-attribution update.
func (e *Engine) notifyIntelligence(ctx context.Context, payload map[string]any) {
	notifier, ok := e.gateway.(interface {
		SendIntelligenceUpdate(ctx context.Context, sessionID string, payload map[string]any) error
	})
	if !ok {
		return
	}
	if err := notifier.SendIntelligenceUpdate(ctx, e.sessionID, payload); err != nil {
		e.logger.Debug("intelligence update failed", "error", err)
	}
}

func (e *Engine) bookingLocation() *time.Location {
	loc, err := time.LoadLocation(e.cfg.BookingTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// mapBookingError translates an API failure into one of the user-facing
// templates. Unknown failures get the generic apology.
func mapBookingError(err error) string {
	var apiErr *BookingAPIError
	msg := strings.ToLower(err.Error())
	if errors.As(err, &apiErr) {
		msg = strings.ToLower(apiErr.Message)
		switch {
		case apiErr.Status == 409 || strings.Contains(msg, "no longer available") || strings.Contains(msg, "conflict"):
			return bookingErrConflict
		case strings.Contains(msg, "email"):
			return bookingErrEmail
		case apiErr.Status == 400 || strings.Contains(msg, "invalid") || strings.Contains(msg, "validation"):
			return bookingErrValidation
		}
		return bookingErrGeneric
	}
	switch {
	case strings.Contains(msg, "no longer available"):
		return bookingErrConflict
	case strings.Contains(msg, "email"):
		return bookingErrEmail
	}
	return bookingErrGeneric
}

// availableDays lists the next N weekdays as ISO dates, starting tomorrow.
func availableDays(now time.Time, window int, loc *time.Location) []string {
	days := make([]string, 0, window)
	d := now.In(loc)
	for len(days) < window {
		d = d.AddDate(0, 0, 1)
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		days = append(days, d.Format("2006-01-02"))
	}
	return days
}

// slotsForDay is the fixed half-hour grid offered for any bookable day.
func slotsForDay() []string {
	var out []string
	for hour := 9; hour <= 17; hour++ {
		out = append(out, fmt.Sprintf("%02d:00", hour), fmt.Sprintf("%02d:30", hour))
	}
	return out
}

type timeBand struct {
	Name  string
	Times []string
}

// timeBands groups a day's slots into Morning/Afternoon/Evening by
// hour-of-day. Only non-empty bands are returned.
func timeBands(slots []string) []timeBand {
	bands := []timeBand{{Name: "Morning"}, {Name: "Afternoon"}, {Name: "Evening"}}
	for _, s := range slots {
		var hour int
		if _, err := fmt.Sscanf(s, "%d:", &hour); err != nil {
			continue
		}
		switch {
		case hour < 12:
			bands[0].Times = append(bands[0].Times, s)
		case hour < 17:
			bands[1].Times = append(bands[1].Times, s)
		default:
			bands[2].Times = append(bands[2].Times, s)
		}
	}
	out := bands[:0]
	for _, b := range bands {
		if len(b.Times) > 0 {
			out = append(out, b)
		}
	}
	return out
}

// buildSlot derives start/end from the selection and appointment duration.
func buildSlot(dateISO, hhmm string, loc *time.Location, duration time.Duration) (BookingSlot, error) {
	start, err := time.ParseInLocation("2006-01-02 15:04", dateISO+" "+hhmm, loc)
	if err != nil {
		return BookingSlot{}, fmt.Errorf("engine: invalid slot %s %s: %w", dateISO, hhmm, err)
	}
	return BookingSlot{
		Date:      dateISO,
		Time:      hhmm,
		StartTime: start,
		EndTime:   start.Add(duration),
	}, nil
}
