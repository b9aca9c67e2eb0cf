package engine

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vantagechat/engage/internal/gateway"
	"github.com/vantagechat/engage/internal/observability/metrics"
	"github.com/vantagechat/engage/internal/pagecontext"
	"github.com/vantagechat/engage/internal/session"
	"github.com/vantagechat/engage/pkg/logging"
)

// Onboarding dialogue states.
const (
	onboardingAwaitingRegistration = "awaiting_registration"
	onboardingConfirm              = "confirm"
	onboardingCompleted            = "completed"
)

const confirmSubmitButton = "Confirm and Submit"

// confirmPattern heuristically recognizes a confirmation in free text. Used
// only as a degraded-mode fallback when the backend omits onboardingAction;
// see deriveOnboardingAction.
var confirmPattern = regexp.MustCompile(`(?i)\b(confirm|yes|yep|correct|looks good|submit)\b`)

// Engine drives a single widget session. One instance per session; methods
// are safe for the interleaved timer and transport callbacks that share it.
type Engine struct {
	cfg       Config
	sessionID string
	store     *session.Store
	gateway   ChatGateway
	sink      Sink
	sched     *ProactiveScheduler
	events    EventRecorder
	metrics   *metrics.EngagementMetrics
	logger    *logging.Logger
	clock     clock

	mu                     sync.Mutex
	pageURL                string
	messages               []Message
	initialized            bool
	widgetOpen             bool
	hasInteracted          bool
	currentSection         string
	lastAssistantButtons   []string
	lastContextualQuestion string
	onboardingState        string

	booking bookingState
	api     BookingAPI
}

// NewEngine creates the engagement engine for one session.
func NewEngine(cfg Config, sessionID string, store *session.Store, gw ChatGateway, api BookingAPI, sink Sink, events EventRecorder, m *metrics.EngagementMetrics, logger *logging.Logger) *Engine {
	return newEngine(cfg, sessionID, store, gw, api, sink, events, m, logger, realClock{})
}

func newEngine(cfg Config, sessionID string, store *session.Store, gw ChatGateway, api BookingAPI, sink Sink, events EventRecorder, m *metrics.EngagementMetrics, logger *logging.Logger, c clock) *Engine {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		cfg:       cfg,
		sessionID: sessionID,
		store:     store,
		gateway:   gw,
		api:       api,
		sink:      sink,
		events:    events,
		metrics:   m,
		logger:    logger.Component("engine").With("session_id", sessionID),
		sched:     newProactiveScheduler(c, m, logger),
		clock:     c,
		booking:   bookingState{state: BookingIdle},
	}
}

// Scheduler exposes the session's proactive scheduler to the transport
// layer (for activity signals).
func (e *Engine) Scheduler() *ProactiveScheduler { return e.sched }

// Initialize runs once, on first widget open. A session that has never been
// greeted gets exactly one proactive opener: the registration form in
// onboarding-only mode, a plain greeting otherwise.
func (e *Engine) Initialize(ctx context.Context) {
	e.mu.Lock()
	if e.initialized {
		e.mu.Unlock()
		return
	}
	e.initialized = true
	e.widgetOpen = true
	e.mu.Unlock()

	e.recordEvent(ctx, "session_started", map[string]any{"page_url": e.PageURL()})

	if e.store.GetFlag(ctx, e.sessionID, session.FlagGreeted, false) {
		return
	}
	e.store.SetFlag(ctx, e.sessionID, session.FlagGreeted, true)

	if e.cfg.OnboardingOnly {
		e.mu.Lock()
		e.onboardingState = onboardingAwaitingRegistration
		e.mu.Unlock()
		e.SendProactiveMessage(ctx, ProactiveMessage{
			Text:        "Let's get you set up. Fill in the basics below and I'll handle the rest.",
			Kind:        KindOnboarding,
			InputFields: registrationFields(),
		})
		return
	}

	resp := e.gateway.SendChatRequest(ctx, gateway.KindProactive, e.sessionID, e.PageURL(), map[string]any{
		"proactive": "greeting",
	})
	text := resp.MainText
	if text == "" || resp.BotMode == gateway.BotModeError {
		text = "Hi! I'm here if you have any questions about this page."
	}
	e.SendProactiveMessage(ctx, ProactiveMessage{
		Text:    text,
		Buttons: resp.Buttons,
		Kind:    KindGreeting,
	})
}

// SendUserMessage appends the visitor's message, resets activity tracking,
// and dispatches for a reply. Booking sub-states intercept the text first.
func (e *Engine) SendUserMessage(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	e.sched.RecordUserMessage()
	e.store.SetCounter(ctx, e.sessionID, session.CounterFollowup, 0)

	e.appendMessage(Message{Role: RoleUser, Content: text})

	if e.bookingIntercepts(ctx, text) {
		return
	}

	e.sink.PushTyping(e.sessionID)

	prevButtons := e.lastButtons()
	resp := e.gateway.SendChatRequest(ctx, gateway.KindQuestion, e.sessionID, e.PageURL(), map[string]any{
		"question": text,
	})

	msg := Message{
		Role:                RoleAssistant,
		Content:             resp.MainText,
		Buttons:             capButtons(resp.Buttons, e.cfg.MaxSuggestionButtons),
		EmailPrompt:         resp.EmailPrompt,
		InputFields:         resp.InputFields,
		ShowBookingCalendar: resp.ShowBookingCalendar,
		BookingType:         resp.BookingType,
		Kind:                KindReply,
	}

	if e.cfg.OnboardingOnly {
		action, content := e.deriveOnboardingAction(resp, text, prevButtons)
		msg.OnboardingAction = action
		if content != "" {
			msg.Content = content
		}
		e.applyOnboardingAction(action)
	}

	if msg.Content == "" {
		msg.Content = "Sorry, I didn't catch that. Could you rephrase?"
	}

	e.appendMessage(msg)

	if resp.ShowBookingCalendar && resp.BookingType != "" {
		e.StartBookingFlow(ctx, resp.BookingType, resp.UserEmail)
	}

	// The reply delivered; the dwell clock restarts for followups.
	e.sched.ClearUserActive()
	if !e.cfg.OnboardingOnly {
		e.armFollowup(ctx)
	}
}

// ProactiveMessage is the input to SendProactiveMessage.
type ProactiveMessage struct {
	Text        string
	Buttons     []string
	EmailPrompt string
	Kind        string
	InputFields []gateway.FieldSpec
}

// SendProactiveMessage appends an engine-initiated assistant message and
// starts the followup timer. Onboarding-only sessions get a one-time
// greeting prefix and a rationale for any requested detail.
func (e *Engine) SendProactiveMessage(ctx context.Context, pm ProactiveMessage) {
	text := pm.Text
	if e.cfg.OnboardingOnly {
		text = e.enrichOnboardingProactive(ctx, pm)
	}

	msg := Message{
		Role:        RoleAssistant,
		Content:     text,
		Buttons:     capButtons(pm.Buttons, e.cfg.MaxSuggestionButtons),
		EmailPrompt: pm.EmailPrompt,
		InputFields: pm.InputFields,
		Kind:        pm.Kind,
		AutoOpen:    e.cfg.AutoOpenOnProactive,
		// Browsers block unsolicited speech; only speak once the visitor
		// has interacted with the page.
		Speak: e.cfg.VoiceEnabled && e.HasInteracted(),
	}
	e.appendMessage(msg)

	e.store.IncrCounter(ctx, e.sessionID, session.CounterProactive)
	e.metrics.ObserveProactive(pm.Kind)
	e.recordEvent(ctx, "proactive_sent", map[string]any{"kind": pm.Kind})

	if !e.cfg.OnboardingOnly {
		e.armFollowup(ctx)
	}
}

// HandlePageView records a navigation: page URL, unique-page set.
func (e *Engine) HandlePageView(ctx context.Context, view pagecontext.PageView) {
	e.mu.Lock()
	e.pageURL = view.URL
	e.mu.Unlock()
	if path := pagePath(view.URL); path != "" {
		e.store.AddSetMember(ctx, e.sessionID, session.SetVisitedPages, path)
	}
}

// HandleScroll re-arms the scroll-stop timer; when the visitor settles, the
// captured viewport is classified and may yield a contextual question.
func (e *Engine) HandleScroll(ctx context.Context, view pagecontext.PageView) {
	e.mu.Lock()
	e.pageURL = view.URL
	e.mu.Unlock()

	e.sched.ArmScrollStop(e.cfg.ScrollStopDelay, func() {
		snap := pagecontext.ClassifyViewport(view)
		if len(snap.Elements) == 0 {
			return
		}
		e.MaybeAskAboutSection(ctx, snap)
	})
}

// HandleSectionEnter reacts to the visitor entering a named section.
func (e *Engine) HandleSectionEnter(ctx context.Context, view pagecontext.PageView) {
	e.mu.Lock()
	e.currentSection = view.SectionName
	e.pageURL = view.URL
	e.mu.Unlock()

	snap := pagecontext.ClassifyViewport(view)
	e.MaybeAskAboutSection(ctx, snap)
}

// HandleInteraction notes any page interaction; unlocks speech.
func (e *Engine) HandleInteraction() {
	e.mu.Lock()
	e.hasInteracted = true
	e.mu.Unlock()
}

// HandleWidgetActivity notes typing, clicks, or scrolling inside the widget.
func (e *Engine) HandleWidgetActivity() {
	e.HandleInteraction()
	e.sched.MarkUserActive()
}

// HandleVisibilityHidden cancels every pending timer when the tab is hidden.
// A held contextual slot is released: its staged callbacks are gone.
func (e *Engine) HandleVisibilityHidden() {
	e.sched.CancelAll()
	e.sched.ReleaseContextual()
}

// HandleWidgetClosed mirrors visibility-hidden for an explicit close.
func (e *Engine) HandleWidgetClosed() {
	e.mu.Lock()
	e.widgetOpen = false
	e.mu.Unlock()
	e.sched.CancelAll()
	e.sched.ReleaseContextual()
}

// Shutdown stops all timers; the engine must not fire after this returns.
func (e *Engine) Shutdown() {
	e.sched.CancelAll()
	e.sched.ReleaseContextual()
}

// Messages returns a copy of the message log in append order.
func (e *Engine) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// PageURL returns the page the visitor is currently on.
func (e *Engine) PageURL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pageURL
}

// CurrentSection returns the most recently entered named section.
func (e *Engine) CurrentSection() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentSection
}

// HasInteracted reports whether the visitor has interacted with the page.
func (e *Engine) HasInteracted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasInteracted
}

// armFollowup (re)arms the followup timer after an assistant message. The
// fire callback re-checks every guard because the visitor may have resumed
// activity between arming and firing.
func (e *Engine) armFollowup(ctx context.Context) {
	if e.store.GetCounter(ctx, e.sessionID, session.CounterFollowup) >= e.cfg.FollowupCap {
		return
	}
	e.sched.ArmFollowup(e.cfg.FollowupDelay, func() {
		e.fireFollowup(context.WithoutCancel(ctx))
	})
}

func (e *Engine) fireFollowup(ctx context.Context) {
	if e.sched.UserIsActive() {
		return
	}
	if e.sched.TimeSinceLastAction() < e.cfg.InactivityThreshold {
		return
	}
	count := e.store.GetCounter(ctx, e.sessionID, session.CounterFollowup)
	if count >= e.cfg.FollowupCap {
		return
	}

	topic := e.nextFollowupTopic(ctx)
	resp := e.gateway.SendChatRequest(ctx, gateway.KindFollowup, e.sessionID, e.PageURL(), map[string]any{
		"followup": topic.ID,
		"topic":    topic.ID,
	})
	text := resp.MainText
	if text == "" || resp.BotMode == gateway.BotModeError {
		text = topic.Text
	}

	e.store.SetCounter(ctx, e.sessionID, session.CounterFollowup, count+1)
	e.recordEvent(ctx, "followup_sent", map[string]any{"topic": topic.ID, "count": count + 1})
	e.SendProactiveMessage(ctx, ProactiveMessage{
		Text:    text,
		Buttons: capButtons(resp.Buttons, e.cfg.MaxSuggestionButtons),
		Kind:    KindFollowup,
	})
}

// appendMessage adds to the log and pushes the transition to the sink.
func (e *Engine) appendMessage(msg Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = e.clock.Now().UTC()
	}

	e.mu.Lock()
	e.messages = append(e.messages, msg)
	if msg.Role == RoleAssistant {
		e.lastAssistantButtons = msg.Buttons
	}
	e.mu.Unlock()

	e.sink.PushMessage(e.sessionID, msg)
}

func (e *Engine) lastButtons() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAssistantButtons
}

func (e *Engine) recordEvent(ctx context.Context, eventType string, payload map[string]any) {
	if e.events == nil {
		return
	}
	e.events.Record(ctx, e.sessionID, eventType, payload)
}

// deriveOnboardingAction resolves the onboarding step for a reply. The
// explicit backend field wins; when the backend omits it, a confirmation-
// looking user text combined with the previous reply having offered the
// confirm button is treated as completion. Degraded-mode path, kept
// deliberately narrow.
func (e *Engine) deriveOnboardingAction(resp *gateway.NormalizedResponse, userText string, prevButtons []string) (action, content string) {
	if resp.OnboardingAction != "" {
		return resp.OnboardingAction, onboardingFallbackText(resp.OnboardingAction, resp.MainText)
	}
	if confirmPattern.MatchString(userText) && containsButton(prevButtons, confirmSubmitButton) {
		return gateway.OnboardingCompleted, onboardingFallbackText(gateway.OnboardingCompleted, resp.MainText)
	}
	return "", ""
}

func (e *Engine) applyOnboardingAction(action string) {
	if action == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch action {
	case gateway.OnboardingAskNext:
		e.onboardingState = onboardingAwaitingRegistration
	case gateway.OnboardingConfirm:
		e.onboardingState = onboardingConfirm
	case gateway.OnboardingCompleted:
		e.onboardingState = onboardingCompleted
	}
}

// OnboardingState returns the current onboarding dialogue state.
func (e *Engine) OnboardingState() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.onboardingState
}

func onboardingFallbackText(action, mainText string) string {
	if mainText != "" {
		return mainText
	}
	switch action {
	case gateway.OnboardingConfirm:
		return "Here's what I have so far. Does everything look right? Use \"" + confirmSubmitButton + "\" when you're ready."
	case gateway.OnboardingCompleted:
		return "You're all set! Your account has been created."
	default:
		return ""
	}
}

// enrichOnboardingProactive prepends the one-time greeting and explains why
// a detail is being requested.
func (e *Engine) enrichOnboardingProactive(ctx context.Context, pm ProactiveMessage) string {
	text := pm.Text
	if len(pm.InputFields) > 0 {
		var rationales []string
		for _, f := range pm.InputFields {
			if f.Rationale != "" {
				rationales = append(rationales, f.Rationale)
			}
		}
		if len(rationales) > 0 {
			text = text + "\n" + strings.Join(rationales, " ")
		}
	}
	if !e.store.GetFlag(ctx, e.sessionID, "onboarding_greeted", false) {
		e.store.SetFlag(ctx, e.sessionID, "onboarding_greeted", true)
		text = "Welcome! " + text
	}
	return text
}

func registrationFields() []gateway.FieldSpec {
	return []gateway.FieldSpec{
		{Name: "name", Label: "Name", Type: "text", Placeholder: "Jane Doe", Required: true, Rationale: "We use your name to personalize your workspace."},
		{Name: "email", Label: "Email", Type: "email", Placeholder: "jane@company.com", Required: true, Rationale: "Your email is your sign-in and where we send your confirmation."},
		{Name: "password", Label: "Password", Type: "password", Required: true, MinLength: 8, Rationale: "Pick a password of at least 8 characters."},
	}
}

func containsButton(buttons []string, want string) bool {
	for _, b := range buttons {
		if strings.EqualFold(strings.TrimSpace(b), want) {
			return true
		}
	}
	return false
}

func capButtons(buttons []string, max int) []string {
	out := make([]string, 0, max)
	for _, b := range buttons {
		if strings.TrimSpace(b) == "" {
			continue
		}
		out = append(out, b)
		if len(out) == max {
			break
		}
	}
	return out
}

func pagePath(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	if idx := strings.Index(rawURL, "://"); idx >= 0 {
		rest := rawURL[idx+3:]
		if slash := strings.Index(rest, "/"); slash >= 0 {
			path := rest[slash:]
			if q := strings.IndexAny(path, "?#"); q >= 0 {
				path = path[:q]
			}
			return path
		}
		return "/"
	}
	return rawURL
}
