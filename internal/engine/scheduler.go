package engine

import (
	"sync"
	"time"

	"github.com/vantagechat/engage/internal/observability/metrics"
	"github.com/vantagechat/engage/pkg/logging"
)

// Timer slot names, used for logging and metrics labels.
const (
	timerFollowup     = "followup"
	timerAutoResponse = "auto_response"
	timerScrollStop   = "scroll_stop"
	timerContextual   = "contextual"
)

// ProactiveScheduler owns every deferred callback the engine uses and the
// single mutual-exclusion flag that keeps independently-triggered proactive
// pipelines from overlapping. All methods are safe for concurrent use and
// every cancel is idempotent.
type ProactiveScheduler struct {
	clock   clock
	logger  *logging.Logger
	metrics *metrics.EngagementMetrics

	mu                sync.Mutex
	followupTimer     timerHandle
	autoResponseTimer timerHandle
	scrollStopTimer   timerHandle
	contextualTimer   timerHandle

	contextualInFlight bool
	userActive         bool
	lastUserAction     time.Time
	lastUserMessage    time.Time
}

// NewProactiveScheduler creates a scheduler on the real clock.
func NewProactiveScheduler(m *metrics.EngagementMetrics, logger *logging.Logger) *ProactiveScheduler {
	return newProactiveScheduler(realClock{}, m, logger)
}

func newProactiveScheduler(c clock, m *metrics.EngagementMetrics, logger *logging.Logger) *ProactiveScheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ProactiveScheduler{
		clock:   c,
		logger:  logger.Component("scheduler"),
		metrics: m,
	}
}

// MarkUserActive records visitor activity inside the widget (typing, button
// click, widget scroll) and cancels the pending auto-response.
func (s *ProactiveScheduler) MarkUserActive() {
	s.mu.Lock()
	s.userActive = true
	s.lastUserAction = s.clock.Now()
	s.mu.Unlock()
	s.CancelAutoResponse()
}

// RecordUserMessage marks the explicit reset point of a new user message:
// every pending timer is cleared and activity tracking restarts. A staged
// contextual question that has not fired yet is abandoned and its slot
// released; the visitor is talking to us, so the reply owns the turn.
func (s *ProactiveScheduler) RecordUserMessage() {
	s.mu.Lock()
	s.lastUserMessage = s.clock.Now()
	s.lastUserAction = s.lastUserMessage
	s.userActive = true
	s.mu.Unlock()
	s.CancelFollowup()
	s.CancelAutoResponse()
	s.CancelScrollStop()
	if s.cancel(&s.contextualTimer, timerContextual) {
		s.ReleaseContextual()
	}
}

// ClearUserActive flips the activity flag back off; called when a reply has
// been delivered and the dwell clock starts again.
func (s *ProactiveScheduler) ClearUserActive() {
	s.mu.Lock()
	s.userActive = false
	s.mu.Unlock()
}

// UserIsActive reports whether the visitor has been active since the last
// clear.
func (s *ProactiveScheduler) UserIsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userActive
}

// TimeSinceLastAction reports the dwell time since the last widget activity.
func (s *ProactiveScheduler) TimeSinceLastAction() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastUserAction.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return s.clock.Now().Sub(s.lastUserAction)
}

// TimeSinceLastUserMessage reports how long ago the visitor last sent a
// message; a very large value when they never have.
func (s *ProactiveScheduler) TimeSinceLastUserMessage() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastUserMessage.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return s.clock.Now().Sub(s.lastUserMessage)
}

// TryAcquireContextual claims the session-wide contextual-message slot.
// Exactly one contextual pipeline (AI generation, section-enter, or
// scroll-stop) may hold it; every other trigger must no-op until release.
func (s *ProactiveScheduler) TryAcquireContextual() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contextualInFlight {
		return false
	}
	s.contextualInFlight = true
	return true
}

// ReleaseContextual frees the contextual slot. Safe to call when not held.
func (s *ProactiveScheduler) ReleaseContextual() {
	s.mu.Lock()
	s.contextualInFlight = false
	s.mu.Unlock()
}

// ContextualInFlight reports whether a contextual pipeline holds the slot.
func (s *ProactiveScheduler) ContextualInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contextualInFlight
}

// ArmFollowup (re)arms the followup timer. The callback fires after d; the
// caller re-checks its guards on fire because activity can resume between
// arming and firing.
func (s *ProactiveScheduler) ArmFollowup(d time.Duration, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(&s.followupTimer)
	s.followupTimer = s.clock.AfterFunc(d, fire)
}

// CancelFollowup clears the followup timer. No-op when not armed.
func (s *ProactiveScheduler) CancelFollowup() {
	s.cancel(&s.followupTimer, timerFollowup)
}

// ArmAutoResponse arms the auto-response timer after a contextual question
// carried suggestion buttons.
func (s *ProactiveScheduler) ArmAutoResponse(d time.Duration, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(&s.autoResponseTimer)
	s.autoResponseTimer = s.clock.AfterFunc(d, fire)
}

// CancelAutoResponse clears the auto-response timer. No-op when not armed.
func (s *ProactiveScheduler) CancelAutoResponse() {
	s.cancel(&s.autoResponseTimer, timerAutoResponse)
}

// ArmScrollStop re-arms the scroll-stop timer; each page scroll pushes the
// deadline out again, so the callback fires only after the visitor settles.
func (s *ProactiveScheduler) ArmScrollStop(d time.Duration, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(&s.scrollStopTimer)
	s.scrollStopTimer = s.clock.AfterFunc(d, fire)
}

// CancelScrollStop clears the scroll-stop timer. No-op when not armed.
func (s *ProactiveScheduler) CancelScrollStop() {
	s.cancel(&s.scrollStopTimer, timerScrollStop)
}

// ScheduleContextualStage defers one stage of the contextual question
// choreography (the question, then its companion answer). Only the pipeline
// holding the contextual slot schedules stages.
func (s *ProactiveScheduler) ScheduleContextualStage(d time.Duration, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(&s.contextualTimer)
	s.contextualTimer = s.clock.AfterFunc(d, fire)
}

// CancelContextualStage clears a pending contextual stage without releasing
// the in-flight slot; callers decide whether to release.
func (s *ProactiveScheduler) CancelContextualStage() {
	s.cancel(&s.contextualTimer, timerContextual)
}

// CancelAll clears every pending timer. Fired on page-visibility-hidden,
// widget close, and engine shutdown.
func (s *ProactiveScheduler) CancelAll() {
	s.CancelFollowup()
	s.CancelAutoResponse()
	s.CancelScrollStop()
	s.CancelContextualStage()
}

func (s *ProactiveScheduler) cancel(slot *timerHandle, name string) bool {
	s.mu.Lock()
	stopped := s.stopLocked(slot)
	s.mu.Unlock()
	if stopped {
		s.metrics.ObserveTimerCancelled(name)
		s.logger.Debug("timer cancelled", "timer", name)
	}
	return stopped
}

func (s *ProactiveScheduler) stopLocked(slot *timerHandle) bool {
	if *slot == nil {
		return false
	}
	stopped := (*slot).Stop()
	*slot = nil
	return stopped
}
