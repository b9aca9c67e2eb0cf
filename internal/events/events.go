// Package events appends engagement events to Postgres for lead
// attribution. Recording is best-effort: a write failure is logged and
// never surfaces into the conversation.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vantagechat/engage/pkg/logging"
)

// Event types the engine emits.
const (
	TypeSessionStarted   = "session_started"
	TypeProactiveSent    = "proactive_sent"
	TypeContextualSent   = "contextual_sent"
	TypeFollowupSent     = "followup_sent"
	TypeBookingConfirmed = "booking_confirmed"
	TypeBookingFailed    = "booking_failed"
	TypeBookingCancelled = "booking_cancelled"
)

// Envelope is the stored form of one engagement event.
type Envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       string          `json:"event_type"`
	SessionID       string          `json:"session_id"`
	TimestampMicros int64           `json:"timestamp"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

var (
	errMissingSession = errors.New("events: session id is required")
	errMissingType    = errors.New("events: event type is required")
	nowFunc           = time.Now
)

func newEnvelope(sessionID, eventType string, payload map[string]any) (Envelope, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Envelope{}, errMissingSession
	}
	if strings.TrimSpace(eventType) == "" {
		return Envelope{}, errMissingType
	}
	var raw json.RawMessage
	if len(payload) > 0 {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("events: marshal payload: %w", err)
		}
		raw = data
	}
	return Envelope{
		EventID:         uuid.New(),
		EventType:       strings.TrimSpace(eventType),
		SessionID:       strings.TrimSpace(sessionID),
		TimestampMicros: nowFunc().UTC().UnixMicro(),
		Payload:         raw,
	}, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Append writes one event row through the provided executor and returns the
// stored envelope.
func Append(ctx context.Context, exec execer, sessionID, eventType string, payload map[string]any) (Envelope, error) {
	if exec == nil {
		return Envelope{}, fmt.Errorf("events: exec required")
	}
	env, err := newEnvelope(sessionID, eventType, payload)
	if err != nil {
		return Envelope{}, err
	}
	query := `
		INSERT INTO engagement_events (id, session_id, event_type, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := exec.Exec(ctx, query, env.EventID, env.SessionID, env.EventType, env.TimestampMicros, []byte(env.Payload)); err != nil {
		return Envelope{}, fmt.Errorf("events: append engagement event: %w", err)
	}
	return env, nil
}

// Recorder is the engine-facing adapter over Append. A nil Recorder is valid
// and records nothing.
type Recorder struct {
	db     execer
	logger *logging.Logger
}

// NewRecorder wires the recorder to a pgx pool (anything with Exec).
func NewRecorder(db execer, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Recorder{db: db, logger: logger.Component("events")}
}

// Record appends one event, swallowing failures.
func (r *Recorder) Record(ctx context.Context, sessionID, eventType string, payload map[string]any) {
	if r == nil || r.db == nil {
		return
	}
	if _, err := Append(ctx, r.db, sessionID, eventType, payload); err != nil {
		r.logger.Warn("event write failed", "event_type", eventType, "session_id", sessionID, "error", err)
	}
}
