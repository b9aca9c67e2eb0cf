package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vantagechat/engage/pkg/logging"
)

type stubExec struct {
	args []any
	err  error
}

func (s *stubExec) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.args = args
	return pgconn.CommandTag{}, s.err
}

func TestNewEnvelope(t *testing.T) {
	fixedNow := time.Unix(0, 123456000).UTC()
	prevNow := nowFunc
	nowFunc = func() time.Time { return fixedNow }
	defer func() { nowFunc = prevNow }()

	env, err := newEnvelope("sess-1", TypeProactiveSent, map[string]any{"kind": "greeting"})
	if err != nil {
		t.Fatalf("newEnvelope failed: %v", err)
	}
	if env.EventID == uuid.Nil {
		t.Fatal("expected generated event id")
	}
	if env.TimestampMicros != fixedNow.UnixMicro() {
		t.Fatalf("unexpected timestamp: %d", env.TimestampMicros)
	}
	if env.EventType != TypeProactiveSent {
		t.Fatalf("unexpected type: %s", env.EventType)
	}
	if env.SessionID != "sess-1" {
		t.Fatalf("unexpected session: %s", env.SessionID)
	}

	var payload map[string]any
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["kind"] != "greeting" {
		t.Fatalf("unexpected payload: %#v", payload)
	}
}

func TestNewEnvelopeValidation(t *testing.T) {
	if _, err := newEnvelope("", TypeSessionStarted, nil); err == nil {
		t.Fatal("expected session id error")
	}
	if _, err := newEnvelope("sess-1", "  ", nil); err == nil {
		t.Fatal("expected event type error")
	}
}

func TestAppendWritesRow(t *testing.T) {
	exec := &stubExec{}
	env, err := Append(context.Background(), exec, "sess-1", TypeBookingConfirmed, map[string]any{"date": "2026-03-03"})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if len(exec.args) != 5 {
		t.Fatalf("expected 5 exec args, got %#v", exec.args)
	}
	if exec.args[0] != env.EventID {
		t.Fatal("id mismatch")
	}
	if exec.args[1] != "sess-1" || exec.args[2] != TypeBookingConfirmed {
		t.Fatalf("unexpected args: %#v", exec.args)
	}
	payloadBytes, ok := exec.args[4].([]byte)
	if !ok {
		t.Fatalf("payload arg type %T", exec.args[4])
	}
	var stored map[string]any
	if err := json.Unmarshal(payloadBytes, &stored); err != nil {
		t.Fatalf("decode stored payload: %v", err)
	}
	if stored["date"] != "2026-03-03" {
		t.Fatalf("unexpected stored payload: %#v", stored)
	}
}

func TestAppendRequiresExec(t *testing.T) {
	if _, err := Append(context.Background(), nil, "sess-1", TypeSessionStarted, nil); err == nil {
		t.Fatal("expected exec error")
	}
}

func TestRecorderSwallowsFailures(t *testing.T) {
	exec := &stubExec{err: errors.New("connection refused")}
	r := NewRecorder(exec, logging.New("error"))

	// Must not panic or surface the error.
	r.Record(context.Background(), "sess-1", TypeFollowupSent, map[string]any{"topic": "pricing"})
	if exec.args == nil {
		t.Fatal("expected an attempted write")
	}
}

func TestRecorderNilSafety(t *testing.T) {
	var r *Recorder
	r.Record(context.Background(), "sess-1", TypeSessionStarted, nil)

	NewRecorder(nil, nil).Record(context.Background(), "sess-1", TypeSessionStarted, nil)
}
