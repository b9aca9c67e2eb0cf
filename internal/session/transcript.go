package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const transcriptKeyPrefix = "widget_transcript:"

// TranscriptMessage is one stored turn of a widget conversation. It mirrors
// the engine's message shape closely enough for history replay without
// importing the engine package.
type TranscriptMessage struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"` // "user" or "assistant"
	Body        string    `json:"body"`
	Buttons     []string  `json:"buttons,omitempty"`
	EmailPrompt string    `json:"email_prompt,omitempty"`
	Kind        string    `json:"kind,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// TranscriptStore keeps an ordered, capped conversation transcript in Redis
// so a reconnecting widget can replay history. A nil receiver or nil client
// turns every operation into a no-op.
type TranscriptStore struct {
	redis       *redis.Client
	tracer      trace.Tracer
	ttl         time.Duration
	maxMessages int64
}

// NewTranscriptStore creates a transcript store. Returns nil when the Redis
// client is nil, which callers treat as "transcripts disabled".
func NewTranscriptStore(redisClient *redis.Client, ttl time.Duration) *TranscriptStore {
	if redisClient == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TranscriptStore{
		redis:       redisClient,
		tracer:      otel.Tracer("engage.internal.session.transcript"),
		ttl:         ttl,
		maxMessages: 250,
	}
}

// Append stores one message at the end of the transcript.
func (s *TranscriptStore) Append(ctx context.Context, conversationID string, msg TranscriptMessage) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if conversationID == "" {
		return errors.New("session: transcript conversationID required")
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("session: marshal transcript message: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "session.transcript.append")
	defer span.End()

	key := transcriptKey(conversationID)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, s.ttl)
	if s.maxMessages > 0 {
		pipe.LTrim(ctx, key, -s.maxMessages, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: append transcript message: %w", err)
	}
	return nil
}

// List returns up to limit most recent transcript messages in order.
func (s *TranscriptStore) List(ctx context.Context, conversationID string, limit int64) ([]TranscriptMessage, error) {
	if s == nil || s.redis == nil {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = s.maxMessages
	}

	ctx, span := s.tracer.Start(ctx, "session.transcript.list")
	defer span.End()

	raw, err := s.redis.LRange(ctx, transcriptKey(conversationID), -limit, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("session: list transcript: %w", err)
	}

	out := make([]TranscriptMessage, 0, len(raw))
	for _, item := range raw {
		var msg TranscriptMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func transcriptKey(conversationID string) string {
	return transcriptKeyPrefix + conversationID
}
