// Package session persists widget session identity and conversation-state
// flags across page loads. Storage failures never surface to callers: the
// store degrades to process-local memory and the session simply stops being
// durable across reloads.
package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vantagechat/engage/pkg/logging"
)

// Well-known session fields.
const (
	FlagGreeted       = "greeted"
	CounterProactive  = "proactive_count"
	CounterFollowup   = "followup_count"
	SetVisitedPages   = "visited_pages"
	SetFollowupTopics = "used_followup_topics"
)

// Store reads and writes durable per-session state. A nil Redis client is
// allowed and puts the store in memory-only mode from the start.
type Store struct {
	redis  *redis.Client
	tracer trace.Tracer
	logger *logging.Logger
	ttl    time.Duration

	mu       sync.Mutex
	scalars  map[string]string
	sets     map[string]map[string]struct{}
	degraded bool
}

// NewStore creates a session store backed by Redis with in-memory fallback.
func NewStore(redisClient *redis.Client, ttl time.Duration, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{
		redis:   redisClient,
		tracer:  otel.Tracer("engage.internal.session"),
		logger:  logger.Component("session"),
		ttl:     ttl,
		scalars: make(map[string]string),
		sets:    make(map[string]map[string]struct{}),
	}
}

// GetOrCreateSessionID returns a stable opaque identifier. A non-empty
// candidate (the id the widget restored from its own storage) is accepted
// as-is; otherwise a fresh id is generated and persisted.
func (s *Store) GetOrCreateSessionID(ctx context.Context, candidate string) string {
	if candidate != "" {
		return candidate
	}
	id := uuid.NewString()
	s.setScalar(ctx, id, "created_at", strconv.FormatInt(time.Now().UTC().Unix(), 10))
	return id
}

// GetFlag reads a durable boolean, returning def when unset.
func (s *Store) GetFlag(ctx context.Context, sessionID, name string, def bool) bool {
	raw, ok := s.getScalar(ctx, sessionID, name)
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// SetFlag writes a durable boolean.
func (s *Store) SetFlag(ctx context.Context, sessionID, name string, value bool) {
	s.setScalar(ctx, sessionID, name, strconv.FormatBool(value))
}

// GetCounter reads a durable counter, returning 0 when unset.
func (s *Store) GetCounter(ctx context.Context, sessionID, name string) int {
	raw, ok := s.getScalar(ctx, sessionID, name)
	if !ok {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}

// SetCounter writes a durable counter.
func (s *Store) SetCounter(ctx context.Context, sessionID, name string, value int) {
	s.setScalar(ctx, sessionID, name, strconv.Itoa(value))
}

// IncrCounter increments a durable counter and returns the new value.
func (s *Store) IncrCounter(ctx context.Context, sessionID, name string) int {
	v := s.GetCounter(ctx, sessionID, name) + 1
	s.SetCounter(ctx, sessionID, name, v)
	return v
}

// AddSetMember records a member in a durable string set. Returns true if the
// member was not already present.
func (s *Store) AddSetMember(ctx context.Context, sessionID, set, member string) bool {
	if s.redis != nil && !s.isDegraded() {
		ctx, span := s.tracer.Start(ctx, "session.set_add")
		defer span.End()
		key := setKey(sessionID, set)
		pipe := s.redis.TxPipeline()
		added := pipe.SAdd(ctx, key, member)
		pipe.Expire(ctx, key, s.ttl)
		_, err := pipe.Exec(ctx)
		if err == nil {
			return added.Val() > 0
		}
		span.RecordError(err)
		s.markDegraded(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := setKey(sessionID, set)
	members, ok := s.sets[key]
	if !ok {
		members = make(map[string]struct{})
		s.sets[key] = members
	}
	if _, exists := members[member]; exists {
		return false
	}
	members[member] = struct{}{}
	return true
}

// SetMembers lists the members of a durable string set.
func (s *Store) SetMembers(ctx context.Context, sessionID, set string) []string {
	if s.redis != nil && !s.isDegraded() {
		members, err := s.redis.SMembers(ctx, setKey(sessionID, set)).Result()
		if err == nil {
			return members
		}
		s.markDegraded(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0)
	for m := range s.sets[setKey(sessionID, set)] {
		out = append(out, m)
	}
	return out
}

// SetSize reports the cardinality of a durable string set.
func (s *Store) SetSize(ctx context.Context, sessionID, set string) int {
	return len(s.SetMembers(ctx, sessionID, set))
}

// ClearSet removes every member of a durable string set. Used when the
// followup topic pool is exhausted and cycles back around.
func (s *Store) ClearSet(ctx context.Context, sessionID, set string) {
	if s.redis != nil && !s.isDegraded() {
		if err := s.redis.Del(ctx, setKey(sessionID, set)).Err(); err != nil {
			s.markDegraded(err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets, setKey(sessionID, set))
}

func (s *Store) getScalar(ctx context.Context, sessionID, name string) (string, bool) {
	if s.redis != nil && !s.isDegraded() {
		ctx, span := s.tracer.Start(ctx, "session.get")
		defer span.End()
		raw, err := s.redis.Get(ctx, scalarKey(sessionID, name)).Result()
		if err == nil {
			return raw, true
		}
		if err == redis.Nil {
			return "", false
		}
		span.RecordError(err)
		s.markDegraded(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.scalars[scalarKey(sessionID, name)]
	return raw, ok
}

func (s *Store) setScalar(ctx context.Context, sessionID, name, value string) {
	if s.redis != nil && !s.isDegraded() {
		ctx, span := s.tracer.Start(ctx, "session.set")
		defer span.End()
		err := s.redis.Set(ctx, scalarKey(sessionID, name), value, s.ttl).Err()
		if err == nil {
			return
		}
		span.RecordError(err)
		s.markDegraded(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.scalars[scalarKey(sessionID, name)] = value
}

func (s *Store) isDegraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *Store) markDegraded(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.degraded {
		s.logger.Warn("session store degraded to memory-only", "error", err)
	}
	s.degraded = true
}

func scalarKey(sessionID, name string) string {
	return fmt.Sprintf("widget_session:%s:%s", sessionID, name)
}

func setKey(sessionID, set string) string {
	return fmt.Sprintf("widget_session:%s:set:%s", sessionID, set)
}
