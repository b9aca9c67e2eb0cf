package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vantagechat/engage/pkg/logging"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(client, time.Hour, logging.New("error")), mr
}

func TestGetOrCreateSessionID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id := store.GetOrCreateSessionID(ctx, "")
	if id == "" {
		t.Fatal("expected generated session id")
	}

	// Candidate ids are kept stable.
	if got := store.GetOrCreateSessionID(ctx, id); got != id {
		t.Fatalf("expected %s, got %s", id, got)
	}

	other := store.GetOrCreateSessionID(ctx, "")
	if other == id {
		t.Fatal("expected distinct ids for distinct sessions")
	}
}

func TestFlagsAndCounters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if store.GetFlag(ctx, "s1", FlagGreeted, false) {
		t.Fatal("unset flag should return default")
	}
	store.SetFlag(ctx, "s1", FlagGreeted, true)
	if !store.GetFlag(ctx, "s1", FlagGreeted, false) {
		t.Fatal("expected greeted flag to persist")
	}

	if n := store.GetCounter(ctx, "s1", CounterProactive); n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}
	if n := store.IncrCounter(ctx, "s1", CounterProactive); n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
	if n := store.IncrCounter(ctx, "s1", CounterProactive); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}

	// Counters are per-session.
	if n := store.GetCounter(ctx, "s2", CounterProactive); n != 0 {
		t.Fatalf("expected isolation, got %d", n)
	}
}

func TestVisitedPageSet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if !store.AddSetMember(ctx, "s1", SetVisitedPages, "/pricing") {
		t.Fatal("first visit should be new")
	}
	if store.AddSetMember(ctx, "s1", SetVisitedPages, "/pricing") {
		t.Fatal("repeat visit should not be new")
	}
	store.AddSetMember(ctx, "s1", SetVisitedPages, "/features")

	if n := store.SetSize(ctx, "s1", SetVisitedPages); n != 2 {
		t.Fatalf("expected 2 pages, got %d", n)
	}

	store.ClearSet(ctx, "s1", SetVisitedPages)
	if n := store.SetSize(ctx, "s1", SetVisitedPages); n != 0 {
		t.Fatalf("expected cleared set, got %d", n)
	}
}

func TestDegradesToMemoryOnRedisLoss(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	store.SetFlag(ctx, "s1", FlagGreeted, true)

	// Kill Redis: all operations must keep working without error.
	mr.Close()

	store.SetFlag(ctx, "s1", FlagGreeted, true)
	if !store.GetFlag(ctx, "s1", FlagGreeted, false) {
		t.Fatal("memory fallback should serve the flag")
	}

	store.AddSetMember(ctx, "s1", SetFollowupTopics, "pricing")
	if n := store.SetSize(ctx, "s1", SetFollowupTopics); n != 1 {
		t.Fatalf("expected memory-backed set, got %d", n)
	}
}

func TestNilRedisIsMemoryOnly(t *testing.T) {
	store := NewStore(nil, time.Hour, logging.New("error"))
	ctx := context.Background()

	store.SetCounter(ctx, "s1", CounterFollowup, 3)
	if n := store.GetCounter(ctx, "s1", CounterFollowup); n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
}
