package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/pkg/model"
)

func newTestStore(t *testing.T) (*HybridStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &HybridStore{redis: rdb, logger: zap.NewNop()}, mr
}

func TestSetAndGetJSON(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	val := map[string]string{"access_token": "at-123"}

	if err := store.SetJSON(ctx, "upstream:token", val, time.Minute); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	var got map[string]string
	if err := store.GetJSON(ctx, "upstream:token", &got); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}

	if got["access_token"] != "at-123" {
		t.Errorf("expected access_token=at-123, got %s", got["access_token"])
	}
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	sess := model.Session{
		ID:        "sess-001",
		UserID:    42,
		Kind:      model.SessionKindUser,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		ExpiresAt: time.Now().UTC().Add(time.Hour).Truncate(time.Second),
	}

	if err := store.PutSession(ctx, sess, time.Hour); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}

	got, err := store.GetSession(ctx, "sess-001")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if got.UserID != 42 || got.Kind != model.SessionKindUser {
		t.Errorf("unexpected session: %+v", got)
	}
}

func TestGetSession_MissingReturnsNil(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	got, err := store.GetSession(ctx, "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing session, got %+v", got)
	}
}

func TestDeleteSession_Revokes(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	sess := model.Session{ID: "sess-002", Kind: model.SessionKindAdmin}
	if err := store.PutSession(ctx, sess, time.Hour); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}
	if err := store.DeleteSession(ctx, "sess-002"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	got, err := store.GetSession(ctx, "sess-002")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected session gone after delete")
	}
}

func TestSession_ExpiresWithTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	sess := model.Session{ID: "sess-003", Kind: model.SessionKindUser}
	if err := store.PutSession(ctx, sess, 200*time.Millisecond); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}

	mr.FastForward(300 * time.Millisecond)

	got, err := store.GetSession(ctx, "sess-003")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected session expired")
	}
}

func TestOAuthState_SingleUse(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	if err := store.PutOAuthState(ctx, "state-abc", time.Minute); err != nil {
		t.Fatalf("PutOAuthState failed: %v", err)
	}

	ok, err := store.ConsumeOAuthState(ctx, "state-abc")
	if err != nil {
		t.Fatalf("ConsumeOAuthState failed: %v", err)
	}
	if !ok {
		t.Fatal("expected state to be valid on first use")
	}

	// Second use must fail: the callback can only be replayed once.
	ok, err = store.ConsumeOAuthState(ctx, "state-abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected state to be consumed")
	}
}

func TestOAuthState_UnknownRejected(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	ok, err := store.ConsumeOAuthState(ctx, "never-issued")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected unknown state to be rejected")
	}
}

func TestSetJSON_Expiration(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	val := map[string]string{"key": "value"}
	if err := store.SetJSON(ctx, "test:key", val, 200*time.Millisecond); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	// Fast forward miniredis time
	mr.FastForward(300 * time.Millisecond)

	var got map[string]string
	err := store.GetJSON(ctx, "test:key", &got)
	if err == nil {
		t.Fatal("expected error for expired key, got nil")
	}
}

func TestConcurrentSessionWrites(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sess := model.Session{ID: "concurrent", UserID: int64(n), Kind: model.SessionKindUser}
			_ = store.PutSession(ctx, sess, time.Minute)
		}(i)
	}
	wg.Wait()

	raw, err := mr.Get("session:concurrent")
	if err != nil {
		t.Fatalf("expected session key present: %v", err)
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		t.Fatalf("stored session not valid JSON: %v", err)
	}
}
