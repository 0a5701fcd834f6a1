package engine

import (
	"context"
	"testing"
	"time"

	"github.com/linguapulse/lesson/session"
)

func newSessionStore(t *testing.T, prefix string) *sessionStore {
	t.Helper()
	kv, err := session.NewStore(session.StoreTypeMemory)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return &sessionStore{kv: kv, keys: session.Keys{Prefix: prefix}, ttl: time.Hour}
}

func TestSessionStore_LastActivity(t *testing.T) {
	s := newSessionStore(t, "")
	ctx := context.Background()

	if _, found, err := s.lastActivity(ctx, "7"); err != nil || found {
		t.Fatalf("lastActivity on empty store = %v, %v", found, err)
	}
	at := time.UnixMilli(1760000000123)
	if err := s.touch(ctx, "7", at); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, found, err := s.lastActivity(ctx, "7")
	if err != nil || !found || !got.Equal(at) {
		t.Fatalf("lastActivity = %v, %v, %v", got, found, err)
	}
	raw, _, _ := s.kv.Get(ctx, "last_activity:7")
	if raw != "1760000000123" {
		t.Fatalf("stored value = %q, want unix ms", raw)
	}
}

func TestSessionStore_TeardownScopedToVariant(t *testing.T) {
	free := newSessionStore(t, "")
	paid := &sessionStore{kv: free.kv, keys: session.Keys{Prefix: "main_"}, ttl: time.Hour}
	ctx := context.Background()

	for _, s := range []*sessionStore{free, paid} {
		if err := s.saveRecord(ctx, "7", &record{ID: "x", State: StateActive}); err != nil {
			t.Fatalf("saveRecord: %v", err)
		}
		if err := s.saveHistory(ctx, "7", nil); err != nil {
			t.Fatalf("saveHistory: %v", err)
		}
		if _, err := s.markProcessed(ctx, "7", "m1", time.Hour); err != nil {
			t.Fatalf("markProcessed: %v", err)
		}
	}
	if err := free.kv.Set(ctx, free.keys.Lock("7"), "token", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := free.teardown(ctx, "7"); err != nil {
		t.Fatalf("teardown: %v", err)
	}

	keys, _ := free.kv.Keys(ctx, "")
	want := []string{"main_hist:7", "main_processed:7:m1", "main_session:7", "processing:7"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %q, want %q", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %q, want %q", keys, want)
		}
	}
}

func TestSessionStore_MarkProcessedOnce(t *testing.T) {
	s := newSessionStore(t, "")
	ctx := context.Background()

	first, err := s.markProcessed(ctx, "7", "m1", time.Hour)
	if err != nil || !first {
		t.Fatalf("first mark = %v, %v", first, err)
	}
	second, err := s.markProcessed(ctx, "7", "m1", time.Hour)
	if err != nil || second {
		t.Fatalf("second mark = %v, %v", second, err)
	}
	if seen, _ := s.processed(ctx, "7", "m1"); !seen {
		t.Fatalf("processed = false after mark")
	}
}
