package ratelimit

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"llmgate/internal/cache"
)

func TestSnapshot_SkipsExpiredRecords(t *testing.T) {
	clock := newFakeClock()
	tr := NewWithClock(clock.Now)

	active := Key{Provider: "openai", Model: "gpt-4o"}
	expired := Key{Provider: "groq", Model: "llama-3.1-8b-instant"}

	tr.RecordFailure(active, http.StatusTooManyRequests, 5*time.Minute)
	tr.RecordFailure(expired, http.StatusTooManyRequests, time.Second)

	clock.Advance(10 * time.Second)
	snap := tr.Snapshot()

	if _, ok := snap.Records[active.String()]; !ok {
		t.Error("record with live backoff should be exported")
	}
	if _, ok := snap.Records[expired.String()]; ok {
		t.Error("fully expired record should be skipped")
	}
}

func TestRestore_MonotonicMerge(t *testing.T) {
	clock := newFakeClock()
	tr := NewWithClock(clock.Now)
	key := Key{Provider: "openai", Model: "gpt-4o"}

	clock.Advance(time.Hour)
	tr.RecordFailure(key, http.StatusTooManyRequests, time.Minute)
	live, _ := tr.Peek(key)

	// An older snapshot must not clobber the live record.
	stale := &cache.Snapshot{
		Version: cache.SnapshotVersion,
		Records: map[string]cache.SnapshotRecord{
			key.String(): {
				Provider:       key.Provider,
				Model:          key.Model,
				Consecutive429: 99,
				UpdatedAt:      clock.Now().Add(-30 * time.Minute),
			},
		},
	}
	tr.Restore(stale)

	rec, _ := tr.Peek(key)
	if rec.Consecutive429 != live.Consecutive429 {
		t.Errorf("stale snapshot overwrote live record: %+v", rec)
	}

	// A newer snapshot wins.
	fresh := &cache.Snapshot{
		Version: cache.SnapshotVersion,
		Records: map[string]cache.SnapshotRecord{
			key.String(): {
				Provider:       key.Provider,
				Model:          key.Model,
				Consecutive429: 3,
				BackoffUntil:   clock.Now().Add(time.Minute),
				UpdatedAt:      clock.Now().Add(time.Second),
			},
		},
	}
	tr.Restore(fresh)

	rec, _ = tr.Peek(key)
	if rec.Consecutive429 != 3 {
		t.Errorf("newer snapshot not applied: %+v", rec)
	}
}

func TestPersistence_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	store := cache.NewLocalStore(path)

	tr := New()
	key := Key{Provider: "anthropic", Model: "claude-3-5-haiku-20241022"}
	tr.RecordFailure(key, http.StatusTooManyRequests, 10*time.Minute)

	p := NewPersistence(context.Background(), tr, store, time.Hour)
	if err := p.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	// A fresh tracker restored from the same store sees the backoff.
	store2 := cache.NewLocalStore(path)
	tr2 := New()
	p2 := NewPersistence(context.Background(), tr2, store2, time.Hour)
	defer p2.Close()

	if tr2.Available(key) {
		t.Error("restored tracker should still be backing off")
	}
}
