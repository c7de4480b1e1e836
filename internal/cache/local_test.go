package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLocalStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	store := NewLocalStore(path)

	snap := &Snapshot{
		Version:   SnapshotVersion,
		UpdatedAt: time.Now().UTC(),
		Records: map[string]SnapshotRecord{
			"openai/gpt-4o": {
				Provider:       "openai",
				Model:          "gpt-4o",
				Consecutive429: 2,
				BackoffUntil:   time.Now().Add(time.Minute).UTC(),
				UpdatedAt:      time.Now().UTC(),
			},
		},
	}

	if err := store.Set(context.Background(), snap); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	got, err := store.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got == nil {
		t.Fatal("Get() returned nil snapshot")
	}
	rec, ok := got.Records["openai/gpt-4o"]
	if !ok {
		t.Fatal("record missing after round trip")
	}
	if rec.Consecutive429 != 2 {
		t.Errorf("Consecutive429 = %d, want 2", rec.Consecutive429)
	}
}

func TestLocalStore_MissingFileIsNotAnError(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "absent.json"))

	got, err := store.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != nil {
		t.Error("missing file should yield nil snapshot")
	}
}

func TestLocalStore_VersionMismatchStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	if err := os.WriteFile(path, []byte(`{"version": 999, "records": {}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewLocalStore(path)
	got, err := store.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != nil {
		t.Error("incompatible version should yield nil snapshot")
	}
}
