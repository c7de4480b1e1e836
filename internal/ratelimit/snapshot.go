package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"llmgate/internal/cache"
)

// Snapshot exports the tracker state for persistence. Records whose backoff
// and reset deadlines have all passed carry no useful signal and are skipped.
func (t *Tracker) Snapshot() *cache.Snapshot {
	t.mu.RLock()
	keys := make([]Key, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	t.mu.RUnlock()

	now := t.now()
	snap := &cache.Snapshot{
		Version:   cache.SnapshotVersion,
		UpdatedAt: now.UTC(),
		Records:   make(map[string]cache.SnapshotRecord, len(keys)),
	}

	for _, k := range keys {
		rec, ok := t.Peek(k)
		if !ok {
			continue
		}
		if !now.Before(rec.BackoffUntil) && !now.Before(rec.ResetRequestsAt) && !now.Before(rec.ResetTokensAt) {
			continue
		}
		snap.Records[k.String()] = cache.SnapshotRecord{
			Provider:          k.Provider,
			Model:             k.Model,
			RemainingRequests: rec.RemainingRequests,
			RemainingTokens:   rec.RemainingTokens,
			ResetRequestsAt:   rec.ResetRequestsAt,
			ResetTokensAt:     rec.ResetTokensAt,
			Consecutive429:    rec.Consecutive429,
			BackoffUntil:      rec.BackoffUntil,
			UpdatedAt:         rec.UpdatedAt,
			HeaderDerived:     rec.HeaderDerived,
		}
	}

	return snap
}

// Restore merges a persisted snapshot into the tracker. A stored record never
// overwrites newer live state (monotonic timestamp rule applies here too).
func (t *Tracker) Restore(snap *cache.Snapshot) {
	if snap == nil {
		return
	}
	for _, sr := range snap.Records {
		key := Key{Provider: sr.Provider, Model: sr.Model}
		e := t.get(key)
		e.mu.Lock()
		if sr.UpdatedAt.After(e.rec.UpdatedAt) {
			e.rec = Record{
				RemainingRequests: sr.RemainingRequests,
				RemainingTokens:   sr.RemainingTokens,
				ResetRequestsAt:   sr.ResetRequestsAt,
				ResetTokensAt:     sr.ResetTokensAt,
				Consecutive429:    sr.Consecutive429,
				BackoffUntil:      sr.BackoffUntil,
				UpdatedAt:         sr.UpdatedAt,
				HeaderDerived:     sr.HeaderDerived,
			}
		}
		e.mu.Unlock()
	}
}

// Persistence ties a tracker to a snapshot store, saving on an interval so
// backoff state survives restarts and can be shared between instances.
type Persistence struct {
	tracker *Tracker
	store   cache.Store
	stop    chan struct{}
	done    chan struct{}
}

// NewPersistence loads any stored snapshot into the tracker and starts a
// background save loop. Call Close during shutdown.
func NewPersistence(ctx context.Context, tracker *Tracker, store cache.Store, interval time.Duration) *Persistence {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	snap, err := store.Get(ctx)
	if err != nil {
		slog.Warn("failed to load rate-limit snapshot", "error", err)
	} else if snap != nil {
		tracker.Restore(snap)
		slog.Info("restored rate-limit snapshot", "records", len(snap.Records))
	}

	p := &Persistence{
		tracker: tracker,
		store:   store,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.save()
			case <-p.stop:
				p.save()
				return
			}
		}
	}()

	return p
}

func (p *Persistence) save() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.Set(ctx, p.tracker.Snapshot()); err != nil {
		slog.Warn("failed to save rate-limit snapshot", "error", err)
	}
}

// Close performs a final save and stops the background loop.
func (p *Persistence) Close() error {
	close(p.stop)
	<-p.done
	return p.store.Close()
}
