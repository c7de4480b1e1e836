// Package ratelimit tracks upstream rate-limit state per (provider, model)
// key, aggregating signals from response headers and error responses. It has
// no knowledge of individual requests.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Header names read from upstream responses. OpenAI-compatible vendors agree
// on these; vendors that use other names are normalized by their provider
// implementation before reporting.
const (
	headerRemainingRequests = "x-ratelimit-remaining-requests"
	headerRemainingTokens   = "x-ratelimit-remaining-tokens"
	headerResetRequests     = "x-ratelimit-reset-requests"
	headerResetTokens       = "x-ratelimit-reset-tokens"
)

// DefaultBackoff is the conservative window applied to a 429 that carries no
// retry-after hint. Doubled per consecutive 429, capped at MaxBackoff.
const (
	DefaultBackoff   = 5 * time.Second
	MaxBackoff       = 2 * time.Minute
	serverErrBackoff = 2 * time.Second
)

// Key identifies one rate-limit record.
type Key struct {
	Provider string
	Model    string
}

func (k Key) String() string {
	return k.Provider + "/" + k.Model
}

// Record is the mutable rate-limit state for one key. Unknown counters are -1.
type Record struct {
	RemainingRequests int       `json:"remaining_requests"`
	RemainingTokens   int       `json:"remaining_tokens"`
	ResetRequestsAt   time.Time `json:"reset_requests_at"`
	ResetTokensAt     time.Time `json:"reset_tokens_at"`
	Consecutive429    int       `json:"consecutive_429"`
	BackoffUntil      time.Time `json:"backoff_until"`
	UpdatedAt         time.Time `json:"updated_at"`

	// HeaderDerived marks the last update as coming from explicit rate-limit
	// headers rather than inference from a bare 429.
	HeaderDerived bool `json:"header_derived"`
}

// entry pairs a record with its own lock so updates for different keys
// proceed independently.
type entry struct {
	mu  sync.Mutex
	rec Record
}

// Tracker is the process-wide rate-limit state, shared by all exchanges.
// Records are created lazily on first observation and never deleted; stale
// unavailability self-clears once its deadline passes.
type Tracker struct {
	mu      sync.RWMutex
	entries map[Key]*entry
	now     func() time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		entries: make(map[Key]*entry),
		now:     time.Now,
	}
}

// NewWithClock creates a tracker with an injected clock, for tests.
func NewWithClock(now func() time.Time) *Tracker {
	t := New()
	t.now = now
	return t
}

// get returns the entry for key, creating it if needed. Only the map lookup
// holds the tracker-wide lock; record mutation is per-key.
func (t *Tracker) get(key Key) *entry {
	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[key]; ok {
		return e
	}
	e = &entry{rec: Record{RemainingRequests: -1, RemainingTokens: -1}}
	t.entries[key] = e
	return e
}

// RecordSuccess folds rate-limit headers from a successful response into the
// record. Header-derived data always clears backoff state for the key.
func (t *Tracker) RecordSuccess(key Key, header http.Header) {
	now := t.now()
	e := t.get(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	if now.Before(e.rec.UpdatedAt) {
		// Older observation; a newer signal has already been applied.
		return
	}

	e.rec.Consecutive429 = 0
	e.rec.BackoffUntil = time.Time{}
	e.rec.UpdatedAt = now
	e.rec.HeaderDerived = applyHeaders(&e.rec, header, now)
}

// RecordFailure folds an error response into the record. A retry-after hint
// is authoritative; without one a conservative default backoff is applied,
// doubling per consecutive 429. Non-429 statuses below 500 are ignored here:
// they carry no rate-limit signal.
func (t *Tracker) RecordFailure(key Key, statusCode int, retryAfter time.Duration) {
	now := t.now()
	e := t.get(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	if now.Before(e.rec.UpdatedAt) {
		return
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		e.rec.Consecutive429++
		backoff := retryAfter
		derived := retryAfter > 0
		if backoff <= 0 {
			backoff = DefaultBackoff << (e.rec.Consecutive429 - 1)
			if backoff > MaxBackoff {
				backoff = MaxBackoff
			}
		}
		until := now.Add(backoff)
		// A header-derived deadline overrides an inferred one, but an inferred
		// deadline never shortens a header-derived deadline still in force.
		if derived || !e.rec.HeaderDerived || until.After(e.rec.BackoffUntil) {
			e.rec.BackoffUntil = until
			e.rec.HeaderDerived = derived
		}
		e.rec.UpdatedAt = now

	case statusCode >= 500 || statusCode == 0:
		// Connection failures and 5xx: brief backoff so the selector prefers
		// healthier candidates, without treating it as quota exhaustion.
		until := now.Add(serverErrBackoff)
		if until.After(e.rec.BackoffUntil) {
			e.rec.BackoffUntil = until
			e.rec.HeaderDerived = false
		}
		e.rec.UpdatedAt = now
	}
}

// Available reports whether the key is currently admissible: no backoff
// deadline in the future and no exhausted counter that has not yet reset.
// Keys never observed are available.
func (t *Tracker) Available(key Key) bool {
	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()
	if !ok {
		return true
	}

	now := t.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	if now.Before(e.rec.BackoffUntil) {
		return false
	}
	if e.rec.RemainingRequests == 0 && now.Before(e.rec.ResetRequestsAt) {
		return false
	}
	if e.rec.RemainingTokens == 0 && now.Before(e.rec.ResetTokensAt) {
		return false
	}
	return true
}

// CapacityHint returns the remaining request estimate for the key, or -1 when
// unknown. Used by the selector as a tiebreaker.
func (t *Tracker) CapacityHint(key Key) int {
	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()
	if !ok {
		return -1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// A passed reset deadline re-admits the key with unknown capacity.
	if e.rec.RemainingRequests == 0 && !t.now().Before(e.rec.ResetRequestsAt) {
		return -1
	}
	return e.rec.RemainingRequests
}

// Peek returns a copy of the record for the key and whether one exists.
func (t *Tracker) Peek(key Key) (Record, bool) {
	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, true
}

// applyHeaders reads remaining/reset headers into the record. Returns true if
// any explicit rate-limit header was present.
func applyHeaders(rec *Record, header http.Header, now time.Time) bool {
	if header == nil {
		return false
	}
	found := false

	if v, ok := headerInt(header, headerRemainingRequests); ok {
		rec.RemainingRequests = v
		found = true
	}
	if v, ok := headerInt(header, headerRemainingTokens); ok {
		rec.RemainingTokens = v
		found = true
	}
	if d, ok := headerDuration(header, headerResetRequests); ok {
		rec.ResetRequestsAt = now.Add(d)
		found = true
	}
	if d, ok := headerDuration(header, headerResetTokens); ok {
		rec.ResetTokensAt = now.Add(d)
		found = true
	}

	return found
}

func headerInt(header http.Header, name string) (int, bool) {
	v := strings.TrimSpace(header.Get(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// headerDuration parses reset headers that arrive either as a Go-style
// duration ("1s", "6m0s") or a bare number of seconds ("2", "0.5").
func headerDuration(header http.Header, name string) (time.Duration, bool) {
	v := strings.TrimSpace(header.Get(name))
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d, true
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second)), true
	}
	return 0, false
}
