// Package cache provides a store abstraction for rate-limit snapshots.
// Supports local file and Redis backends for multi-instance deployments.
package cache

import (
	"context"
	"time"
)

// SnapshotVersion is bumped when the snapshot layout changes incompatibly.
const SnapshotVersion = 1

// Snapshot is the persisted form of the rate-limit tracker state.
type Snapshot struct {
	Version   int                       `json:"version"`
	UpdatedAt time.Time                 `json:"updated_at"`
	Records   map[string]SnapshotRecord `json:"records"`
}

// SnapshotRecord is one persisted rate-limit record, keyed "provider/model".
type SnapshotRecord struct {
	Provider          string    `json:"provider"`
	Model             string    `json:"model"`
	RemainingRequests int       `json:"remaining_requests"`
	RemainingTokens   int       `json:"remaining_tokens"`
	ResetRequestsAt   time.Time `json:"reset_requests_at"`
	ResetTokensAt     time.Time `json:"reset_tokens_at"`
	Consecutive429    int       `json:"consecutive_429"`
	BackoffUntil      time.Time `json:"backoff_until"`
	UpdatedAt         time.Time `json:"updated_at"`
	HeaderDerived     bool      `json:"header_derived"`
}

// Store defines the interface for snapshot storage.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves the stored snapshot. Returns nil, nil if none exists yet.
	Get(ctx context.Context) (*Snapshot, error)

	// Set stores the snapshot.
	Set(ctx context.Context, snap *Snapshot) error

	// Close releases any resources held by the store.
	Close() error
}
