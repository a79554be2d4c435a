// Package storage provides composable storage interfaces for the Cadence system.
//
// The storage layer is designed with small, focused interfaces, one per
// collaborator the engine talks to. Backends (sqlite, postgres) implement all
// of them on a single connection pool. The engine issues plain reads and
// writes; uniqueness of active patterns and singleton current-state items is
// enforced here, at the storage boundary.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/cadence/pkg/types"
)

// ObservationStore appends and reads behavioral observations.
// Observations are immutable once appended.
type ObservationStore interface {
	// AppendSleepWake stores a new sleep/wake log. ID and CreatedAt are
	// assigned when empty.
	AppendSleepWake(ctx context.Context, log *types.SleepWakeLog) error

	// AppendActivity stores a new activity log. ID and CreatedAt are
	// assigned when empty.
	AppendActivity(ctx context.Context, log *types.ActivityLog) error

	// RecentSleepWake returns an owner's logs ordered by SleepAt descending.
	RecentSleepWake(ctx context.Context, ownerID string, limit, offset int) ([]*types.SleepWakeLog, error)

	// RecentActivities returns an owner's activity logs ordered by StartAt
	// descending, optionally restricted by filter.
	RecentActivities(ctx context.Context, ownerID string, filter ActivityFilter, limit, offset int) ([]*types.ActivityLog, error)
}

// PatternStore persists detected patterns.
type PatternStore interface {
	// FindActivePattern returns the active pattern for key.
	// Returns ErrNotFound when there is none.
	FindActivePattern(ctx context.Context, key types.PatternKey) (*types.Pattern, error)

	// InsertPattern creates a new pattern. ID and timestamps are assigned when empty.
	InsertPattern(ctx context.Context, pattern *types.Pattern) error

	// UpdatePattern applies patch to the active pattern with id owned by ownerID.
	// Returns ErrNotFound if no matching active row exists.
	UpdatePattern(ctx context.Context, id, ownerID string, patch types.PatternPatch) (*types.Pattern, error)

	// UpsertPattern writes pattern as the active pattern for its key in a single
	// conditional write: the existing active row is overwritten in place,
	// otherwise a new row is created.
	UpsertPattern(ctx context.Context, pattern *types.Pattern) (*UpsertResult, error)

	// DeactivatePattern soft-deletes a pattern. Returns ErrNotFound if no matching
	// active row exists.
	DeactivatePattern(ctx context.Context, id, ownerID string) error

	// ListPatterns returns patterns matching query, highest confidence first.
	ListPatterns(ctx context.Context, query PatternQuery) ([]*types.Pattern, error)

	// PatternStats summarizes an owner's active patterns.
	PatternStats(ctx context.Context, ownerID string) (*types.PatternStats, error)
}

// MemoryStore is the memory collaborator used for recent-activity context.
type MemoryStore interface {
	// PutMemory stores a memory. ID and CreatedAt are assigned when empty.
	PutMemory(ctx context.Context, memory *types.Memory) error

	// SearchMemories returns an owner's memories, most important and most recent first.
	SearchMemories(ctx context.Context, ownerID string, filter MemoryFilter) (*PaginatedResult[*types.Memory], error)
}

// ContextStore persists context items.
type ContextStore interface {
	// InsertContextItem stores a new item. When item.SourceKey is set and a live item
	// with the same owner and source key exists, that row is overwritten
	// instead and item.ID is set to the existing ID.
	InsertContextItem(ctx context.Context, item *types.ContextItem) error

	// UpdateContextItem overwrites a stored item. Returns ErrNotFound if it doesn't exist.
	UpdateContextItem(ctx context.Context, item *types.ContextItem) error

	// GetContextItem retrieves an item by ID. Returns ErrNotFound if it doesn't exist.
	GetContextItem(ctx context.Context, id string) (*types.ContextItem, error)

	// FindCurrentState returns the owner's current-state item.
	// Returns ErrNotFound when there is none.
	FindCurrentState(ctx context.Context, ownerID string) (*types.ContextItem, error)

	// ListContextItems returns an owner's items matching filter, newest first.
	ListContextItems(ctx context.Context, ownerID string, filter ContextFilter) ([]*types.ContextItem, error)

	// DeleteExpired removes the owner's items whose expiry is before now and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, ownerID string, now time.Time) (int, error)

	// PurgeExpired removes expired items of every owner.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// Store is the full set of collaborators a backend provides.
type Store interface {
	ObservationStore
	PatternStore
	MemoryStore
	ContextStore

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
