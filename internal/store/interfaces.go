package store

import (
	"context"
	"time"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/model"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.ErrNotFound

// Write is the content of a Put.
type Write struct {
	Key        string
	SubspaceID string
	Payload    model.Payload
}

// RecordStore is the canonical, versioned key -> record table.
//
// Put and Delete are compare-and-swap on expectedVersion: a mismatch fails
// with a VersionConflict error and nothing is written. Creating a key
// requires expectedVersion 0. Every call is checked against the scope token.
type RecordStore interface {
	// Get returns a live record or NotFound. Tombstones read as NotFound.
	Get(ctx context.Context, token model.ScopeToken, key string) (*model.Record, error)
	// Lookup is Get that also returns tombstones.
	Lookup(ctx context.Context, token model.ScopeToken, key string) (*model.Record, error)
	Put(ctx context.Context, token model.ScopeToken, w Write, expectedVersion int64) (*model.Record, error)
	// Delete writes a tombstone and returns it as the acknowledgement.
	Delete(ctx context.Context, token model.ScopeToken, key string, expectedVersion int64) (*model.Record, error)
	// ListSince returns records of the token's scope with a change version
	// above sinceVersion, by ascending change version then key. limit <= 0
	// means no limit.
	ListSince(ctx context.Context, token model.ScopeToken, sinceVersion int64, limit int) ([]*model.Record, error)
	// ListPrefix returns live records of the token's scope whose key starts with prefix.
	ListPrefix(ctx context.Context, token model.ScopeToken, prefix string) ([]*model.Record, error)

	Ping(ctx context.Context) error
	Close()
}

// MutationLedger remembers the outcome of every processed mutation, keyed
// by (client group, client mutation id), and the highest id processed per
// client group.
type MutationLedger interface {
	LastMutationID(ctx context.Context, clientGroupID string) (int64, error)
	// Get returns a recorded outcome or ErrNotFound.
	Get(ctx context.Context, clientGroupID string, mutationID int64) (*model.Outcome, error)
	// Commit records outcome and advances the client group's last mutation id.
	Commit(ctx context.Context, clientGroupID string, outcome model.Outcome) error
	Ping(ctx context.Context) error
	Close() error
}

// Cache is the key/value backing of the read-through cache.
type Cache interface {
	// Get returns ErrNotFound on a miss.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every entry whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Ping(ctx context.Context) error
}
