package store

import (
	"context"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/model"
	"go.uber.org/zap"
)

const keyLockStripes = 64

// MemoryRecordStore implements RecordStore in process memory.
//
// A write takes the stripe lock of its key, then the lock of its space, then
// the table lock. Change versions are assigned and published under the space
// lock, so a reader never sees change N+1 of a space without change N.
type MemoryRecordStore struct {
	keyLocks [keyLockStripes]sync.Mutex

	spacesMu sync.Mutex
	spaces   map[string]*spaceLog

	mu      sync.RWMutex
	records map[string]*model.Record
	byspace map[string]map[string]struct{}

	now    func() time.Time
	logger *zap.Logger
}

type spaceLog struct {
	mu      sync.Mutex
	version int64
}

// NewMemoryRecordStore creates a new in-memory record store
func NewMemoryRecordStore(logger *zap.Logger) *MemoryRecordStore {
	return &MemoryRecordStore{
		spaces:  make(map[string]*spaceLog),
		records: make(map[string]*model.Record),
		byspace: make(map[string]map[string]struct{}),
		now:     time.Now,
		logger:  logger,
	}
}

func (s *MemoryRecordStore) keyLock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.keyLocks[h.Sum32()%keyLockStripes]
}

func (s *MemoryRecordStore) space(spaceID string) *spaceLog {
	s.spacesMu.Lock()
	defer s.spacesMu.Unlock()
	l, ok := s.spaces[spaceID]
	if !ok {
		l = &spaceLog{}
		s.spaces[spaceID] = l
	}
	return l
}

func (s *MemoryRecordStore) load(key string) *model.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[key]
}

// Get returns a live record.
func (s *MemoryRecordStore) Get(ctx context.Context, token model.ScopeToken, key string) (*model.Record, error) {
	r, err := s.Lookup(ctx, token, key)
	if err != nil {
		return nil, err
	}
	if r.Deleted {
		return nil, errors.NotFound(key)
	}
	return r, nil
}

// Lookup returns a record or tombstone.
func (s *MemoryRecordStore) Lookup(ctx context.Context, token model.ScopeToken, key string) (*model.Record, error) {
	r := s.load(key)
	if err := visible(token, key, r); err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

// Put writes a record version if expectedVersion matches.
func (s *MemoryRecordStore) Put(ctx context.Context, token model.ScopeToken, w Write, expectedVersion int64) (*model.Record, error) {
	kl := s.keyLock(w.Key)
	kl.Lock()
	defer kl.Unlock()

	next, err := preparePut(token, w, s.load(w.Key), expectedVersion, s.now())
	if err != nil {
		return nil, err
	}
	return s.publish(next), nil
}

// Delete replaces a live record with a tombstone if expectedVersion matches.
func (s *MemoryRecordStore) Delete(ctx context.Context, token model.ScopeToken, key string, expectedVersion int64) (*model.Record, error) {
	kl := s.keyLock(key)
	kl.Lock()
	defer kl.Unlock()

	tomb, err := prepareDelete(token, key, s.load(key), expectedVersion, s.now())
	if err != nil {
		return nil, err
	}
	return s.publish(tomb), nil
}

func (s *MemoryRecordStore) publish(r *model.Record) *model.Record {
	sl := s.space(r.SpaceID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.version++
	r.ChangeVersion = sl.version

	s.mu.Lock()
	s.records[r.Key] = r
	set, ok := s.byspace[r.SpaceID]
	if !ok {
		set = make(map[string]struct{})
		s.byspace[r.SpaceID] = set
	}
	set[r.Key] = struct{}{}
	s.mu.Unlock()

	return r.Clone()
}

// ListSince returns changes of the token's scope after sinceVersion.
func (s *MemoryRecordStore) ListSince(ctx context.Context, token model.ScopeToken, sinceVersion int64, limit int) ([]*model.Record, error) {
	out := s.scan(token, func(r *model.Record) bool {
		return r.ChangeVersion > sinceVersion
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChangeVersion != out[j].ChangeVersion {
			return out[i].ChangeVersion < out[j].ChangeVersion
		}
		return out[i].Key < out[j].Key
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListPrefix returns live records of the token's scope under prefix.
func (s *MemoryRecordStore) ListPrefix(ctx context.Context, token model.ScopeToken, prefix string) ([]*model.Record, error) {
	out := s.scan(token, func(r *model.Record) bool {
		return !r.Deleted && strings.HasPrefix(r.Key, prefix)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryRecordStore) scan(token model.ScopeToken, match func(*model.Record) bool) []*model.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Record
	for key := range s.byspace[token.SpaceID] {
		r := s.records[key]
		if visible(token, key, r) != nil || !match(r) {
			continue
		}
		out = append(out, r.Clone())
	}
	return out
}

// Ping always succeeds.
func (s *MemoryRecordStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *MemoryRecordStore) Close() {}
