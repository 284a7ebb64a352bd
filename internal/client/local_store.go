package client

import (
	"context"
	"sort"
	"sync"

	"github.com/devrev/storesync/internal/model"
)

// State is everything a client persists between runs.
type State struct {
	ClientGroupID  string
	SubspaceIDs    []string
	Cursor         int64
	LastMutationID int64
	Records        []*model.Record
	Watermarks     map[string]int64
	Queue          []model.Mutation
}

// LocalStore is the durable side of the client: the outbound mutation queue
// and the confirmed records with their pull cursor.
type LocalStore interface {
	Load(ctx context.Context) (*State, error)
	SetClientGroupID(ctx context.Context, id string) error
	// Enqueue durably appends m to the queue and records its id as the last
	// one allocated.
	Enqueue(ctx context.Context, m model.Mutation) error
	// Ack removes mutations from the queue.
	Ack(ctx context.Context, ids []int64) error
	// ApplyPull stores confirmed records, tombstones included, and advances
	// the cursor, all or nothing.
	ApplyPull(ctx context.Context, records []*model.Record, cursor int64) error
	// ResetScope records a new subspace set, drops the given records and
	// rewinds the cursor to zero.
	ResetScope(ctx context.Context, subspaceIDs []string, drop []string) error
	Close() error
}

// MemoryStore is a LocalStore that lives only as long as the process.
type MemoryStore struct {
	mu    sync.Mutex
	state State
	queue map[int64]model.Mutation
	recs  map[string]*model.Record
}

// NewMemoryStore creates an empty in-memory local store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: State{Watermarks: make(map[string]int64)},
		queue: make(map[int64]model.Mutation),
		recs:  make(map[string]*model.Record),
	}
}

func (s *MemoryStore) Load(ctx context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	st.SubspaceIDs = append([]string(nil), s.state.SubspaceIDs...)
	st.Watermarks = make(map[string]int64, len(s.state.Watermarks))
	for k, v := range s.state.Watermarks {
		st.Watermarks[k] = v
	}
	for _, r := range s.recs {
		st.Records = append(st.Records, r.Clone())
	}
	sort.Slice(st.Records, func(i, j int) bool { return st.Records[i].Key < st.Records[j].Key })
	for _, m := range s.queue {
		st.Queue = append(st.Queue, m)
	}
	model.SortMutations(st.Queue)
	return &st, nil
}

func (s *MemoryStore) SetClientGroupID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ClientGroupID = id
	return nil
}

func (s *MemoryStore) Enqueue(ctx context.Context, m model.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue[m.ClientMutationID] = m
	if m.ClientMutationID > s.state.LastMutationID {
		s.state.LastMutationID = m.ClientMutationID
	}
	return nil
}

func (s *MemoryStore) Ack(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.queue, id)
	}
	return nil
}

func (s *MemoryStore) ApplyPull(ctx context.Context, records []*model.Record, cursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if r.Version < s.state.Watermarks[r.Key] {
			continue
		}
		s.state.Watermarks[r.Key] = r.Version
		if r.Deleted {
			delete(s.recs, r.Key)
		} else {
			s.recs[r.Key] = r.Clone()
		}
	}
	s.state.Cursor = cursor
	return nil
}

func (s *MemoryStore) ResetScope(ctx context.Context, subspaceIDs []string, drop []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SubspaceIDs = append([]string(nil), subspaceIDs...)
	for _, k := range drop {
		delete(s.recs, k)
	}
	s.state.Cursor = 0
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
