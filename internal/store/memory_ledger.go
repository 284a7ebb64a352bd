package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/storesync/internal/model"
)

// MemoryLedger implements MutationLedger in process memory. Outcomes expire
// after ttl; the last mutation id of a client group never does.
type MemoryLedger struct {
	mu       sync.RWMutex
	last     map[string]int64
	outcomes map[ledgerKey]ledgerEntry
	ttl      time.Duration
	now      func() time.Time
	stop     chan struct{}
	once     sync.Once
	logger   *zap.Logger
}

type ledgerKey struct {
	clientGroupID string
	mutationID    int64
}

type ledgerEntry struct {
	outcome   model.Outcome
	expiresAt time.Time
}

// NewMemoryLedger creates a new in-memory ledger
func NewMemoryLedger(ttl time.Duration, logger *zap.Logger) *MemoryLedger {
	l := &MemoryLedger{
		last:     make(map[string]int64),
		outcomes: make(map[ledgerKey]ledgerEntry),
		ttl:      ttl,
		now:      time.Now,
		stop:     make(chan struct{}),
		logger:   logger,
	}

	go l.cleanup()

	return l
}

// LastMutationID returns the highest mutation id processed for a client group.
func (l *MemoryLedger) LastMutationID(ctx context.Context, clientGroupID string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last[clientGroupID], nil
}

// Get retrieves a recorded outcome
func (l *MemoryLedger) Get(ctx context.Context, clientGroupID string, mutationID int64) (*model.Outcome, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.outcomes[ledgerKey{clientGroupID, mutationID}]
	if !ok || !l.now().Before(e.expiresAt) {
		return nil, ErrNotFound
	}
	o := e.outcome
	return &o, nil
}

// Commit records an outcome.
func (l *MemoryLedger) Commit(ctx context.Context, clientGroupID string, outcome model.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.outcomes[ledgerKey{clientGroupID, outcome.ClientMutationID}] = ledgerEntry{
		outcome:   outcome,
		expiresAt: l.now().Add(l.ttl),
	}
	if outcome.ClientMutationID > l.last[clientGroupID] {
		l.last[clientGroupID] = outcome.ClientMutationID
	}
	return nil
}

// cleanup periodically removes expired outcomes
func (l *MemoryLedger) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			removed := 0
			for k, e := range l.outcomes {
				if !now.Before(e.expiresAt) {
					delete(l.outcomes, k)
					removed++
				}
			}
			l.mu.Unlock()
			if removed > 0 {
				l.logger.Debug("Expired ledger outcomes removed", zap.Int("count", removed))
			}
		}
	}
}

// Ping always succeeds.
func (l *MemoryLedger) Ping(ctx context.Context) error {
	return nil
}

// Close stops the cleanup loop.
func (l *MemoryLedger) Close() error {
	l.once.Do(func() { close(l.stop) })
	return nil
}
