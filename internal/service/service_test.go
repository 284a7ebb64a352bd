package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/storesync/internal/codec"
	"github.com/devrev/storesync/internal/metrics"
	"github.com/devrev/storesync/internal/model"
	"github.com/devrev/storesync/internal/mutator"
	"github.com/devrev/storesync/internal/scope"
	"github.com/devrev/storesync/internal/store"
)

// MockRecordStore is a mock implementation of RecordStore
type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) Get(ctx context.Context, token model.ScopeToken, key string) (*model.Record, error) {
	args := m.Called(ctx, token, key)
	r, _ := args.Get(0).(*model.Record)
	return r, args.Error(1)
}

func (m *MockRecordStore) Lookup(ctx context.Context, token model.ScopeToken, key string) (*model.Record, error) {
	args := m.Called(ctx, token, key)
	r, _ := args.Get(0).(*model.Record)
	return r, args.Error(1)
}

func (m *MockRecordStore) Put(ctx context.Context, token model.ScopeToken, w store.Write, expectedVersion int64) (*model.Record, error) {
	args := m.Called(ctx, token, w, expectedVersion)
	r, _ := args.Get(0).(*model.Record)
	return r, args.Error(1)
}

func (m *MockRecordStore) Delete(ctx context.Context, token model.ScopeToken, key string, expectedVersion int64) (*model.Record, error) {
	args := m.Called(ctx, token, key, expectedVersion)
	r, _ := args.Get(0).(*model.Record)
	return r, args.Error(1)
}

func (m *MockRecordStore) ListSince(ctx context.Context, token model.ScopeToken, sinceVersion int64, limit int) ([]*model.Record, error) {
	args := m.Called(ctx, token, sinceVersion, limit)
	r, _ := args.Get(0).([]*model.Record)
	return r, args.Error(1)
}

func (m *MockRecordStore) ListPrefix(ctx context.Context, token model.ScopeToken, prefix string) ([]*model.Record, error) {
	args := m.Called(ctx, token, prefix)
	r, _ := args.Get(0).([]*model.Record)
	return r, args.Error(1)
}

func (m *MockRecordStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockRecordStore) Close() {}

// fixture wires the services over in-memory backends.
type fixture struct {
	records     store.RecordStore
	ledger      *store.MemoryLedger
	partitioner *scope.Partitioner
	metrics     *metrics.Metrics
	reconciler  *ReconcilerService
	puller      *PullService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStore(t, store.NewMemoryRecordStore(zap.NewNop()))
}

func newFixtureWithStore(t *testing.T, records store.RecordStore) *fixture {
	t.Helper()
	logger := zap.NewNop()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	ledger := store.NewMemoryLedger(time.Hour, logger)
	t.Cleanup(func() { _ = ledger.Close() })
	p := scope.NewPartitioner(logger)

	return &fixture{
		records:     records,
		ledger:      ledger,
		partitioner: p,
		metrics:     m,
		reconciler:  NewReconcilerService(records, ledger, mutator.NewStorefrontRegistry(), p, 3, m, logger),
		puller:      NewPullService(records, ledger, p, 100, 500, m, logger),
	}
}

func (f *fixture) bind(t *testing.T, clientGroupID, spaceID string, subspaces ...string) model.ScopeToken {
	t.Helper()
	token, err := f.partitioner.Bind(clientGroupID, spaceID, subspaces)
	require.NoError(t, err)
	return token
}

func newReadThrough(t *testing.T) (*ReadThroughService, *store.MemoryCache) {
	t.Helper()
	cache, err := store.NewMemoryCache(1000, zap.NewNop())
	require.NoError(t, err)
	return NewReadThroughService(cache, codec.JSON{}, "memory", metrics.NewMetrics(prometheus.NewRegistry()), zap.NewNop()), cache
}

func version(v int64) *int64 {
	return &v
}
