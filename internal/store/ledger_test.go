package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/storesync/internal/model"
)

func runLedgerSuite(t *testing.T, l MutationLedger) {
	ctx := context.Background()
	cg := "cg-" + uuid.NewString()

	last, err := l.LastMutationID(ctx, cg)
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)

	_, err = l.Get(ctx, cg, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, l.Commit(ctx, cg, model.Outcome{ClientMutationID: 1, Status: model.OutcomeAccepted, Version: 1}))
	require.NoError(t, l.Commit(ctx, cg, model.Outcome{ClientMutationID: 2, Status: model.OutcomeRejected, Code: "CONFLICT"}))

	last, err = l.LastMutationID(ctx, cg)
	require.NoError(t, err)
	assert.Equal(t, int64(2), last)

	o, err := l.Get(ctx, cg, 2)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejected, o.Status)
	assert.Equal(t, "CONFLICT", o.Code)

	// The last id never moves backwards.
	require.NoError(t, l.Commit(ctx, cg, model.Outcome{ClientMutationID: 1, Status: model.OutcomeAccepted}))
	last, err = l.LastMutationID(ctx, cg)
	require.NoError(t, err)
	assert.Equal(t, int64(2), last)

	other, err := l.LastMutationID(ctx, "cg-"+uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, int64(0), other)
}

func TestMemoryLedger(t *testing.T) {
	l := NewMemoryLedger(time.Hour, zap.NewNop())
	defer l.Close()

	runLedgerSuite(t, l)
}

func TestMemoryLedger_OutcomesExpireButLastIDStays(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(time.Hour, zap.NewNop())
	defer l.Close()

	now := time.Now()
	l.now = func() time.Time { return now }

	require.NoError(t, l.Commit(ctx, "cg-1", model.Outcome{ClientMutationID: 7, Status: model.OutcomeAccepted}))

	now = now.Add(2 * time.Hour)
	_, err := l.Get(ctx, "cg-1", 7)
	assert.ErrorIs(t, err, ErrNotFound)

	last, err := l.LastMutationID(ctx, "cg-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), last)
}

func TestMemoryLedger_OutcomeExpiresAtExactTTL(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(time.Hour, zap.NewNop())
	defer l.Close()

	now := time.Now()
	l.now = func() time.Time { return now }
	require.NoError(t, l.Commit(ctx, "cg-1", model.Outcome{ClientMutationID: 1, Status: model.OutcomeAccepted}))

	now = now.Add(time.Hour)
	_, err := l.Get(ctx, "cg-1", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisLedger(t *testing.T) {
	client := testRedisClient(t)
	runLedgerSuite(t, NewRedisLedgerFromClient(client, time.Hour, zap.NewNop()))
}

func testRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("STORESYNC_TEST_REDIS_ADDR")
	if testing.Short() || addr == "" {
		t.Skip("Skipping integration test: STORESYNC_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}
