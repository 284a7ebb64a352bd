package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/storesync/internal/model"
)

func runLocalStoreSuite(t *testing.T, newStore func(t *testing.T) LocalStore) {
	ctx := context.Background()

	t.Run("EmptyState", func(t *testing.T) {
		s := newStore(t)
		st, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, st.ClientGroupID)
		assert.Zero(t, st.Cursor)
		assert.Empty(t, st.Queue)
		assert.Empty(t, st.Records)
	})

	t.Run("QueueIsOrderedAndAckable", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SetClientGroupID(ctx, "cg-1"))
		for _, id := range []int64{2, 1, 3} {
			require.NoError(t, s.Enqueue(ctx, model.Mutation{
				ClientMutationID: id,
				MutatorName:      "createStore",
				Key:              "store_a",
				Args:             model.Args{"name": "shop"},
				CreatedAt:        time.Now().UTC(),
			}))
		}
		require.NoError(t, s.Ack(ctx, []int64{1}))

		st, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "cg-1", st.ClientGroupID)
		assert.Equal(t, int64(3), st.LastMutationID)
		require.Len(t, st.Queue, 2)
		assert.Equal(t, int64(2), st.Queue[0].ClientMutationID)
		assert.Equal(t, int64(3), st.Queue[1].ClientMutationID)
		assert.Equal(t, "shop", st.Queue[0].Args["name"])
	})

	t.Run("LastMutationIDSurvivesAck", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Enqueue(ctx, model.Mutation{ClientMutationID: 7, Key: "store_a"}))
		require.NoError(t, s.Ack(ctx, []int64{7}))

		st, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(7), st.LastMutationID)
		assert.Empty(t, st.Queue)
	})

	t.Run("ApplyPullHonoursWatermarks", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.ApplyPull(ctx, []*model.Record{
			{Key: "store_a", Version: 2, ChangeVersion: 4, Payload: model.Payload{"name": "new"}},
			{Key: "store_b", Version: 1, ChangeVersion: 5, Payload: model.Payload{"name": "b"}},
		}, 5))
		require.NoError(t, s.ApplyPull(ctx, []*model.Record{
			{Key: "store_a", Version: 1, ChangeVersion: 2, Payload: model.Payload{"name": "old"}},
			{Key: "store_b", Version: 2, ChangeVersion: 6, Deleted: true},
		}, 6))

		st, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(6), st.Cursor)
		require.Len(t, st.Records, 1)
		assert.Equal(t, "new", st.Records[0].Payload["name"])
		assert.Equal(t, int64(2), st.Watermarks["store_a"])
		assert.Equal(t, int64(2), st.Watermarks["store_b"])
	})

	t.Run("ResetScope", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.ApplyPull(ctx, []*model.Record{
			{Key: "cart_a", Version: 1, SubspaceID: "store_1", Payload: model.Payload{}},
			{Key: "cart_b", Version: 1, SubspaceID: "store_2", Payload: model.Payload{}},
		}, 2))
		require.NoError(t, s.ResetScope(ctx, []string{"store_1"}, []string{"cart_b"}))

		st, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Zero(t, st.Cursor)
		assert.Equal(t, []string{"store_1"}, st.SubspaceIDs)
		require.Len(t, st.Records, 1)
		assert.Equal(t, "cart_a", st.Records[0].Key)
		assert.Equal(t, int64(1), st.Watermarks["cart_b"])
	})
}

func TestMemoryStore(t *testing.T) {
	runLocalStoreSuite(t, func(t *testing.T) LocalStore {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runLocalStoreSuite(t, func(t *testing.T) LocalStore {
		s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "local.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStore_InMemory(t *testing.T) {
	s, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Enqueue(context.Background(), model.Mutation{ClientMutationID: 1, Key: "store_a"}))
	st, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, st.Queue, 1)
}
