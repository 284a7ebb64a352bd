package store

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/keys"
	"github.com/devrev/storesync/internal/model"
)

func newToken(subspaces ...string) model.ScopeToken {
	return model.ScopeToken{
		ClientGroupID: "cg-" + uuid.NewString(),
		SpaceID:       "space-" + uuid.NewString(),
		SubspaceIDs:   subspaces,
		Epoch:         1,
	}
}

func runRecordStoreSuite(t *testing.T, s RecordStore) {
	ctx := context.Background()

	t.Run("create then update", func(t *testing.T) {
		token := newToken("store_1")
		key := keys.MustAllocate(model.KindCart, "")

		r, err := s.Put(ctx, token, Write{Key: key, SubspaceID: "store_1", Payload: model.Payload{"currency": "USD"}}, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), r.Version)
		assert.Equal(t, model.KindCart, r.Kind)
		assert.Equal(t, "store_1", r.SubspaceID)

		r, err = s.Put(ctx, token, Write{Key: key, Payload: model.Payload{"currency": "EUR"}}, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), r.Version)
		assert.Equal(t, "store_1", r.SubspaceID)

		got, err := s.Get(ctx, token, key)
		require.NoError(t, err)
		assert.Equal(t, "EUR", got.Payload["currency"])
	})

	t.Run("stale expected version conflicts", func(t *testing.T) {
		token := newToken()
		key := keys.MustAllocate(model.KindProduct, "")

		_, err := s.Put(ctx, token, Write{Key: key, Payload: model.Payload{"title": "a"}}, 0)
		require.NoError(t, err)

		_, err = s.Put(ctx, token, Write{Key: key, Payload: model.Payload{"title": "b"}}, 0)
		assert.ErrorIs(t, err, errors.ErrVersionConflict)

		got, err := s.Get(ctx, token, key)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, "a", got.Payload["title"])
	})

	t.Run("create with nonzero expected version conflicts", func(t *testing.T) {
		token := newToken()
		_, err := s.Put(ctx, token, Write{Key: keys.MustAllocate(model.KindOrder, "")}, 3)
		assert.ErrorIs(t, err, errors.ErrVersionConflict)
	})

	t.Run("invalid key", func(t *testing.T) {
		_, err := s.Put(ctx, newToken(), Write{Key: "widget_0189a1b2c3d4e5f60718293a4b5c6d7e"}, 0)
		assert.ErrorIs(t, err, errors.ErrInvalidKind)
	})

	t.Run("concurrent puts at the same version", func(t *testing.T) {
		token := newToken()
		key := keys.MustAllocate(model.KindVariant, "")
		_, err := s.Put(ctx, token, Write{Key: key, Payload: model.Payload{"price": 10}}, 0)
		require.NoError(t, err)

		var wins, conflicts int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.Put(ctx, token, Write{Key: key, Payload: model.Payload{"price": i}}, 1)
				if err == nil {
					atomic.AddInt32(&wins, 1)
				} else if errors.GetCode(err) == errors.ErrCodeVersionConflict {
					atomic.AddInt32(&conflicts, 1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins)
		assert.Equal(t, int32(7), conflicts)
	})

	t.Run("delete leaves a tombstone", func(t *testing.T) {
		token := newToken()
		key := keys.MustAllocate(model.KindAddress, "")
		_, err := s.Put(ctx, token, Write{Key: key, Payload: model.Payload{"city": "Oslo"}}, 0)
		require.NoError(t, err)

		tomb, err := s.Delete(ctx, token, key, 1)
		require.NoError(t, err)
		assert.True(t, tomb.Deleted)
		assert.Equal(t, int64(2), tomb.Version)

		_, err = s.Get(ctx, token, key)
		assert.ErrorIs(t, err, errors.ErrNotFound)

		looked, err := s.Lookup(ctx, token, key)
		require.NoError(t, err)
		assert.True(t, looked.Deleted)

		_, err = s.Delete(ctx, token, key, 2)
		assert.ErrorIs(t, err, errors.ErrNotFound)

		again, err := s.Put(ctx, token, Write{Key: key, Payload: model.Payload{"city": "Bergen"}}, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(3), again.Version)
		assert.False(t, again.Deleted)
	})

	t.Run("scope is enforced", func(t *testing.T) {
		owner := newToken("store_1")
		key := keys.MustAllocate(model.KindCart, "")
		_, err := s.Put(ctx, owner, Write{Key: key, SubspaceID: "store_1"}, 0)
		require.NoError(t, err)

		otherSubspace := owner
		otherSubspace.SubspaceIDs = []string{"store_2"}
		_, err = s.Get(ctx, otherSubspace, key)
		assert.ErrorIs(t, err, errors.ErrScopeViolation)
		_, err = s.Put(ctx, otherSubspace, Write{Key: key}, 1)
		assert.ErrorIs(t, err, errors.ErrScopeViolation)

		otherSpace := newToken("store_1")
		_, err = s.Get(ctx, otherSpace, key)
		assert.ErrorIs(t, err, errors.ErrScopeViolation)
		_, err = s.Delete(ctx, otherSpace, key, 1)
		assert.ErrorIs(t, err, errors.ErrScopeViolation)

		_, err = s.Put(ctx, owner, Write{Key: keys.MustAllocate(model.KindCart, ""), SubspaceID: "store_9"}, 0)
		assert.ErrorIs(t, err, errors.ErrScopeViolation)
	})

	t.Run("list since orders by change version", func(t *testing.T) {
		token := newToken("store_1")
		a := keys.MustAllocate(model.KindProduct, "")
		b := keys.MustAllocate(model.KindProduct, "")

		_, err := s.Put(ctx, token, Write{Key: a}, 0)
		require.NoError(t, err)
		_, err = s.Put(ctx, token, Write{Key: b, SubspaceID: "store_1"}, 0)
		require.NoError(t, err)
		_, err = s.Put(ctx, token, Write{Key: a, Payload: model.Payload{"title": "x"}}, 1)
		require.NoError(t, err)

		hidden := token
		hidden.SubspaceIDs = []string{"store_1", "store_2"}
		_, err = s.Put(ctx, hidden, Write{Key: keys.MustAllocate(model.KindProduct, ""), SubspaceID: "store_2"}, 0)
		require.NoError(t, err)

		all, err := s.ListSince(ctx, token, 0, 0)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, b, all[0].Key)
		assert.Equal(t, a, all[1].Key)
		assert.Less(t, all[0].ChangeVersion, all[1].ChangeVersion)

		rest, err := s.ListSince(ctx, token, all[0].ChangeVersion, 0)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, a, rest[0].Key)

		limited, err := s.ListSince(ctx, hidden, 0, 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, b, limited[0].Key)
	})

	t.Run("list prefix", func(t *testing.T) {
		token := newToken()
		cart := keys.MustAllocate(model.KindCart, "")
		first := keys.MustAllocate(model.KindLineItem, cart)
		second := keys.MustAllocate(model.KindLineItem, cart)
		other := keys.MustAllocate(model.KindLineItem, keys.MustAllocate(model.KindCart, ""))

		for _, k := range []string{first, second, other} {
			_, err := s.Put(ctx, token, Write{Key: k}, 0)
			require.NoError(t, err)
		}
		_, err := s.Delete(ctx, token, second, 1)
		require.NoError(t, err)

		items, err := s.ListPrefix(ctx, token, keys.FilterPrefix(model.KindLineItem, cart))
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, first, items[0].Key)
	})
}

func TestMemoryRecordStore(t *testing.T) {
	runRecordStoreSuite(t, NewMemoryRecordStore(zap.NewNop()))
}

func TestMemoryRecordStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRecordStore(zap.NewNop())
	token := newToken()
	key := keys.MustAllocate(model.KindStore, "")

	payload := model.Payload{"name": "shop"}
	r, err := s.Put(ctx, token, Write{Key: key, Payload: payload}, 0)
	require.NoError(t, err)

	payload["name"] = "mutated"
	r.Payload["name"] = "mutated"

	got, err := s.Get(ctx, token, key)
	require.NoError(t, err)
	assert.Equal(t, "shop", got.Payload["name"])
}

func TestPostgresRecordStore(t *testing.T) {
	dsn := os.Getenv("STORESYNC_TEST_POSTGRES_DSN")
	if testing.Short() || dsn == "" {
		t.Skip("Skipping integration test: STORESYNC_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)

	runRecordStoreSuite(t, NewPostgresRecordStoreFromPool(pool, zap.NewNop()))
}
