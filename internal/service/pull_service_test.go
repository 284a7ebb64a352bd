package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/keys"
	"github.com/devrev/storesync/internal/model"
	"github.com/devrev/storesync/internal/mutator"
)

func TestPull_ReturnsChangesAndCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := model.Session{UserID: "u1", SpaceID: "space-a"}

	cart := keys.MustAllocate(model.KindCart, "")
	_, err := f.reconciler.Push(ctx, session, model.PushRequest{
		ClientGroupID: "cg-1",
		SubspaceIDs:   []string{"store_1"},
		Mutations: []model.Mutation{
			{ClientMutationID: 1, MutatorName: mutator.CreateCart, Key: cart, SubspaceID: "store_1"},
		},
	})
	require.NoError(t, err)

	resp, err := f.puller.Pull(ctx, session, model.PullRequest{ClientGroupID: "cg-1", SubspaceIDs: []string{"store_1"}})
	require.NoError(t, err)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, cart, resp.Records[0].Key)
	assert.Equal(t, int64(1), resp.Records[0].Version)
	assert.Equal(t, resp.Records[0].ChangeVersion, resp.NewSinceVersion)
	assert.Equal(t, int64(1), resp.LastMutationID)
	assert.False(t, resp.More)

	again, err := f.puller.Pull(ctx, session, model.PullRequest{
		ClientGroupID: "cg-1", SubspaceIDs: []string{"store_1"}, SinceVersion: resp.NewSinceVersion,
	})
	require.NoError(t, err)
	assert.Empty(t, again.Records)
	assert.Equal(t, resp.NewSinceVersion, again.NewSinceVersion)
}

func TestPull_Pagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := f.bind(t, "cg-1", "space-a")

	batch := make([]model.Mutation, 0, 5)
	for i := 1; i <= 5; i++ {
		batch = append(batch, model.Mutation{
			ClientMutationID: int64(i), MutatorName: mutator.CreateCart, Key: keys.MustAllocate(model.KindCart, ""),
		})
	}
	_, err := f.reconciler.Reconcile(ctx, token, batch)
	require.NoError(t, err)

	var (
		since int64
		seen  []string
		pages int
	)
	for {
		resp, err := f.puller.PullScope(ctx, token, since, 2)
		require.NoError(t, err)
		pages++
		for _, r := range resp.Records {
			seen = append(seen, r.Key)
		}
		since = resp.NewSinceVersion
		if !resp.More {
			break
		}
	}

	assert.Equal(t, 3, pages)
	require.Len(t, seen, 5)
	for i, m := range batch {
		assert.Equal(t, m.Key, seen[i])
	}
}

// Tombstones replicate so clients learn about deletes.
func TestPull_IncludesTombstones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := f.bind(t, "cg-1", "space-a")
	cart := keys.MustAllocate(model.KindCart, "")

	_, err := f.reconciler.Reconcile(ctx, token, []model.Mutation{
		{ClientMutationID: 1, MutatorName: mutator.CreateCart, Key: cart},
	})
	require.NoError(t, err)
	first, err := f.puller.PullScope(ctx, token, 0, 0)
	require.NoError(t, err)

	_, err = f.reconciler.Reconcile(ctx, token, []model.Mutation{
		{ClientMutationID: 2, MutatorName: mutator.DeleteCart, Key: cart},
	})
	require.NoError(t, err)

	resp, err := f.puller.PullScope(ctx, token, first.NewSinceVersion, 0)
	require.NoError(t, err)
	require.Len(t, resp.Records, 1)
	assert.True(t, resp.Records[0].Deleted)
	assert.Equal(t, int64(2), resp.Records[0].Version)
}

func TestPull_ScopeIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := f.bind(t, "cg-b", "space-b", "store_1")

	_, err := f.reconciler.Reconcile(ctx, token, []model.Mutation{
		{ClientMutationID: 1, MutatorName: mutator.CreateCart, Key: keys.MustAllocate(model.KindCart, ""), SubspaceID: "store_1"},
	})
	require.NoError(t, err)

	resp, err := f.puller.Pull(ctx, model.Session{SpaceID: "space-a"}, model.PullRequest{
		ClientGroupID: "cg-a", SubspaceIDs: []string{"store_1"},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Records)

	_, err = f.puller.Pull(ctx, model.Session{SpaceID: "space-a"}, model.PullRequest{
		ClientGroupID: "cg-a", SpaceID: "space-b",
	})
	assert.ErrorIs(t, err, errors.ErrScopeViolation)
}

func TestPull_RejectsNegativeCursor(t *testing.T) {
	f := newFixture(t)
	_, err := f.puller.Pull(context.Background(), model.Session{SpaceID: "space-a"}, model.PullRequest{
		ClientGroupID: "cg-1", SinceVersion: -1,
	})
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}
