package backfill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chain-indexer/internal/models"
)

func TestCursorStoreRoundTrip(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewCursorStore(rdb)
	ctx := context.Background()

	in := &models.BackfillRange{
		ID:                  "r1",
		FromBlock:           100,
		ToBlock:             199,
		LatestBlock:         99,
		MaxBlock:            1000,
		ChunkSize:           100,
		WriteToPrimaryStore: true,
		State:               models.RangeAdvancing,
	}
	require.NoError(t, store.Save(ctx, in))
	assert.NotZero(t, in.UpdatedAt)

	out, err := store.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCursorStoreLoadMissing(t *testing.T) {
	_, rdb := newTestRedis(t)

	out, err := NewCursorStore(rdb).Load(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestCursorStoreDoneSet(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewCursorStore(rdb)
	ctx := context.Background()

	require.NoError(t, store.MarkDone(ctx, "r1", 5))
	require.NoError(t, store.MarkDone(ctx, "r1", 5))
	require.NoError(t, store.MarkDone(ctx, "r1", 6))

	done, err := store.Done(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, map[uint64]struct{}{5: {}, 6: {}}, done)
	assert.True(t, mr.Exists("backfill:r1:done"))

	require.NoError(t, store.ResetDone(ctx, "r1"))
	done, err = store.Done(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestCursorStoreFailedSet(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewCursorStore(rdb)
	ctx := context.Background()

	require.NoError(t, store.MarkDone(ctx, "r1", 5))
	require.NoError(t, store.MarkFailed(ctx, "r1", 6))

	failed, err := store.Failed(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, map[uint64]struct{}{6: {}}, failed)
	assert.True(t, mr.Exists("backfill:r1:failed"))

	require.NoError(t, store.ResetDone(ctx, "r1"))
	assert.False(t, mr.Exists("backfill:r1:done"))
	assert.False(t, mr.Exists("backfill:r1:failed"))
}
