package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	return store
}

func TestApplyChanges_AddNewShard(t *testing.T) {
	store := newTestStore(t)

	result, err := store.ApplyChanges("cid1", []ChangeOp{
		{Action: ActionAdd, Key: "k1", Category: "prefs", Payload: "dark mode", Importance: 5, Source: "user"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Added)

	shards := store.LoadCategory("cid1", "prefs")
	require.Len(t, shards, 1)
	require.Equal(t, "k1", shards[0].Key)
	require.Equal(t, 1, shards[0].TriggerCount)
	require.Equal(t, shards[0].CreatedAt, shards[0].UpdatedAt)
	require.Equal(t, shards[0].CreatedAt, shards[0].LastTriggered)
}

func TestApplyChanges_ReaddingSameKeyIncrementsTriggerCount(t *testing.T) {
	store := newTestStore(t)
	op := ChangeOp{Action: ActionAdd, Key: "k1", Category: "prefs", Payload: "dark mode", Importance: 5, Source: "user"}

	_, err := store.ApplyChanges("cid1", []ChangeOp{op})
	require.NoError(t, err)
	first := store.LoadCategory("cid1", "prefs")[0]

	_, err = store.ApplyChanges("cid1", []ChangeOp{op})
	require.NoError(t, err)
	second := store.LoadCategory("cid1", "prefs")[0]

	require.Equal(t, 2, second.TriggerCount)
	require.Equal(t, first.CreatedAt, second.CreatedAt)
	require.True(t, second.UpdatedAt.Equal(second.CreatedAt) || second.UpdatedAt.After(second.CreatedAt))
}

func TestApplyChanges_DeleteRemovesByKey(t *testing.T) {
	store := newTestStore(t)
	_, err := store.ApplyChanges("cid1", []ChangeOp{
		{Action: ActionAdd, Key: "k1", Category: "prefs", Payload: "x", Source: "user"},
	})
	require.NoError(t, err)

	result, err := store.ApplyChanges("cid1", []ChangeOp{
		{Action: ActionDel, Key: "k1", Category: "prefs"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Deleted)
	require.Empty(t, store.LoadCategory("cid1", "prefs"))
}

func TestApplyChanges_DeleteMissingKeyIsNoOp(t *testing.T) {
	store := newTestStore(t)
	result, err := store.ApplyChanges("cid1", []ChangeOp{
		{Action: ActionDel, Key: "does-not-exist", Category: "prefs"},
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.Deleted)
}

func TestApplyChanges_InvalidOpDroppedButSiblingsApply(t *testing.T) {
	store := newTestStore(t)
	result, err := store.ApplyChanges("cid1", []ChangeOp{
		{Action: ActionAdd, Key: "", Category: "prefs", Payload: "missing key"},
		{Action: ActionAdd, Key: "k1", Category: "prefs", Payload: "valid", Source: "user"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Added)
	require.Len(t, store.LoadCategory("cid1", "prefs"), 1)
}

func TestApplyChanges_KeyUniquenessInvariant(t *testing.T) {
	store := newTestStore(t)
	ops := []ChangeOp{
		{Action: ActionAdd, Key: "k1", Category: "prefs", Payload: "a", Source: "user"},
		{Action: ActionAdd, Key: "k1", Category: "prefs", Payload: "b", Source: "user"},
		{Action: ActionAdd, Key: "k2", Category: "prefs", Payload: "c", Source: "user"},
	}
	_, err := store.ApplyChanges("cid1", ops)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, shard := range store.LoadCategory("cid1", "prefs") {
		require.False(t, seen[shard.Key], "duplicate key %s", shard.Key)
		seen[shard.Key] = true
	}
}

func TestScanOutlines_CountsWithoutParsingPayload(t *testing.T) {
	store := newTestStore(t)
	_, err := store.ApplyChanges("cid1", []ChangeOp{
		{Action: ActionAdd, Key: "k1", Category: "prefs", Payload: "a", Source: "user"},
		{Action: ActionAdd, Key: "k2", Category: "prefs", Payload: "b", Source: "user"},
		{Action: ActionAdd, Key: "k1", Category: "facts", Payload: "c", Source: "user"},
	})
	require.NoError(t, err)

	outlines, err := store.ScanOutlines("cid1")
	require.NoError(t, err)
	require.Equal(t, 2, outlines["prefs"])
	require.Equal(t, 1, outlines["facts"])
}

func TestResolvePath_ExactnessInvariant(t *testing.T) {
	store := newTestStore(t)
	_, err := store.ApplyChanges("cid1", []ChangeOp{
		{Action: ActionAdd, Key: "k1", Category: "prefs", Payload: "a", Source: "user"},
	})
	require.NoError(t, err)

	require.NotNil(t, store.ResolvePath("cid1", "prefs.k1"))
	require.Nil(t, store.ResolvePath("cid1", "prefs.k2"))
	require.Nil(t, store.ResolvePath("cid1", "prefs"))
	require.Nil(t, store.ResolvePath("cid1", "prefs.k1.extra"))
}

func TestLoadCategory_MalformedFileYieldsEmpty(t *testing.T) {
	store := newTestStore(t)
	path := store.categoryPath("cid1", "prefs")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	require.Empty(t, store.LoadCategory("cid1", "prefs"))
}
