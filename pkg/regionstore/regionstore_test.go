package regionstore

import (
	"testing"

	"github.com/shardkeep/regiond/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndOwned(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	info := &types.RegionInfo{TableName: "orders", StartKey: []byte("a"), RegionID: 1}
	require.NoError(t, store.Record(info))

	owned, err := store.Owned()
	require.NoError(t, err)
	if assert.Len(t, owned, 1) {
		assert.Equal(t, info.Name(), owned[0].Name())
	}
}

func TestForgetRemovesRegion(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	info := &types.RegionInfo{TableName: "orders", StartKey: []byte("a"), RegionID: 1}
	require.NoError(t, store.Record(info))
	require.NoError(t, store.Forget(info.Name()))

	owned, err := store.Owned()
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestOwnedSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	info := &types.RegionInfo{TableName: "orders", StartKey: []byte("m"), RegionID: 2}

	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.Record(info))
	require.NoError(t, store.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	owned, err := reopened.Owned()
	require.NoError(t, err)
	if assert.Len(t, owned, 1) {
		assert.Equal(t, info.Name(), owned[0].Name())
	}
}
