package filestore

import (
	"testing"

	"github.com/shardkeep/regiond/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteStoreFileIncrementsCount(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	cells := []types.Cell{{Row: []byte("r1"), Family: "cf", Value: []byte("v1")}}

	count, err := store.WriteStoreFile("orders,a,1", "cf", cells)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = store.WriteStoreFile("orders,a,1", "cf", cells)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestWriteStoreFileSeparateFamiliesAreIndependent(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	cells := []types.Cell{{Row: []byte("r1")}}
	_, err = store.WriteStoreFile("orders,a,1", "cf1", cells)
	require.NoError(t, err)

	count, err := store.WriteStoreFile("orders,a,1", "cf2", cells)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "cf2 should have its own independent sequence")
}

func TestCompactMergesFilesIntoOne(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	region, family := "orders,a,1", "cf"
	_, err = store.WriteStoreFile(region, family, []types.Cell{{Row: []byte("b"), Timestamp: 1}})
	require.NoError(t, err)
	_, err = store.WriteStoreFile(region, family, []types.Cell{{Row: []byte("a"), Timestamp: 2}})
	require.NoError(t, err)

	size, err := store.Compact(region, family)
	require.NoError(t, err)
	assert.Positive(t, size)

	// Writing again after a compaction adds one file beside the merged one.
	count, err := store.WriteStoreFile(region, family, []types.Cell{{Row: []byte("c")}})
	require.NoError(t, err)
	assert.Equal(t, 2, count, "the merged file plus the new write")
}

func TestCompactSingleFileIsNoop(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	region, family := "orders,a,1", "cf"
	_, err = store.WriteStoreFile(region, family, []types.Cell{{Row: []byte("a")}})
	require.NoError(t, err)

	size, err := store.Compact(region, family)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, size, int64(0))
}
