package catalog

import (
	"testing"

	"github.com/shardkeep/regiond/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndGetRegion(t *testing.T) {
	cat, err := Open(t.TempDir())
	require.NoError(t, err)
	defer cat.Close()

	info := &types.RegionInfo{TableName: "orders", StartKey: []byte("a"), RegionID: 1}
	require.NoError(t, cat.PutRegion(Meta, info))

	got, err := cat.GetRegion(Meta, info.Name())
	require.NoError(t, err)
	assert.Equal(t, info.TableName, got.TableName)
}

func TestGetRegionNotFound(t *testing.T) {
	cat, err := Open(t.TempDir())
	require.NoError(t, err)
	defer cat.Close()

	_, err = cat.GetRegion(Meta, "nonexistent,a,1")
	assert.Error(t, err)
}

func TestRootAndMetaAreIndependent(t *testing.T) {
	cat, err := Open(t.TempDir())
	require.NoError(t, err)
	defer cat.Close()

	info := &types.RegionInfo{TableName: "orders", StartKey: []byte("a"), RegionID: 1}
	require.NoError(t, cat.PutRegion(Root, info))

	_, err = cat.GetRegion(Meta, info.Name())
	assert.Error(t, err, "a row written to root should not be visible in meta")

	got, err := cat.GetRegion(Root, info.Name())
	require.NoError(t, err)
	assert.Equal(t, info.TableName, got.TableName)
}

func TestMarkSplitSetsOfflineAndChildren(t *testing.T) {
	cat, err := Open(t.TempDir())
	require.NoError(t, err)
	defer cat.Close()

	parent := &types.RegionInfo{TableName: "orders", StartKey: []byte("a"), EndKey: []byte("z"), RegionID: 1}
	childA := &types.RegionInfo{TableName: "orders", StartKey: []byte("a"), EndKey: []byte("m"), RegionID: 2}
	childB := &types.RegionInfo{TableName: "orders", StartKey: []byte("m"), EndKey: []byte("z"), RegionID: 3}

	require.NoError(t, cat.PutRegion(Meta, parent))
	require.NoError(t, cat.MarkSplit(Meta, parent, childA, childB))

	got, err := cat.GetRegion(Meta, parent.Name())
	require.NoError(t, err)
	assert.True(t, got.Offline)
	assert.True(t, got.Split)
	require.NotNil(t, got.SplitA)
	require.NotNil(t, got.SplitB)
	assert.Equal(t, childA.RegionID, got.SplitA.RegionID)
	assert.Equal(t, childB.RegionID, got.SplitB.RegionID)
}
