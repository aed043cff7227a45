package memtable

import (
	"testing"

	"github.com/shardkeep/regiond/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestPutGetOverwrite(t *testing.T) {
	m := New()
	delta := m.Put(types.Cell{Row: []byte("r1"), Family: "cf", Qualifier: []byte("q"), Value: []byte("v1"), Timestamp: 1})
	assert.Positive(t, delta)
	assert.Equal(t, delta, m.Size())

	cell, ok := m.Get([]byte("r1"), "cf", []byte("q"), 0)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), cell.Value)

	// Overwriting the same key changes size by the value length delta, not double-counting.
	m.Put(types.Cell{Row: []byte("r1"), Family: "cf", Qualifier: []byte("q"), Value: []byte("v1234"), Timestamp: 1})
	assert.Equal(t, int64(3), m.Size()-delta)
}

func TestGetRespectsTimestampCeiling(t *testing.T) {
	m := New()
	m.Put(types.Cell{Row: []byte("r1"), Family: "cf", Qualifier: []byte("q"), Value: []byte("old"), Timestamp: 1})
	m.Put(types.Cell{Row: []byte("r1"), Family: "cf", Qualifier: []byte("q"), Value: []byte("new"), Timestamp: 5})

	latest, ok := m.Get([]byte("r1"), "cf", []byte("q"), 0)
	assert.True(t, ok)
	assert.Equal(t, []byte("new"), latest.Value)

	ceilinged, ok := m.Get([]byte("r1"), "cf", []byte("q"), 3)
	assert.True(t, ok)
	assert.Equal(t, []byte("old"), ceilinged.Value)
}

func TestDeleteReclaimsSize(t *testing.T) {
	m := New()
	m.Put(types.Cell{Row: []byte("r1"), Family: "cf", Qualifier: []byte("q"), Value: []byte("v1"), Timestamp: 1})
	sizeBefore := m.Size()

	reclaimed := m.Delete([]byte("r1"), "cf", []byte("q"), 1)
	assert.Equal(t, sizeBefore, reclaimed)
	assert.Zero(t, m.Size())

	// Deleting an absent key is a no-op.
	assert.Zero(t, m.Delete([]byte("r1"), "cf", []byte("q"), 1))
}

func TestRowSortedLatestFirst(t *testing.T) {
	m := New()
	m.Put(types.Cell{Row: []byte("r1"), Family: "b", Qualifier: []byte("q"), Value: []byte("1"), Timestamp: 1})
	m.Put(types.Cell{Row: []byte("r1"), Family: "a", Qualifier: []byte("q"), Value: []byte("2"), Timestamp: 2})
	m.Put(types.Cell{Row: []byte("r1"), Family: "a", Qualifier: []byte("q"), Value: []byte("3"), Timestamp: 1})

	cells := m.Row([]byte("r1"))
	if assert.Len(t, cells, 3) {
		assert.Equal(t, "a", cells[0].Family)
		assert.Equal(t, int64(2), cells[0].Timestamp)
		assert.Equal(t, int64(1), cells[1].Timestamp)
		assert.Equal(t, "b", cells[2].Family)
	}
}

func TestClearResetsSizeAndEmpties(t *testing.T) {
	m := New()
	m.Put(types.Cell{Row: []byte("r1"), Family: "cf", Qualifier: []byte("q"), Value: []byte("v1"), Timestamp: 1})

	reclaimed := m.Clear()
	assert.Positive(t, reclaimed)
	assert.Zero(t, m.Size())
	assert.True(t, m.Empty())
}

func TestSnapshotOrderedByRow(t *testing.T) {
	m := New()
	m.Put(types.Cell{Row: []byte("b"), Family: "cf", Qualifier: []byte("q"), Timestamp: 1})
	m.Put(types.Cell{Row: []byte("a"), Family: "cf", Qualifier: []byte("q"), Timestamp: 1})

	snap := m.Snapshot()
	if assert.Len(t, snap, 2) {
		assert.Equal(t, []byte("a"), snap[0].Row)
		assert.Equal(t, []byte("b"), snap[1].Row)
	}
}
