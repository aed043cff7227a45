// Package memtable implements the in-memory write buffer a region holds for
// all of its column families: a map keyed by row+family+qualifier+timestamp,
// sorted when read, with a live byte-size counter, the quantity the
// flusher's memory admission path watches.
package memtable

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/shardkeep/regiond/pkg/types"
)

// Memtable buffers writes for one region before they are flushed to an
// on-disk store file. It is not itself a store format; on-disk layout is a
// named external collaborator.
type Memtable struct {
	mu    sync.RWMutex
	cells map[string]types.Cell
	size  int64
}

// New returns an empty memtable.
func New() *Memtable {
	return &Memtable{cells: make(map[string]types.Cell)}
}

func cellKey(row []byte, family string, qualifier []byte, timestamp int64) string {
	b := make([]byte, 0, len(row)+len(family)+len(qualifier)+11)
	b = append(b, row...)
	b = append(b, 0)
	b = append(b, family...)
	b = append(b, 0)
	b = append(b, qualifier...)
	b = append(b, 0)
	b = binary.BigEndian.AppendUint64(b, uint64(timestamp))
	return string(b)
}

// Put inserts or overwrites a cell and returns the net change in byte size.
func (m *Memtable) Put(c types.Cell) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := cellKey(c.Row, c.Family, c.Qualifier, c.Timestamp)
	delta := int64(len(c.Row) + len(c.Family) + len(c.Qualifier) + len(c.Value) + 24)
	if old, exists := m.cells[key]; exists {
		delta -= int64(len(old.Row) + len(old.Family) + len(old.Qualifier) + len(old.Value) + 24)
	}
	m.cells[key] = c
	m.size += delta
	return delta
}

// Delete removes a cell if present and returns the byte size reclaimed.
func (m *Memtable) Delete(row []byte, family string, qualifier []byte, timestamp int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := cellKey(row, family, qualifier, timestamp)
	old, exists := m.cells[key]
	if !exists {
		return 0
	}
	reclaimed := int64(len(old.Row) + len(old.Family) + len(old.Qualifier) + len(old.Value) + 24)
	delete(m.cells, key)
	m.size -= reclaimed
	return reclaimed
}

// Get returns the most recent cell for row/family/qualifier at or before
// ceiling (a zero ceiling means "latest").
func (m *Memtable) Get(row []byte, family string, qualifier []byte, ceiling int64) (types.Cell, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best types.Cell
	found := false
	for _, c := range m.cells {
		if string(c.Row) != string(row) || c.Family != family || string(c.Qualifier) != string(qualifier) {
			continue
		}
		if ceiling != 0 && c.Timestamp > ceiling {
			continue
		}
		if !found || c.Timestamp > best.Timestamp {
			best = c
			found = true
		}
	}
	return best, found
}

// Row returns every cell for the given row, sorted by family then
// qualifier then descending timestamp (latest version first).
func (m *Memtable) Row(row []byte) []types.Cell {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.Cell
	for _, c := range m.cells {
		if string(c.Row) == string(row) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Family != out[j].Family {
			return out[i].Family < out[j].Family
		}
		if string(out[i].Qualifier) != string(out[j].Qualifier) {
			return string(out[i].Qualifier) < string(out[j].Qualifier)
		}
		return out[i].Timestamp > out[j].Timestamp
	})
	return out
}

// Snapshot returns every cell currently buffered, in row order, for a flush
// to hand to the on-disk store writer.
func (m *Memtable) Snapshot() []types.Cell {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Cell, 0, len(m.cells))
	for _, c := range m.cells {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].Row) < string(out[j].Row)
	})
	return out
}

// Clear empties the memtable, as done immediately after a successful flush,
// and returns the byte size that was reclaimed.
func (m *Memtable) Clear() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	reclaimed := m.size
	m.cells = make(map[string]types.Cell)
	m.size = 0
	return reclaimed
}

// Size returns the current live byte-size counter.
func (m *Memtable) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Empty reports whether the memtable currently holds no cells.
func (m *Memtable) Empty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cells) == 0
}
