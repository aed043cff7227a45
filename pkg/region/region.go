// Package region implements the Region type: a contiguous key range of a
// table, combining an in-memory memtable, a reference to the shared WAL,
// and the on-disk store files a StoreWriter collaborator manages on its
// behalf. On-disk store format is out of scope for this package; it is
// named here only as the StoreWriter contract.
package region

import (
	"fmt"
	"sync"
	"time"

	"github.com/shardkeep/regiond/pkg/memtable"
	"github.com/shardkeep/regiond/pkg/rserrors"
	"github.com/shardkeep/regiond/pkg/types"
	"github.com/shardkeep/regiond/pkg/wal"
)

// StoreWriter is the external collaborator that turns a memtable snapshot
// into an on-disk store file and later merges store files together. Its
// internal format is explicitly out of scope for the core; region only
// needs this narrow contract.
type StoreWriter interface {
	// WriteStoreFile durably persists cells as a new store file for family
	// and returns the number of on-disk files now present for that family.
	WriteStoreFile(regionName, family string, cells []types.Cell) (fileCount int, err error)
	// Compact merges family's store files into one and reports the
	// resulting total on-disk size, used to decide whether a split is due.
	Compact(regionName, family string) (totalBytes int64, err error)
}

// UnavailabilityListener is the capability the compactor implements so a
// region can announce, during a split, that it is becoming briefly
// unavailable to new callers and then that it is fully retired. Modeled as a
// narrow interface rather than an inheritance hook, per the design notes.
type UnavailabilityListener interface {
	Closing(regionName string)
	Closed(regionName string)
}

// splitThresholdBytes is the on-disk family size past which CompactStores
// reports a split is due. The source ties this to a configurable
// per-table max file size; fixed here since per-table configuration is
// outside this core's scope.
const splitThresholdBytes = 256 << 20

// Region is one contiguous key range of a table, open for reads and writes
// on this server.
type Region struct {
	mu sync.RWMutex

	info     *types.RegionInfo
	memtable *memtable.Memtable
	wal      *wal.WAL
	store    StoreWriter

	minSeqID   int64
	lastSeqID  int64
	lastFlush  time.Time
	closed     bool
}

// Open constructs a region, replaying its portion of the WAL into a fresh
// memtable before returning. progress, if non-nil, is invoked periodically
// during replay so the caller can emit REPORT_PROCESS_OPEN heartbeats for a
// slow-opening region.
func Open(info *types.RegionInfo, w *wal.WAL, store StoreWriter, progress func()) (*Region, error) {
	mt := memtable.New()
	r := &Region{
		info:      info,
		memtable:  mt,
		wal:       w,
		store:     store,
		lastFlush: time.Now(),
	}

	count := 0
	err := w.Replay(info.Name(), func(e wal.Entry) error {
		if e.Delete {
			mt.Delete(e.Update.Row, e.Update.Family, e.Update.Qualifier, e.Update.Timestamp)
		} else {
			mt.Put(types.Cell{
				Row:       e.Update.Row,
				Family:    e.Update.Family,
				Qualifier: e.Update.Qualifier,
				Value:     e.Update.Value,
				Timestamp: e.Update.Timestamp,
			})
		}
		if e.SequenceID > r.lastSeqID {
			r.lastSeqID = e.SequenceID
		}
		if r.minSeqID == 0 || e.SequenceID < r.minSeqID {
			r.minSeqID = e.SequenceID
		}
		count++
		if progress != nil && count%1000 == 0 {
			progress()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("region %s: replaying WAL: %w", info.Name(), err)
	}

	return r, nil
}

// Name returns the region's unique name.
func (r *Region) Name() string { return r.info.Name() }

// Info returns the region's descriptor.
func (r *Region) Info() *types.RegionInfo { return r.info }

// MinSequenceID returns the lowest sequence id this region needed replayed,
// used by the Worker to advance the WAL's sequence-id floor on open.
func (r *Region) MinSequenceID() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.minSeqID
}

// MemtableSize returns the live byte size of this region's memtable, the
// quantity the flusher's global memory admission path sums across regions.
func (r *Region) MemtableSize() int64 {
	return r.memtable.Size()
}

// LastFlush returns the timestamp of the most recent successful flush (or
// open time, if never flushed), used by the flusher's periodic path.
func (r *Region) LastFlush() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastFlush
}

func (r *Region) checkOpen() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("%s: %w", r.info.Name(), rserrors.ErrNotServingRegion)
	}
	return nil
}

// Get returns the most recent cell for row/family/qualifier at or before
// ceiling.
func (r *Region) Get(row []byte, family string, qualifier []byte, ceiling int64) (types.Cell, bool, error) {
	if err := r.checkOpen(); err != nil {
		return types.Cell{}, false, err
	}
	c, ok := r.memtable.Get(row, family, qualifier, ceiling)
	return c, ok, nil
}

// GetRow returns every cell for row.
func (r *Region) GetRow(row []byte) ([]types.Cell, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	return r.memtable.Row(row), nil
}

// BatchUpdate applies update durably: it is first appended to the shared
// WAL, then applied to the memtable. Writes against a region are serialized
// by the region's own lock; the region registry's lock is never held across
// this call.
func (r *Region) BatchUpdate(update types.RowUpdate) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, fmt.Errorf("%s: %w", r.info.Name(), rserrors.ErrNotServingRegion)
	}

	seqID, err := r.wal.Append(wal.Entry{RegionName: r.info.Name(), Update: update})
	if err != nil {
		return 0, rserrors.Remote("wal append", err)
	}
	r.lastSeqID = seqID

	delta := r.memtable.Put(types.Cell{
		Row:       update.Row,
		Family:    update.Family,
		Qualifier: update.Qualifier,
		Value:     update.Value,
		Timestamp: update.Timestamp,
	})
	return delta, nil
}

// DeleteAll removes every version of row (optionally scoped to family) at
// or before timestamp.
func (r *Region) DeleteAll(row []byte, family string, timestamp int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("%s: %w", r.info.Name(), rserrors.ErrNotServingRegion)
	}

	for _, c := range r.memtable.Row(row) {
		if family != "" && c.Family != family {
			continue
		}
		if c.Timestamp > timestamp {
			continue
		}
		r.memtable.Delete(c.Row, c.Family, c.Qualifier, c.Timestamp)
	}
	return nil
}

// DeleteFamily removes every version at or before timestamp of every column
// in family for row.
func (r *Region) DeleteFamily(row []byte, family string, timestamp int64) error {
	return r.DeleteAll(row, family, timestamp)
}

// FlushCache writes the current memtable to a new store file per family and
// clears the memtable. Returns rserrors.ErrDroppedSnapshot if the write
// fails after the memtable has already begun draining — an unrecoverable,
// always-fatal condition per the error handling design.
func (r *Region) FlushCache() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.memtable.Empty() {
		r.lastFlush = time.Now()
		return nil
	}

	byFamily := make(map[string][]types.Cell)
	for _, c := range r.memtable.Snapshot() {
		byFamily[c.Family] = append(byFamily[c.Family], c)
	}

	for family, cells := range byFamily {
		if _, err := r.store.WriteStoreFile(r.info.Name(), family, cells); err != nil {
			return fmt.Errorf("%s: %w", r.info.Name(), rserrors.ErrDroppedSnapshot)
		}
	}

	r.memtable.Clear()
	r.lastFlush = time.Now()
	r.minSeqID = r.lastSeqID + 1
	return nil
}

// CompactStores merges each family's store files and reports whether any
// family has crossed the split threshold.
func (r *Region) CompactStores() (splitDue bool, err error) {
	r.mu.RLock()
	families := r.families()
	r.mu.RUnlock()

	for _, family := range families {
		total, err := r.store.Compact(r.info.Name(), family)
		if err != nil {
			return false, rserrors.Remote("compact", err)
		}
		if total >= splitThresholdBytes {
			splitDue = true
		}
	}
	return splitDue, nil
}

func (r *Region) families() []string {
	seen := make(map[string]bool)
	for _, c := range r.memtable.Snapshot() {
		seen[c.Family] = true
	}
	families := make([]string, 0, len(seen))
	for f := range seen {
		families = append(families, f)
	}
	return families
}

// Split divides the region's key range at its midpoint into two children.
// It returns (nil, nil, nil) if a split is not actually warranted (the
// no-op case the compactor's split protocol treats as "nothing to do").
func (r *Region) Split() (childA, childB *types.RegionInfo, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mid := midpoint(r.info.StartKey, r.info.EndKey)
	if mid == nil {
		return nil, nil, nil
	}

	childA = &types.RegionInfo{
		RegionID:  r.info.RegionID*2 + 1,
		TableName: r.info.TableName,
		StartKey:  r.info.StartKey,
		EndKey:    mid,
	}
	childB = &types.RegionInfo{
		RegionID:  r.info.RegionID*2 + 2,
		TableName: r.info.TableName,
		StartKey:  mid,
		EndKey:    r.info.EndKey,
	}
	return childA, childB, nil
}

// midpoint returns a key roughly halfway between start and end, or nil if
// the range cannot usefully be divided. Byte-wise midpoint is an
// approximation; exact key distribution is outside this core's scope.
func midpoint(start, end []byte) []byte {
	if len(end) == 0 {
		if len(start) == 0 {
			return nil
		}
		mid := make([]byte, len(start)+1)
		copy(mid, start)
		mid[len(start)] = 0x80
		return mid
	}
	if len(start) == 0 && len(end) == 0 {
		return nil
	}
	n := len(end)
	if len(start) > n {
		n = len(start)
	}
	a := padded(start, n)
	b := padded(end, n)
	mid := make([]byte, n)
	carry := 0
	for i := n - 1; i >= 0; i-- {
		sum := int(a[i]) + int(b[i]) + carry*256
		mid[i] = byte(sum / 2)
		carry = sum % 2
	}
	return mid
}

func padded(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Close closes the region. If abort is true, any unflushed memtable
// contents are discarded rather than flushed, matching the "do not re-close
// already force-closed regions" behavior during an abort.
func (r *Region) Close(abort bool) error {
	r.mu.RLock()
	alreadyClosed := r.closed
	r.mu.RUnlock()
	if alreadyClosed {
		return nil
	}

	if !abort {
		if err := r.FlushCache(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}
