// Package scanner implements the scanner registry: a map from a 64-bit
// opaque id to an open cursor over some region, each backed by a lease that
// expires if unused within the scanner lease period.
package scanner

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/shardkeep/regiond/pkg/lease"
	"github.com/shardkeep/regiond/pkg/metrics"
	"github.com/shardkeep/regiond/pkg/rserrors"
	"github.com/shardkeep/regiond/pkg/types"
)

// Cursor is the narrow capability a scanner needs from a region: produce the
// next batch of cells, and release any resources on close.
type Cursor interface {
	Next() ([]types.Cell, error)
	Close() error
}

// Registry maps scanner ids to open cursors, each guarded by a lease in a
// shared lease.Table. Collisions on id generation are treated as errors:
// the registry refuses to overwrite an existing id.
type Registry struct {
	mu      sync.Mutex
	cursors map[uint64]Cursor
	leases  *lease.Table
}

// New creates a scanner registry whose leases expire after period.
func New(period time.Duration) *Registry {
	r := &Registry{
		cursors: make(map[uint64]Cursor),
	}
	r.leases = lease.NewTable(period, r.onExpire)
	return r
}

// onExpire is the lease table's callback, fired when a scanner has gone
// unused for a full lease period. It removes and closes the cursor. An
// explicit Close cancels the lease, which does not fire this callback.
func (r *Registry) onExpire(name string) {
	var id uint64
	if _, err := fmt.Sscanf(name, "%d", &id); err != nil {
		return
	}

	r.mu.Lock()
	cursor, ok := r.cursors[id]
	if ok {
		delete(r.cursors, id)
	}
	r.mu.Unlock()

	if ok {
		_ = cursor.Close()
		metrics.ScannerLeaseExpirationsTotal.Inc()
		metrics.OpenScanners.Dec()
	}
}

// Open registers cursor under a freshly chosen 64-bit id and starts its
// lease. Collisions in the (practically unreachable) 64-bit space are
// retried a bounded number of times before giving up.
func (r *Registry) Open(cursor Cursor) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < 8; attempt++ {
		id, err := randomID()
		if err != nil {
			return 0, fmt.Errorf("scanner: generating id: %w", err)
		}
		if _, exists := r.cursors[id]; exists {
			continue
		}
		if !r.leases.Create(idKey(id)) {
			continue
		}
		r.cursors[id] = cursor
		metrics.OpenScanners.Inc()
		return id, nil
	}
	return 0, fmt.Errorf("scanner: could not allocate a unique id after retries")
}

// Next renews id's lease and returns the cursor's next batch. Fails with
// rserrors.ErrUnknownScanner if id is unknown or its lease has expired.
func (r *Registry) Next(id uint64) ([]types.Cell, error) {
	r.mu.Lock()
	cursor, ok := r.cursors[id]
	r.mu.Unlock()

	if !ok || !r.leases.Renew(idKey(id)) {
		return nil, fmt.Errorf("scanner %d: %w", id, rserrors.ErrUnknownScanner)
	}
	return cursor.Next()
}

// Close removes and closes id's cursor and cancels its lease. Fails with
// rserrors.ErrUnknownScanner if id is unknown.
func (r *Registry) Close(id uint64) error {
	r.mu.Lock()
	cursor, ok := r.cursors[id]
	if ok {
		delete(r.cursors, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("scanner %d: %w", id, rserrors.ErrUnknownScanner)
	}
	r.leases.Cancel(idKey(id))
	metrics.OpenScanners.Dec()
	return cursor.Close()
}

// Count returns the number of currently open scanners.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cursors)
}

func idKey(id uint64) string {
	return fmt.Sprintf("%d", id)
}

func randomID() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}
