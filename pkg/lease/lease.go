// Package lease implements named timers with expiry callbacks, backed by a
// TTL cache so expiry firing and renewal share one implementation. The
// region server uses it for its per-scanner leases.
package lease

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ExpiryFunc is called once, asynchronously, when a lease expires without
// having been renewed.
type ExpiryFunc func(name string)

// Table holds a family of named leases sharing one period and one expiry
// callback. The scanner registry owns one Table.
type Table struct {
	period time.Duration
	cache  *gocache.Cache
	onExpire ExpiryFunc
	// cancelled holds names whose removal by Cancel is in progress, so the
	// eviction hook can tell a cancel from an expiry.
	cancelled sync.Map
}

// NewTable creates a lease table with the given default period. The cache's
// janitor runs at half the period so an expired lease is reaped promptly.
func NewTable(period time.Duration, onExpire ExpiryFunc) *Table {
	cleanup := period / 2
	if cleanup <= 0 {
		cleanup = time.Second
	}
	t := &Table{
		period: period,
		cache:  gocache.New(period, cleanup),
		onExpire: onExpire,
	}
	t.cache.OnEvicted(func(name string, _ interface{}) {
		if _, cancelled := t.cancelled.Load(name); cancelled {
			return
		}
		if t.onExpire != nil {
			t.onExpire(name)
		}
	})
	return t
}

// Create starts a lease for name, expiring after the table's period unless
// renewed. Returns false if a lease for name already exists.
func (t *Table) Create(name string) bool {
	return t.cache.Add(name, struct{}{}, gocache.DefaultExpiration) == nil
}

// Renew resets name's lease to a fresh full period. Returns false if no
// lease for name currently exists (it has already expired or was never
// created).
func (t *Table) Renew(name string) bool {
	if _, found := t.cache.Get(name); !found {
		return false
	}
	t.cache.Set(name, struct{}{}, gocache.DefaultExpiration)
	return true
}

// Cancel removes name's lease immediately without firing the expiry
// callback. Used when a scanner is closed explicitly rather than timed out.
func (t *Table) Cancel(name string) {
	t.cancelled.Store(name, struct{}{})
	t.cache.Delete(name)
	t.cancelled.Delete(name)
}

// Held reports whether name currently has a live, unexpired lease.
func (t *Table) Held(name string) bool {
	_, found := t.cache.Get(name)
	return found
}

// Count returns the number of currently held leases.
func (t *Table) Count() int {
	return t.cache.ItemCount()
}
