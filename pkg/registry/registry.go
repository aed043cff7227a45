// Package registry implements the region registry: the online and retiring
// region maps and the single read-write lock guarding their membership.
package registry

import (
	"fmt"
	"sync"

	"github.com/shardkeep/regiond/pkg/rserrors"
)

// Region is the narrow capability the registry needs from an opened region:
// enough to close it and to identify it. The concrete region.Region type
// satisfies this.
type Region interface {
	Name() string
	Close(abort bool) error
}

// Registry holds the online and retiring maps. Every region name is in at
// most one of the two maps at any instant; a name absent from both is fully
// closed. All mutating operations take the exclusive lock; getRegion takes
// the shared side.
type Registry struct {
	mu       sync.RWMutex
	online   map[string]Region
	retiring map[string]Region
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		online:   make(map[string]Region),
		retiring: make(map[string]Region),
	}
}

// OpenRegion installs r into online. Idempotent: a no-op if a region with
// the same name is already online.
func (reg *Registry) OpenRegion(r Region) (installed bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, exists := reg.online[r.Name()]; exists {
		return false
	}
	reg.online[r.Name()] = r
	return true
}

// CloseRegion removes name from online and closes it outside the lock. It
// returns rserrors.ErrNotServingRegion if name is not online.
func (reg *Registry) CloseRegion(name string, abort bool) error {
	reg.mu.Lock()
	r, ok := reg.online[name]
	if !ok {
		reg.mu.Unlock()
		return fmt.Errorf("%s: %w", name, rserrors.ErrNotServingRegion)
	}
	delete(reg.online, name)
	reg.mu.Unlock()
	return r.Close(abort)
}

// CloseAllRegions drains online into a local list, clears the map, and
// closes every region outside the lock, passing abort through so regions can
// skip final flushes. It returns the regions that were closed.
func (reg *Registry) CloseAllRegions(abort bool) []Region {
	reg.mu.Lock()
	drained := make([]Region, 0, len(reg.online))
	for name, r := range reg.online {
		drained = append(drained, r)
		delete(reg.online, name)
	}
	reg.mu.Unlock()

	for _, r := range drained {
		_ = r.Close(abort)
	}
	return drained
}

// CloseUserRegions closes every online region except catalog regions
// (identified via the optional isCatalog predicate), leaving catalog regions
// untouched so the server can keep serving assignment lookups during
// quiesce. It returns the regions that were closed.
func (reg *Registry) CloseUserRegions(isCatalog func(name string) bool, abort bool) []Region {
	reg.mu.Lock()
	var drained []Region
	for name, r := range reg.online {
		if isCatalog != nil && isCatalog(name) {
			continue
		}
		drained = append(drained, r)
		delete(reg.online, name)
	}
	reg.mu.Unlock()

	for _, r := range drained {
		_ = r.Close(abort)
	}
	return drained
}

// GetRegion looks up name under the shared lock. If checkRetiring is true
// and name is not online, retiring is also consulted (so in-flight scanners
// over a closing region keep working). Returns rserrors.ErrNotServingRegion
// if absent from both.
func (reg *Registry) GetRegion(name string, checkRetiring bool) (Region, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	if r, ok := reg.online[name]; ok {
		return r, nil
	}
	if checkRetiring {
		if r, ok := reg.retiring[name]; ok {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", name, rserrors.ErrNotServingRegion)
}

// Retire moves name from online to retiring, under the exclusive lock, so
// in-flight scanners may still complete against it. Used by the compactor's
// "closing" callback during a split.
func (reg *Registry) Retire(name string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if r, ok := reg.online[name]; ok {
		delete(reg.online, name)
		reg.retiring[name] = r
	}
}

// Retired removes name from retiring. Used by the compactor's "closed"
// callback once a retiring region has fully drained.
func (reg *Registry) Retired(name string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.retiring, name)
}

// Reopen moves name back from retiring to online. Used by the compactor to
// resume a region as open when a split fails partway through, after it had
// provisionally retired the region via Retire.
func (reg *Registry) Reopen(name string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.retiring[name]
	if !ok {
		return false
	}
	delete(reg.retiring, name)
	reg.online[name] = r
	return true
}

// OnlineCount returns the number of regions currently serving requests.
func (reg *Registry) OnlineCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.online)
}

// Online returns a snapshot of every region currently online. Callers that
// need a richer capability than Region's narrow Name/Close (the flusher's
// Flushable, the compactor's Compactable) type-assert the result, since the
// concrete region.Region satisfies both.
func (reg *Registry) Online() []Region {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]Region, 0, len(reg.online))
	for _, r := range reg.online {
		out = append(out, r)
	}
	return out
}

// OnlineNames returns a snapshot of the names currently online.
func (reg *Registry) OnlineNames() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	names := make([]string, 0, len(reg.online))
	for name := range reg.online {
		names = append(names, name)
	}
	return names
}

// IsOnline reports whether name is currently online.
func (reg *Registry) IsOnline(name string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, ok := reg.online[name]
	return ok
}
