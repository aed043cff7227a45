// Package flusher implements the memtable-flush scheduler: a periodic scan
// of online regions for stale memtables, an on-demand request path, and the
// global memory admission writers must pass through before a batchUpdate.
package flusher

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shardkeep/regiond/pkg/fswatch"
	"github.com/shardkeep/regiond/pkg/log"
	"github.com/shardkeep/regiond/pkg/metrics"
	"github.com/shardkeep/regiond/pkg/rserrors"
)

// Flushable is the narrow capability the flusher needs from a region.
type Flushable interface {
	Name() string
	MemtableSize() int64
	LastFlush() time.Time
	FlushCache() error
}

// CompactionRequester is the capability handle the flusher uses to hand a
// region to the compactor after each successful flush. The flusher does not
// ask the region whether a compaction is warranted; the compactor decides.
// Modeled as a function value rather than an import of pkg/compactor, to
// keep the dependency order leaf-first.
type CompactionRequester func(region Flushable)

// Lister supplies the current set of online regions for the periodic scan.
type Lister func() []Flushable

// Flusher runs the flush queue on its own goroutine: a FIFO of region names
// with a parallel suppression set so repeated requests for the same region
// are idempotent.
type Flusher struct {
	listOnline      Lister
	requestCompact  CompactionRequester
	watchdog        *fswatch.Watchdog
	abort           func(reason error)
	wakeFrequency   time.Duration
	optionalPeriod  time.Duration
	globalLimit     int64
	globalLowMark   int64

	workingLock sync.Mutex

	mu       sync.Mutex
	queue    []Flushable
	queued   map[string]bool
	notify   chan struct{}

	logger zerolog.Logger
}

// Config bundles the flusher's tunables, taken from the shared
// configuration at construction time.
type Config struct {
	WakeFrequency      time.Duration
	OptionalFlushPeriod time.Duration
	GlobalLimit        int64
	GlobalLowMark      int64
}

// New creates a Flusher. listOnline is consulted on every periodic tick;
// requestCompact is called after every successful flush of a region,
// whether or not that region needs compacting. abort is called, at most once per caller's contract, when a flush
// hits a dropped-snapshot exception — always fatal, per the filesystem
// consistency guarantees a WAL-backed flush depends on.
func New(cfg Config, listOnline Lister, requestCompact CompactionRequester, watchdog *fswatch.Watchdog, abort func(reason error)) *Flusher {
	return &Flusher{
		listOnline:     listOnline,
		requestCompact: requestCompact,
		watchdog:       watchdog,
		abort:          abort,
		wakeFrequency:  cfg.WakeFrequency,
		optionalPeriod: cfg.OptionalFlushPeriod,
		globalLimit:    cfg.GlobalLimit,
		globalLowMark:  cfg.GlobalLowMark,
		queued:         make(map[string]bool),
		notify:         make(chan struct{}, 1),
		logger:         log.WithComponent("flusher"),
	}
}

// Request enqueues region for flush if it is not already queued.
// Idempotent while queued; a region that is currently flushing can be
// queued again.
func (f *Flusher) Request(region Flushable) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueueLocked(region)
}

func (f *Flusher) enqueueLocked(region Flushable) {
	if f.queued[region.Name()] {
		return
	}
	f.queued[region.Name()] = true
	f.queue = append(f.queue, region)
	metrics.FlushQueueDepth.Set(float64(len(f.queue)))
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *Flusher) dequeueLocked() (Flushable, bool) {
	if len(f.queue) == 0 {
		return nil, false
	}
	region := f.queue[0]
	f.queue = f.queue[1:]
	delete(f.queued, region.Name())
	metrics.FlushQueueDepth.Set(float64(len(f.queue)))
	return region, true
}

// removeLocked drops region from the queue without flushing it, used by
// memory admission when it preempts a pending enqueue to avoid
// double-flushing.
func (f *Flusher) removeLocked(name string) {
	if !f.queued[name] {
		return
	}
	delete(f.queued, name)
	for i, r := range f.queue {
		if r.Name() == name {
			f.queue = append(f.queue[:i], f.queue[i+1:]...)
			break
		}
	}
	metrics.FlushQueueDepth.Set(float64(len(f.queue)))
}

// Run drives the periodic scan and the work loop until ctx is cancelled.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.wakeFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.drain()
			return
		case <-ticker.C:
			f.scanForStale()
		case <-f.notify:
			f.drainOnce(ctx)
		}
	}
}

func (f *Flusher) scanForStale() {
	now := time.Now()
	for _, region := range f.listOnline() {
		if now.Sub(region.LastFlush()) > f.optionalPeriod {
			f.Request(region)
		}
	}
}

func (f *Flusher) drainOnce(ctx context.Context) {
	for {
		f.mu.Lock()
		region, ok := f.dequeueLocked()
		f.mu.Unlock()
		if !ok {
			return
		}
		if fatal := f.flush(region); fatal {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (f *Flusher) drain() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = nil
	f.queued = make(map[string]bool)
}

// flush runs one region's flush and reports whether it hit a fatal
// condition the caller must stop draining for. A dropped snapshot is always
// fatal: it means the filesystem acknowledged a write that didn't actually
// land, so nothing durable can be trusted from this point on.
func (f *Flusher) flush(region Flushable) (fatal bool) {
	f.workingLock.Lock()
	defer f.workingLock.Unlock()

	timer := metrics.NewTimer()
	err := region.FlushCache()
	timer.ObserveDuration(metrics.FlushDuration)

	if err == nil {
		metrics.FlushesTotal.WithLabelValues("scheduled").Inc()
		if f.requestCompact != nil {
			f.requestCompact(region)
		}
		return false
	}

	if errors.Is(err, rserrors.ErrDroppedSnapshot) {
		f.logger.Error().Err(err).Str("region", region.Name()).Msg("dropped snapshot during flush, aborting")
		if f.abort != nil {
			f.abort(err)
		}
		return true
	}

	f.logger.Error().Err(err).Str("region", region.Name()).Msg("flush failed")
	if f.watchdog != nil {
		f.watchdog.CheckFileSystem()
	}
	return false
}

// ReclaimMemory is called by every write before it proceeds. If the sum of
// per-region memtable sizes is at or over the global limit, it flushes
// regions in descending memtable-size order until the total drops below the
// low-mark, blocking the caller for the duration.
func (f *Flusher) ReclaimMemory() {
	regions := f.listOnline()
	total := sumMemtables(regions)
	if total < f.globalLimit {
		return
	}

	metrics.GlobalMemstoreBytes.Set(float64(total))
	sort.Slice(regions, func(i, j int) bool {
		return regions[i].MemtableSize() > regions[j].MemtableSize()
	})

	for _, region := range regions {
		if total < f.globalLowMark {
			break
		}
		f.mu.Lock()
		f.removeLocked(region.Name())
		f.mu.Unlock()

		size := region.MemtableSize()
		if fatal := f.flush(region); fatal {
			return
		}
		total -= size
		metrics.FlushesTotal.WithLabelValues("memory_pressure").Inc()
	}
	metrics.GlobalMemstoreBytes.Set(float64(total))
}

func sumMemtables(regions []Flushable) int64 {
	var total int64
	for _, r := range regions {
		total += r.MemtableSize()
	}
	return total
}
