// Package compactor implements the compaction-and-split scheduler: a FIFO
// compaction queue, the split protocol against the root/meta catalog, and
// the region-unavailability callbacks a splitting region uses to announce
// it is briefly retiring.
package compactor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shardkeep/regiond/pkg/catalog"
	"github.com/shardkeep/regiond/pkg/fswatch"
	"github.com/shardkeep/regiond/pkg/log"
	"github.com/shardkeep/regiond/pkg/metrics"
	"github.com/shardkeep/regiond/pkg/outbox"
	"github.com/shardkeep/regiond/pkg/types"
)

// Compactable is the narrow capability the compactor needs from a region.
type Compactable interface {
	Name() string
	Info() *types.RegionInfo
	CompactStores() (splitDue bool, err error)
	Split() (childA, childB *types.RegionInfo, err error)
}

// Registry is the narrow capability the compactor needs from the region
// registry: moving a region between online and retiring during a split, and
// back again if the split fails partway through.
type Registry interface {
	Retire(name string)
	Retired(name string)
	Reopen(name string) bool
}

// Compactor runs the compaction queue on its own goroutine.
type Compactor struct {
	registry Registry
	catalog  *catalog.Catalog
	outbox   *outbox.Outbox
	watchdog *fswatch.Watchdog

	workingLock sync.Mutex

	mu     sync.Mutex
	queue  []Compactable
	queued map[string]bool
	notify chan struct{}

	logger zerolog.Logger
}

// New creates a Compactor.
func New(registry Registry, cat *catalog.Catalog, ob *outbox.Outbox, watchdog *fswatch.Watchdog) *Compactor {
	return &Compactor{
		registry: registry,
		catalog:  cat,
		outbox:   ob,
		watchdog: watchdog,
		queued:   make(map[string]bool),
		notify:   make(chan struct{}, 1),
		logger:   log.WithComponent("compactor"),
	}
}

// Request enqueues region for a compaction check if not already queued.
func (c *Compactor) Request(region Compactable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queued[region.Name()] {
		return
	}
	c.queued[region.Name()] = true
	c.queue = append(c.queue, region)
	metrics.CompactionQueueDepth.Set(float64(len(c.queue)))
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Compactor) dequeue() (Compactable, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	region := c.queue[0]
	c.queue = c.queue[1:]
	delete(c.queued, region.Name())
	metrics.CompactionQueueDepth.Set(float64(len(c.queue)))
	return region, true
}

// Run drives the compaction-check poll loop and the work loop until ctx is
// cancelled.
func (c *Compactor) Run(ctx context.Context, pollInterval time.Duration, listOnline func() []Compactable) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.drain()
			return
		case <-ticker.C:
			for _, region := range listOnline() {
				c.Request(region)
			}
		case <-c.notify:
			c.drainOnce(ctx)
		}
	}
}

func (c *Compactor) drainOnce(ctx context.Context) {
	for {
		region, ok := c.dequeue()
		if !ok {
			return
		}
		c.compact(region)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (c *Compactor) drain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = nil
	c.queued = make(map[string]bool)
}

func (c *Compactor) compact(region Compactable) {
	c.workingLock.Lock()
	defer c.workingLock.Unlock()

	timer := metrics.NewTimer()
	splitDue, err := region.CompactStores()
	timer.ObserveDuration(metrics.CompactionDuration)

	if err != nil {
		c.logger.Error().Err(err).Str("region", region.Name()).Msg("compaction failed")
		if c.watchdog != nil {
			c.watchdog.CheckFileSystem()
		}
		return
	}
	metrics.CompactionsTotal.WithLabelValues("minor").Inc()

	if splitDue {
		c.split(region)
	}
}

// split performs the split protocol of §4.4: ask the region to split,
// durably update the parent's catalog row before either child row, durably
// insert each child, then emit REPORT_SPLIT and REPORT_OPEN for the
// children — in that order, matching the ordering guarantee that the
// catalog update is visible before REPORT_SPLIT is sent.
func (c *Compactor) split(region Compactable) {
	childA, childB, err := region.Split()
	if err != nil {
		c.logger.Error().Err(err).Str("region", region.Name()).Msg("split failed")
		if c.watchdog != nil {
			c.watchdog.CheckFileSystem()
		}
		return
	}
	if childA == nil || childB == nil {
		// Not actually warranted; no-op.
		return
	}

	parent := region.Info()
	table := catalog.Meta
	if parent.IsMetaTable {
		table = catalog.Root
	}

	c.Closing(region.Name())

	if err := c.catalog.MarkSplit(table, parent, childA, childB); err != nil {
		c.logger.Error().Err(err).Str("region", region.Name()).Msg("marking parent split in catalog")
		if c.watchdog != nil {
			c.watchdog.CheckFileSystem()
		}
		resetParentSplitFields(parent)
		c.reopenParent(region)
		return
	}

	if err := c.catalog.PutRegion(table, childA); err != nil {
		c.logger.Error().Err(err).Str("region", region.Name()).Msg("inserting split child A")
		c.rollbackSplit(region, parent, table)
		return
	}
	if err := c.catalog.PutRegion(table, childB); err != nil {
		c.logger.Error().Err(err).Str("region", region.Name()).Msg("inserting split child B")
		c.rollbackSplit(region, parent, table)
		return
	}

	c.outbox.AppendRegion(types.ReportSplit, parent)
	c.outbox.AppendRegion(types.ReportOpen, childA)
	c.outbox.AppendRegion(types.ReportOpen, childB)
	metrics.SplitsTotal.Inc()

	c.Closed(region.Name())
}

// reopenParent resumes the parent as an online region after a split attempt
// fails, either before any catalog row was written or after the parent's
// split marker has been rolled back, undoing the provisional retire from
// Closing.
func (c *Compactor) reopenParent(region Compactable) {
	c.Closed(region.Name())
	if c.registry != nil {
		c.registry.Reopen(region.Name())
	}
}

// rollbackSplit undoes a durable MarkSplit once a child insert fails partway
// through, so the parent does not sit offline in the catalog with no
// reachable children.
func (c *Compactor) rollbackSplit(region Compactable, parent *types.RegionInfo, table catalog.Table) {
	resetParentSplitFields(parent)
	if err := c.catalog.PutRegion(table, parent); err != nil {
		c.logger.Error().Err(err).Str("region", region.Name()).Msg("rolling back parent split marker in catalog")
	}
	c.reopenParent(region)
}

func resetParentSplitFields(parent *types.RegionInfo) {
	parent.Offline = false
	parent.Split = false
	parent.SplitA = nil
	parent.SplitB = nil
}

// Closing implements the region-unavailability listener capability: moves
// region from online to retiring so in-flight scanners can still complete.
func (c *Compactor) Closing(regionName string) {
	if c.registry != nil {
		c.registry.Retire(regionName)
	}
}

// Closed implements the region-unavailability listener capability: removes
// region from retiring once fully drained.
func (c *Compactor) Closed(regionName string) {
	if c.registry != nil {
		c.registry.Retired(regionName)
	}
}
