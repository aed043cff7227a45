package flusher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shardkeep/regiond/pkg/rserrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegion struct {
	name       string
	size       int64
	lastFlush  time.Time
	flushCount int
	flushErr   error
	mu         sync.Mutex
}

func (r *fakeRegion) Name() string            { return r.name }
func (r *fakeRegion) MemtableSize() int64     { return r.size }
func (r *fakeRegion) LastFlush() time.Time    { return r.lastFlush }
func (r *fakeRegion) FlushCache() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushCount++
	if r.flushErr == nil {
		r.size = 0
		r.lastFlush = time.Now()
	}
	return r.flushErr
}
func (r *fakeRegion) flushes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushCount
}

func newFlusher(regions []Flushable, requestCompact CompactionRequester) *Flusher {
	return New(Config{
		WakeFrequency:       time.Hour,
		OptionalFlushPeriod: time.Hour,
		GlobalLimit:         1000,
		GlobalLowMark:       500,
	}, func() []Flushable { return regions }, requestCompact, nil, nil)
}

func TestRequestIsIdempotent(t *testing.T) {
	r := &fakeRegion{name: "orders,a,1"}
	f := newFlusher(nil, nil)

	f.Request(r)
	f.Request(r)

	f.mu.Lock()
	depth := len(f.queue)
	f.mu.Unlock()
	assert.Equal(t, 1, depth)
}

func TestRunDrainsQueuedFlushOnRequest(t *testing.T) {
	r := &fakeRegion{name: "orders,a,1", size: 10}
	var compacted []string
	f := newFlusher(nil, func(region Flushable) {
		compacted = append(compacted, region.Name())
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	f.Request(r)

	assert.Eventually(t, func() bool { return r.flushes() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(compacted) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestFlushFailureSkipsCompactionRequest(t *testing.T) {
	r := &fakeRegion{name: "orders,a,1", flushErr: errors.New("write failed")}
	requested := false
	f := newFlusher(nil, func(region Flushable) { requested = true })

	f.flush(r)
	assert.Equal(t, 1, r.flushes())
	assert.False(t, requested)
}

func TestFlushDroppedSnapshotAbortsUnconditionally(t *testing.T) {
	r := &fakeRegion{name: "orders,a,1", flushErr: rserrors.ErrDroppedSnapshot}
	var abortErr error
	f := New(Config{WakeFrequency: time.Hour, OptionalFlushPeriod: time.Hour}, func() []Flushable { return nil }, nil, nil, func(reason error) {
		abortErr = reason
	})

	fatal := f.flush(r)

	assert.True(t, fatal)
	assert.Equal(t, 1, r.flushes())
	assert.ErrorIs(t, abortErr, rserrors.ErrDroppedSnapshot)
}

func TestDrainOnceStopsAfterDroppedSnapshot(t *testing.T) {
	dropped := &fakeRegion{name: "orders,a,1", flushErr: rserrors.ErrDroppedSnapshot}
	healthy := &fakeRegion{name: "orders,b,2", size: 10}
	aborted := false
	f := New(Config{WakeFrequency: time.Hour, OptionalFlushPeriod: time.Hour}, func() []Flushable { return nil }, nil, nil, func(reason error) {
		aborted = true
	})

	f.Request(dropped)
	f.Request(healthy)
	f.drainOnce(context.Background())

	assert.True(t, aborted)
	assert.Equal(t, 1, dropped.flushes())
	assert.Equal(t, 0, healthy.flushes(), "draining should stop before reaching the region queued after the fatal one")
}

func TestReclaimMemoryFlushesLargestFirstUntilLowMark(t *testing.T) {
	big := &fakeRegion{name: "big", size: 700}
	small := &fakeRegion{name: "small", size: 400}
	regions := []Flushable{small, big}
	f := newFlusher(regions, nil)

	f.ReclaimMemory()

	assert.Equal(t, 1, big.flushes(), "the largest region should be flushed first")
	assert.Equal(t, 0, small.flushes(), "flushing only the big region already drops below the low mark")
}

func TestReclaimMemoryNoopBelowGlobalLimit(t *testing.T) {
	r := &fakeRegion{name: "small", size: 10}
	f := newFlusher([]Flushable{r}, nil)

	f.ReclaimMemory()
	assert.Equal(t, 0, r.flushes())
}

func TestScanForStaleRequestsOnlyOverduePeriod(t *testing.T) {
	fresh := &fakeRegion{name: "fresh", lastFlush: time.Now()}
	stale := &fakeRegion{name: "stale", lastFlush: time.Now().Add(-2 * time.Hour)}
	f := New(Config{WakeFrequency: time.Hour, OptionalFlushPeriod: time.Hour}, func() []Flushable {
		return []Flushable{fresh, stale}
	}, nil, nil, nil)

	f.scanForStale()

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.True(t, f.queued["stale"])
	assert.False(t, f.queued["fresh"])
}

func TestDrainClearsQueueOnContextCancel(t *testing.T) {
	r := &fakeRegion{name: "orders,a,1", size: 10}
	f := newFlusher(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	f.Request(r)
	f.mu.Lock()
	depth := len(f.queue)
	f.mu.Unlock()
	require.Equal(t, 1, depth)
}
