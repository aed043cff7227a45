// Package outbox implements the outbound message buffer: an append-only
// queue of events destined for the master, atomically swapped out and
// drained on each heartbeat. It has no per-message sequence ids and is
// never deduplicated — the master is expected to tolerate replays across a
// reconnect, by design (see the open questions on duplicate tolerance).
package outbox

import (
	"sync"

	"github.com/shardkeep/regiond/pkg/types"
)

// Outbox is safe for concurrent Append from many goroutines and a single
// Swap called by the heartbeat cycle.
type Outbox struct {
	mu       sync.Mutex
	messages []types.OutboundMessage
}

// New returns an empty outbox.
func New() *Outbox {
	return &Outbox{}
}

// Append adds a message to the end of the buffer. Ordering relative to
// other Append calls racing with it is whatever order they acquire the
// lock in; ordering WITHIN one goroutine's sequence of calls is preserved.
func (o *Outbox) Append(msg types.OutboundMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
}

// AppendRegion is a convenience wrapper for the common case of a
// region-scoped message.
func (o *Outbox) AppendRegion(kind types.OutboundKind, region *types.RegionInfo) {
	o.Append(types.OutboundMessage{Kind: kind, Region: region})
}

// Swap atomically replaces the buffer with an empty one and returns
// whatever had accumulated, in append order. Called once per heartbeat
// cycle.
func (o *Outbox) Swap() []types.OutboundMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.messages
	o.messages = nil
	return out
}

// Len reports the number of messages currently buffered, for diagnostics.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}

// Prepend inserts messages at the front of the buffer, preserving their
// relative order. Used by the shutdown sequence to ensure REPORT_EXITING
// is always first in the final report, ahead of anything already queued.
func (o *Outbox) Prepend(messages ...types.OutboundMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(messages, o.messages...)
}
