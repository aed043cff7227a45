// Package serverctx defines the explicit, injected context threaded through
// every background worker in place of package-level globals: configuration,
// identity, a cancellable context, and the shared stop/abort/quiesce
// signals.
package serverctx

import (
	"context"
	"sync/atomic"

	"github.com/shardkeep/regiond/pkg/config"
	"github.com/shardkeep/regiond/pkg/types"
)

// AbortHandler is invoked by any worker that discovers a condition the
// process cannot recover from in place (a dropped snapshot, a dead
// filesystem, an uncaught panic on a worker goroutine).
type AbortHandler func(reason error)

// ServerContext carries the shared, process-scoped state and signals that
// every long-lived worker needs, threaded explicitly rather than reached for
// as a global.
type ServerContext struct {
	Config   *config.Config
	Identity *types.ServerIdentity

	// Ctx is cancelled on graceful stop or abort; every worker's loop
	// selects on Ctx.Done() at its head.
	Ctx    context.Context
	cancel context.CancelFunc

	stopRequested atomic.Bool
	aborting      atomic.Bool
	quiesced      atomic.Bool

	onAbort AbortHandler
}

// New builds a ServerContext wrapping parent with its own cancellation so
// Stop/Abort can tear down every worker without affecting the caller's
// context.
func New(parent context.Context, cfg *config.Config, identity *types.ServerIdentity, onAbort AbortHandler) *ServerContext {
	ctx, cancel := context.WithCancel(parent)
	return &ServerContext{
		Config:   cfg,
		Identity: identity,
		Ctx:      ctx,
		cancel:   cancel,
		onAbort:  onAbort,
	}
}

// RequestStop asks every worker to wind down gracefully: finish in-flight
// work, report final status, then exit.
func (sc *ServerContext) RequestStop() {
	sc.stopRequested.Store(true)
	sc.cancel()
}

// StopRequested reports whether graceful shutdown has been requested.
func (sc *ServerContext) StopRequested() bool {
	return sc.stopRequested.Load()
}

// Abort tears the process down immediately: no final flushes, no final
// report beyond best effort. Calls the registered AbortHandler exactly once.
func (sc *ServerContext) Abort(reason error) {
	if sc.aborting.CompareAndSwap(false, true) {
		sc.stopRequested.Store(true)
		sc.cancel()
		if sc.onAbort != nil {
			sc.onAbort(reason)
		}
	}
}

// Aborting reports whether Abort has fired.
func (sc *ServerContext) Aborting() bool {
	return sc.aborting.Load()
}

// SetQuiesced marks that quiesce has been requested; user regions are being
// drained while catalog regions are retained.
func (sc *ServerContext) SetQuiesced() {
	sc.quiesced.Store(true)
}

// Quiesced reports whether quiesce has been requested.
func (sc *ServerContext) Quiesced() bool {
	return sc.quiesced.Load()
}
