// Package mainloop drives the region server's control loop: report for
// duty once, then heartbeat on a fixed interval for as long as the process
// runs, dispatching each heartbeat response's instructions to the worker and
// feeding the next heartbeat from the outbound buffer. Every background
// worker (flusher, compactor, log roller, worker) is supervised here and
// brought down together on stop or abort.
package mainloop

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/shardkeep/regiond/pkg/compactor"
	"github.com/shardkeep/regiond/pkg/flusher"
	"github.com/shardkeep/regiond/pkg/fswatch"
	"github.com/shardkeep/regiond/pkg/log"
	"github.com/shardkeep/regiond/pkg/masterclient"
	"github.com/shardkeep/regiond/pkg/metrics"
	"github.com/shardkeep/regiond/pkg/outbox"
	"github.com/shardkeep/regiond/pkg/registry"
	"github.com/shardkeep/regiond/pkg/rserrors"
	"github.com/shardkeep/regiond/pkg/serverctx"
	"github.com/shardkeep/regiond/pkg/types"
	"github.com/shardkeep/regiond/pkg/wal"
	"github.com/shardkeep/regiond/pkg/worker"
)

// infoProvider is the narrow capability the loop needs from a
// registry.Region to report a full descriptor alongside a close, beyond the
// registry's narrow Name/Close. region.Region satisfies it.
type infoProvider interface {
	Info() *types.RegionInfo
}

// State is one phase of the control loop's lifecycle.
type State string

const (
	StateStarting         State = "STARTING"
	StateReportingForDuty State = "REPORTING_FOR_DUTY"
	StateRunning          State = "RUNNING"
	StateQuiescing        State = "QUIESCING"
	StateExiting          State = "EXITING"
	StateAborting         State = "ABORTING"
)

// maxHeartbeatFailures is the retry ceiling of §4.1: after this many
// consecutive heartbeat failures, the loop probes the filesystem and, if
// healthy, treats the master as unreachable and returns an error, which ends
// the run loop and leads into the shutdown sequence.
const maxHeartbeatFailures = 3

// Loop owns every long-lived goroutine of the region server: the worker, the
// flusher, the compactor, and the heartbeat cycle itself.
type Loop struct {
	sc              *serverctx.ServerContext
	registry        *registry.Registry
	wal             atomic.Pointer[wal.WAL]
	reopenWAL       func() (*wal.WAL, error)
	outbox          *outbox.Outbox
	worker          *worker.Worker
	flusher         *flusher.Flusher
	compactor       *compactor.Compactor
	listCompactable func() []compactor.Compactable
	watchdog        *fswatch.Watchdog
	master          *masterclient.Client

	state            State
	quiescedReported bool

	requestCount int64
	logger       zerolog.Logger
}

// New assembles a Loop from its already-constructed collaborators.
// listCompactable supplies the compactor's periodic poll with every
// currently online region, so a region past its compaction-check interval
// gets requested even if nothing else has asked for it. reopenWAL reopens
// the write-ahead log at whatever directory the server's current identity
// keys to; it is called during CALL_SERVER_STARTUP in-place recovery, after
// the identity's start code has been regenerated.
func New(
	sc *serverctx.ServerContext,
	reg *registry.Registry,
	w *wal.WAL,
	ob *outbox.Outbox,
	wk *worker.Worker,
	fl *flusher.Flusher,
	cp *compactor.Compactor,
	listCompactable func() []compactor.Compactable,
	wd *fswatch.Watchdog,
	master *masterclient.Client,
	reopenWAL func() (*wal.WAL, error),
) *Loop {
	l := &Loop{
		sc:              sc,
		registry:        reg,
		reopenWAL:       reopenWAL,
		outbox:          ob,
		worker:          wk,
		flusher:         fl,
		compactor:       cp,
		listCompactable: listCompactable,
		watchdog:        wd,
		master:          master,
		state:           StateStarting,
		logger:          log.WithComponent("mainloop"),
	}
	l.wal.Store(w)
	return l
}

// State returns the loop's current lifecycle phase.
func (l *Loop) State() State { return l.state }

// Run blocks until the server stops or aborts: it reports for duty, then
// runs the heartbeat cycle alongside the worker, flusher, and compactor on
// their own supervised goroutines, via an errgroup so any one of them dying
// unexpectedly tears the rest down.
func (l *Loop) Run(ctx context.Context) error {
	l.state = StateReportingForDuty
	if err := l.reportForDuty(ctx); err != nil {
		l.state = StateAborting
		l.sc.Abort(err)
		return err
	}

	l.state = StateRunning

	group, gctx := errgroup.WithContext(l.sc.Ctx)
	group.Go(func() error {
		l.worker.Run(gctx)
		return nil
	})
	group.Go(func() error {
		l.flusher.Run(gctx)
		return nil
	})
	group.Go(func() error {
		l.compactor.Run(gctx, l.sc.Config.CompactCheckFrequency(), l.listCompactable)
		return nil
	})
	group.Go(func() error {
		l.runRoller(gctx)
		return nil
	})
	group.Go(func() error {
		return l.heartbeatLoop(gctx)
	})

	err := group.Wait()
	l.shutdown(ctx)
	return err
}

// reportForDuty sends Startup, retrying indefinitely while the master
// reports the identity's lease is still held by a prior generation. Retries
// only stop if the server is asked to stop or abort.
func (l *Loop) reportForDuty(ctx context.Context) error {
	req := &types.StartupRequest{Identity: *l.sc.Identity}

	for attempt := 0; ; attempt++ {
		if l.sc.StopRequested() || l.sc.Aborting() {
			return errors.New("mainloop: report for duty abandoned, server stopping")
		}

		resp, err := l.master.Startup(ctx, req)
		if err != nil {
			return fmt.Errorf("mainloop: report for duty: %w", rserrors.Remote("startup", err))
		}
		if resp.LeaseStillHeld {
			l.logger.Warn().Int("attempt", attempt).Msg("identity lease still held by a prior generation, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.sc.Config.MasterLeasePeriod() / 10):
			}
			continue
		}
		if len(resp.ConfigMap) > 0 {
			if err := l.sc.Config.ApplyConfigMap(resp.ConfigMap); err != nil {
				return fmt.Errorf("mainloop: applying master config_map: %w", err)
			}
		}
		return nil
	}
}

// runRoller drains the WAL's roll-request channel: once a segment crosses
// its size threshold, it closes the segment and opens the next one. Reloads
// the WAL pointer every iteration so a CALL_SERVER_STARTUP recovery that
// reopens the log mid-run is picked up without restarting this goroutine.
func (l *Loop) runRoller(ctx context.Context) {
	for {
		w := l.wal.Load()
		select {
		case <-ctx.Done():
			return
		case <-w.RollRequested():
			if err := w.Roll(); err != nil {
				l.logger.Error().Err(err).Msg("rolling WAL segment")
				if l.watchdog != nil {
					l.watchdog.CheckFileSystem()
				}
			}
		}
	}
}

// heartbeatLoop runs the fixed-interval report cycle: drain the outbound
// buffer, refresh load, call Report, dispatch instructions, and track
// consecutive failures against maxHeartbeatFailures.
func (l *Loop) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(l.sc.Config.MsgInterval())
	defer ticker.Stop()

	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if l.sc.StopRequested() {
				return nil
			}

			if err := l.heartbeat(ctx); err != nil {
				consecutiveFailures++
				metrics.HeartbeatFailuresTotal.Inc()
				l.logger.Error().Err(err).Int("consecutive_failures", consecutiveFailures).Msg("heartbeat failed")

				if consecutiveFailures >= maxHeartbeatFailures {
					if l.watchdog != nil && !l.watchdog.CheckFileSystem() {
						return fmt.Errorf("mainloop: %w", rserrors.ErrFilesystemUnavailable)
					}
					return fmt.Errorf("mainloop: master unreachable after %d heartbeats: %w", consecutiveFailures, err)
				}
				continue
			}
			consecutiveFailures = 0
		}
	}
}

func (l *Loop) heartbeat(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HeartbeatDuration)
	metrics.HeartbeatsTotal.Inc()

	l.sc.Identity.Load = types.ServerLoad{
		RequestCount: l.requestCount,
		RegionCount:  l.registry.OnlineCount(),
	}

	req := &types.HeartbeatRequest{
		Identity: *l.sc.Identity,
		Outbound: l.outbox.Swap(),
	}

	resp, err := l.master.Report(ctx, req)
	if err != nil {
		// Preserve whatever had accumulated; it will be resent next cycle.
		l.outbox.Prepend(req.Outbound...)
		return err
	}

	l.housekeep()
	l.checkQuiesceComplete()

	for _, instr := range resp.Instructions {
		l.dispatch(ctx, instr)
	}
	return nil
}

// checkQuiesceComplete implements §4.1 step 7: once quiesce has been
// requested and no region, catalog regions included, is still online, report REPORT_QUIESCED and
// request a graceful stop. Reported at most once per run.
func (l *Loop) checkQuiesceComplete() {
	if !l.sc.Quiesced() || l.quiescedReported {
		return
	}
	if l.registry.OnlineCount() > 0 {
		return
	}
	l.quiescedReported = true
	l.outbox.Append(types.OutboundMessage{Kind: types.ReportQuiesced})
	l.logger.Info().Msg("quiesce complete, requesting graceful shutdown")
	l.sc.RequestStop()
}

// housekeep re-announces REPORT_PROCESS_OPEN for any REGION_OPEN still
// sitting in the worker's queue, so a slow region open is never silently
// mistaken by the master for a dead server.
func (l *Loop) housekeep() {
	for _, instr := range l.worker.Pending() {
		if instr.Kind == types.InstrRegionOpen && instr.Region != nil {
			l.outbox.AppendRegion(types.ReportProcessOpen, instr.Region)
		}
	}
}

func (l *Loop) dispatch(ctx context.Context, instr types.Instruction) {
	switch instr.Kind {
	case types.InstrServerStop:
		l.logger.Info().Msg("received REGIONSERVER_STOP, requesting graceful shutdown")
		l.sc.RequestStop()
	case types.InstrCallServerStartup:
		if err := l.recoverFromCallServerStartup(ctx); err != nil {
			l.logger.Error().Err(err).Msg("in-place recovery after CALL_SERVER_STARTUP failed, aborting")
			l.sc.Abort(err)
		}
	case types.InstrServerQuiesce:
		l.state = StateQuiescing
		l.sc.SetQuiesced()
		if !l.worker.Enqueue(instr) {
			l.logger.Error().Msg("worker queue full, could not enqueue REGIONSERVER_QUIESCE")
		}
	default:
		if !l.worker.Enqueue(instr) {
			l.logger.Error().Str("kind", string(instr.Kind)).Msg("worker queue full, dropping instruction")
		}
	}
}

// recoverFromCallServerStartup implements §4.1 step 4's in-place recovery:
// the master has lost track of this server's generation, so it must close
// everything it holds, discard its WAL, mint a new start code, and report
// for duty again under that new identity — rather than tearing the whole
// process down.
func (l *Loop) recoverFromCallServerStartup(ctx context.Context) error {
	l.logger.Warn().Msg("received CALL_SERVER_STARTUP, recovering in place")

	closed := l.registry.CloseAllRegions(false)
	for _, r := range closed {
		metrics.RegionsClosedTotal.Inc()
		if ip, ok := r.(infoProvider); ok {
			l.outbox.AppendRegion(types.ReportClose, ip.Info())
		}
	}
	metrics.OpenRegions.Set(0)

	if err := l.wal.Load().CloseAndDelete(); err != nil {
		l.logger.Error().Err(err).Msg("closing and deleting WAL during CALL_SERVER_STARTUP recovery")
	}

	l.sc.Identity.StartCode = time.Now().UnixNano()

	if l.reopenWAL == nil {
		return errors.New("mainloop: no WAL reopen callback configured for CALL_SERVER_STARTUP recovery")
	}
	w, err := l.reopenWAL()
	if err != nil {
		return fmt.Errorf("mainloop: reopening WAL after CALL_SERVER_STARTUP: %w", err)
	}
	l.wal.Store(w)
	if l.worker != nil {
		l.worker.SetWAL(w)
	}

	return l.reportForDuty(ctx)
}

// shutdown runs the final sequence once every supervised goroutine has
// returned: flush and close every remaining region, report exiting plus a
// REPORT_CLOSE per closed region, delete the WAL, and move the loop to its
// terminal state.
func (l *Loop) shutdown(ctx context.Context) {
	abort := l.sc.Aborting()
	if abort {
		l.state = StateAborting
	} else {
		l.state = StateExiting
	}

	closed := l.registry.CloseAllRegions(abort)
	for range closed {
		metrics.RegionsClosedTotal.Inc()
	}
	metrics.OpenRegions.Set(0)

	if abort {
		return
	}

	for _, r := range closed {
		if ip, ok := r.(infoProvider); ok {
			l.outbox.AppendRegion(types.ReportClose, ip.Info())
		}
	}
	l.outbox.Prepend(types.OutboundMessage{Kind: types.ReportExiting})
	req := &types.HeartbeatRequest{
		Identity: *l.sc.Identity,
		Outbound: l.outbox.Swap(),
	}
	reportCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := l.master.Report(reportCtx, req); err != nil {
		l.logger.Error().Err(err).Msg("final report failed")
	}

	if err := l.wal.Load().CloseAndDelete(); err != nil {
		l.logger.Error().Err(err).Msg("closing and deleting WAL during shutdown")
	}
}
