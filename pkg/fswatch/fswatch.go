// Package fswatch implements the filesystem health watchdog: the core calls
// it after every IO failure anywhere in the process, and it alone decides
// whether the shared filesystem is usable.
package fswatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shardkeep/regiond/pkg/log"
	"github.com/shardkeep/regiond/pkg/metrics"
)

// Prober is the narrow capability the watchdog needs from the filesystem
// collaborator: a cheap round-trip that either succeeds or returns an error.
// The production implementation touches a sentinel file under the server's
// root directory; tests supply a fake.
type Prober interface {
	Probe(ctx context.Context) error
}

// FileProber probes a POSIX-like filesystem by writing and removing a
// sentinel file under root. It stands in for the distributed filesystem
// client, whose internals are out of scope for the core.
type FileProber struct {
	Root string
}

// Probe writes and removes a small sentinel file under Root.
func (p FileProber) Probe(ctx context.Context) error {
	sentinel := filepath.Join(p.Root, ".fswatch-probe")
	if err := os.WriteFile(sentinel, []byte(time.Now().UTC().String()), 0o600); err != nil {
		return fmt.Errorf("probe write: %w", err)
	}
	if err := os.Remove(sentinel); err != nil {
		return fmt.Errorf("probe remove: %w", err)
	}
	return nil
}

// AbortFunc is called once the watchdog declares the filesystem dead.
type AbortFunc func(reason error)

// Watchdog tracks the filesystem's last known health verdict and triggers
// abort on the first failed probe. Safe for concurrent use; CheckFileSystem
// is expected to be called from many goroutines after IO errors.
type Watchdog struct {
	prober  Prober
	abort   AbortFunc
	timeout time.Duration

	mu      sync.RWMutex
	healthy bool
	aborted bool

	logger zerolog.Logger
}

// New creates a Watchdog that considers the filesystem healthy until the
// first failed probe.
func New(prober Prober, timeout time.Duration, abort AbortFunc) *Watchdog {
	return &Watchdog{
		prober:  prober,
		abort:   abort,
		timeout: timeout,
		healthy: true,
		logger:  log.WithComponent("fswatch"),
	}
}

// Healthy reports the watchdog's last verdict without probing.
func (w *Watchdog) Healthy() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.healthy
}

// CheckFileSystem pings the filesystem. On failure it marks the filesystem
// unhealthy and calls abort exactly once. Safe to call repeatedly after the
// first failure; abort only fires on the transition to unhealthy.
func (w *Watchdog) CheckFileSystem() bool {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	err := w.prober.Probe(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err == nil {
		w.healthy = true
		return true
	}

	w.healthy = false
	w.logger.Error().Err(err).Msg("filesystem probe failed")
	metrics.WALSyncFailuresTotal.Inc()

	if !w.aborted {
		w.aborted = true
		if w.abort != nil {
			w.abort(err)
		}
	}
	return false
}
