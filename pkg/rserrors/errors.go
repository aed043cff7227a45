// Package rserrors defines the sentinel errors the region server surfaces to
// clients and background workers. Callers wrap these with fmt.Errorf("...: %w",
// ...) to attach context; callers upstream use errors.Is to recover the kind.
package rserrors

import "errors"

var (
	// ErrNotServingRegion means a region name is unknown to this server,
	// either never opened or already closed.
	ErrNotServingRegion = errors.New("not serving region")

	// ErrUnknownScanner means a scanner id is unknown, already closed, or
	// its lease expired.
	ErrUnknownScanner = errors.New("unknown scanner")

	// ErrRegionServerRunning means the WAL directory for this identity
	// already exists at startup, indicating a second server would be
	// colliding with a live one.
	ErrRegionServerRunning = errors.New("region server already running")

	// ErrDroppedSnapshot means a flush failed inside its critical section;
	// the region's WAL must be replayed from scratch elsewhere. Always
	// fatal to the process that raises it.
	ErrDroppedSnapshot = errors.New("dropped snapshot, WAL replay required")

	// ErrFilesystemUnavailable is the watchdog's verdict after a failed
	// health probe; it triggers an abort.
	ErrFilesystemUnavailable = errors.New("filesystem unavailable")

	// ErrServerNotRunning is returned to clients for any request received
	// after stop or abort has begun.
	ErrServerNotRunning = errors.New("server not running")

	// ErrLeaseStillHeld means a previous generation of this server's
	// identity has not yet timed out on the master; report-for-duty should
	// keep retrying.
	ErrLeaseStillHeld = errors.New("lease still held")
)

// RemoteException wraps an error surfaced by a collaborator outside the
// core — the distributed filesystem client or the master RPC stub — so
// callers can always recover the underlying IO cause with errors.Unwrap.
type RemoteException struct {
	Op    string
	Cause error
}

func (e *RemoteException) Error() string {
	return e.Op + ": " + e.Cause.Error()
}

func (e *RemoteException) Unwrap() error {
	return e.Cause
}

// Remote wraps cause as a RemoteException tagged with the failing operation.
func Remote(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &RemoteException{Op: op, Cause: cause}
}
