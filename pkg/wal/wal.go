// Package wal implements the region server's write-ahead log: one shared
// log, rotated into numbered segments by the log roller, replayed on region
// open, and closed and deleted wholesale on CALL_SERVER_STARTUP.
package wal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/shardkeep/regiond/pkg/metrics"
	"github.com/shardkeep/regiond/pkg/types"
)

var entriesBucket = []byte("entries")

// Entry is one durable write recorded before it is applied to a region's
// memtable.
type Entry struct {
	RegionName string
	SequenceID int64
	Update     types.RowUpdate
	Delete     bool
}

// WAL is the write-ahead log for one region server instance. Segment files
// live under Dir, each a small bbolt database keyed by monotonically
// increasing sequence id.
type WAL struct {
	mu          sync.Mutex
	dir         string
	rollSize    int64
	db          *bolt.DB
	segmentPath string
	segmentSeq  int
	nextSeqID   int64
	written     int64
	floorSeqID  int64

	rollRequested chan struct{}
}

// Open creates the WAL directory at dir if it is missing and opens its
// first segment. An existing dir is not an error; the main loop's "already
// running" check is DirExists, called before Open.
func Open(dir string, rollSize int64) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: creating directory: %w", err)
	}
	w := &WAL{
		dir:           dir,
		rollSize:      rollSize,
		rollRequested: make(chan struct{}, 1),
	}
	if err := w.openSegment(0); err != nil {
		return nil, err
	}
	return w, nil
}

// DirExists reports whether a WAL directory already exists at dir, the
// condition the main loop treats as a fatal "already running" collision.
func DirExists(dir string) bool {
	_, err := os.Stat(dir)
	return err == nil
}

func (w *WAL) openSegment(seq int) error {
	path := filepath.Join(w.dir, fmt.Sprintf("segment-%08d.log", seq))
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return fmt.Errorf("wal: opening segment: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("wal: initializing segment: %w", err)
	}
	w.db = db
	w.segmentPath = path
	w.segmentSeq = seq
	w.written = 0
	return nil
}

// Append durably writes entry under the next sequence id and returns that
// id. If the current segment has crossed rollSize, it signals the log
// roller via RollRequested but does not roll synchronously — rolling is the
// log roller's job, run on its own goroutine, so a slow rotation never
// blocks a writer.
func (w *WAL) Append(entry Entry) (int64, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.WALAppendDuration)

	w.mu.Lock()
	defer w.mu.Unlock()

	seqID := w.nextSeqID
	entry.SequenceID = seqID
	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("wal: marshaling entry: %w", err)
	}

	err = w.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		return b.Put(seqIDKey(seqID), data)
	})
	if err != nil {
		return 0, fmt.Errorf("wal: appending entry: %w", err)
	}

	w.nextSeqID++
	w.written += int64(len(data))
	if w.written >= w.rollSize {
		w.requestRollLocked()
	}
	return seqID, nil
}

func (w *WAL) requestRollLocked() {
	select {
	case w.rollRequested <- struct{}{}:
	default:
	}
}

// RollRequested is signaled whenever the current segment has crossed
// rollSize; the log roller selects on it.
func (w *WAL) RollRequested() <-chan struct{} {
	return w.rollRequested
}

// Roll closes the current segment and opens a fresh one with the next
// segment number. No segment file is removed. Called only by the log
// roller, which serializes rolls against the process-wide log-roller lock.
func (w *WAL) Roll() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.db.Close(); err != nil {
		return fmt.Errorf("wal: closing segment before roll: %w", err)
	}
	if err := w.openSegment(w.segmentSeq + 1); err != nil {
		return err
	}
	metrics.WALRollsTotal.Inc()
	return nil
}

// Replay streams every entry recorded for regionName across every segment,
// in increasing sequence-id order, calling fn for each. Used when a region
// is opened and must reconstruct its memtable from the log.
func (w *WAL) Replay(regionName string, fn func(Entry) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	segments, err := w.listSegments()
	if err != nil {
		return err
	}

	for _, path := range segments {
		// The active segment is read through the already-open handle: bbolt
		// locks its file, so a second open of it would block.
		db := w.db
		if path != w.segmentPath {
			if db, err = bolt.Open(path, 0o600, &bolt.Options{ReadOnly: true}); err != nil {
				return fmt.Errorf("wal: opening segment for replay: %w", err)
			}
		}
		err = replaySegment(db, regionName, fn)
		if db != w.db {
			db.Close()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func replaySegment(db *bolt.DB, regionName string, fn func(Entry) error) error {
	return db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("wal: decoding entry: %w", err)
			}
			if entry.RegionName != regionName {
				return nil
			}
			return fn(entry)
		})
	})
}

func (w *WAL) listSegments() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("wal: listing segments: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() {
			paths = append(paths, filepath.Join(w.dir, e.Name()))
		}
	}
	return paths, nil
}

// AdvanceFloor raises the WAL's sequence-id floor to seqID if it is higher
// than the current floor. Called by the Worker once a region has finished
// opening. The floor is only recorded; no segment is removed because of it.
func (w *WAL) AdvanceFloor(seqID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seqID > w.floorSeqID {
		w.floorSeqID = seqID
	}
}

// Floor returns the current sequence-id floor.
func (w *WAL) Floor() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.floorSeqID
}

// NextSequenceID returns the sequence id the next Append call will assign,
// without appending anything.
func (w *WAL) NextSequenceID() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextSeqID
}

// Close closes the active segment. It does not remove any files; use
// CloseAndDelete for the CALL_SERVER_STARTUP sequence.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.db.Close()
}

// CloseAndDelete closes the active segment and removes the entire WAL
// directory, as done when the master issues CALL_SERVER_STARTUP because it
// has lost track of this server's state.
func (w *WAL) CloseAndDelete() error {
	if err := w.Close(); err != nil {
		return err
	}
	return os.RemoveAll(w.dir)
}

func seqIDKey(seq int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(seq))
	return b
}
