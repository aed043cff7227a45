// Package filestore provides the simplest possible implementation of
// region.StoreWriter: one bbolt database per server, one bucket per
// region/family pair, cells stored as JSON. The real on-disk store format
// (sorted immutable files, block indexes, bloom filters) is explicitly out
// of this core's scope; this package exists only so the rest of the server
// has a concrete, durable collaborator to flush and compact against.
package filestore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/shardkeep/regiond/pkg/types"
)

// Store is a minimal durable StoreWriter.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the store database under dataDir.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "store.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("filestore: opening: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the store database.
func (s *Store) Close() error {
	return s.db.Close()
}

func bucketName(regionName, family string) []byte {
	return []byte(regionName + "/" + family)
}

// WriteStoreFile appends a new file, identified by a monotonically
// increasing sequence key, to family's bucket for regionName. It returns
// the number of files now present for that family.
func (s *Store) WriteStoreFile(regionName, family string, cells []types.Cell) (int, error) {
	data, err := json.Marshal(cells)
	if err != nil {
		return 0, fmt.Errorf("filestore: marshaling cells: %w", err)
	}

	var count int
	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(regionName, family))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}
		count = b.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("filestore: writing store file: %w", err)
	}
	return count, nil
}

// Compact merges every file in family's bucket into a single file and
// reports the resulting total byte size.
func (s *Store) Compact(regionName, family string) (int64, error) {
	var total int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(regionName, family))
		if err != nil {
			return err
		}

		var all []types.Cell
		var keys [][]byte
		err = b.ForEach(func(k, v []byte) error {
			var cells []types.Cell
			if err := json.Unmarshal(v, &cells); err != nil {
				return fmt.Errorf("decoding store file: %w", err)
			}
			all = append(all, cells...)
			keys = append(keys, append([]byte(nil), k...))
			return nil
		})
		if err != nil {
			return err
		}
		if len(keys) <= 1 {
			total = int64(b.Stats().LeafInuse)
			return nil
		}

		sort.Slice(all, func(i, j int) bool {
			if string(all[i].Row) != string(all[j].Row) {
				return string(all[i].Row) < string(all[j].Row)
			}
			return all[i].Timestamp > all[j].Timestamp
		})

		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		merged, err := json.Marshal(all)
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), merged); err != nil {
			return err
		}
		total = int64(len(merged))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("filestore: compacting: %w", err)
	}
	return total, nil
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}
