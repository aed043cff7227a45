// Package regionstore persists the set of regions this particular server
// currently owns, distinct from the root/meta catalog (pkg/catalog), which
// records which server owns a region cluster-wide. On restart the main loop
// reads this local bookkeeping to know what it was serving before it went
// down, so it can re-open the same regions rather than wait for the master
// to reassign them one at a time.
package regionstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/shardkeep/regiond/pkg/types"
)

var ownedBucket = []byte("owned")

// Store persists the local "regions I currently own" set.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the local region-ownership database
// under dataDir.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "regions.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("regionstore: opening: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(ownedBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("regionstore: initializing bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record marks info as owned by this server, persisted so it survives a
// restart. Called once a REGION_OPEN instruction has been fully applied.
func (s *Store) Record(info *types.RegionInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("regionstore: marshaling region: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ownedBucket)
		return b.Put([]byte(info.Name()), data)
	})
}

// Forget removes name from the owned set. Called once a REGION_CLOSE
// instruction has been fully applied.
func (s *Store) Forget(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ownedBucket)
		return b.Delete([]byte(name))
	})
}

// Owned returns every region currently recorded as owned, for the main
// loop's restart-recovery path.
func (s *Store) Owned() ([]*types.RegionInfo, error) {
	var infos []*types.RegionInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(ownedBucket)
		return b.ForEach(func(_, v []byte) error {
			var info types.RegionInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return fmt.Errorf("regionstore: decoding region: %w", err)
			}
			infos = append(infos, &info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}
