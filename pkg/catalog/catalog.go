// Package catalog implements the root/meta table update protocol the
// compactor uses during a split: atomic per-row updates marking a parent
// offline-and-split and inserting fresh rows for its children. Root and
// meta are themselves regions elsewhere in the cluster; here they are
// modeled as the two bbolt-backed tables this server's compactor writes
// through when it happens to host (or is standing in for) the relevant
// catalog region, mirroring the atomic command-apply style used elsewhere
// in this codebase for durable state transitions.
package catalog

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/shardkeep/regiond/pkg/metrics"
	"github.com/shardkeep/regiond/pkg/types"
)

var (
	rootBucket = []byte("root")
	metaBucket = []byte("meta")
)

// Table selects which catalog table an update targets: root if the parent
// being split is itself a meta region, meta otherwise.
type Table int

const (
	Meta Table = iota
	Root
)

func (t Table) bucket() []byte {
	if t == Root {
		return rootBucket
	}
	return metaBucket
}

// Catalog persists root/meta rows. Each row is a region's current
// descriptor, keyed by region name.
type Catalog struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the catalog database under dataDir.
func Open(dataDir string) (*Catalog, error) {
	path := filepath.Join(dataDir, "catalog.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: opening: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(rootBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: initializing buckets: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close closes the catalog database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// PutRegion writes a fresh row for info into table. Used to insert a child
// region's row during a split.
func (c *Catalog) PutRegion(table Table, info *types.RegionInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("catalog: marshaling region: %w", err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(table.bucket())
		return b.Put([]byte(info.Name()), data)
	})
}

// GetRegion reads a region's current row from table.
func (c *Catalog) GetRegion(table Table, name string) (*types.RegionInfo, error) {
	var info types.RegionInfo
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(table.bucket())
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("catalog: region %s not found", name)
		}
		return json.Unmarshal(data, &info)
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// MarkSplit performs the single atomic update required on the parent's row
// at split time: mark it offline and split, and attach its two children's
// descriptors under the splitA/splitB columns. This must be durable before
// either child row is inserted (see the ordering guarantees in the
// concurrency model).
func (c *Catalog) MarkSplit(table Table, parent *types.RegionInfo, childA, childB *types.RegionInfo) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CompactionDuration)

	parent.Offline = true
	parent.Split = true
	parent.SplitA = childA
	parent.SplitB = childB

	data, err := json.Marshal(parent)
	if err != nil {
		return fmt.Errorf("catalog: marshaling parent: %w", err)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(table.bucket())
		return b.Put([]byte(parent.Name()), data)
	})
}
