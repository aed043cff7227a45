package memtable

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shardkeep/regiond/pkg/types"
)

// cellParams is one synthetic Put against a small fixed key space, forcing
// overwrites to exercise the delta-accounting path in Put.
type cellParams struct {
	Row       string
	Family    string
	Value     string
	Timestamp int64
}

func genCellParams() gopter.Gen {
	return gen.Struct(reflect.TypeOf(cellParams{}), map[string]gopter.Gen{
		"Row":       gen.OneConstOf("r1", "r2", "r3"),
		"Family":    gen.OneConstOf("cf1", "cf2"),
		"Value":     gen.AlphaString(),
		"Timestamp": gen.Int64Range(1, 5),
	})
}

// TestSizeMatchesSnapshotProperty checks that the live size counter always
// equals the sum of per-cell sizes implied by Snapshot, for any sequence of
// puts.
func TestSizeMatchesSnapshotProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("size always equals sum of live cell sizes", prop.ForAll(
		func(puts []cellParams) bool {
			m := New()
			for _, p := range puts {
				m.Put(types.Cell{
					Row:       []byte(p.Row),
					Family:    p.Family,
					Qualifier: []byte("q"),
					Value:     []byte(p.Value),
					Timestamp: p.Timestamp,
				})
			}

			var want int64
			for _, c := range m.Snapshot() {
				want += int64(len(c.Row) + len(c.Family) + len(c.Qualifier) + len(c.Value) + 24)
			}
			return m.Size() == want
		},
		gen.SliceOf(genCellParams()),
	))

	properties.TestingRun(t)
}
