package lsm

import (
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestSSTableRoundTrip checks that every entry written through
// CreateSSTable reads back byte-identical via AllEntries, regardless of
// key count, key/value content, or how many entries carry a tombstone.
func TestSSTableRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("CreateSSTable then AllEntries reproduces the input set", prop.ForAll(
		func(keys []string, values []string, tombstoneSeed int) bool {
			n := len(keys)
			if len(values) < n {
				n = len(values)
			}
			if n == 0 {
				return true
			}

			dedup := make(map[string]*MemEntry, n)
			for i := 0; i < n; i++ {
				tombstone := tombstoneSeed >= 0 && (i+tombstoneSeed)%3 == 0
				dedup[keys[i]] = &MemEntry{
					Key:       []byte(keys[i]),
					Value:     []byte(values[i]),
					Tombstone: tombstone,
				}
			}

			entries := make([]*MemEntry, 0, len(dedup))
			for _, e := range dedup {
				entries = append(entries, e)
			}

			dir := t.TempDir()
			path := filepath.Join(dir, fmt.Sprintf("round-trip-%d.db", tombstoneSeed))
			sst, err := CreateSSTable(path, entries)
			if err != nil {
				t.Logf("CreateSSTable: %v", err)
				return false
			}
			defer sst.Close()

			got, err := sst.AllEntries()
			if err != nil {
				t.Logf("AllEntries: %v", err)
				return false
			}

			want := append([]*MemEntry(nil), entries...)
			sort.Slice(want, func(i, j int) bool { return string(want[i].Key) < string(want[j].Key) })

			if len(got) != len(want) {
				return false
			}
			for i := range want {
				if string(got[i].Key) != string(want[i].Key) {
					return false
				}
				if got[i].Tombstone != want[i].Tombstone {
					return false
				}
				if !got[i].Tombstone && string(got[i].Value) != string(want[i].Value) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(20, gen.Identifier()),
		gen.SliceOfN(20, gen.AlphaString()),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
