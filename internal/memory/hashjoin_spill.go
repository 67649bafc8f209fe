package memory

import (
	"encoding/gob"
	"fmt"
	"os"
	"sync"
)

// Row is a loosely-typed query row, matching catalog.Row's column
// map shape without importing the catalog package (avoiding a cycle
// back from catalog into the query engine).
type Row map[string]any

// HashJoinSpillManager owns a hash join's in-memory partitions, each
// keyed by join key, spilling the largest partition to a temp file
// under pressure.
type HashJoinSpillManager struct {
	mu         sync.Mutex
	partitions map[string][]Row
	spilled    map[string]string // key -> temp file path
	tmpDir     string
}

// NewHashJoinSpillManager builds a spill manager writing temp files
// under tmpDir (os.TempDir() when empty).
func NewHashJoinSpillManager(tmpDir string) *HashJoinSpillManager {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &HashJoinSpillManager{
		partitions: make(map[string][]Row),
		spilled:    make(map[string]string),
		tmpDir:     tmpDir,
	}
}

// AddRow appends row to its partition's in-memory bucket.
func (h *HashJoinSpillManager) AddRow(key string, row Row) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.partitions[key] = append(h.partitions[key], row)
}

// Partition returns the in-memory rows for key (nil if spilled or
// empty).
func (h *HashJoinSpillManager) Partition(key string) []Row {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.partitions[key]
}

// SpillToDisk writes the largest in-memory partition to a unique temp
// file and clears it in place, implementing SpillManager.
func (h *HashJoinSpillManager) SpillToDisk() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var largestKey string
	largestLen := 0
	for k, rows := range h.partitions {
		if len(rows) > largestLen {
			largestKey, largestLen = k, len(rows)
		}
	}
	if largestKey == "" {
		return fmt.Errorf("no in-memory partition to spill")
	}

	f, err := os.CreateTemp(h.tmpDir, "serengeti-hashjoin-*.gob")
	if err != nil {
		return err
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(h.partitions[largestKey]); err != nil {
		return err
	}

	h.spilled[largestKey] = f.Name()
	delete(h.partitions, largestKey)
	return nil
}

// ReadFromDisk loads a spilled partition back into memory.
func (h *HashJoinSpillManager) ReadFromDisk(key string) ([]Row, error) {
	h.mu.Lock()
	path, ok := h.spilled[key]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("partition %q was not spilled", key)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []Row
	if err := gob.NewDecoder(f).Decode(&rows); err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.partitions[key] = rows
	h.mu.Unlock()
	return rows, nil
}

// AllPartitionsSpilled reports whether every known partition has been
// moved to disk.
func (h *HashJoinSpillManager) AllPartitionsSpilled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.partitions) == 0 && len(h.spilled) > 0
}

// Cleanup removes every spilled temp file, implementing SpillManager.
func (h *HashJoinSpillManager) Cleanup() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var firstErr error
	for key, path := range h.spilled {
		if err := os.Remove(path); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(h.spilled, key)
	}
	return firstErr
}
