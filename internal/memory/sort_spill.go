package memory

import (
	"container/heap"
	"encoding/gob"
	"os"
	"sort"
	"sync"
)

// Comparator orders two rows for SORT: it reports whether a sorts
// before b, the same less-than convention as sort.Slice.
type Comparator func(a, b Row) bool

// SortSpillManager owns a sort's in-memory chunks, spilling the oldest
// unsorted chunk to disk under pressure and k-way merging every
// spilled chunk back into a single sorted stream.
type SortSpillManager struct {
	mu             sync.Mutex
	cmp            Comparator
	maxRowsPerChunk int
	chunks         [][]Row // in-memory, unsorted until spilled
	spilledPaths   []string
	tmpDir         string
}

// NewSortSpillManager builds a manager ordering rows by cmp, holding at
// most maxRowsPerChunk rows per in-memory chunk. Chunks go to disk only
// through SpillToDisk.
func NewSortSpillManager(cmp Comparator, maxRowsPerChunk int, tmpDir string) *SortSpillManager {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	if maxRowsPerChunk <= 0 {
		maxRowsPerChunk = 10000
	}
	return &SortSpillManager{cmp: cmp, maxRowsPerChunk: maxRowsPerChunk, tmpDir: tmpDir}
}

// AddRow appends row to the current in-memory chunk, starting a new
// chunk once the current one reaches maxRowsPerChunk.
func (s *SortSpillManager) AddRow(row Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) == 0 || len(s.chunks[len(s.chunks)-1]) >= s.maxRowsPerChunk {
		s.chunks = append(s.chunks, nil)
	}
	last := len(s.chunks) - 1
	s.chunks[last] = append(s.chunks[last], row)
}

// SpillToDisk sorts the next in-memory chunk and writes it to a
// unique temp file, implementing SpillManager.
func (s *SortSpillManager) SpillToDisk() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.chunks) == 0 {
		return nil
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]

	sort.Slice(chunk, func(i, j int) bool { return s.cmp(chunk[i], chunk[j]) })

	f, err := os.CreateTemp(s.tmpDir, "serengeti-sort-*.gob")
	if err != nil {
		return err
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(chunk); err != nil {
		return err
	}
	s.spilledPaths = append(s.spilledPaths, f.Name())
	return nil
}

// ReadFromDisk loads the most recently spilled chunk back into memory,
// re-sorting it in place, and returns it.
func (s *SortSpillManager) ReadFromDisk() ([]Row, error) {
	s.mu.Lock()
	if len(s.spilledPaths) == 0 {
		s.mu.Unlock()
		return nil, nil
	}
	path := s.spilledPaths[len(s.spilledPaths)-1]
	s.spilledPaths = s.spilledPaths[:len(s.spilledPaths)-1]
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []Row
	if err := gob.NewDecoder(f).Decode(&rows); err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return s.cmp(rows[i], rows[j]) })
	_ = os.Remove(path)
	return rows, nil
}

// mergeSource is one sorted input stream participating in the k-way
// merge: either a spilled chunk already read into memory, or the
// final in-memory chunk that never needed to spill.
type mergeSource struct {
	rows []Row
	pos  int
}

func (m *mergeSource) peek() (Row, bool) {
	if m.pos >= len(m.rows) {
		return nil, false
	}
	return m.rows[m.pos], true
}

// mergeHeap is a container/heap of mergeSources ordered by their
// current head row via cmp.
type mergeHeap struct {
	sources []*mergeSource
	cmp     Comparator
}

func (h *mergeHeap) Len() int { return len(h.sources) }
func (h *mergeHeap) Less(i, j int) bool {
	ri, _ := h.sources[i].peek()
	rj, _ := h.sources[j].peek()
	return h.cmp(ri, rj)
}
func (h *mergeHeap) Swap(i, j int) { h.sources[i], h.sources[j] = h.sources[j], h.sources[i] }
func (h *mergeHeap) Push(x any)    { h.sources = append(h.sources, x.(*mergeSource)) }
func (h *mergeHeap) Pop() any {
	old := h.sources
	n := len(old)
	item := old[n-1]
	h.sources = old[:n-1]
	return item
}

// MergeChunks performs a k-way sorted merge across every spilled
// chunk plus any remaining in-memory chunks, returning a single
// sorted stream.
func (s *SortSpillManager) MergeChunks() ([]Row, error) {
	s.mu.Lock()
	paths := append([]string(nil), s.spilledPaths...)
	inMemory := s.chunks
	s.mu.Unlock()

	h := &mergeHeap{cmp: s.cmp}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		var rows []Row
		err = gob.NewDecoder(f).Decode(&rows)
		f.Close()
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			heap.Push(h, &mergeSource{rows: rows})
		}
	}
	for _, chunk := range inMemory {
		sorted := append([]Row(nil), chunk...)
		sort.Slice(sorted, func(i, j int) bool { return s.cmp(sorted[i], sorted[j]) })
		if len(sorted) > 0 {
			heap.Push(h, &mergeSource{rows: sorted})
		}
	}

	var merged []Row
	for h.Len() > 0 {
		src := h.sources[0]
		row, ok := src.peek()
		if !ok {
			heap.Remove(h, 0)
			continue
		}
		merged = append(merged, row)
		src.pos++
		if _, ok := src.peek(); !ok {
			heap.Remove(h, 0)
		} else {
			heap.Fix(h, 0)
		}
	}

	for _, path := range paths {
		_ = os.Remove(path)
	}
	return merged, nil
}

// Cleanup removes every spilled temp file, implementing SpillManager.
func (s *SortSpillManager) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, path := range s.spilledPaths {
		if err := os.Remove(path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.spilledPaths = nil
	return firstErr
}
