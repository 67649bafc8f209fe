package lsm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/serengeti-db/serengeti/internal/logging"
)

// Options configures an Engine.
type Options struct {
	Dir                string
	MemTableMaxBytes   int // default 4MB
	CompactionInterval time.Duration
	CompactionThreshold int // SSTables at level 0 before merge, default 3
	Logger             *logging.Logger
}

// DefaultOptions returns the default tuning for a single (db,table) engine.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:                 dir,
		MemTableMaxBytes:    4 * 1024 * 1024,
		CompactionInterval:  10 * time.Second,
		CompactionThreshold: 3,
		Logger:              logging.Nop(),
	}
}

// Engine is the per-(db,table) LSM storage engine: one active MemTable
// plus two levels of SSTables (each level's list ordered oldest to
// newest), a background flush worker and a single-flight compaction
// worker.
type Engine struct {
	mu sync.RWMutex

	dir    string
	memTbl *MemTable
	levels [][]*SSTable // levels[0] = freshly flushed, levels[1] = compacted

	opts Options
	log  *logging.Logger

	flushCh      chan *MemTable
	stopCh       chan struct{}
	wg           sync.WaitGroup
	compacting   atomic.Bool
	nextFileID   atomic.Uint64
}

// Open creates or reopens the engine rooted at opts.Dir, replaying its
// MANIFEST if present.
func Open(opts Options) (*Engine, error) {
	if opts.MemTableMaxBytes <= 0 {
		opts.MemTableMaxBytes = 4 * 1024 * 1024
	}
	if opts.CompactionThreshold <= 0 {
		opts.CompactionThreshold = 3
	}
	if opts.CompactionInterval <= 0 {
		opts.CompactionInterval = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}

	levels, maxID, err := loadManifest(opts.Dir)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dir:     opts.Dir,
		memTbl:  NewMemTable(opts.MemTableMaxBytes),
		levels:  levels,
		opts:    opts,
		log:     opts.Logger.Component("lsm"),
		flushCh: make(chan *MemTable, 4),
		stopCh:  make(chan struct{}),
	}
	e.nextFileID.Store(maxID + 1)

	e.wg.Add(2)
	go e.flushWorker()
	go e.compactionWorker()

	return e, nil
}

// Close stops background workers. It does not flush the active
// MemTable; callers that need durability call Flush first.
func (e *Engine) Close() error {
	close(e.stopCh)
	e.wg.Wait()
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, lvl := range e.levels {
		for _, sst := range lvl {
			sst.Close()
		}
	}
	return nil
}

// Put writes key=value. A nil key is a no-op; a nil value deletes the
// key, matching the engine's null-safe policy throughout.
func (e *Engine) Put(key, value []byte) error {
	if key == nil {
		return nil
	}
	if value == nil {
		return e.Delete(key)
	}

	e.mu.Lock()
	needsFlush := e.memTbl.Put(key, value)
	var toFlush *MemTable
	if needsFlush {
		toFlush = e.memTbl
		e.memTbl = NewMemTable(e.opts.MemTableMaxBytes)
	}
	e.mu.Unlock()

	if toFlush != nil {
		e.flushCh <- toFlush
	}
	return nil
}

// Delete writes a tombstone for key.
func (e *Engine) Delete(key []byte) error {
	if key == nil {
		return nil
	}
	e.mu.Lock()
	needsFlush := e.memTbl.Delete(key)
	var toFlush *MemTable
	if needsFlush {
		toFlush = e.memTbl
		e.memTbl = NewMemTable(e.opts.MemTableMaxBytes)
	}
	e.mu.Unlock()

	if toFlush != nil {
		e.flushCh <- toFlush
	}
	return nil
}

// Get consults the active MemTable, then each SSTable newest-to-oldest.
// A nil key always returns (nil, false).
func (e *Engine) Get(key []byte) ([]byte, bool) {
	if key == nil {
		return nil, false
	}

	e.mu.RLock()
	mt := e.memTbl
	levelsSnapshot := e.levelsCopy()
	e.mu.RUnlock()

	if v, tomb, found := mt.Get(key); found {
		if tomb {
			return nil, false
		}
		return v, true
	}

	for _, level := range levelsSnapshot {
		for i := len(level) - 1; i >= 0; i-- {
			sst := level[i]
			v, tomb, found, err := sst.Get(key)
			if err != nil {
				continue
			}
			if found {
				if tomb {
					return nil, false
				}
				return v, true
			}
		}
	}
	return nil, false
}

// AllLiveEntries returns the value of every non-tombstoned key visible
// in the engine, newest write wins across the MemTable and all
// SSTables. Used by SCAN when no secondary index applies.
func (e *Engine) AllLiveEntries() ([][]byte, error) {
	e.mu.RLock()
	mt := e.memTbl
	levelsSnapshot := e.levelsCopy()
	e.mu.RUnlock()

	latest := make(map[string][]byte)
	tombstoned := make(map[string]bool)

	for _, level := range levelsSnapshot {
		for _, sst := range level {
			entries, err := sst.AllEntries()
			if err != nil {
				return nil, err
			}
			for _, ent := range entries {
				k := string(ent.Key)
				if ent.Tombstone {
					tombstoned[k] = true
					delete(latest, k)
					continue
				}
				tombstoned[k] = false
				latest[k] = ent.Value
			}
		}
	}

	for _, ent := range mt.Snapshot() {
		k := string(ent.Key)
		if ent.Tombstone {
			tombstoned[k] = true
			delete(latest, k)
			continue
		}
		tombstoned[k] = false
		latest[k] = ent.Value
	}

	out := make([][]byte, 0, len(latest))
	for k, v := range latest {
		if tombstoned[k] {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *Engine) levelsCopy() [][]*SSTable {
	out := make([][]*SSTable, len(e.levels))
	for i, lvl := range e.levels {
		out[i] = append([]*SSTable(nil), lvl...)
	}
	return out
}

// Flush forces the current MemTable to flush synchronously, used by the
// persistence scheduler to guarantee durability on a scheduled pass.
func (e *Engine) Flush() error {
	e.mu.Lock()
	mt := e.memTbl
	if mt.Size() == 0 {
		e.mu.Unlock()
		return nil
	}
	e.memTbl = NewMemTable(e.opts.MemTableMaxBytes)
	e.mu.Unlock()

	return e.flushOne(mt)
}

func (e *Engine) flushWorker() {
	defer e.wg.Done()
	for {
		select {
		case mt := <-e.flushCh:
			if err := e.flushOne(mt); err != nil {
				e.log.Error("flush failed", logging.F("error", err.Error()))
			}
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) flushOne(mt *MemTable) error {
	entries := mt.Snapshot()
	if len(entries) == 0 {
		return nil
	}

	id := e.nextFileID.Add(1)
	path := filepath.Join(e.dir, fmt.Sprintf("sstable-%06d.db", id))
	sst, err := CreateSSTable(path, entries)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if len(e.levels) == 0 {
		e.levels = append(e.levels, nil)
	}
	e.levels[0] = append(e.levels[0], sst)
	e.mu.Unlock()

	return e.writeManifest()
}

func (e *Engine) compactionWorker() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.CompactionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := e.maybeCompact(); err != nil {
				e.log.Error("compaction failed", logging.F("error", err.Error()))
			}
		case <-e.stopCh:
			return
		}
	}
}

// maybeCompact merges the oldest level-0 SSTables into level 1 once the
// level-0 count reaches the threshold. Single-flight per engine.
func (e *Engine) maybeCompact() error {
	if !e.compacting.CompareAndSwap(false, true) {
		return nil
	}
	defer e.compacting.Store(false)

	e.mu.RLock()
	if len(e.levels) == 0 || len(e.levels[0]) < e.opts.CompactionThreshold {
		e.mu.RUnlock()
		return nil
	}
	toMerge := append([]*SSTable(nil), e.levels[0]...)
	e.mu.RUnlock()

	merged, err := e.mergeSSTables(toMerge, true)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if len(e.levels) < 2 {
		e.levels = append(e.levels, nil)
	}
	e.levels[1] = append(e.levels[1], merged...)
	e.levels[0] = nil
	manifestErr := e.writeManifestLocked()
	e.mu.Unlock()

	for _, sst := range toMerge {
		sst.Close()
		os.Remove(sst.Path())
	}
	return manifestErr
}

// mergeSSTables performs the compaction merge rule: newest entry per
// key wins; tombstones are dropped only at the bottom level
// (bottomLevel=true here, since this engine has two levels).
func (e *Engine) mergeSSTables(inputs []*SSTable, bottomLevel bool) ([]*SSTable, error) {
	all := make([]*MemEntry, 0)
	for _, sst := range inputs {
		entries, err := sst.AllEntries()
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}

	sort.SliceStable(all, func(i, j int) bool { return string(all[i].Key) < string(all[j].Key) })

	deduped := make([]*MemEntry, 0, len(all))
	var lastKey string
	seen := false
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if seen && string(e.Key) == lastKey {
			continue
		}
		lastKey = string(e.Key)
		seen = true
		if e.Tombstone && bottomLevel {
			continue
		}
		deduped = append(deduped, e)
	}
	sort.Slice(deduped, func(i, j int) bool { return string(deduped[i].Key) < string(deduped[j].Key) })

	if len(deduped) == 0 {
		return nil, nil
	}

	id := e.nextFileID.Add(1)
	path := filepath.Join(e.dir, fmt.Sprintf("sstable-%06d.db", id))
	sst, err := CreateSSTable(path, deduped)
	if err != nil {
		return nil, err
	}
	return []*SSTable{sst}, nil
}

func (e *Engine) writeManifest() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writeManifestLocked()
}

// writeManifestLocked must be called with e.mu held. It lists SSTable
// file names newest-first, level by level.
func (e *Engine) writeManifestLocked() error {
	var b strings.Builder
	for _, lvl := range e.levels {
		for i := len(lvl) - 1; i >= 0; i-- {
			b.WriteString(filepath.Base(lvl[i].Path()))
			b.WriteString("\n")
		}
	}
	tmp := filepath.Join(e.dir, "MANIFEST.tmp")
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(e.dir, "MANIFEST"))
}

func loadManifest(dir string) ([][]*SSTable, uint64, error) {
	data, err := os.ReadFile(filepath.Join(dir, "MANIFEST"))
	if os.IsNotExist(err) {
		return [][]*SSTable{{}}, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	var maxID uint64
	level0 := make([]*SSTable, 0)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	// MANIFEST is newest-first; reverse to oldest-first for level ordering.
	for i := len(lines) - 1; i >= 0; i-- {
		name := strings.TrimSpace(lines[i])
		if name == "" {
			continue
		}
		path := filepath.Join(dir, name)
		sst, err := OpenSSTable(path)
		if err != nil {
			continue
		}
		level0 = append(level0, sst)
		if id, ok := parseFileID(name); ok && id > maxID {
			maxID = id
		}
	}
	return [][]*SSTable{level0}, maxID, nil
}

func parseFileID(name string) (uint64, bool) {
	name = strings.TrimPrefix(name, "sstable-")
	name = strings.TrimSuffix(name, ".db")
	id, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
