// Package memory implements Serengeti's per-query memory budget and
// spill-to-disk machinery: a process-wide budget split across
// concurrent queries, with allocate/spill/free tracked per operator so
// SORT and HASH_JOIN can shed rows to disk under pressure instead of
// failing the query outright.
package memory

import (
	"sync"

	"github.com/serengeti-db/serengeti/internal/errs"
	"github.com/serengeti-db/serengeti/internal/metrics"
)

// QueryID identifies one in-flight query's memory context.
type QueryID uint64

// SpillManager is the interface a registered operation's spill
// handler must satisfy so the memory manager can force a spill when
// an allocation does not fit.
type SpillManager interface {
	SpillToDisk() error
	Cleanup() error
}

// opState tracks one operation's charged bytes and optional spill
// manager within a query context.
type opState struct {
	bytes int64
	spill SpillManager
}

// QueryContext tracks one query's memory charges across operations.
type QueryContext struct {
	id    QueryID
	mu    sync.Mutex
	ops   map[string]*opState
	total int64
}

// Manager enforces a process-wide memory budget, splitting it between
// a query pool (queryMemoryFraction of the budget) and a reserved
// remainder.
type Manager struct {
	mu                 sync.Mutex
	budget             int64
	queryMemoryFraction float64
	used               int64
	nextID             uint64
	contexts           map[QueryID]*QueryContext
	metrics            *metrics.Registry
}

// New builds a Manager with the given process-wide budget in bytes.
// queryMemoryFraction defaults to 0.7 when zero or out of (0,1].
func New(budgetBytes int64, queryMemoryFraction float64, reg *metrics.Registry) *Manager {
	if queryMemoryFraction <= 0 || queryMemoryFraction > 1 {
		queryMemoryFraction = 0.7
	}
	return &Manager{
		budget:              budgetBytes,
		queryMemoryFraction: queryMemoryFraction,
		contexts:            make(map[QueryID]*QueryContext),
		metrics:             reg,
	}
}

func (m *Manager) queryPoolBytes() int64 {
	return int64(float64(m.budget) * m.queryMemoryFraction)
}

// CreateQueryContext allocates a new tracking context and returns its
// id.
func (m *Manager) CreateQueryContext() QueryID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := QueryID(m.nextID)
	m.contexts[id] = &QueryContext{id: id, ops: make(map[string]*opState)}
	return id
}

// RegisterSpillManager attaches a spill handler to opID within
// queryID, so a future failed Allocate can force a spill there.
func (m *Manager) RegisterSpillManager(queryID QueryID, opID string, sm SpillManager) {
	m.mu.Lock()
	qc := m.contexts[queryID]
	m.mu.Unlock()
	if qc == nil {
		return
	}
	qc.mu.Lock()
	defer qc.mu.Unlock()
	st := qc.ops[opID]
	if st == nil {
		st = &opState{}
		qc.ops[opID] = st
	}
	st.spill = sm
}

// Allocate charges bytes against the process budget for opID within
// queryID. On failure to fit, it forces a spill in opID's registered
// spill manager and retries once.
func (m *Manager) Allocate(queryID QueryID, opID string, bytes int64) bool {
	if m.tryCharge(bytes) {
		m.chargeOp(queryID, opID, bytes)
		return true
	}

	if err := m.SpillToDisk(queryID, opID); err != nil {
		return false
	}

	if m.tryCharge(bytes) {
		m.chargeOp(queryID, opID, bytes)
		return true
	}
	return false
}

func (m *Manager) tryCharge(bytes int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.used+bytes > m.queryPoolBytes() {
		return false
	}
	m.used += bytes
	return true
}

func (m *Manager) chargeOp(queryID QueryID, opID string, bytes int64) {
	m.mu.Lock()
	qc := m.contexts[queryID]
	m.mu.Unlock()
	if qc == nil {
		return
	}
	qc.mu.Lock()
	defer qc.mu.Unlock()
	st := qc.ops[opID]
	if st == nil {
		st = &opState{}
		qc.ops[opID] = st
	}
	st.bytes += bytes
	qc.total += bytes
}

// Free releases opID's charged bytes back to the process budget.
func (m *Manager) Free(queryID QueryID, opID string) {
	m.mu.Lock()
	qc := m.contexts[queryID]
	m.mu.Unlock()
	if qc == nil {
		return
	}

	qc.mu.Lock()
	st, ok := qc.ops[opID]
	if !ok {
		qc.mu.Unlock()
		return
	}
	freed := st.bytes
	st.bytes = 0
	qc.total -= freed
	qc.mu.Unlock()

	m.mu.Lock()
	m.used -= freed
	if m.used < 0 {
		m.used = 0
	}
	m.mu.Unlock()
}

// SpillToDisk forces opID's registered spill manager to write its
// in-memory state to disk, recording spill metrics.
func (m *Manager) SpillToDisk(queryID QueryID, opID string) error {
	m.mu.Lock()
	qc := m.contexts[queryID]
	m.mu.Unlock()
	if qc == nil {
		return errs.NotFound("unknown query context")
	}

	qc.mu.Lock()
	st := qc.ops[opID]
	qc.mu.Unlock()
	if st == nil || st.spill == nil {
		return errs.New(errs.KindOutOfMemory, "no spill manager registered for operation "+opID)
	}

	before := st.bytes
	if err := st.spill.SpillToDisk(); err != nil {
		return errs.IOTransient("spill failed", err)
	}
	if m.metrics != nil {
		m.metrics.RecordSpill(before)
	}
	return nil
}

// ReleaseQueryContext frees all spill files and buffer allocations
// belonging to queryID.
func (m *Manager) ReleaseQueryContext(queryID QueryID) {
	m.mu.Lock()
	qc := m.contexts[queryID]
	delete(m.contexts, queryID)
	m.mu.Unlock()
	if qc == nil {
		return
	}

	qc.mu.Lock()
	freed := qc.total
	for _, st := range qc.ops {
		if st.spill != nil {
			_ = st.spill.Cleanup()
		}
	}
	qc.mu.Unlock()

	m.mu.Lock()
	m.used -= freed
	if m.used < 0 {
		m.used = 0
	}
	m.mu.Unlock()
}

// UsedBytes reports the process-wide bytes currently charged against
// the query pool.
func (m *Manager) UsedBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}
