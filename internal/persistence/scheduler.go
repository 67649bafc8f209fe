// Package persistence implements the background scheduler that
// periodically forces every database's catalog meta and every table's
// storage/replica artifacts to disk.
package persistence

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/serengeti-db/serengeti/internal/errs"
	"github.com/serengeti-db/serengeti/internal/logging"
)

// CatalogView is the slice of the catalog the scheduler needs: list
// databases/tables and force each one to disk.
type CatalogView interface {
	ListDatabases() []string
	ListTables(db string) ([]string, error)
	SaveDatabase(db string) error
	SaveTable(db, table string) error
}

// MembershipView lets the scheduler skip passes while this node is
// offline.
type MembershipView interface {
	IsOnline() bool
}

// Health is a point-in-time snapshot of the scheduler's health metric:
// number of errors, last error timestamp, per-database durations.
type Health struct {
	ErrorCount       uint64
	LastErrorUnixMs  int64
	LastPassOK       bool
	PerDatabaseMs    map[string]int64
	LastPassDuration time.Duration
}

// Backup is the optional off-box snapshot hook (internal/backup),
// invoked synchronously for each database once that database's local
// save succeeds; its errors are logged and never fail the pass.
type Backup interface {
	Upload(db string) error
}

// Scheduler runs the periodic persistence pass.
type Scheduler struct {
	catalog    CatalogView
	membership MembershipView
	backup     Backup
	interval   time.Duration
	log        *logging.Logger

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu     sync.Mutex
	health Health
}

// New builds a Scheduler. backup may be nil to disable off-box upload.
func New(catalog CatalogView, membership MembershipView, backup Backup, interval time.Duration, log *logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Scheduler{
		catalog:    catalog,
		membership: membership,
		backup:     backup,
		interval:   interval,
		log:        log.Component("persistence"),
		stopCh:     make(chan struct{}),
		health:     Health{PerDatabaseMs: make(map[string]int64)},
	}
}

// Start launches the background tick loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop signals the loop to exit and waits for it.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.RunOnce()
		case <-s.stopCh:
			return
		}
	}
}

// RunOnce performs a single pass, honoring the single-flight and
// offline-skip rules. Returns true iff the full pass completed without
// errors.
func (s *Scheduler) RunOnce() bool {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug("persistence pass already running, skipping tick")
		return false
	}
	defer s.running.Store(false)

	if s.membership != nil && !s.membership.IsOnline() {
		s.log.Debug("node offline, skipping persistence pass")
		return false
	}

	start := time.Now()
	ok := true
	perDB := make(map[string]int64)

	for _, db := range s.catalog.ListDatabases() {
		dbStart := time.Now()
		if err := s.runDatabase(db); err != nil {
			ok = false
			s.recordError(err)
			s.log.Error("persistence pass failed", logging.F("database", db), logging.F("error", err.Error()))
			break
		}
		perDB[db] = time.Since(dbStart).Milliseconds()
	}

	s.mu.Lock()
	s.health.LastPassOK = ok
	s.health.LastPassDuration = time.Since(start)
	s.health.PerDatabaseMs = perDB
	s.mu.Unlock()

	if ok {
		s.log.Info("persistence pass complete", logging.F("duration_ms", time.Since(start).Milliseconds()))
	}
	return ok
}

func (s *Scheduler) runDatabase(db string) error {
	if err := s.catalog.SaveDatabase(db); err != nil {
		return errs.Wrap(errs.KindIOTransient, "save database meta: "+db, err)
	}

	tables, err := s.catalog.ListTables(db)
	if err != nil {
		return err
	}
	for _, table := range tables {
		if err := s.catalog.SaveTable(db, table); err != nil {
			return errs.Wrap(errs.KindIOTransient, "save table: "+db+"."+table, err)
		}
	}

	if s.backup != nil {
		if err := s.backup.Upload(db); err != nil {
			// backup failures never fail the local pass.
			s.log.Warn("backup upload failed", logging.F("database", db), logging.F("error", err.Error()))
		}
	}
	return nil
}

func (s *Scheduler) recordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.ErrorCount++
	s.health.LastErrorUnixMs = time.Now().UnixMilli()
}

// HealthSnapshot returns a copy of the scheduler's current health metric.
func (s *Scheduler) HealthSnapshot() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.health
	cp.PerDatabaseMs = make(map[string]int64, len(s.health.PerDatabaseMs))
	for k, v := range s.health.PerDatabaseMs {
		cp.PerDatabaseMs[k] = v
	}
	return cp
}

// IsRunning reports whether a pass is currently in flight.
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}
