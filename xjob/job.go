// Package xjob is the job manager: lifecycle, pause/resume/cancel, and
// progress publication for long-running background work. One mutex guards an
// "active" index (at most one running job per (library, action, group key)
// identity) plus an "all" index of every report ever created; workers of
// long-finished jobs are dropped from the worker index on an hk cadence,
// while their reports stay in "all" until deleted.
/*
 * Copyright (c) 2024, corevault authors.
 */
package xjob

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sdcore/corevault/cmn/cos"
	"github.com/sdcore/corevault/cmn/nlog"
	"github.com/sdcore/corevault/core"
	"github.com/sdcore/corevault/evtbus"
	"github.com/sdcore/corevault/hk"
)

// Body is a job's actual work, modeled as a uniform step contract so the
// Manager never needs to know body types.
type Body interface {
	Step() (StepOutcome, error)
}

// StepOutcome is what one Step call reports back to its Worker. NonFatalErrors
// are transient per-task failures (e.g. one file in a batch failed to read):
// they accumulate on the report's error counter without terminating the job.
// A fatal error is instead returned as Step's error value.
type StepOutcome struct {
	Done               bool
	CompletedTaskDelta int64
	Message            string
	NonFatalErrors     []string
}

const (
	progressDebounce  = time.Second / 30 // at most one update per job per frame
	pruneTerminalIval = 30 * time.Second
	terminalRetention = 10 * time.Minute
)

type identity struct {
	libraryID uuid.UUID
	action    string
	groupKey  string
}

// Manager owns the job table: a map of running Workers keyed by identity, and
// a persistent-record store of every JobReport ever created.
type Manager struct {
	bus   *evtbus.Bus
	store ReportStore

	mu      sync.Mutex
	active  map[identity]*Worker  // at-most-one-running enforcement
	workers map[uuid.UUID]*Worker // id -> worker, for pause/resume/cancel
	all     map[uuid.UUID]*core.JobReport
}

// ReportStore is the persistence collaborator the Manager writes reports through;
// satisfied by the store package's buntdb-backed implementation.
type ReportStore interface {
	Put(r *core.JobReport) error
	Delete(id uuid.UUID) error
}

// New constructs a Manager. bus receives JobProgress publications; store may
// be nil, in which case reports are kept in memory only.
func New(bus *evtbus.Bus, store ReportStore) *Manager {
	m := &Manager{
		bus:     bus,
		store:   store,
		active:  make(map[identity]*Worker),
		workers: make(map[uuid.UUID]*Worker),
		all:     make(map[uuid.UUID]*core.JobReport),
	}
	hk.Reg("xjob-prune-terminal"+hk.NameSuffix, m.hkPruneTerminal, pruneTerminalIval)
	return m
}

// identityOf derives the at-most-one-running identity from the init payload
// itself; the group key is computed from the typed target fields, so no
// caller can bypass deduplication by formatting its own.
func identityOf(init core.JobInit) identity {
	return identity{libraryID: init.LibraryID, action: init.ActionName, groupKey: init.GroupKey()}
}

// Spawn derives (action_name, group_key) from init; a duplicate active
// submission returns the existing job's id rather than starting a second
// worker.
func (m *Manager) Spawn(init core.JobInit, body Body) uuid.UUID {
	id := identityOf(init)

	m.mu.Lock()
	if w, ok := m.active[id]; ok {
		existing := w.report.ID
		m.mu.Unlock()
		return existing
	}

	report := &core.JobReport{
		ID:        uuid.New(),
		Name:      init.Name,
		Action:    init.ActionName,
		GroupKey:  init.GroupKey(),
		LibraryID: init.LibraryID,
		Status:    core.Queued,
		CreatedAt: time.Now(),
		TaskCount: init.TaskCount,
		MaxErrors: init.MaxErrors,
	}
	w := newWorker(m, report, body)
	m.active[id] = w
	m.workers[report.ID] = w
	m.all[report.ID] = report
	m.mu.Unlock()

	m.persist(report)
	w.start()
	return report.ID
}

// Pause signals the worker to pause; accepted from Queued or Running,
// an idempotent no-op otherwise.
func (m *Manager) Pause(id uuid.UUID) error { return m.signal(id, sigPause) }

// Resume re-queues a Paused job.
func (m *Manager) Resume(id uuid.UUID) error { return m.signal(id, sigResume) }

// Cancel is accepted from any non-terminal status.
func (m *Manager) Cancel(id uuid.UUID) error { return m.signal(id, sigCancel) }

func (m *Manager) signal(id uuid.UUID, sig signal) error {
	m.mu.Lock()
	w, ok := m.workers[id]
	m.mu.Unlock()
	if !ok {
		return cos.NewNotFound("job %s", id)
	}
	w.signal(sig)
	return nil
}

// ActiveReports returns a snapshot of in-memory running/queued/paused reports.
func (m *Manager) ActiveReports() map[uuid.UUID]*core.JobReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]*core.JobReport, len(m.active))
	for _, w := range m.active {
		r := *w.report
		out[r.ID] = &r
	}
	return out
}

// HasActiveWorkers reports whether libraryID has any running/queued/paused job.
func (m *Manager) HasActiveWorkers(libraryID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, w := range m.active {
		if id.libraryID == libraryID && w.report.Status != core.Canceled {
			return true
		}
	}
	return false
}

// Get returns the current report by id, merging the in-memory view with
// whatever is in the all-time table so callers always see the latest
// progress.
func (m *Manager) Get(id uuid.UUID) (*core.JobReport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.all[id]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

// Delete removes a report from the persistent store; an in-memory running
// job, if any, is left untouched.
func (m *Manager) Delete(id uuid.UUID) error {
	m.mu.Lock()
	if r, ok := m.all[id]; ok && r.Status.Terminal() {
		delete(m.all, id)
	}
	m.mu.Unlock()
	if m.store != nil {
		return m.store.Delete(id)
	}
	return nil
}

// DeleteTerminal removes every terminal report belonging to libraryID.
func (m *Manager) DeleteTerminal(libraryID uuid.UUID) error {
	m.mu.Lock()
	var ids []uuid.UUID
	for id, r := range m.all {
		if r.LibraryID == libraryID && r.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(m.all, id)
	}
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	var errs cos.Errs
	for _, id := range ids {
		if err := m.store.Delete(id); err != nil {
			errs.Add(err)
		}
	}
	return errs.Join()
}

func (m *Manager) persist(r *core.JobReport) {
	if m.store == nil {
		return
	}
	if err := m.store.Put(r); err != nil {
		nlog.Errorf("%s", cos.NewInternal(err, "persist job report %s", r.ID))
	}
}

// finish removes id from the active index (it stays in all and in workers so
// Get/pause-after-terminal keep resolving, though pause/resume/cancel become
// no-ops once terminal).
func (m *Manager) finish(id identity, report *core.JobReport) {
	m.mu.Lock()
	m.all[report.ID] = report
	if w, ok := m.active[id]; ok && w.report.ID == report.ID {
		delete(m.active, id)
	}
	m.mu.Unlock()
	m.persist(report)
}

// hkPruneTerminal evicts long-finished workers from the workers index so
// cancel/pause on an old id cleanly 404s instead of leaking goroution state
// forever; reports themselves remain until DeleteTerminal or Delete.
func (m *Manager) hkPruneTerminal() time.Duration {
	now := time.Now()
	m.mu.Lock()
	for id, w := range m.workers {
		if !w.report.Status.Terminal() || w.report.CompletedAt == nil {
			continue
		}
		if now.Sub(*w.report.CompletedAt) >= terminalRetention {
			delete(m.workers, id)
		}
	}
	m.mu.Unlock()
	return pruneTerminalIval
}
