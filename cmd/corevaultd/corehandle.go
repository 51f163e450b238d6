// corehandle.go assembles every component into one explicit value threaded
// through cmd/corevaultd: nothing here is reachable except through a value
// someone was actually handed, never through package statics.
/*
 * Copyright (c) 2024, corevault authors.
 */
package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sdcore/corevault/cmn"
	"github.com/sdcore/corevault/cmn/cos"
	"github.com/sdcore/corevault/core"
	"github.com/sdcore/corevault/dispatch"
	"github.com/sdcore/corevault/evtbus"
	"github.com/sdcore/corevault/fsrv"
	"github.com/sdcore/corevault/fswatch"
	"github.com/sdcore/corevault/hk"
	"github.com/sdcore/corevault/store"
	"github.com/sdcore/corevault/xjob"
)

const cacheSweepIval = time.Minute

// noopPeerFetcher stands in for the P2P transport collaborator; it only runs
// when FilesOverP2P is set, so a real deployment pairs it with an actual
// network layer this daemon never owns.
type noopPeerFetcher struct{}

func (noopPeerFetcher) FetchRange(context.Context, string, uuid.UUID, int64, int64) (io.ReadCloser, error) {
	return nil, cos.NewUnavailable("p2p transport not configured")
}

// CoreHandle bundles every component for the lifetime of one process, the
// single value cmd/corevaultd constructs at startup and threads through its
// HTTP handlers instead of reaching for package statics.
type CoreHandle struct {
	Config *cmn.Config
	Store  *store.Store
	Bus    *evtbus.Bus
	Jobs   *xjob.Manager
	Files  *fsrv.Server
	RPC    *dispatch.Dispatcher

	mu        sync.Mutex
	watchers  map[int64]*fswatch.Watcher
	locations map[int64]*core.Location

	bodiesMu sync.Mutex
	bodies   map[string]func(core.JobInit) xjob.Body
}

// RegisterBody wires a job body factory to an action name so jobs.spawn RPCs
// naming it can actually run; the factory receives the full init payload
// (location, sub-path, body-specific params). corevaultd ships none itself —
// concrete indexing/thumbnailing bodies belong to whatever embeds this core.
func (h *CoreHandle) RegisterBody(action string, factory func(core.JobInit) xjob.Body) {
	h.bodiesMu.Lock()
	defer h.bodiesMu.Unlock()
	h.bodies[action] = factory
}

// NewCoreHandle wires every component with the instance's own identity
// (used to decide Local vs Remote serving in the Resolver).
func NewCoreHandle(cfg *cmn.Config, st *store.Store, instanceIdentity string) *CoreHandle {
	bus := evtbus.New()
	jobs := xjob.New(bus, st)

	files := &fsrv.Server{
		ThumbnailDir: cfg.ThumbnailDir(),
		Cache:        fsrv.NewCache(),
		Resolver:     &storeResolver{st: st, instanceIdentity: instanceIdentity},
		Peer:         noopPeerFetcher{},
		Bus:          bus,
	}

	h := &CoreHandle{
		Config:    cfg,
		Store:     st,
		Bus:       bus,
		Jobs:      jobs,
		Files:     files,
		watchers:  make(map[int64]*fswatch.Watcher),
		locations: make(map[int64]*core.Location),
		bodies:    make(map[string]func(core.JobInit) xjob.Body),
	}
	h.RPC = dispatch.New(h.pushEvent)
	h.registerHandlers()
	hk.Reg("fsrv-cache-sweep"+hk.NameSuffix, func() time.Duration {
		files.Cache.Sweep()
		return cacheSweepIval
	}, cacheSweepIval)
	return h
}

// pushEvent is the Dispatcher's eventSink: subscription pushes land on the
// bus's InvalidateQuery topic so every HTTP long-poll/SSE client shares one
// fan-out path instead of each subscription owning its own transport.
func (h *CoreHandle) pushEvent(subID string, event any) {
	h.Bus.Publish(evtbus.TopicInvalidateQuery, evtbus.InvalidateQueryEvent{Key: fmt.Sprintf("%s:%v", subID, event)})
}

// StartLocation begins watching loc.Path, persists the Location row, and
// registers it for subsequent file resolution. Idempotent per location id.
func (h *CoreHandle) StartLocation(libraryID uuid.UUID, loc *core.Location) error {
	if err := h.Store.PutLocation(libraryID, loc); err != nil {
		return err
	}

	h.mu.Lock()
	if _, exists := h.watchers[loc.ID]; exists {
		h.mu.Unlock()
		return nil
	}
	h.locations[loc.ID] = loc
	w := fswatch.New(loc.ID, loc.Path, h.Bus, func(op core.CoalescedOp) {
		h.onLocationOp(libraryID, loc.ID, op)
	})
	h.watchers[loc.ID] = w
	h.mu.Unlock()

	return w.Start()
}

// onLocationOp reacts to one coalesced filesystem operation by publishing an
// InvalidateQuery event keyed by the op's source path. It does not touch the
// file server's cache: a stale cached CacheValue is dropped only when serving
// it fails to open the file or when the periodic cache sweep finds its path
// gone. No FilePath rows are created or updated here.
func (h *CoreHandle) onLocationOp(_ uuid.UUID, _ int64, op core.CoalescedOp) {
	h.Bus.Publish(evtbus.TopicInvalidateQuery, evtbus.InvalidateQueryEvent{Key: op.From})
}

// Locations returns every currently-watched Location, keyed by id.
func (h *CoreHandle) Locations() map[int64]*core.Location {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[int64]*core.Location, len(h.locations))
	for id, loc := range h.locations {
		out[id] = loc
	}
	return out
}

// StopLocation stops and forgets a running watcher.
func (h *CoreHandle) StopLocation(locationID int64) {
	h.mu.Lock()
	w, ok := h.watchers[locationID]
	delete(h.watchers, locationID)
	delete(h.locations, locationID)
	h.mu.Unlock()
	if ok {
		w.Stop()
	}
}

// Shutdown stops every running watcher; called once at process exit.
func (h *CoreHandle) Shutdown() {
	h.mu.Lock()
	watchers := make([]*fswatch.Watcher, 0, len(h.watchers))
	for _, w := range h.watchers {
		watchers = append(watchers, w)
	}
	h.mu.Unlock()
	for _, w := range watchers {
		w.Stop()
	}
}
