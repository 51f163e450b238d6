// Package coalesce is the event coalescer: an inode-indexed state machine
// that merges bursts of normalized FsEvents about the same file into one
// CoalescedOp. Pending records accumulate under one mutex and flush on a
// periodic tick once their per-kind debounce elapses. An event with a zero
// Inode is keyed by the xxhash of its path instead; fswatch never fills in
// Inode, so records fed from a location watcher are always path-keyed.
/*
 * Copyright (c) 2024, corevault authors.
 */
package coalesce

import (
	"sync"
	"time"

	"github.com/OneOfOne/xxhash"

	"github.com/sdcore/corevault/core"
)

const (
	createModifyDebounce = 100 * time.Millisecond
	atomicReplaceWindow  = 50 * time.Millisecond
)

// pendingKind is the coalescer's own small vocabulary for in-flight records;
// it is coarser than core.EventKind because Create+Modify collapse early.
type pendingKind int

const (
	pendCreateFile pendingKind = iota
	pendCreateDir
	pendModify
	pendRemove
	pendRenamePaired // from and to both known; goes out on the next tick
	pendRenameFrom   // unpaired rename source, waiting for its destination
	pendRenameTo     // unpaired rename destination, waiting for its source
)

type record struct {
	kind      pendingKind
	path      string
	renameTo  string // set once a RenameTo pairs with this RenameFrom
	firstSeen time.Time
	lastSeen  time.Time
}

// Coalescer merges FsEvents from one location's Watcher into CoalescedOps.
type Coalescer struct {
	renameWindow time.Duration // how long an unpaired rename half waits for its partner: 500ms darwin, 1s elsewhere
	isIgnored    func(path string) bool

	mu      sync.Mutex
	pending map[uint64]*record
}

// New constructs a Coalescer. renameWindow is the platform-specific rename
// pairing deadline the caller already knows from its Normalizer choice.
func New(renameWindow time.Duration, isIgnored func(path string) bool) *Coalescer {
	if isIgnored == nil {
		isIgnored = func(string) bool { return false }
	}
	return &Coalescer{
		renameWindow: renameWindow,
		isIgnored:    isIgnored,
		pending:      make(map[uint64]*record),
	}
}

func identity(e core.FsEvent) uint64 {
	if e.Inode != 0 {
		return e.Inode
	}
	return xxhash.ChecksumString64(e.Path())
}

// Feed processes one normalized event, updating internal state. It never
// emits directly — output happens only on Flush, so that a later event in
// the same debounce window can still change the outcome (e.g. Create then
// Remove annihilating).
func (c *Coalescer) Feed(e core.FsEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Kind {
	case core.CreateFile, core.CreateDir:
		id := identity(e)
		if prev, ok := c.pending[id]; ok && prev.kind == pendRemove && e.TS.Sub(prev.lastSeen) <= atomicReplaceWindow {
			// Remove(A), Create(A) within 50ms: atomic replace -> Modified(A).
			prev.kind = pendModify
			prev.lastSeen = e.TS
			return
		}
		kind := pendCreateFile
		if e.Kind == core.CreateDir {
			kind = pendCreateDir
		}
		c.pending[id] = &record{kind: kind, path: e.Path(), firstSeen: e.TS, lastSeen: e.TS}

	case core.Modify:
		id := identity(e)
		if r, ok := c.pending[id]; ok && (r.kind == pendCreateFile || r.kind == pendCreateDir) {
			// Create, Modify -> Create: just extend the window.
			r.lastSeen = e.TS
			return
		}
		c.pending[id] = &record{kind: pendModify, path: e.Path(), firstSeen: e.TS, lastSeen: e.TS}

	case core.Remove:
		id := identity(e)
		if r, ok := c.pending[id]; ok && (r.kind == pendCreateFile || r.kind == pendCreateDir) {
			// Create, Remove in-window -> nothing.
			delete(c.pending, id)
			return
		}
		c.pending[id] = &record{kind: pendRemove, path: e.Path(), firstSeen: e.TS, lastSeen: e.TS}

	case core.RenameBoth:
		// already fully paired by the platform normalizer; nothing left to
		// wait for, so it flushes on the next tick.
		from, to := e.Paths[0], e.Paths[1]
		id := identity(core.FsEvent{Paths: []string{from}, Inode: e.Inode})
		if c.isIgnored(to) {
			// Rename paired to an ignored path: drop both.
			delete(c.pending, id)
			return
		}
		c.pending[id] = &record{kind: pendRenamePaired, path: from, renameTo: to, firstSeen: e.TS, lastSeen: e.TS}

	case core.RenameFrom:
		id := identity(e)
		c.pending[id] = &record{kind: pendRenameFrom, path: e.Path(), firstSeen: e.TS, lastSeen: e.TS}

	case core.RenameTo:
		id := identity(e)
		if r, ok := c.pending[id]; ok && r.kind == pendRenameFrom && e.TS.Sub(r.lastSeen) <= c.renameWindow {
			if c.isIgnored(e.Path()) {
				delete(c.pending, id)
				return
			}
			r.kind = pendRenamePaired
			r.renameTo = e.Path()
			r.lastSeen = e.TS
			return
		}
		c.pending[id] = &record{kind: pendRenameTo, path: e.Path(), firstSeen: e.TS, lastSeen: e.TS}
	}
}

// Flush emits CoalescedOps for every record whose debounce window has
// elapsed as of now, called on the watcher's 100ms tick.
func (c *Coalescer) Flush(now time.Time) []core.CoalescedOp {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []core.CoalescedOp
	for id, r := range c.pending {
		if !c.due(r, now) {
			continue
		}
		delete(c.pending, id)
		switch r.kind {
		case pendCreateFile:
			out = append(out, core.CreatedFile(r.path))
		case pendCreateDir:
			out = append(out, core.CreatedDir(r.path))
		case pendModify:
			out = append(out, core.Modified(r.path))
		case pendRemove:
			out = append(out, core.Removed(r.path))
		case pendRenamePaired:
			out = append(out, core.Renamed(r.path, r.renameTo))
		case pendRenameFrom:
			// the destination never showed; the source is simply gone
			out = append(out, core.Removed(r.path))
		case pendRenameTo:
			// the source never showed; the destination is simply new
			out = append(out, core.CreatedFile(r.path))
		}
	}
	return out
}

func (c *Coalescer) due(r *record, now time.Time) bool {
	switch r.kind {
	case pendCreateFile, pendCreateDir, pendModify:
		return now.Sub(r.lastSeen) >= createModifyDebounce
	case pendRemove:
		return now.Sub(r.lastSeen) >= atomicReplaceWindow
	case pendRenamePaired:
		return true
	case pendRenameFrom, pendRenameTo:
		return now.Sub(r.lastSeen) >= c.renameWindow
	default:
		return true
	}
}
