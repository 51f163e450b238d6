package fsevent

import (
	"sync"
	"time"

	"github.com/sdcore/corevault/core"
)

// darwinNormalizer implements the FSEvents-class translation: there is no
// write-close signal, so a Create plus any Modify within 300ms is folded
// into a single CreateFile timestamped at the last modify. fsnotify delivers a rename uniformly across every backend
// (including kqueue, this platform's) as one Rename op on the old path
// followed by one Create op on the new path, so a pending rename-source is
// paired against the next Create seen within a 500ms window, by inode when
// available.
type darwinNormalizer struct {
	mu            sync.Mutex
	pendingCreate map[string]time.Time // path -> time of Create, not yet folded
	renameFrom    []nameEvent          // unpaired rename-source events, oldest first
}

type nameEvent struct {
	path  string
	inode uint64
	ts    time.Time
}

func newDarwin() *darwinNormalizer {
	return &darwinNormalizer{pendingCreate: make(map[string]time.Time)}
}

const darwinCreateFoldWindow = 300 * time.Millisecond
const darwinRenamePairWindow = 500 * time.Millisecond

func (n *darwinNormalizer) Translate(raw RawEvent) []core.FsEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch raw.Kind {
	case RawCreate:
		// A pending rename-source pairs against the very next Create, which
		// is what fsnotify reports for the destination half of a rename.
		if out := n.pairRename(nameEvent{path: raw.Path, inode: raw.Inode, ts: raw.TS}); out != nil {
			return out
		}
		if raw.IsDir {
			return []core.FsEvent{ev(core.CreateDir, raw.Path, raw.TS)}
		}
		n.pendingCreate[raw.Path] = raw.TS
		return nil

	case RawWrite:
		if ts, ok := n.pendingCreate[raw.Path]; ok && raw.TS.Sub(ts) <= darwinCreateFoldWindow {
			n.pendingCreate[raw.Path] = raw.TS // keep folding while modifies keep arriving
			return nil
		}
		delete(n.pendingCreate, raw.Path)
		return []core.FsEvent{ev(core.Modify, raw.Path, raw.TS)}

	case RawRemove:
		delete(n.pendingCreate, raw.Path)
		return []core.FsEvent{ev(core.Remove, raw.Path, raw.TS)}

	case RawRename:
		// The source half of a rename; held pending until the paired Create
		// of the destination path arrives (or the window lapses in Tick).
		n.renameFrom = append(n.renameFrom, nameEvent{path: raw.Path, inode: raw.Inode, ts: raw.TS})
		return nil

	default:
		return nil
	}
}

func (n *darwinNormalizer) pairRename(e nameEvent) []core.FsEvent {
	for i, p := range n.renameFrom {
		if e.ts.Sub(p.ts) > darwinRenamePairWindow {
			continue
		}
		if p.inode != 0 && e.inode != 0 && p.inode != e.inode {
			continue
		}
		n.renameFrom = append(n.renameFrom[:i], n.renameFrom[i+1:]...)
		return []core.FsEvent{evRename(p.path, e.path, e.ts)}
	}
	return nil
}

// Tick folds any Create whose window has elapsed and demotes unpaired
// rename-sources to Remove.
func (n *darwinNormalizer) Tick(now time.Time) []core.FsEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []core.FsEvent
	for path, ts := range n.pendingCreate {
		if now.Sub(ts) >= darwinCreateFoldWindow {
			delete(n.pendingCreate, path)
			// stamped at the last modify, not the tick that flushed it
			out = append(out, ev(core.CreateFile, path, ts))
		}
	}

	kept := n.renameFrom[:0]
	for _, p := range n.renameFrom {
		if now.Sub(p.ts) >= darwinRenamePairWindow {
			out = append(out, ev(core.Remove, p.path, now))
			continue
		}
		kept = append(kept, p)
	}
	n.renameFrom = kept
	return out
}
