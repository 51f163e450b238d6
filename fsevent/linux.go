package fsevent

import (
	"sync"
	"time"

	"github.com/sdcore/corevault/core"
)

// linuxNormalizer implements the inotify-class translation: a Create is held
// pending until the next write on the same path closes it (inotify's
// IN_CLOSE_WRITE, which fsnotify's Write after a Create approximates).
// fsnotify delivers a rename uniformly across every backend as one Rename op
// on the old path followed by one Create op on the new path, so a pending
// RawRename is paired against the next RawCreate seen within the pairing
// window, the same shape windows.go uses.
type linuxNormalizer struct {
	mu            sync.Mutex
	createPending map[string]time.Time // path -> time of the unmatched Create
	renameFrom    map[string]time.Time // path -> time of an unmatched rename-source
}

func newLinux() *linuxNormalizer {
	return &linuxNormalizer{
		createPending: make(map[string]time.Time),
		renameFrom:    make(map[string]time.Time),
	}
}

const linuxCloseWait = 2 * time.Second

func (n *linuxNormalizer) Translate(raw RawEvent) []core.FsEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch raw.Kind {
	case RawCreate:
		// A pending rename-source pairs against the very next Create, which
		// is what fsnotify reports for the destination half of a rename.
		for from, ts := range n.renameFrom {
			if raw.TS.Sub(ts) <= time.Second {
				delete(n.renameFrom, from)
				return []core.FsEvent{evRename(from, raw.Path, raw.TS)}
			}
		}
		if raw.IsDir {
			return []core.FsEvent{ev(core.CreateDir, raw.Path, raw.TS)}
		}
		n.createPending[raw.Path] = raw.TS
		return nil

	case RawWrite:
		if _, pending := n.createPending[raw.Path]; pending {
			delete(n.createPending, raw.Path)
			return []core.FsEvent{ev(core.CreateFile, raw.Path, raw.TS)}
		}
		return []core.FsEvent{ev(core.Modify, raw.Path, raw.TS)}

	case RawRemove:
		delete(n.createPending, raw.Path)
		return []core.FsEvent{ev(core.Remove, raw.Path, raw.TS)}

	case RawRename:
		// The source half of a rename; held pending until the paired Create
		// of the destination path arrives (or the window lapses in Tick).
		n.renameFrom[raw.Path] = raw.TS
		return nil

	default:
		return nil
	}
}

// Tick resolves anything that has waited past its window: a Create with no
// closing write is assumed closed; an unpaired rename-source becomes Remove.
func (n *linuxNormalizer) Tick(now time.Time) []core.FsEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []core.FsEvent
	for path, ts := range n.createPending {
		if now.Sub(ts) >= linuxCloseWait {
			delete(n.createPending, path)
			out = append(out, ev(core.CreateFile, path, now))
		}
	}
	for path, ts := range n.renameFrom {
		if now.Sub(ts) >= time.Second {
			delete(n.renameFrom, path)
			out = append(out, ev(core.Remove, path, now))
		}
	}
	return out
}
