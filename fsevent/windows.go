package fsevent

import (
	"sync"
	"time"

	"github.com/sdcore/corevault/core"
)

// windowsNormalizer implements the ReadDirectoryChanges-class translation:
// every event arrives untyped, so kind is inferred from whether the path
// existed before and exists now; renames use a 1s From/To pairing window.
type windowsNormalizer struct {
	mu         sync.Mutex
	existed    map[string]bool
	renameFrom map[string]time.Time
}

func newWindows() *windowsNormalizer {
	return &windowsNormalizer{
		existed:    make(map[string]bool),
		renameFrom: make(map[string]time.Time),
	}
}

const windowsRenamePairWindow = time.Second

func (n *windowsNormalizer) Translate(raw RawEvent) []core.FsEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch raw.Kind {
	case RawRename:
		// old-path half of a rename: existence flips to false, same as Remove.
		n.existed[raw.Path] = false
		n.renameFrom[raw.Path] = raw.TS
		return nil

	case RawRemove:
		n.existed[raw.Path] = false
		return []core.FsEvent{ev(core.Remove, raw.Path, raw.TS)}

	default: // RawCreate / RawWrite / RawChmod are all "Any" on this platform
		for from, ts := range n.renameFrom {
			if raw.TS.Sub(ts) <= windowsRenamePairWindow {
				delete(n.renameFrom, from)
				n.existed[raw.Path] = true
				return []core.FsEvent{evRename(from, raw.Path, raw.TS)}
			}
		}

		existedBefore := n.existed[raw.Path]
		n.existed[raw.Path] = true
		if !existedBefore {
			if raw.IsDir {
				return []core.FsEvent{ev(core.CreateDir, raw.Path, raw.TS)}
			}
			return []core.FsEvent{ev(core.CreateFile, raw.Path, raw.TS)}
		}
		return []core.FsEvent{ev(core.Modify, raw.Path, raw.TS)}
	}
}

// Tick demotes any rename-source whose pairing window has elapsed to Remove.
func (n *windowsNormalizer) Tick(now time.Time) []core.FsEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []core.FsEvent
	for from, ts := range n.renameFrom {
		if now.Sub(ts) >= windowsRenamePairWindow {
			delete(n.renameFrom, from)
			out = append(out, ev(core.Remove, from, now))
		}
	}
	return out
}
