// Package fswatch is the location watcher: one fsnotify handle per watched
// root, recursively added, feeding raw events through a fsevent.Normalizer
// and on to a coalescer. The event loop is a cooperative select over the raw
// event channel, an ignore-path channel, a 100ms tick, and a stop signal;
// Stop joins the loop synchronously so no event is processed after it
// returns.
/*
 * Copyright (c) 2024, corevault authors.
 */
package fswatch

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sdcore/corevault/cmn/nlog"
	"github.com/sdcore/corevault/coalesce"
	"github.com/sdcore/corevault/core"
	"github.com/sdcore/corevault/evtbus"
	"github.com/sdcore/corevault/fsevent"
)

const tickInterval = 100 * time.Millisecond

// renameWindow returns the rename-pairing deadline the coalescer holds a
// pending rename open for: 500ms on macOS, 1s elsewhere.
func renameWindow() time.Duration {
	switch runtime.GOOS {
	case "darwin":
		return 500 * time.Millisecond
	default:
		return time.Second
	}
}

type ignoreReq struct {
	path   string
	ignore bool
}

// Watcher owns one platform watch handle on a single root directory.
type Watcher struct {
	locationID int64
	root       string

	fsw  *fsnotify.Watcher
	norm fsevent.Normalizer
	coal *coalesce.Coalescer
	bus  *evtbus.Bus

	emit func(core.CoalescedOp) // forwarded downstream to job/bus wiring

	ignoreCh chan ignoreReq
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu      sync.Mutex
	ignored map[string]bool
	started bool
	stopped bool
}

// New constructs a Watcher for root; it does not begin watching until Start.
// The Coalescer is owned here for the Watcher's whole lifetime.
func New(locationID int64, root string, bus *evtbus.Bus, emit func(core.CoalescedOp)) *Watcher {
	w := &Watcher{
		locationID: locationID,
		root:       root,
		norm:       fsevent.New(),
		bus:        bus,
		emit:       emit,
		ignoreCh:   make(chan ignoreReq, 16),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		ignored:    make(map[string]bool),
	}
	w.coal = coalesce.New(renameWindow(), func(path string) bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.ignored[path]
	})
	return w
}

// Start begins watching root recursively. Idempotent.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		if err = addRecursive(fsw, w.root); err != nil {
			fsw.Close()
		}
	}
	if err != nil {
		// No loop runs, so Stop must not wait for one.
		w.mu.Lock()
		w.started = false
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw

	go w.loop()
	return nil
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

// Stop releases the watcher handle and joins the event loop; guaranteed to
// complete even mid-dispatch, and guarantees no event is processed after it
// returns. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if w.fsw != nil {
		if err := w.fsw.Close(); err != nil {
			nlog.Warningf("location %d: close watch handle: %v", w.locationID, err)
		}
	}
}

// Ignore adds or removes an exact-path ignore, used to suppress self-induced
// writes (e.g. a thumbnail write landing inside a watched tree).
func (w *Watcher) Ignore(path string, on bool) {
	select {
	case w.ignoreCh <- ignoreReq{path: path, ignore: on}:
	case <-w.stopCh:
	}
}

// Matches reports whether path equals this watcher's root.
func (w *Watcher) Matches(path string) bool {
	return filepath.Clean(path) == filepath.Clean(w.root)
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return

		case req := <-w.ignoreCh:
			w.mu.Lock()
			if req.ignore {
				w.ignored[req.path] = true
			} else {
				delete(w.ignored, req.path)
			}
			w.mu.Unlock()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				w.lost()
				return
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				w.lost()
				return
			}
			nlog.Warningf("location %d: watcher error: %v", w.locationID, err)

		case now := <-ticker.C:
			for _, fe := range w.norm.Tick(now) {
				w.coal.Feed(fe)
			}
			for _, op := range w.coal.Flush(now) {
				w.emit(op)
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	w.mu.Lock()
	skip := w.ignored[ev.Name]
	w.mu.Unlock()
	if skip {
		return
	}

	info, statErr := os.Lstat(ev.Name)
	isDir := statErr == nil && info.IsDir()

	if ev.Has(fsnotify.Create) && isDir {
		if err := addRecursive(w.fsw, ev.Name); err != nil {
			nlog.Warningf("location %d: failed to add watch for new dir %s: %v", w.locationID, ev.Name, err)
		}
	}

	raw := fsevent.RawEvent{Path: ev.Name, IsDir: isDir, TS: time.Now()}
	switch {
	case ev.Has(fsnotify.Create):
		raw.Kind = fsevent.RawCreate
	case ev.Has(fsnotify.Write):
		raw.Kind = fsevent.RawWrite
	case ev.Has(fsnotify.Remove):
		raw.Kind = fsevent.RawRemove
	case ev.Has(fsnotify.Rename):
		raw.Kind = fsevent.RawRename
	default:
		return // chmod carries no semantic content here
	}

	for _, fe := range w.norm.Translate(raw) {
		w.coal.Feed(fe)
	}
}

// lost is invoked when the OS-level handle dies out from under the loop.
func (w *Watcher) lost() {
	nlog.Errorf("location %d: watcher handle lost", w.locationID)
	w.bus.Publish(evtbus.TopicWatcherLost, evtbus.WatcherLostEvent{LocationID: w.locationID})
}
