// Package fsevent translates raw, OS-specific filesystem notifications into
// the canonical core.FsEvent stream. Three Normalizer implementations,
// selected at construction time by runtime.GOOS rather than conditional
// compilation, so every translation table is testable on every platform.
/*
 * Copyright (c) 2024, corevault authors.
 */
package fsevent

import (
	"runtime"
	"time"

	"github.com/sdcore/corevault/core"
)

// RawKind is the shape of event the host OS notification API reports, before
// per-platform interpretation. fsnotify already collapses OS-specific
// notification classes (inotify, FSEvents, ReadDirectoryChanges) to this set.
type RawKind int

const (
	RawCreate RawKind = iota
	RawWrite
	RawRemove
	RawRename
	RawChmod
)

// RawEvent is what the location watcher hands to a Normalizer.
type RawEvent struct {
	Kind  RawKind
	Path  string
	IsDir bool
	Inode uint64 // 0 when unavailable (fswatch always leaves it 0); darwin rename pairing then falls back to arrival order
	TS    time.Time
}

// Normalizer is the per-platform translation capability; everything
// downstream is polymorphic over this, never over the OS.
type Normalizer interface {
	// Translate consumes one raw event and returns zero or more canonical
	// FsEvents immediately resolvable from it alone (platforms that need
	// pairing windows return nothing here and resolve later from Tick).
	Translate(raw RawEvent) []core.FsEvent
	// Tick lets the normalizer demote or resolve events whose pairing
	// window has expired; called on the watcher's 100ms cadence.
	Tick(now time.Time) []core.FsEvent
}

// New selects the Normalizer appropriate for the running GOOS.
func New() Normalizer {
	return NewForTest(runtime.GOOS)
}

// NewForTest selects a Normalizer by GOOS name regardless of the platform the
// test binary runs on, so each translation table can be exercised everywhere.
func NewForTest(goos string) Normalizer {
	switch goos {
	case "darwin":
		return newDarwin()
	case "windows":
		return newWindows()
	default:
		return newLinux()
	}
}

func ev(kind core.EventKind, path string, ts time.Time) core.FsEvent {
	return core.FsEvent{Kind: kind, Paths: []string{path}, TS: ts}
}

func evRename(from, to string, ts time.Time) core.FsEvent {
	return core.FsEvent{Kind: core.RenameBoth, Paths: []string{from, to}, TS: ts}
}
