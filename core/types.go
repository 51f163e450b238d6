// Package core holds the domain types shared by every location-pipeline
// component: libraries, locations, the normalized event stream, job
// reports/groups, and the file-serving cache value. Optional fields are
// explicit pointers, never ambient nullability.
/*
 * Copyright (c) 2024, corevault authors.
 */
package core

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Library is a logical collection of locations owned by one identity.
type Library struct {
	ID       uuid.UUID
	Identity string // owning-identity public key
}

// Local reports whether instanceIdentity equals the library's owning identity.
func (l *Library) Local(instanceIdentity string) bool { return l.Identity == instanceIdentity }

// Location is one watched root directory, scoped to a Library.
type Location struct {
	ID       int64 // scoped to Library
	PubID    uuid.UUID
	Path     string
	Identity string // owning-instance identity
	Online   bool
}

// Local reports whether this location's files live on the given instance.
func (loc *Location) Local(instanceIdentity string) bool { return loc.Identity == instanceIdentity }

// EventKind is the canonical, platform-independent filesystem event kind
// produced by the normalizer and consumed by the coalescer.
type EventKind int

const (
	CreateFile EventKind = iota
	CreateDir
	Modify
	RenameFrom
	RenameTo
	RenameBoth
	Remove
)

func (k EventKind) String() string {
	switch k {
	case CreateFile:
		return "CreateFile"
	case CreateDir:
		return "CreateDir"
	case Modify:
		return "Modify"
	case RenameFrom:
		return "RenameFrom"
	case RenameTo:
		return "RenameTo"
	case RenameBoth:
		return "RenameBoth"
	case Remove:
		return "Remove"
	default:
		return "Unknown"
	}
}

// FsEvent is the normalizer's output: one semantic filesystem event.
// Paths holds one entry except RenameBoth, which holds [from, to].
type FsEvent struct {
	Kind  EventKind
	Paths []string
	Inode uint64 // 0 means "unknown, fall back to path identity"
	TS    time.Time
}

func (e FsEvent) Path() string {
	if len(e.Paths) == 0 {
		return ""
	}
	return e.Paths[0]
}

// CoalescedOp is the coalescer's output: one semantic filesystem operation, merged
// from a burst of raw FsEvents about the same inode.
type CoalescedOp struct {
	Kind EventKind // CreateFile, CreateDir, Modify, RenameBoth, Remove
	From string    // set for Remove, Modify, Create*; also the rename source
	To   string    // set only for Renamed
}

func CreatedFile(path string) CoalescedOp { return CoalescedOp{Kind: CreateFile, From: path} }
func CreatedDir(path string) CoalescedOp  { return CoalescedOp{Kind: CreateDir, From: path} }
func Modified(path string) CoalescedOp    { return CoalescedOp{Kind: Modify, From: path} }
func Renamed(from, to string) CoalescedOp { return CoalescedOp{Kind: RenameBoth, From: from, To: to} }
func Removed(path string) CoalescedOp     { return CoalescedOp{Kind: Remove, From: path} }

// JobStatus is a JobReport's lifecycle state.
type JobStatus int

const (
	Queued JobStatus = iota
	Running
	Paused
	Canceled
	Completed
	CompletedWithErrors
	Failed
)

func (s JobStatus) String() string {
	switch s {
	case Queued:
		return "Queued"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Canceled:
		return "Canceled"
	case Completed:
		return "Completed"
	case CompletedWithErrors:
		return "CompletedWithErrors"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is a terminal status (no further transitions).
func (s JobStatus) Terminal() bool {
	switch s {
	case Completed, CompletedWithErrors, Canceled, Failed:
		return true
	default:
		return false
	}
}

// JobReport is the persistent record of one job's lifecycle.
type JobReport struct {
	ID                 uuid.UUID
	ParentID           *uuid.UUID
	Name               string
	Action             string
	GroupKey           string
	LibraryID          uuid.UUID
	Status             JobStatus
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	TaskCount          int64
	CompletedTaskCount int64
	Message            string
	Errors             []string
	MaxErrors          int64 // non-fatal errors tolerated before the job is failed outright; 0 means unbounded
}

// JobInit is the payload a caller submits to spawn a job. ActionName and the
// derived GroupKey together form the job's identity for the
// at-most-one-running rule; callers supply the typed target fields, never a
// pre-formatted key.
type JobInit struct {
	LibraryID  uuid.UUID
	ActionName string
	LocationID int64
	SubPath    string
	Params     json.RawMessage // body-specific payload, opaque to the manager
	Name       string
	TaskCount  int64
	MaxErrors  int64 // see JobReport.MaxErrors
}

// GroupKey derives the group half of the job identity from the init payload:
// two submissions naming the same location and sub-path are the same job.
func (init JobInit) GroupKey() string {
	return strconv.FormatInt(init.LocationID, 10) + ":" + init.SubPath
}

// JobGroup is a client-visible grouping of JobReports sharing (action, group_key).
type JobGroup struct {
	Action   string
	GroupKey string
	Reports  []*JobReport // most-recent-first
}

// Status is the group's status: its most-recent non-Paused member's status,
// or Paused if every member is paused.
func (g *JobGroup) Status() JobStatus {
	for _, r := range g.Reports {
		if r.Status != Paused {
			return r.Status
		}
	}
	return Paused
}

// GroupReports buckets reports by (action, group_key). Within a group,
// reports are most-recent-first; groups are ordered by their most recent
// member's CreatedAt, descending.
func GroupReports(reports []*JobReport) []*JobGroup {
	type key struct{ action, groupKey string }
	idx := make(map[key]*JobGroup)
	var out []*JobGroup
	for _, r := range reports {
		k := key{r.Action, r.GroupKey}
		g, ok := idx[k]
		if !ok {
			g = &JobGroup{Action: r.Action, GroupKey: r.GroupKey}
			idx[k] = g
			out = append(out, g)
		}
		g.Reports = append(g.Reports, r)
	}
	for _, g := range out {
		sort.Slice(g.Reports, func(i, j int) bool {
			return g.Reports[i].CreatedAt.After(g.Reports[j].CreatedAt)
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Reports[0].CreatedAt.After(out[j].Reports[0].CreatedAt)
	})
	return out
}

// ServeFrom names where a requested file's bytes should be read from.
type ServeFrom int

const (
	ServeLocal ServeFrom = iota
	ServeRemote
)

// FilePath is one indexed file beneath a Location, the row the File URI
// Server resolves on an LRU miss into a CacheValue.
type FilePath struct {
	ID         int64 // scoped to Location
	PubID      uuid.UUID
	LocationID int64
	RelPath    string
	Extension  string
}

// CacheValue is one LRU entry: everything the file server needs to serve a file without
// re-resolving it against the store.
type CacheValue struct {
	AbsPath        string
	Extension      string
	FilePubID      uuid.UUID
	ServeFrom      ServeFrom
	RemoteIdentity string // set only when ServeFrom == ServeRemote
}
