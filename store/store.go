// Package store is corevault's embedded-KV persistence layer: just enough of
// a typed query surface for the job manager's JobReport rows and the file
// server's library/location metadata lookup (the LRU cache's miss path).
// Backed by buntdb, one key prefix per logical "table".
/*
 * Copyright (c) 2024, corevault authors.
 */
package store

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"

	"github.com/sdcore/corevault/cmn/cos"
	"github.com/sdcore/corevault/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	jobKeyPrefix      = "job:"
	libraryKeyPrefix  = "library:"
	locationKeyPrefix = "location:"
	filePathKeyPrefix = "filepath:"
)

// Store is corevault's embedded persistence handle: one buntdb file holding
// JobReport, Library, Location and FilePath rows, opened once per process.
type Store struct {
	db *buntdb.DB
}

// Open opens (creating if absent) the buntdb file at dataDir/db.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "db")
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, cos.NewInternal(err, "open store at %s", path)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func jobKey(id uuid.UUID) string { return jobKeyPrefix + id.String() }

// Put writes through a JobReport row; satisfies xjob.ReportStore.
func (s *Store) Put(r *core.JobReport) error {
	b, err := json.Marshal(r)
	if err != nil {
		return cos.NewInternal(err, "marshal job report %s", r.ID)
	}
	err = s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(jobKey(r.ID), string(b), nil)
		return err
	})
	if err != nil {
		return cos.NewInternal(err, "persist job report %s", r.ID)
	}
	return nil
}

// Get reads back one JobReport row.
func (s *Store) Get(id uuid.UUID) (*core.JobReport, error) {
	var raw string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(jobKey(id))
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err == buntdb.ErrNotFound {
		return nil, cos.NewNotFound("job report %s", id)
	}
	if err != nil {
		return nil, cos.NewInternal(err, "read job report %s", id)
	}
	var r core.JobReport
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, cos.NewInternal(err, "unmarshal job report %s", id)
	}
	return &r, nil
}

// Delete removes one JobReport row; satisfies xjob.ReportStore.
func (s *Store) Delete(id uuid.UUID) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(jobKey(id))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return cos.NewInternal(err, "delete job report %s", id)
	}
	return nil
}

// ListByLibrary reads every persisted JobReport for libraryID, newest first.
// Callers merge this with Manager.ActiveReports to get the latest in-memory
// progress.
func (s *Store) ListByLibrary(libraryID uuid.UUID) ([]*core.JobReport, error) {
	var out []*core.JobReport
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, value string) bool {
			if !strings.HasPrefix(key, jobKeyPrefix) {
				return true
			}
			var r core.JobReport
			if err := json.Unmarshal([]byte(value), &r); err != nil {
				return true // a malformed row shouldn't abort the whole scan
			}
			if r.LibraryID == libraryID {
				out = append(out, &r)
			}
			return true
		})
	})
	if err != nil {
		return nil, cos.NewInternal(err, "list job reports for library %s", libraryID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func libraryKey(id uuid.UUID) string { return libraryKeyPrefix + id.String() }

// PutLibrary persists a Library row; location and job rows are all scoped by
// the library's id.
func (s *Store) PutLibrary(lib *core.Library) error {
	b, err := json.Marshal(lib)
	if err != nil {
		return cos.NewInternal(err, "marshal library %s", lib.ID)
	}
	err = s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(libraryKey(lib.ID), string(b), nil)
		return err
	})
	if err != nil {
		return cos.NewInternal(err, "persist library %s", lib.ID)
	}
	return nil
}

// GetLibrary resolves one Library row.
func (s *Store) GetLibrary(id uuid.UUID) (*core.Library, error) {
	var raw string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(libraryKey(id))
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err == buntdb.ErrNotFound {
		return nil, cos.NewNotFound("library %s", id)
	}
	if err != nil {
		return nil, cos.NewInternal(err, "read library %s", id)
	}
	var lib core.Library
	if err := json.Unmarshal([]byte(raw), &lib); err != nil {
		return nil, cos.NewInternal(err, "unmarshal library %s", id)
	}
	return &lib, nil
}

// locationRow is the minimal Location projection the file server needs to
// hydrate a CacheValue miss: absolute root path and owning-instance identity.
type locationRow struct {
	ID       int64     `json:"id"`
	PubID    uuid.UUID `json:"pub_id"`
	Path     string    `json:"path"`
	Identity string    `json:"identity"`
	Online   bool      `json:"online"`
}

func locationKey(libraryID uuid.UUID, locationID int64) string {
	return fmt.Sprintf("%s%s:%d", locationKeyPrefix, libraryID, locationID)
}

// PutLocation persists a Location row, scoped by library.
func (s *Store) PutLocation(libraryID uuid.UUID, loc *core.Location) error {
	row := locationRow{ID: loc.ID, PubID: loc.PubID, Path: loc.Path, Identity: loc.Identity, Online: loc.Online}
	b, err := json.Marshal(row)
	if err != nil {
		return cos.NewInternal(err, "marshal location %d", loc.ID)
	}
	err = s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(locationKey(libraryID, loc.ID), string(b), nil)
		return err
	})
	if err != nil {
		return cos.NewInternal(err, "persist location %d", loc.ID)
	}
	return nil
}

// GetLocation resolves one Location row; used by the file server's LRU miss
// path to rebuild a CacheValue from (library, location).
func (s *Store) GetLocation(libraryID uuid.UUID, locationID int64) (*core.Location, error) {
	var raw string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(locationKey(libraryID, locationID))
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err == buntdb.ErrNotFound {
		return nil, cos.NewNotFound("location %d", locationID)
	}
	if err != nil {
		return nil, cos.NewInternal(err, "read location %d", locationID)
	}
	var row locationRow
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		return nil, cos.NewInternal(err, "unmarshal location %d", locationID)
	}
	return &core.Location{ID: row.ID, PubID: row.PubID, Path: row.Path, Identity: row.Identity, Online: row.Online}, nil
}

func filePathKey(libraryID uuid.UUID, locationID, filePathID int64) string {
	return fmt.Sprintf("%s%s:%d:%d", filePathKeyPrefix, libraryID, locationID, filePathID)
}

// PutFilePath persists one indexed FilePath row, scoped by library.
func (s *Store) PutFilePath(libraryID uuid.UUID, fp *core.FilePath) error {
	b, err := json.Marshal(fp)
	if err != nil {
		return cos.NewInternal(err, "marshal file path %d", fp.ID)
	}
	err = s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(filePathKey(libraryID, fp.LocationID, fp.ID), string(b), nil)
		return err
	})
	if err != nil {
		return cos.NewInternal(err, "persist file path %d", fp.ID)
	}
	return nil
}

// GetFilePath resolves one FilePath row, joined against GetLocation on the
// LRU miss path to build an absolute path.
func (s *Store) GetFilePath(libraryID uuid.UUID, locationID, filePathID int64) (*core.FilePath, error) {
	var raw string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(filePathKey(libraryID, locationID, filePathID))
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err == buntdb.ErrNotFound {
		return nil, cos.NewNotFound("file path %d", filePathID)
	}
	if err != nil {
		return nil, cos.NewInternal(err, "read file path %d", filePathID)
	}
	var fp core.FilePath
	if err := json.Unmarshal([]byte(raw), &fp); err != nil {
		return nil, cos.NewInternal(err, "unmarshal file path %d", filePathID)
	}
	return &fp, nil
}
