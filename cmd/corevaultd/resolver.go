// resolver.go adapts the store package onto fsrv.Resolver: the LRU miss path
// joins a persisted Location row with a persisted FilePath row to produce a
// CacheValue.
/*
 * Copyright (c) 2024, corevault authors.
 */
package main

import (
	"path/filepath"

	"github.com/google/uuid"

	"github.com/sdcore/corevault/core"
	"github.com/sdcore/corevault/store"
)

type storeResolver struct {
	st               *store.Store
	instanceIdentity string
}

func (r *storeResolver) Resolve(libraryID uuid.UUID, locationID, filePathID int64) (core.CacheValue, error) {
	loc, err := r.st.GetLocation(libraryID, locationID)
	if err != nil {
		return core.CacheValue{}, err
	}
	fp, err := r.st.GetFilePath(libraryID, locationID, filePathID)
	if err != nil {
		return core.CacheValue{}, err
	}

	cv := core.CacheValue{
		AbsPath:   filepath.Join(loc.Path, fp.RelPath),
		Extension: fp.Extension,
		FilePubID: fp.PubID,
	}
	if loc.Local(r.instanceIdentity) {
		cv.ServeFrom = core.ServeLocal
	} else {
		cv.ServeFrom = core.ServeRemote
		cv.RemoteIdentity = loc.Identity
	}
	return cv, nil
}
