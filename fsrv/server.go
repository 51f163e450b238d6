// server.go wires the Cache and MIME table into the two serving routes,
// /thumbnail/{rel} and /file/{lib_id}/{loc_id}/{path_id}. net/http's built-in
// ServeContent supplies the byte-range semantics on the local path.
/*
 * Copyright (c) 2024, corevault authors.
 */
package fsrv

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sdcore/corevault/cmn"
	"github.com/sdcore/corevault/cmn/cos"
	"github.com/sdcore/corevault/cmn/nlog"
	"github.com/sdcore/corevault/core"
	"github.com/sdcore/corevault/evtbus"
)

// Resolver hydrates a cache miss: given (library, location, file_path_id),
// it looks up the absolute path, extension, and serve-from decision. Backed
// by the store package in production; a test double in unit tests.
type Resolver interface {
	Resolve(libraryID uuid.UUID, locationID int64, filePathID int64) (core.CacheValue, error)
}

// PeerFetcher is the P2P transport collaborator, specified only at its
// interface: fetch a byte range of a file hosted on another node.
type PeerFetcher interface {
	FetchRange(ctx context.Context, peerIdentity string, fileID uuid.UUID, start, end int64) (io.ReadCloser, error)
}

// Server serves thumbnails and file contents. ThumbnailDir and Resolver are
// required. The Remote-serve branch is gated by the files_over_p2p feature
// flag, read lock-free from cmn.Rom (default off).
type Server struct {
	ThumbnailDir string
	Cache        *Cache
	Resolver     Resolver
	Peer         PeerFetcher
	Bus          *evtbus.Bus
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/thumbnail/", s.serveThumbnail)
	mux.HandleFunc("/file/", s.serveFile)
	return mux
}

// serveThumbnail implements the traversal-guarded, webp-only route.
func (s *Server) serveThumbnail(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/thumbnail/")
	if rel == "" {
		http.NotFound(w, r)
		return
	}

	base, err := filepath.Abs(s.ThumbnailDir)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	joined := filepath.Join(base, rel)
	abs, err := filepath.Abs(joined)
	if err != nil || !withinDir(abs, base) {
		http.NotFound(w, r)
		return
	}
	if strings.ToLower(filepath.Ext(abs)) != ".webp" {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(abs)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/webp")
	http.ServeContent(w, r, abs, info.ModTime(), f)
}

// withinDir reports whether abs is base or a descendant of base, guarding
// against directory traversal.
func withinDir(abs, base string) bool {
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// parseFileParts splits /file/{library_id}/{location_id}/{file_path_id}.
func parseFileParts(path string) (libraryID uuid.UUID, locationID, filePathID int64, err error) {
	rest := strings.TrimPrefix(path, "/file/")
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return uuid.Nil, 0, 0, cos.NewInvalid("malformed file path %q", path)
	}
	libraryID, err = uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, 0, 0, cos.NewInvalid("invalid library id %q", parts[0])
	}
	locationID, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return uuid.Nil, 0, 0, cos.NewInvalid("invalid location id %q", parts[1])
	}
	filePathID, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return uuid.Nil, 0, 0, cos.NewInvalid("invalid file_path id %q", parts[2])
	}
	return libraryID, locationID, filePathID, nil
}

// serveFile implements the second route: LRU resolution, then a Local or
// Remote branch.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	libraryID, locationID, filePathID, err := parseFileParts(r.URL.Path)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	cv, fromCache := s.Cache.Get(libraryID, filePathID)
	if !fromCache {
		cv, err = s.Resolver.Resolve(libraryID, locationID, filePathID)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		s.Cache.Insert(libraryID, filePathID, cv)
	}

	switch cv.ServeFrom {
	case core.ServeLocal:
		s.serveLocal(w, r, libraryID, filePathID, cv)
	case core.ServeRemote:
		s.serveRemote(w, r, cv)
	}
}

func (s *Server) serveLocal(w http.ResponseWriter, r *http.Request, libraryID uuid.UUID, filePathID int64, cv core.CacheValue) {
	f, err := os.Open(cv.AbsPath)
	if err != nil {
		s.Cache.Invalidate(libraryID, filePathID) // hint was stale; don't trust it again
		if s.Bus != nil {
			s.Bus.Publish(evtbus.TopicInvalidateQuery, evtbus.InvalidateQueryEvent{Key: cv.AbsPath})
		}
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	sample := make([]byte, maxTextProbe)
	n, _ := io.ReadFull(f, sample)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", inferMIME(cv.Extension, sample[:n]))
	http.ServeContent(w, r, cv.AbsPath, info.ModTime(), f) // honors Range: bytes=a-b, 206/416
}

func (s *Server) serveRemote(w http.ResponseWriter, r *http.Request, cv core.CacheValue) {
	if !cmn.Rom.FilesOverP2P() {
		http.NotFound(w, r) // feature flag off -> 404
		return
	}
	if s.Peer == nil {
		http.NotFound(w, r)
		return
	}

	start, end, hasRange := parseRangeHeader(r.Header.Get("Range"))
	stream, err := s.Peer.FetchRange(r.Context(), cv.RemoteIdentity, cv.FilePubID, start, end)
	if err != nil {
		if cos.IsKind(err, cos.KindUnavailable) {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		http.NotFound(w, r)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", inferMIME(cv.Extension, nil))
	if hasRange {
		w.WriteHeader(http.StatusPartialContent)
	}
	if _, err := io.Copy(w, stream); err != nil && !errors.Is(err, context.Canceled) {
		nlog.Errorf("%s", cos.NewInternal(err, "stream remote file %s", cv.FilePubID))
	}
}

// parseRangeHeader does a minimal single-range bytes=a-b parse for the
// remote-fetch path, which forwards the range to the peer rather than
// letting net/http.ServeContent (local path only) parse it.
func parseRangeHeader(h string) (start, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(h, prefix) {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(h, prefix)
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	s, err1 := strconv.ParseInt(parts[0], 10, 64)
	e, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return s, e, true
}
