package daemon

import (
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"reelvault/internal/storage"
)

const (
	manifestCacheControl = "no-cache"
	segmentCacheControl  = "public, max-age=31536000, immutable"
	manifestContentType  = "application/vnd.apple.mpegurl"
	segmentContentType   = "video/mp2t"
)

// handleOriginal serves the stored blob with byte-range support.
func (s *apiServer) handleOriginal(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.record(w, r)
	if !ok {
		return
	}
	if !rec.HasOriginal() {
		s.writeError(w, http.StatusNotFound, "original has been removed")
		return
	}
	f, err := os.Open(s.daemon.layout.BlobPath(rec.ID))
	if errors.Is(err, fs.ErrNotExist) {
		s.writeError(w, http.StatusNotFound, "original not found")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err, "read failed")
		return
	}
	defer f.Close()

	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": rec.DisplayName}))
	// ServeContent answers Range requests with 206 and an exact Content-Range.
	http.ServeContent(w, r, rec.DisplayName, rec.CreatedAt, f)
}

// handleDerived serves the playlist and segments of a ready HLS output.
func (s *apiServer) handleDerived(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")
	if !storage.ValidID(id) || !storage.ValidDerivedName(name) {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	rec, ok := s.record(w, r)
	if !ok {
		return
	}
	if !rec.DerivedReady {
		s.writeError(w, http.StatusNotFound, "derived output not ready")
		return
	}
	path, err := s.daemon.layout.DerivedFilePath(id, name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err, "read failed")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.writeServiceError(w, r, err, "read failed")
		return
	}

	if storage.IsManifest(name) {
		w.Header().Set("Cache-Control", manifestCacheControl)
		w.Header().Set("Content-Type", manifestContentType)
	} else {
		w.Header().Set("Cache-Control", segmentCacheControl)
		w.Header().Set("Content-Type", segmentContentType)
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}
