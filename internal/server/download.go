package server

import (
	"errors"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"file-portal/internal/blob"
	"file-portal/internal/links"
	"file-portal/internal/logging"
)

// handleDownload answers GET /dl/{token}. Resolution completes before any
// byte is written; the body is streamed from the blob store.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	res, err := s.deps.Resolver.Resolve(r.Context(), token)
	if err != nil {
		logging.Error("resolve_failed", logFields(r, nil), err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	switch res.Status {
	case links.StatusNotFound:
		downloadsTotal.WithLabelValues("not_found").Inc()
		writeError(w, http.StatusNotFound, "link not found")
		return
	case links.StatusExpired:
		downloadsTotal.WithLabelValues("expired").Inc()
		writeError(w, http.StatusGone, "link expired")
		return
	}

	f := res.File
	rc, info, err := s.deps.Blobs.Open(r.Context(), f.StoredName)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			downloadsTotal.WithLabelValues("file_missing").Inc()
			logging.Warn("blob_missing", logFields(r, map[string]any{
				"file_id": f.ID,
				"ref":     f.StoredName,
			}))
			writeError(w, http.StatusNotFound, "file missing")
			return
		}
		logging.Error("blob_open_failed", logFields(r, map[string]any{"file_id": f.ID}), err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", contentTypeFor(f.OriginalName))
	w.Header().Set("Content-Disposition", attachmentDisposition(f.OriginalName))
	w.Header().Set("Cache-Control", "private, no-store")
	downloadsTotal.WithLabelValues("served").Inc()

	http.ServeContent(w, r, "", info.ModTime, rc)
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// attachmentDisposition encodes non-ASCII names per RFC 2231.
func attachmentDisposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}
