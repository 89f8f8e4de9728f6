package server

import (
	"encoding/json"
	"io"
	"net/http"

	"file-portal/internal/logging"
	"file-portal/internal/store"
)

// handleListFiles answers GET /api/files, newest first.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.deps.Store.ListFiles(r.Context())
	if err != nil {
		logging.Error("list_files_failed", logFields(r, nil), err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if files == nil {
		files = []store.FileRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "files": files})
}

// deleteReq accepts either {"ids":[1,2]} or {"id":1}; ids may be strings.
type deleteReq struct {
	IDs []fileID `json:"ids"`
	ID  *fileID  `json:"id"`
}

// handleDelete answers POST /api/delete. Unknown ids are skipped and the
// response counts only rows that were actually removed.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteReq
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	ids := toInt64s(req.IDs)
	if req.ID != nil {
		ids = append(ids, int64(*req.ID))
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "no ids")
		return
	}

	removed, err := s.deps.Store.DeleteFiles(r.Context(), ids)
	if err != nil {
		logging.Error("delete_files_failed", logFields(r, map[string]any{"ids": ids}), err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	logging.Info("files_deleted", logFields(r, map[string]any{
		"requested": len(ids),
		"removed":   removed,
	}))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "removed": removed})
}
