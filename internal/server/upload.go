package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"file-portal/internal/blob"
	"file-portal/internal/logging"
	"file-portal/internal/store"
)

var errFileTooLarge = errors.New("file exceeds upload limit")

// maxFieldBytes bounds non-file multipart fields such as comments.
const maxFieldBytes = 64 << 10

type savedFile struct {
	ID           int64  `json:"id"`
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
}

// pendingFile is a blob that has been written but not yet recorded.
type pendingFile struct {
	ref  string
	name string
	size int64
}

// capReader fails with errFileTooLarge once more than n bytes are read.
type capReader struct {
	r io.Reader
	n int64
}

func (c *capReader) Read(p []byte) (int, error) {
	if c.n <= 0 {
		var probe [1]byte
		k, err := c.r.Read(probe[:])
		if k > 0 {
			return 0, errFileTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > c.n {
		p = p[:c.n]
	}
	k, err := c.r.Read(p)
	c.n -= int64(k)
	return k, err
}

// handleUpload answers POST /api/upload. The multipart body is read part by
// part: every "files" part is streamed straight into the blob store and the
// "comments" field applies to all files of the request. Rows are written
// once the whole body has been consumed.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad multipart")
		return
	}

	var (
		pending []pendingFile
		comment string
	)
	// Anything still pending when we return early is an orphan blob.
	defer func() { s.discardBlobs(r.Context(), pending) }()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad multipart")
			return
		}

		switch part.FormName() {
		case "comments", "comment":
			b, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			_ = part.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "bad multipart")
				return
			}
			comment = truncateRunes(strings.TrimSpace(string(b)), s.cfg.MaxCommentLength)

		case "files", "file":
			if part.FileName() == "" {
				_ = part.Close()
				continue
			}
			name := SanitizeFilename(part.FileName())
			ref := blob.NewRef(name)

			var src io.Reader = part
			if s.cfg.MaxUploadBytes > 0 {
				src = &capReader{r: part, n: s.cfg.MaxUploadBytes}
			}
			n, err := s.deps.Blobs.Put(r.Context(), ref, src)
			_ = part.Close()
			if err != nil {
				if errors.Is(err, errFileTooLarge) {
					logging.Warn("upload_too_large", logFields(r, map[string]any{
						"name":  name,
						"limit": s.cfg.MaxUploadBytes,
					}))
					writeError(w, http.StatusRequestEntityTooLarge, "file too large")
					return
				}
				logging.Error("blob_put_failed", logFields(r, map[string]any{"name": name}), err)
				writeError(w, http.StatusBadRequest, "upload failed")
				return
			}
			pending = append(pending, pendingFile{ref: ref, name: name, size: n})

		default:
			_ = part.Close()
		}
	}

	if len(pending) == 0 {
		writeError(w, http.StatusBadRequest, "no files")
		return
	}

	saved := make([]savedFile, 0, len(pending))
	for len(pending) > 0 {
		p := pending[0]
		id, err := s.deps.Store.InsertFile(r.Context(), store.NewFile{
			StoredName:   p.ref,
			OriginalName: p.name,
			Size:         p.size,
			Comment:      comment,
		})
		if err != nil {
			logging.Error("insert_file_failed", logFields(r, map[string]any{"name": p.name}), err)
			writeError(w, http.StatusInternalServerError, "storage error")
			return
		}
		pending = pending[1:]
		saved = append(saved, savedFile{ID: id, OriginalName: p.name, Size: p.size})
		uploadsTotal.Inc()
		uploadBytesTotal.Add(float64(p.size))
	}

	logging.Info("upload_complete", logFields(r, map[string]any{"files": len(saved)}))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "saved": saved})
}

func (s *Server) discardBlobs(ctx context.Context, files []pendingFile) {
	ctx = context.WithoutCancel(ctx)
	for _, f := range files {
		if err := s.deps.Blobs.Remove(ctx, f.ref); err != nil {
			logging.Error("orphan_blob_remove_failed", map[string]any{"ref": f.ref}, err)
		}
	}
}
