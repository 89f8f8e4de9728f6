package server

import (
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"file-portal/internal/links"
	"file-portal/internal/logging"
	"file-portal/internal/store"
)

// issueAttempts bounds retries when a freshly drawn token already exists.
const issueAttempts = 3

type getLinkReq struct {
	ID *fileID `json:"id"`
}

type getLinkResp struct {
	OK        bool   `json:"ok"`
	Token     string `json:"token"`
	PageURL   string `json:"page_url"`
	DirectURL string `json:"direct_url"`
	ExpiresAt string `json:"expires_at"`

	// camelCase aliases read by the bundled dashboard
	PageURLCamel   string `json:"pageUrl"`
	DirectURLCamel string `json:"directUrl"`
}

// requestOrigin is the scheme://host share URLs are built on. A configured
// base URL wins; forwarding headers count only behind a trusted proxy.
func (s *Server) requestOrigin(r *http.Request) string {
	if s.cfg.BaseURL != "" {
		return strings.TrimRight(s.cfg.BaseURL, "/")
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if s.cfg.TrustProxy {
		if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
			scheme = p
		}
		if h := r.Header.Get("X-Forwarded-Host"); h != "" {
			host, _, _ = strings.Cut(h, ",")
			host = strings.TrimSpace(host)
		}
	}
	if host == "" {
		host = "localhost:8080"
	}
	return scheme + "://" + host
}

// handleGetLink answers POST /api/getlink with a new share link for a file.
func (s *Server) handleGetLink(w http.ResponseWriter, r *http.Request) {
	var req getLinkReq
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil || req.ID == nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	id := int64(*req.ID)

	var (
		tok links.Token
		err error
	)
	for attempt := 1; attempt <= issueAttempts; attempt++ {
		tok, err = s.deps.Issuer.Issue()
		if err != nil {
			break
		}
		_, err = s.deps.Store.InsertLink(r.Context(), id, tok.Value, tok.IssuedAt)
		if !errors.Is(err, store.ErrConflict) {
			break
		}
		logging.Warn("token_collision", logFields(r, map[string]any{"attempt": attempt}))
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "file not found")
		return
	case err != nil:
		logging.Error("issue_link_failed", logFields(r, map[string]any{"file_id": id}), err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	linksIssuedTotal.Inc()
	origin := s.requestOrigin(r)
	expires := s.deps.Resolver.Expiry(store.LinkRecord{CreatedAt: tok.IssuedAt})
	pageURL := origin + "/d/" + tok.Value
	directURL := origin + "/dl/" + tok.Value
	writeJSON(w, http.StatusOK, getLinkResp{
		OK:             true,
		Token:          tok.Value,
		PageURL:        pageURL,
		DirectURL:      directURL,
		ExpiresAt:      expires.Format(time.RFC3339),
		PageURLCamel:   pageURL,
		DirectURLCamel: directURL,
	})
}

// handleLinkInfo answers GET /api/linkinfo/{token} for clients that render
// their own landing page.
func (s *Server) handleLinkInfo(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	res, err := s.deps.Resolver.Resolve(r.Context(), token)
	if err != nil {
		logging.Error("resolve_failed", logFields(r, nil), err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	switch res.Status {
	case links.StatusNotFound:
		writeError(w, http.StatusNotFound, "link not found")
	case links.StatusExpired:
		writeError(w, http.StatusGone, "link expired")
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"ok": true,
			"file": map[string]any{
				"name":    res.File.OriginalName,
				"size":    res.File.Size,
				"comment": res.File.Comment,
			},
			"direct_url": s.requestOrigin(r) + "/dl/" + token,
			"expires_at": s.deps.Resolver.Expiry(res.Link).Format(time.RFC3339),
		})
	}
}

var landingTmpl = template.Must(template.New("landing").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
{{if .Name}}<p>{{.Name}} ({{.Size}} bytes)</p>
{{if .Comment}}<p>{{.Comment}}</p>{{end}}
<p><a href="{{.DirectURL}}" download>Download</a></p>
<p>Available until {{.ExpiresAt}}</p>{{else}}<p>{{.Message}}</p>{{end}}
</body>
</html>
`))

type landingView struct {
	Title     string
	Message   string
	Name      string
	Size      int64
	Comment   string
	DirectURL string
	ExpiresAt string
}

// handleLanding answers GET /d/{token} with a minimal download page.
func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	res, err := s.deps.Resolver.Resolve(r.Context(), token)
	if err != nil {
		logging.Error("resolve_failed", logFields(r, nil), err)
		renderLanding(w, http.StatusInternalServerError, landingView{Title: "Error", Message: "Something went wrong."})
		return
	}

	switch res.Status {
	case links.StatusNotFound:
		renderLanding(w, http.StatusNotFound, landingView{Title: "Link not found", Message: "This link does not exist."})
	case links.StatusExpired:
		renderLanding(w, http.StatusGone, landingView{Title: "Link expired", Message: "This link has expired."})
	default:
		renderLanding(w, http.StatusOK, landingView{
			Title:     "Shared file",
			Name:      res.File.OriginalName,
			Size:      res.File.Size,
			Comment:   res.File.Comment,
			DirectURL: "/dl/" + token,
			ExpiresAt: s.deps.Resolver.Expiry(res.Link).Format(time.RFC1123),
		})
	}
}

func renderLanding(w http.ResponseWriter, status int, v landingView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = landingTmpl.Execute(w, v)
}
