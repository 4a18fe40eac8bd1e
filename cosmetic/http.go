package cosmetic

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// maxHTMLBody bounds POST /filter documents.
const maxHTMLBody = 16 << 20

// HTTPHandler returns the status and control API.
//
//	GET    /health
//	GET    /sessions
//	GET    /stats
//	GET    /journal?hostname=&limit=
//	POST   /pages           {"url": "...", "page_id": "..."}
//	DELETE /pages/{id}
//	POST   /filter?page_url=  (body: HTML)
func (a *Agent) HTTPHandler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.Sessions())
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		resp := statsResponse{Agent: a.Stats()}
		hosts, err := a.HostStats(r.Context())
		if err != nil && !errors.Is(err, ErrNoJournal) {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Hosts = hosts
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/journal", func(w http.ResponseWriter, r *http.Request) {
		entries, err := a.Recent(r.Context(), r.URL.Query().Get("hostname"), queryInt(r, "limit", 100))
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, ErrNoJournal) {
				code = http.StatusNotFound
			}
			writeError(w, code, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	r.Post("/pages", func(w http.ResponseWriter, r *http.Request) {
		var req filterPageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.URL == "" {
			writeError(w, http.StatusBadRequest, errors.New("url is required"))
			return
		}
		if req.PageID == "" {
			req.PageID = newSessionID()
		}
		if err := a.FilterPage(r.Context(), req.URL, req.PageID); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, ErrPageExists) {
				code = http.StatusConflict
			}
			writeError(w, code, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "filtering", "page_id": req.PageID})
	})

	r.Delete("/pages/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := a.ClosePage(id); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, ErrUnknownPage) {
				code = http.StatusNotFound
			}
			writeError(w, code, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "page_id": id})
	})

	r.Post("/filter", func(w http.ResponseWriter, r *http.Request) {
		pageURL := r.URL.Query().Get("page_url")
		if pageURL == "" {
			writeError(w, http.StatusBadRequest, errors.New("page_url is required"))
			return
		}
		out, stats, err := a.FilterHTML(r.Context(), pageURL, io.LimitReader(r.Body, maxHTMLBody))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, filterHTMLResponse{HTML: out, Stats: stats})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
