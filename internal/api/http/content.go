package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-progress/internal/storage"
)

const maxUpload = 512 << 20

// MountContent serves material bytes. Range requests are handled by
// http.ServeContent, which media seeking depends on.
func MountContent(r chi.Router, bs storage.BlobStore) {
	// GET /content/*  -> the blob at whatever follows /content/
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
		rc, info, err := bs.Open(key)
		if err != nil {
			fail(w, err)
			return
		}
		defer rc.Close()
		w.Header().Set("Cache-Control", "private, max-age=300")
		http.ServeContent(w, r, info.Key, info.ModTime, rc)
	})
}

// PUT /admin/content/*  raw body
func UploadContentHandler(bs storage.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
		stored, err := bs.Put(key, http.MaxBytesReader(w, r.Body, maxUpload))
		if err != nil {
			fail(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, map[string]string{"key": stored})
	}
}
