package http

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-progress/internal/course"
)

// PUT /admin/modules/{moduleID}  body: module definition (YAML or JSON)
func PutModuleHandler(catalog course.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", "body too large")
			return
		}
		m, err := course.ParseModuleYAML(data)
		if err != nil {
			if isContentError(err) {
				fail(w, err)
				return
			}
			respondError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		if id := chi.URLParam(r, "moduleID"); m.ID != id {
			respondError(w, http.StatusBadRequest, "bad_request", "module id does not match path")
			return
		}
		if err := catalog.PutModule(r.Context(), m); err != nil {
			fail(w, err)
			return
		}
		respondJSON(w, http.StatusOK, m)
	}
}

// GET /admin/modules
func ListModulesHandler(catalog course.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := catalog.ListModules(r.Context())
		if err != nil {
			fail(w, err)
			return
		}
		type row struct {
			ID         string              `json:"id"`
			Title      string              `json:"title"`
			Status     course.ModuleStatus `json:"status"`
			Components int                 `json:"components"`
		}
		out := make([]row, 0, len(list))
		for _, m := range list {
			out = append(out, row{ID: m.ID, Title: m.Title, Status: m.Status, Components: len(m.Components)})
		}
		respondJSON(w, http.StatusOK, map[string]any{"items": out})
	}
}
