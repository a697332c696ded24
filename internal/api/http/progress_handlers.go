package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/mindengage-progress/internal/auth/middleware"
	"github.com/mind-engage/mindengage-progress/internal/course"
	"github.com/mind-engage/mindengage-progress/internal/grading"
	"github.com/mind-engage/mindengage-progress/internal/progress"
	"github.com/mind-engage/mindengage-progress/internal/rbac"
)

type answersRequest struct {
	Answers map[string]interface{} `json:"answers"`
}

// GET /modules/{moduleID}
// Learners get published modules only, with answer keys removed.
func GetModuleHandler(catalog course.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := catalog.GetModule(r.Context(), chi.URLParam(r, "moduleID"))
		if err != nil {
			fail(w, err)
			return
		}
		if rbac.RoleFromContext(r.Context()) == rbac.RoleAdmin {
			respondJSON(w, http.StatusOK, m)
			return
		}
		if m.Status == course.ModuleDraft {
			fail(w, course.ErrNotFound)
			return
		}
		respondJSON(w, http.StatusOK, m.StripAnswerKeys())
	}
}

// GET /modules/{moduleID}/progress
func ProgressHandler(eng *progress.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := eng.Snapshot(r.Context(), auth.SubjectFromContext(r.Context()), chi.URLParam(r, "moduleID"))
		if err != nil {
			fail(w, err)
			return
		}
		respondJSON(w, http.StatusOK, snap)
	}
}

// GET /admin/learners/{learnerID}/modules/{moduleID}/progress
func LearnerProgressHandler(eng *progress.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := eng.Snapshot(r.Context(), chi.URLParam(r, "learnerID"), chi.URLParam(r, "moduleID"))
		if err != nil {
			fail(w, err)
			return
		}
		respondJSON(w, http.StatusOK, snap)
	}
}

// GET /modules/{moduleID}/resume
func ResumeHandler(eng *progress.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := eng.Resume(r.Context(), auth.SubjectFromContext(r.Context()), chi.URLParam(r, "moduleID"))
		if err != nil {
			fail(w, err)
			return
		}
		respondJSON(w, http.StatusOK, target)
	}
}

// POST /modules/{moduleID}/components/{componentID}/open
func OpenComponentHandler(eng *progress.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cp, err := eng.OpenComponent(r.Context(), auth.SubjectFromContext(r.Context()),
			chi.URLParam(r, "moduleID"), chi.URLParam(r, "componentID"))
		if err != nil {
			fail(w, err)
			return
		}
		respondJSON(w, http.StatusOK, cp)
	}
}

// POST /modules/{moduleID}/components/{componentID}/time  { "seconds": 30 }
func TimeSpentHandler(eng *progress.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Seconds int64 `json:"seconds" validate:"min=1,max=86400"`
		}
		if !decode(w, r, &req) {
			return
		}
		cp, err := eng.AddTimeSpent(r.Context(), auth.SubjectFromContext(r.Context()),
			chi.URLParam(r, "moduleID"), chi.URLParam(r, "componentID"), req.Seconds)
		if err != nil {
			fail(w, err)
			return
		}
		respondJSON(w, http.StatusOK, cp)
	}
}

// POST /modules/{moduleID}/components/{componentID}/attempts
func StartAttemptHandler(eng *progress.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := eng.StartAttempt(r.Context(), auth.SubjectFromContext(r.Context()),
			chi.URLParam(r, "moduleID"), chi.URLParam(r, "componentID"))
		if err != nil {
			fail(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, s)
	}
}

// PUT /attempts/{sessionID}/answers  { "answers": { "q1": "a" } }
func SaveAnswersHandler(eng *progress.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req answersRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Answers == nil {
			respondError(w, http.StatusBadRequest, "bad_request", "answers required")
			return
		}
		s, err := eng.SaveAnswers(r.Context(), auth.SubjectFromContext(r.Context()), chi.URLParam(r, "sessionID"), req.Answers)
		if err != nil {
			fail(w, err)
			return
		}
		respondJSON(w, http.StatusOK, s)
	}
}

// POST /attempts/{sessionID}/submit  body optional; answers given here are
// merged over the saved ones.
func SubmitAttemptHandler(eng *progress.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req answersRequest
		if !decode(w, r, &req) {
			return
		}
		out, err := eng.SubmitAttempt(r.Context(), auth.SubjectFromContext(r.Context()), chi.URLParam(r, "sessionID"), req.Answers)
		if err != nil {
			fail(w, err)
			return
		}
		respondJSON(w, http.StatusOK, out)
	}
}

// POST /modules/{moduleID}/components/{componentID}/submit  { "answers": {...} }
func SubmitAssessmentHandler(eng *progress.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req answersRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Answers == nil {
			respondError(w, http.StatusBadRequest, "bad_request", "answers required")
			return
		}
		out, err := eng.SubmitAssessment(r.Context(), auth.SubjectFromContext(r.Context()),
			chi.URLParam(r, "moduleID"), chi.URLParam(r, "componentID"), req.Answers)
		if err != nil {
			fail(w, err)
			return
		}
		respondJSON(w, http.StatusOK, out)
	}
}

// GET /modules/{moduleID}/components/{componentID}/attempts
func AttemptHistoryHandler(eng *progress.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := eng.Attempts(r.Context(), auth.SubjectFromContext(r.Context()),
			chi.URLParam(r, "moduleID"), chi.URLParam(r, "componentID"))
		if err != nil {
			fail(w, err)
			return
		}
		if list == nil {
			list = []grading.Attempt{}
		}
		respondJSON(w, http.StatusOK, map[string]any{"items": list})
	}
}
