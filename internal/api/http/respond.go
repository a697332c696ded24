package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/mindengage-progress/internal/course"
	"github.com/mind-engage/mindengage-progress/internal/progress"
	"github.com/mind-engage/mindengage-progress/internal/storage"
	"github.com/mind-engage/mindengage-progress/internal/viewer"
)

const maxBody = 1 << 20

var validate = validator.New()

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, map[string]apiError{"error": {Code: code, Message: msg}})
}

// decode reads a JSON body into dst and runs its validate tags. An empty body
// leaves dst untouched.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "bad_request", "bad json")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			respondError(w, http.StatusBadRequest, "bad_request", verrs[0].Field()+" is "+verrs[0].Tag())
			return false
		}
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return false
	}
	return true
}

// fail maps domain errors onto status codes.
func fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, progress.ErrLockedComponent):
		respondError(w, http.StatusLocked, "component_locked", err.Error())
	case errors.Is(err, progress.ErrAttemptsExhausted):
		respondError(w, http.StatusConflict, "attempts_exhausted", err.Error())
	case errors.Is(err, progress.ErrAlreadyCompleted):
		respondError(w, http.StatusConflict, "already_completed", err.Error())
	case errors.Is(err, progress.ErrSessionClosed):
		respondError(w, http.StatusConflict, "session_closed", err.Error())
	case errors.Is(err, course.ErrInvalidAssessmentSpec):
		respondError(w, http.StatusUnprocessableEntity, "invalid_assessment", err.Error())
	case errors.Is(err, course.ErrInvalidModule):
		respondError(w, http.StatusUnprocessableEntity, "invalid_module", err.Error())
	case errors.Is(err, progress.ErrNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, viewer.ErrUnknownViewer):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, progress.ErrWrongType),
		errors.Is(err, progress.ErrInvalidInput),
		errors.Is(err, storage.ErrInvalidKey),
		errors.Is(err, viewer.ErrNotMedia):
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, viewer.ErrCancelled):
		respondError(w, http.StatusGone, "viewer_cancelled", err.Error())
	default:
		slog.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func isContentError(err error) bool {
	return errors.Is(err, course.ErrInvalidModule) || errors.Is(err, course.ErrInvalidAssessmentSpec)
}
