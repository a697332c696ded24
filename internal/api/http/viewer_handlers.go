package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	auth "github.com/mind-engage/mindengage-progress/internal/auth/middleware"
	"github.com/mind-engage/mindengage-progress/internal/progress"
	"github.com/mind-engage/mindengage-progress/internal/viewer"
)

// ViewerDeps is what the viewer endpoints need besides the engine.
type ViewerDeps struct {
	Registry *viewer.Registry
	Resolver viewer.Resolver
	Prober   viewer.Prober
	Logger   *slog.Logger
}

type viewerResponse struct {
	ViewerID string           `json:"viewer_id"`
	State    viewer.State     `json:"state"`
	Target   viewer.Target    `json:"target"`
	Progress viewer.Milestone `json:"progress"`
}

func viewerView(c *viewer.Cascade, t viewer.Target) viewerResponse {
	return viewerResponse{ViewerID: c.ID, State: c.State(), Target: t, Progress: c.Progress()}
}

// POST /modules/{moduleID}/components/{componentID}/materials/{materialID}/progress
// { "milestone": "open" | "content-loaded" | "completed" | 50 | 75 | 100 }
func MaterialProgressHandler(eng *progress.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Milestone json.RawMessage `json:"milestone" validate:"required"`
		}
		if !decode(w, r, &req) {
			return
		}
		var ms viewer.Milestone
		if err := json.Unmarshal(req.Milestone, &ms); err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		rep, err := eng.ReportMilestone(r.Context(), auth.SubjectFromContext(r.Context()),
			chi.URLParam(r, "moduleID"), chi.URLParam(r, "componentID"), chi.URLParam(r, "materialID"), ms)
		if err != nil {
			fail(w, err)
			return
		}
		respondJSON(w, http.StatusOK, rep)
	}
}

// POST /modules/{moduleID}/components/{componentID}/materials/{materialID}/viewer
// Opens a render cascade. A material whose every strategy is already known
// to fail still opens; the target is the terminal fallback.
func OpenViewerHandler(eng *progress.Engine, d ViewerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		learner := auth.SubjectFromContext(ctx)
		moduleID, componentID, materialID := chi.URLParam(r, "moduleID"), chi.URLParam(r, "componentID"), chi.URLParam(r, "materialID")

		mat, err := eng.Material(ctx, learner, moduleID, componentID, materialID)
		if err != nil {
			fail(w, err)
			return
		}
		recorded, err := eng.RecordedMilestone(ctx, learner, componentID, materialID)
		if err != nil {
			fail(w, err)
			return
		}
		opts := []viewer.CascadeOption{
			viewer.WithResolver(d.Resolver),
			viewer.WithReporter(eng.MaterialReporter(learner, moduleID, componentID, materialID)),
			viewer.WithRecorded(recorded),
		}
		if d.Prober != nil {
			opts = append(opts, viewer.WithProber(d.Prober))
		}
		if d.Logger != nil {
			opts = append(opts, viewer.WithLogger(d.Logger))
		}
		c := viewer.NewCascade(uuid.NewString(), mat, opts...)
		t, err := c.Open(ctx)
		if err != nil && !errors.Is(err, viewer.ErrRenderExhausted) {
			fail(w, err)
			return
		}
		d.Registry.Put(learner, c)
		respondJSON(w, http.StatusCreated, viewerView(c, t))
	}
}

// POST /viewer/{viewerID}/events  { "type": "loaded|error|ended|complete|cancel", "reason": "..." }
func ViewerEventHandler(d ViewerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Type   string `json:"type" validate:"required,oneof=loaded error ended complete cancel"`
			Reason string `json:"reason" validate:"max=512"`
		}
		if !decode(w, r, &req) {
			return
		}
		ctx := r.Context()
		c, err := d.Registry.Get(auth.SubjectFromContext(ctx), chi.URLParam(r, "viewerID"))
		if err != nil {
			fail(w, err)
			return
		}

		var t viewer.Target
		switch req.Type {
		case "loaded":
			t, err = c.LoadSucceeded(ctx)
		case "error":
			t, err = c.LoadFailed(ctx, req.Reason)
		case "ended":
			err = c.PlaybackEnded(ctx)
			t = c.Current()
		case "complete":
			err = c.MarkComplete(ctx)
			t = c.Current()
		case "cancel":
			c.Cancel()
			d.Registry.Remove(c.ID)
			respondJSON(w, http.StatusOK, viewerView(c, viewer.Target{}))
			return
		}
		if err != nil && !errors.Is(err, viewer.ErrRenderExhausted) {
			fail(w, err)
			return
		}
		if c.Progress() >= viewer.MilestoneCompleted {
			d.Registry.Remove(c.ID)
		}
		respondJSON(w, http.StatusOK, viewerView(c, t))
	}
}
