package http

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	auth "github.com/mind-engage/mindengage-progress/internal/auth/middleware"
	"github.com/mind-engage/mindengage-progress/internal/course"
	"github.com/mind-engage/mindengage-progress/internal/live"
	"github.com/mind-engage/mindengage-progress/internal/progress"
	"github.com/mind-engage/mindengage-progress/internal/rbac"
	"github.com/mind-engage/mindengage-progress/internal/storage"
)

// Deps wires the HTTP surface to the services behind it.
type Deps struct {
	Engine      *progress.Engine
	Catalog     course.Catalog
	Auth        *auth.AuthService
	Credentials auth.Credentials
	Blobs       storage.BlobStore
	Viewer      ViewerDeps
	Hub         *live.Hub
	Ready       map[string]ReadyCheck
	CORSOrigins []string
	Timeout     time.Duration
	Logger      *slog.Logger
}

func NewRouter(d Deps) chi.Router {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, RequestLogger(d.Logger), middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Range"},
		ExposedHeaders:   []string{"Content-Length", "Content-Range", "Accept-Ranges"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(d.Ready, 0))
	r.Post("/auth/login", auth.LoginHandler(d.Auth, d.Credentials))

	// Material bytes are fetched by iframes and third-party document
	// viewers, which cannot send a bearer token.
	r.Route("/content", func(cr chi.Router) {
		MountContent(cr, d.Blobs)
	})

	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(d.Auth))

		pr.With(rbac.Require("events:subscribe")).Get("/live", LiveHandler(d.Hub))

		pr.Route("/api/v1", func(ar chi.Router) {
			ar.Group(func(tr chi.Router) {
				tr.Use(middleware.Timeout(d.Timeout))
				mountLearnerAPI(tr, d)

				tr.With(rbac.Require(rbac.PermModuleWrite)).Get("/admin/modules", ListModulesHandler(d.Catalog))
				tr.With(rbac.Require(rbac.PermModuleWrite)).Put("/admin/modules/{moduleID}", PutModuleHandler(d.Catalog))
				tr.With(rbac.Require(rbac.PermProgressAll)).
					Get("/admin/learners/{learnerID}/modules/{moduleID}/progress", LearnerProgressHandler(d.Engine))
			})
			// uploads can outlive the API timeout
			ar.With(rbac.Require(rbac.PermContentWrite)).Put("/admin/content/*", UploadContentHandler(d.Blobs))
		})
	})

	return r
}

func mountLearnerAPI(r chi.Router, d Deps) {
	r.With(rbac.Require(rbac.PermModuleView)).
		Get("/modules/{moduleID}", GetModuleHandler(d.Catalog))
	r.With(rbac.Require(rbac.PermProgressView)).
		Get("/modules/{moduleID}/progress", ProgressHandler(d.Engine))
	r.With(rbac.Require(rbac.PermProgressView)).
		Get("/modules/{moduleID}/resume", ResumeHandler(d.Engine))

	const comp = "/modules/{moduleID}/components/{componentID}"
	r.With(rbac.Require(rbac.PermProgressOwn)).Post(comp+"/open", OpenComponentHandler(d.Engine))
	r.With(rbac.Require(rbac.PermProgressOwn)).Post(comp+"/time", TimeSpentHandler(d.Engine))
	r.With(rbac.Require("attempt:create")).Post(comp+"/attempts", StartAttemptHandler(d.Engine))
	r.With(rbac.Require("attempt:view-own")).Get(comp+"/attempts", AttemptHistoryHandler(d.Engine))
	r.With(rbac.Require("attempt:submit")).Post(comp+"/submit", SubmitAssessmentHandler(d.Engine))
	r.With(rbac.Require(rbac.PermProgressOwn)).
		Post(comp+"/materials/{materialID}/progress", MaterialProgressHandler(d.Engine))
	r.With(rbac.Require(rbac.PermViewer)).
		Post(comp+"/materials/{materialID}/viewer", OpenViewerHandler(d.Engine, d.Viewer))

	r.With(rbac.Require("attempt:save")).Put("/attempts/{sessionID}/answers", SaveAnswersHandler(d.Engine))
	r.With(rbac.Require("attempt:submit")).Post("/attempts/{sessionID}/submit", SubmitAttemptHandler(d.Engine))
	r.With(rbac.Require(rbac.PermViewer)).Post("/viewer/{viewerID}/events", ViewerEventHandler(d.Viewer))
}
