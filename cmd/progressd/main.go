package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/mind-engage/mindengage-progress/internal/api/http"
	auth "github.com/mind-engage/mindengage-progress/internal/auth/middleware"
	"github.com/mind-engage/mindengage-progress/internal/config"
	"github.com/mind-engage/mindengage-progress/internal/course"
	"github.com/mind-engage/mindengage-progress/internal/db"
	"github.com/mind-engage/mindengage-progress/internal/expiry"
	"github.com/mind-engage/mindengage-progress/internal/grading"
	"github.com/mind-engage/mindengage-progress/internal/keylock"
	"github.com/mind-engage/mindengage-progress/internal/live"
	"github.com/mind-engage/mindengage-progress/internal/progress"
	"github.com/mind-engage/mindengage-progress/internal/storage"
	syncx "github.com/mind-engage/mindengage-progress/internal/sync"
	"github.com/mind-engage/mindengage-progress/internal/viewer"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to read .env", "error", err)
		os.Exit(1)
	}
	cfg := config.FromEnv()

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	// --- DB ---
	dbh, err := db.Open(initCtx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		slog.Error("db open failed", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	defer dbh.Close()

	catalog := course.NewSQLCatalog(dbh)
	if _, err := course.NewLoader(catalog, logger).LoadFromDir(initCtx, cfg.ModulesDir); err != nil {
		slog.Warn("module definitions not loaded", "dir", cfg.ModulesDir, "error", err)
	}

	// --- Locks ---
	ready := map[string]api.ReadyCheck{"db": dbh.PingContext}
	var locker keylock.Locker = keylock.NewLocal()
	if cfg.LockBackend == "redis" {
		rl, err := keylock.NewRedis(initCtx, keylock.RedisOptions{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.LockTTL,
		})
		if err != nil {
			slog.Error("redis lock backend unavailable", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer rl.Close()
		locker = rl
		ready["redis"] = rl.Ping
	}

	// --- Events ---
	events := syncx.NewEventRepo(dbh, logger)
	hub := live.NewHub(cfg.CORSOrigins, events, logger)
	events.Notify(hub.Deliver)

	engine := progress.NewEngine(catalog, progress.NewSQLStore(dbh, cfg.DBDriver), grading.NewScorer(),
		progress.WithLocker(locker),
		progress.WithSink(events),
		progress.WithLogger(logger),
	)

	// --- Content + viewer ---
	blobs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		slog.Error("blob store", "path", cfg.BlobBasePath, "error", err)
		os.Exit(1)
	}
	prober := viewer.NewHTTPProber(cfg.ProbeTimeout)
	prober.Local = func(_ context.Context, m course.Material) (viewer.ProbeResult, error) {
		if _, err := blobs.Stat(m.SourceRef); err != nil {
			if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
				return viewer.ProbeResult{Reachable: false, StatusCode: http.StatusNotFound}, nil
			}
			return viewer.ProbeResult{}, err
		}
		return viewer.ProbeResult{Reachable: true, RangeSupported: true}, nil
	}
	viewers := viewer.NewRegistry()

	sweeper := expiry.New(engine, viewers, expiry.Options{ViewerMaxAge: cfg.ViewerMaxAge, Logger: logger})
	if err := sweeper.Start(cfg.ExpirySchedule); err != nil {
		slog.Error("expiry sweeper", "error", err)
		os.Exit(1)
	}

	// --- Router ---
	router := api.NewRouter(api.Deps{
		Engine:  engine,
		Catalog: catalog,
		Auth:    auth.NewAuthService(cfg.AuthHMACSecret, cfg.TokenTTL),
		Credentials: auth.Credentials{
			AdminUser:     cfg.AdminUser,
			AdminPassHash: cfg.AdminPassHash,
			AllowDevLogin: cfg.AllowDevLogin,
		},
		Blobs: blobs,
		Viewer: api.ViewerDeps{
			Registry: viewers,
			Resolver: viewer.Resolver{ContentBase: cfg.PublicURL + "/content"},
			Prober:   prober,
			Logger:   logger,
		},
		Hub:         hub,
		Ready:       ready,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})

	// no WriteTimeout: websockets and uploads are long-lived
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		slog.Info("listening", "addr", cfg.HTTPAddr, "mode", cfg.Mode, "db", cfg.DBDriver, "locks", cfg.LockBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down")

	<-sweeper.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	slog.Info("stopped")
}
