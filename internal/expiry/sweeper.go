// Package expiry runs the periodic housekeeping jobs: auto-submitting
// attempt sessions whose time limit passed and dropping abandoned viewers.
package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mind-engage/mindengage-progress/internal/viewer"
)

// Expirer force-submits sessions past their deadline.
type Expirer interface {
	ExpireSessions(ctx context.Context) (int, error)
}

type Sweeper struct {
	cron         *cron.Cron
	expirer      Expirer
	viewers      *viewer.Registry
	viewerMaxAge time.Duration
	timeout      time.Duration
	now          func() time.Time
	log          *slog.Logger
}

type Options struct {
	// ViewerMaxAge is how long an open viewer may sit without settling.
	ViewerMaxAge time.Duration
	// Timeout bounds one sweep.
	Timeout time.Duration
	Logger  *slog.Logger
}

func New(expirer Expirer, viewers *viewer.Registry, opts Options) *Sweeper {
	if opts.ViewerMaxAge <= 0 {
		opts.ViewerMaxAge = 2 * time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sweeper{
		cron:         cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		expirer:      expirer,
		viewers:      viewers,
		viewerMaxAge: opts.ViewerMaxAge,
		timeout:      opts.Timeout,
		now:          time.Now,
		log:          opts.Logger,
	}
}

// Start schedules the sweep, e.g. "@every 30s" or "* * * * *".
func (s *Sweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("expiry schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.log.Info("expiry sweeper started", "schedule", schedule)
	return nil
}

// Stop prevents new runs and returns a context done when the running one ends.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

// Result summarizes one sweep.
type Result struct {
	Sessions int
	Viewers  int
}

func (s *Sweeper) RunOnce(ctx context.Context) Result {
	var res Result
	if s.expirer != nil {
		n, err := s.expirer.ExpireSessions(ctx)
		if err != nil {
			s.log.Error("session expiry sweep failed", "error", err)
		}
		res.Sessions = n
	}
	if s.viewers != nil {
		res.Viewers = s.viewers.Sweep(s.now(), s.viewerMaxAge)
	}
	if res.Sessions > 0 || res.Viewers > 0 {
		s.log.Info("expiry sweep", "sessions_submitted", res.Sessions, "viewers_dropped", res.Viewers)
	}
	return res
}
