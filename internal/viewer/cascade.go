package viewer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mind-engage/mindengage-progress/internal/course"
)

var (
	// ErrRenderExhausted means every strategy failed. It is an accepted terminal
	// state: the returned Target offers manual open or download.
	ErrRenderExhausted = errors.New("all render strategies failed")
	ErrCancelled       = errors.New("viewer cancelled")
	// ErrNotMedia is returned for a playback-ended signal on a viewer that
	// does not play media.
	ErrNotMedia = errors.New("viewer does not play media")
)

type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateRendered  State = "rendered"
	StateExhausted State = "exhausted"
	StateCancelled State = "cancelled"
)

// Cascade drives one open viewer of one material: it walks the plan's
// strategies on load errors and reports view-progress milestones.
type Cascade struct {
	ID       string
	Material course.Material

	mu       sync.Mutex
	plan     Plan
	resolver Resolver
	prober   Prober
	reporter Reporter
	log      *slog.Logger

	idx       int
	state     State
	recorded  Milestone
	probe     *ProbeResult
	cancel    context.CancelFunc
	createdAt time.Time
}

type CascadeOption func(*Cascade)

func WithResolver(r Resolver) CascadeOption   { return func(c *Cascade) { c.resolver = r } }
func WithProber(p Prober) CascadeOption       { return func(c *Cascade) { c.prober = p } }
func WithReporter(r Reporter) CascadeOption   { return func(c *Cascade) { c.reporter = r } }
func WithPlan(p Plan) CascadeOption           { return func(c *Cascade) { c.plan = p } }
func WithLogger(l *slog.Logger) CascadeOption { return func(c *Cascade) { c.log = l } }

// WithRecorded seeds the ratchet with progress already stored for the material.
func WithRecorded(m Milestone) CascadeOption { return func(c *Cascade) { c.recorded = m } }

func NewCascade(id string, m course.Material, opts ...CascadeOption) *Cascade {
	c := &Cascade{
		ID:        id,
		Material:  m,
		plan:      PlanFor(m.FileType),
		state:     StateIdle,
		log:       slog.Default(),
		createdAt: time.Now(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Open records the open milestone and returns the first target. A source the
// prober reports unreachable fails every network strategy at once.
func (c *Cascade) Open(ctx context.Context) (Target, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		t := c.currentLocked()
		c.mu.Unlock()
		return t, nil
	}
	if err := c.raiseLocked(ctx, MilestoneOpened); err != nil {
		c.mu.Unlock()
		return Target{}, err
	}
	if len(c.plan.Strategies) == 0 {
		c.state = StateExhausted
		t := c.currentLocked()
		c.mu.Unlock()
		return t, ErrRenderExhausted
	}
	c.state = StateLoading
	pctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	doProbe := c.plan.Probe && c.prober != nil
	c.mu.Unlock()

	if !doProbe {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.currentLocked(), nil
	}

	res, err := c.prober.Probe(pctx, c.Material)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCancelled {
		return Target{}, ErrCancelled
	}
	if err != nil {
		// probe failures are not load errors; let the client try
		c.log.Warn("material probe failed", "material_id", c.Material.ID, "error", err)
		return c.currentLocked(), nil
	}
	c.probe = &res
	if !res.Reachable {
		c.log.Info("material source unreachable", "material_id", c.Material.ID, "status", res.StatusCode)
		c.state = StateExhausted
		return c.currentLocked(), ErrRenderExhausted
	}
	return c.currentLocked(), nil
}

// LoadSucceeded marks the current strategy rendered (content-loaded milestone).
// Signals for a cancelled or already-settled viewer are ignored.
func (c *Cascade) LoadSucceeded(ctx context.Context) (Target, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateCancelled:
		return Target{}, ErrCancelled
	case StateLoading:
	default:
		return c.currentLocked(), nil
	}
	c.state = StateRendered
	if err := c.raiseLocked(ctx, MilestoneLoaded); err != nil {
		return Target{}, err
	}
	return c.currentLocked(), nil
}

// LoadFailed advances to the next strategy. Once the list is exhausted the
// terminal fallback target is returned together with ErrRenderExhausted.
func (c *Cascade) LoadFailed(_ context.Context, reason string) (Target, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateCancelled:
		return Target{}, ErrCancelled
	case StateExhausted:
		return c.currentLocked(), ErrRenderExhausted
	case StateLoading:
	default:
		return c.currentLocked(), nil
	}
	c.log.Info("render strategy failed",
		"material_id", c.Material.ID,
		"strategy", c.plan.Strategies[c.idx],
		"reason", reason,
	)
	if c.idx+1 >= len(c.plan.Strategies) && c.plan.Fallback == NoFallback {
		// inline content has nothing to fall back to; keep offering it
		return c.currentLocked(), nil
	}
	if !c.plan.AutoCascade || c.idx+1 >= len(c.plan.Strategies) {
		c.state = StateExhausted
		return c.currentLocked(), ErrRenderExhausted
	}
	c.idx++
	return c.currentLocked(), nil
}

// PlaybackEnded completes a media material. An end of playback implies the
// media loaded, so it is accepted even when the loaded signal never arrived.
func (c *Cascade) PlaybackEnded(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCancelled {
		return ErrCancelled
	}
	if !c.playsMediaLocked() {
		return ErrNotMedia
	}
	if err := c.raiseLocked(ctx, MilestoneCompleted); err != nil {
		return err
	}
	if c.state == StateIdle || c.state == StateLoading {
		c.state = StateRendered
	}
	return nil
}

func (c *Cascade) playsMediaLocked() bool {
	for _, s := range c.plan.Strategies {
		if s == NativeMedia {
			return true
		}
	}
	return false
}

// MarkComplete is the learner's manual override. It succeeds in any state and
// reports nothing when the material is already complete.
func (c *Cascade) MarkComplete(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raiseLocked(ctx, MilestoneCompleted)
}

// Cancel aborts a pending render. Later load signals are ignored, so an
// aborted load never records the content-loaded milestone.
func (c *Cascade) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle || c.state == StateLoading {
		c.state = StateCancelled
	}
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Cascade) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Cascade) Progress() Milestone {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recorded
}

func (c *Cascade) Current() Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked()
}

// Settled reports whether no further cascade signals are expected.
func (c *Cascade) Settled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateCancelled || c.state == StateExhausted || c.recorded >= MilestoneCompleted
}

func (c *Cascade) currentLocked() Target {
	if c.state == StateExhausted || len(c.plan.Strategies) == 0 {
		return c.resolver.BuildFallback(c.plan.Fallback, c.Material)
	}
	t := c.resolver.Build(c.plan.Strategies[c.idx], c.Material)
	if c.probe != nil {
		t.RangeSupported = c.probe.RangeSupported
	}
	if c.plan.Fallback != NoFallback {
		t.Fallback = c.plan.Fallback
	}
	return t
}

// raiseLocked reports m only when it raises the recorded value; the recorded
// value moves only after the reporter accepted it.
func (c *Cascade) raiseLocked(ctx context.Context, m Milestone) error {
	if m <= c.recorded {
		return nil
	}
	if c.reporter != nil {
		if err := c.reporter.Report(ctx, m); err != nil {
			return err
		}
	}
	c.recorded = m
	return nil
}
