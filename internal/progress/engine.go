package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-progress/internal/course"
	"github.com/mind-engage/mindengage-progress/internal/grading"
	"github.com/mind-engage/mindengage-progress/internal/keylock"
	"github.com/mind-engage/mindengage-progress/internal/viewer"
)

// maxHeartbeat caps a single time-spent report.
const maxHeartbeat = 24 * 60 * 60

// Engine is the progression state machine. It owns every write to learner
// progress and consumes results from the scorer and the viewer cascade.
type Engine struct {
	catalog course.Catalog
	store   Store
	scorer  *grading.Scorer
	locker  keylock.Locker
	sinks   Sinks
	now     func() time.Time
	newID   func() string
	log     *slog.Logger
}

type Option func(*Engine)

// WithLocker replaces the in-process per-key lock, e.g. with keylock.Redis.
func WithLocker(l keylock.Locker) Option { return func(e *Engine) { e.locker = l } }

// WithSink adds an event sink.
func WithSink(s EventSink) Option { return func(e *Engine) { e.sinks = append(e.sinks, s) } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

func WithIDs(f func() string) Option { return func(e *Engine) { e.newID = f } }

func NewEngine(catalog course.Catalog, store Store, scorer *grading.Scorer, opts ...Option) *Engine {
	if scorer == nil {
		scorer = grading.NewScorer()
	}
	e := &Engine{
		catalog: catalog,
		store:   store,
		scorer:  scorer,
		locker:  keylock.NewLocal(),
		now:     time.Now,
		newID:   uuid.NewString,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ComponentState is one row of a Snapshot.
type ComponentState struct {
	ComponentID       string               `json:"component_id"`
	Order             int                  `json:"order"`
	Type              course.ComponentType `json:"type"`
	Required          bool                 `json:"required"`
	Status            Status               `json:"status"` // LOCKED when not reachable
	Locked            bool                 `json:"locked"`
	Exhausted         bool                 `json:"exhausted,omitempty"`
	RemainingAttempts *int                 `json:"remaining_attempts,omitempty"`
	Progress          ComponentProgress    `json:"progress"`
	Materials         []MaterialProgress   `json:"materials,omitempty"`
}

// Snapshot is a learner's view of a module.
type Snapshot struct {
	LearnerID       string           `json:"learner_id"`
	ModuleID        string           `json:"module_id"`
	Status          Status           `json:"status"`
	OverallProgress int              `json:"overall_progress"`
	Completed       bool             `json:"completed"`
	Components      []ComponentState `json:"components"`
	Resume          ResumeTarget     `json:"resume"`
}

// Outcome is the result of submitting an attempt.
type Outcome struct {
	Attempt           grading.Attempt   `json:"attempt"`
	Progress          ComponentProgress `json:"progress"`
	Status            Status            `json:"status"`
	Exhausted         bool              `json:"exhausted"`
	RemainingAttempts int               `json:"remaining_attempts"`
}

// MaterialReport is the result of a viewer milestone.
type MaterialReport struct {
	Material  MaterialProgress  `json:"material"`
	Component ComponentProgress `json:"component"`
}

type located struct {
	module course.Module
	comp   course.Component
	index  int
	items  []Item
	recs   map[string]ComponentProgress
}

func (e *Engine) module(ctx context.Context, moduleID string) (course.Module, error) {
	m, err := e.catalog.GetModule(ctx, moduleID)
	if err != nil {
		return course.Module{}, fmt.Errorf("module %s: %w", moduleID, err)
	}
	if m.Status == course.ModuleDraft {
		return course.Module{}, fmt.Errorf("module %s: %w", moduleID, ErrNotFound)
	}
	return m, nil
}

func (e *Engine) items(ctx context.Context, learner string, m course.Module) ([]Item, map[string]ComponentProgress, error) {
	ids := make([]string, len(m.Components))
	for i, c := range m.Components {
		ids[i] = c.ID
	}
	recs, err := e.store.Components(ctx, learner, ids)
	if err != nil {
		return nil, nil, err
	}
	return Items(m, recs), recs, nil
}

func (e *Engine) locate(ctx context.Context, learner, moduleID, componentID string) (located, error) {
	m, err := e.module(ctx, moduleID)
	if err != nil {
		return located{}, err
	}
	c, idx, ok := m.Component(componentID)
	if !ok {
		return located{}, fmt.Errorf("component %s: %w", componentID, ErrNotFound)
	}
	items, recs, err := e.items(ctx, learner, m)
	if err != nil {
		return located{}, err
	}
	return located{module: m, comp: c, index: idx, items: items, recs: recs}, nil
}

func assessmentOf(c course.Component) (course.AssessmentSpec, error) {
	if !c.Type.IsAssessment() || c.Assessment == nil {
		return course.AssessmentSpec{}, fmt.Errorf("%w: %s is %s", ErrWrongType, c.ID, c.Type)
	}
	if err := course.ValidateAssessment(*c.Assessment); err != nil {
		return course.AssessmentSpec{}, err
	}
	return *c.Assessment, nil
}

func remaining(spec course.AssessmentSpec, cp ComponentProgress) int {
	if cp.Status == StatusCompleted || IsTerminal(spec, cp) {
		return 0
	}
	if r := AttemptLimit(spec) - cp.Attempts; r > 0 {
		return r
	}
	return 0
}

// Snapshot returns every component's state, the aggregate and the resume target.
func (e *Engine) Snapshot(ctx context.Context, learner, moduleID string) (Snapshot, error) {
	m, err := e.module(ctx, moduleID)
	if err != nil {
		return Snapshot{}, err
	}
	items, recs, err := e.items(ctx, learner, m)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{LearnerID: learner, ModuleID: m.ID, Components: make([]ComponentState, len(m.Components))}
	anyStarted := false
	for i, c := range m.Components {
		cp := recs[c.ID]
		st := ComponentState{
			ComponentID: c.ID,
			Order:       c.Order,
			Type:        c.Type,
			Required:    c.Required,
			Status:      cp.Status,
			Progress:    cp,
		}
		if !IsUnlocked(items, i) {
			st.Locked = true
			st.Status = StatusLocked
		}
		if cp.Status.Started() {
			anyStarted = true
		}
		if c.Assessment != nil {
			st.Exhausted = items[i].Terminal
			r := remaining(*c.Assessment, cp)
			st.RemainingAttempts = &r
		}
		if c.Materials != nil && cp.Status.Started() {
			mats, err := e.store.Materials(ctx, learner, c.ID)
			if err != nil {
				return Snapshot{}, err
			}
			st.Materials = mats
		}
		snap.Components[i] = st
	}
	snap.OverallProgress, snap.Completed = Aggregate(items)
	switch {
	case snap.Completed:
		snap.Status = StatusCompleted
	case anyStarted:
		snap.Status = StatusInProgress
	default:
		snap.Status = StatusNotStarted
	}
	snap.Resume = Resume(items)
	return snap, nil
}

// Resume returns where the learner should continue in the module.
func (e *Engine) Resume(ctx context.Context, learner, moduleID string) (ResumeTarget, error) {
	m, err := e.module(ctx, moduleID)
	if err != nil {
		return ResumeTarget{}, err
	}
	items, _, err := e.items(ctx, learner, m)
	if err != nil {
		return ResumeTarget{}, err
	}
	return Resume(items), nil
}

// OpenComponent moves an unlocked component from NOT_STARTED to IN_PROGRESS.
// Opening a started component is a no-op returning its record.
func (e *Engine) OpenComponent(ctx context.Context, learner, moduleID, componentID string) (ComponentProgress, error) {
	loc, err := e.locate(ctx, learner, moduleID, componentID)
	if err != nil {
		return ComponentProgress{}, err
	}
	if !IsUnlocked(loc.items, loc.index) {
		return ComponentProgress{}, fmt.Errorf("%w: %s", ErrLockedComponent, componentID)
	}
	cp := loc.recs[componentID]
	if cp.Status.Started() {
		return cp, nil
	}
	return e.start(ctx, learner, loc, false)
}

func (e *Engine) start(ctx context.Context, learner string, loc located, reopen bool) (ComponentProgress, error) {
	now := e.now()
	cp, err := e.store.MergeComponent(ctx, learner, loc.comp.ID, ComponentPatch{
		Status:    StatusInProgress,
		Reopen:    reopen,
		StartedAt: &now,
	})
	if err != nil {
		return ComponentProgress{}, err
	}
	e.publish(ctx, Event{
		Type:        EventComponentStarted,
		LearnerID:   learner,
		ModuleID:    loc.module.ID,
		ComponentID: loc.comp.ID,
		Status:      cp.Status,
		Progress:    cp.ProgressPercentage,
		Attempts:    cp.Attempts,
	})
	return cp, nil
}

// StartAttempt opens a timed attempt session on an assessment component.
// An open session still within its deadline is returned as is.
func (e *Engine) StartAttempt(ctx context.Context, learner, moduleID, componentID string) (AttemptSession, error) {
	loc, err := e.locate(ctx, learner, moduleID, componentID)
	if err != nil {
		return AttemptSession{}, err
	}
	spec, err := assessmentOf(loc.comp)
	if err != nil {
		return AttemptSession{}, err
	}
	if !IsUnlocked(loc.items, loc.index) {
		return AttemptSession{}, fmt.Errorf("%w: %s", ErrLockedComponent, componentID)
	}

	unlock, err := e.locker.Lock(ctx, keylock.Key(learner, componentID))
	if err != nil {
		return AttemptSession{}, err
	}
	defer unlock()

	now := e.now()
	open, found, err := e.store.OpenSession(ctx, learner, componentID)
	if err != nil {
		return AttemptSession{}, err
	}
	if found {
		if !open.PastDeadline(now) {
			return open, nil
		}
		// stale session: auto-submit what it holds before starting over
		if _, err := e.finalize(ctx, loc.module, loc.comp, spec, open, open.Answers, true); err != nil &&
			!errors.Is(err, ErrAlreadyCompleted) && !errors.Is(err, ErrAttemptsExhausted) && !errors.Is(err, ErrSessionClosed) {
			return AttemptSession{}, err
		}
	}

	cp, err := e.store.Component(ctx, learner, componentID)
	if err != nil {
		return AttemptSession{}, err
	}
	if cp.Status == StatusCompleted {
		return AttemptSession{}, fmt.Errorf("%w: %s", ErrAlreadyCompleted, componentID)
	}
	if limit := AttemptLimit(spec); IsTerminal(spec, cp) || cp.Attempts >= limit {
		return AttemptSession{}, fmt.Errorf("%w: %s used %d of %d", ErrAttemptsExhausted, componentID, cp.Attempts, limit)
	}

	sess := AttemptSession{
		ID:          e.newID(),
		LearnerID:   learner,
		ModuleID:    loc.module.ID,
		ComponentID: componentID,
		Status:      SessionOpen,
		Answers:     map[string]interface{}{},
		StartedAt:   now,
	}
	if spec.TimeLimitMinutes > 0 {
		d := now.Add(time.Duration(spec.TimeLimitMinutes) * time.Minute)
		sess.Deadline = &d
	}
	if err := e.store.PutSession(ctx, sess); err != nil {
		return AttemptSession{}, err
	}
	if cp.Status != StatusInProgress {
		if _, err := e.start(ctx, learner, loc, cp.Status == StatusFailed); err != nil {
			return AttemptSession{}, err
		}
	}
	e.log.Debug("attempt session started", "learner", learner, "component", componentID, "session", sess.ID)
	return sess, nil
}

// session loads a session owned by learner. Foreign sessions are not found.
func (e *Engine) session(ctx context.Context, learner, id string) (AttemptSession, error) {
	s, err := e.store.Session(ctx, id)
	if err != nil {
		return AttemptSession{}, fmt.Errorf("session %s: %w", id, err)
	}
	if s.LearnerID != learner {
		return AttemptSession{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s, nil
}

// SaveAnswers merges draft answers into an open session. Past the deadline
// the session is auto-submitted with what it already holds and the new
// answers are discarded.
func (e *Engine) SaveAnswers(ctx context.Context, learner, sessionID string, answers map[string]interface{}) (AttemptSession, error) {
	s, err := e.session(ctx, learner, sessionID)
	if err != nil {
		return AttemptSession{}, err
	}
	unlock, err := e.locker.Lock(ctx, keylock.Key(learner, s.ComponentID))
	if err != nil {
		return AttemptSession{}, err
	}
	defer unlock()

	if s, err = e.session(ctx, learner, sessionID); err != nil {
		return AttemptSession{}, err
	}
	if s.Status != SessionOpen {
		return s, ErrSessionClosed
	}
	if s.PastDeadline(e.now()) {
		if err := e.expireLocked(ctx, s); err != nil {
			return s, err
		}
		return s, fmt.Errorf("%w: deadline passed", ErrSessionClosed)
	}
	for k, v := range answers {
		s.Answers[k] = v
	}
	if err := e.store.PutSession(ctx, s); err != nil {
		return AttemptSession{}, err
	}
	return s, nil
}

// SubmitAttempt scores the session and records the attempt. Submissions
// for the same learner and component are serialized, and the attempt
// counter only moves while it is below MaxAttempts.
func (e *Engine) SubmitAttempt(ctx context.Context, learner, sessionID string, answers map[string]interface{}) (Outcome, error) {
	s, err := e.session(ctx, learner, sessionID)
	if err != nil {
		return Outcome{}, err
	}
	unlock, err := e.locker.Lock(ctx, keylock.Key(learner, s.ComponentID))
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	if s, err = e.session(ctx, learner, sessionID); err != nil {
		return Outcome{}, err
	}
	if s.Status != SessionOpen {
		return Outcome{}, ErrSessionClosed
	}
	m, err := e.module(ctx, s.ModuleID)
	if err != nil {
		return Outcome{}, err
	}
	c, _, ok := m.Component(s.ComponentID)
	if !ok {
		return Outcome{}, fmt.Errorf("component %s: %w", s.ComponentID, ErrNotFound)
	}
	spec, err := assessmentOf(c)
	if err != nil {
		return Outcome{}, err
	}

	expired := s.PastDeadline(e.now())
	final := s.Answers
	if !expired {
		for k, v := range answers {
			final[k] = v
		}
	}
	return e.finalize(ctx, m, c, spec, s, final, expired)
}

// SubmitAssessment starts (or reuses) a session and submits it in one call.
func (e *Engine) SubmitAssessment(ctx context.Context, learner, moduleID, componentID string, answers map[string]interface{}) (Outcome, error) {
	s, err := e.StartAttempt(ctx, learner, moduleID, componentID)
	if err != nil {
		return Outcome{}, err
	}
	return e.SubmitAttempt(ctx, learner, s.ID, answers)
}

// finalize closes the session, scores it and merges the result. The caller
// holds the (learner, component) lock.
func (e *Engine) finalize(ctx context.Context, m course.Module, c course.Component, spec course.AssessmentSpec,
	s AttemptSession, answers map[string]interface{}, expired bool) (Outcome, error) {

	learner := s.LearnerID
	now := e.now()
	closeAs := SessionSubmitted
	if expired {
		closeAs = SessionExpired
	}

	cp, err := e.store.Component(ctx, learner, c.ID)
	if err != nil {
		return Outcome{}, err
	}
	if cp.Status == StatusCompleted {
		if _, err := e.store.CloseSession(ctx, s.ID, closeAs, now); err != nil {
			return Outcome{}, err
		}
		return Outcome{Progress: cp, Status: cp.Status}, fmt.Errorf("%w: %s", ErrAlreadyCompleted, c.ID)
	}

	attempt, err := e.scorer.Score(ctx, spec, m.EffectivePassingScore(spec), answers)
	if err != nil {
		return Outcome{}, err
	}

	closed, err := e.store.CloseSession(ctx, s.ID, closeAs, now)
	if err != nil {
		return Outcome{}, err
	}
	if !closed {
		return Outcome{}, ErrSessionClosed
	}
	seq, err := e.store.IncrementAttempts(ctx, learner, c.ID, AttemptLimit(spec))
	if err != nil {
		if errors.Is(err, ErrAttemptsExhausted) {
			return Outcome{Progress: cp, Status: cp.Status, Exhausted: true}, fmt.Errorf("%w: %s", ErrAttemptsExhausted, c.ID)
		}
		// nothing was counted; give the learner the session back
		if rerr := e.store.ReopenSession(ctx, s.ID, closeAs); rerr != nil {
			e.log.Error("reopen session after failed submit", "session", s.ID, "error", rerr)
		}
		return Outcome{}, err
	}

	attempt.ID = e.newID()
	attempt.ComponentID = c.ID
	attempt.Sequence = seq
	attempt.Expired = expired
	attempt.SubmittedAt = now
	if expired && s.Deadline != nil {
		attempt.SubmittedAt = *s.Deadline
	}
	if err := e.store.AppendAttempt(ctx, learner, attempt); err != nil {
		return Outcome{}, err
	}
	if spent := int64(attempt.SubmittedAt.Sub(s.StartedAt) / time.Second); spent > 0 {
		if _, err := e.store.AddTimeSpent(ctx, learner, c.ID, spent); err != nil {
			return Outcome{}, err
		}
	}

	score := attempt.ScorePercent
	patch := ComponentPatch{Status: StatusFailed, Score: &score, ScoreSequence: seq}
	if attempt.Passed {
		patch.Status = StatusCompleted
	}
	prev := cp.Status
	cp, err = e.store.MergeComponent(ctx, learner, c.ID, patch)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{
		Attempt:           attempt,
		Progress:          cp,
		Status:            cp.Status,
		Exhausted:         IsTerminal(spec, cp),
		RemainingAttempts: remaining(spec, cp),
	}
	e.log.Info("attempt submitted",
		"learner", learner, "component", c.ID, "attempt", seq,
		"score", attempt.ScorePercent, "passed", attempt.Passed, "expired", expired)

	e.publish(ctx, Event{
		Type:        EventAttemptSubmitted,
		LearnerID:   learner,
		ModuleID:    m.ID,
		ComponentID: c.ID,
		Status:      cp.Status,
		Progress:    cp.ProgressPercentage,
		Score:       &score,
		Attempts:    cp.Attempts,
	})
	e.transitioned(ctx, learner, m, c.ID, prev, cp)
	return out, nil
}

// transitioned emits completion or failure events and the module roll-up.
func (e *Engine) transitioned(ctx context.Context, learner string, m course.Module, componentID string, prev Status, cp ComponentProgress) {
	if prev == cp.Status {
		return
	}
	ev := Event{
		LearnerID:   learner,
		ModuleID:    m.ID,
		ComponentID: componentID,
		Status:      cp.Status,
		Progress:    cp.ProgressPercentage,
		Score:       cp.Score,
		Attempts:    cp.Attempts,
	}
	switch cp.Status {
	case StatusCompleted:
		ev.Type = EventComponentCompleted
	case StatusFailed:
		ev.Type = EventComponentFailed
	default:
		return
	}
	e.publish(ctx, ev)
	if cp.Status != StatusCompleted {
		return
	}
	items, _, err := e.items(ctx, learner, m)
	if err != nil {
		e.log.Warn("module roll-up failed", "learner", learner, "module", m.ID, "error", err)
		return
	}
	if overall, done := Aggregate(items); done {
		e.publish(ctx, Event{Type: EventModuleCompleted, LearnerID: learner, ModuleID: m.ID, Status: StatusCompleted, Progress: overall})
	}
}

// ReportMilestone merges a viewer milestone into the material's progress and
// completes the component once every required material is completed.
func (e *Engine) ReportMilestone(ctx context.Context, learner, moduleID, componentID, materialID string, ms viewer.Milestone) (MaterialReport, error) {
	switch ms {
	case viewer.MilestoneOpened, viewer.MilestoneLoaded, viewer.MilestoneCompleted:
	default:
		return MaterialReport{}, fmt.Errorf("%w: milestone %d", ErrInvalidInput, ms)
	}
	loc, _, err := e.locateMaterial(ctx, learner, moduleID, componentID, materialID)
	if err != nil {
		return MaterialReport{}, err
	}

	unlock, err := e.locker.Lock(ctx, keylock.Key(learner, componentID))
	if err != nil {
		return MaterialReport{}, err
	}
	defer unlock()

	cp, err := e.store.Component(ctx, learner, componentID)
	if err != nil {
		return MaterialReport{}, err
	}
	if !cp.Status.Started() {
		if cp, err = e.start(ctx, learner, loc, false); err != nil {
			return MaterialReport{}, err
		}
	}

	before, err := e.store.Materials(ctx, learner, componentID)
	if err != nil {
		return MaterialReport{}, err
	}
	var prevMat MaterialProgress
	for _, mp := range before {
		if mp.MaterialID == materialID {
			prevMat = mp
		}
	}
	mp, err := e.store.MergeMaterial(ctx, learner, componentID, materialID, MaterialPatch{
		ViewProgress: int(ms),
		Completed:    ms >= viewer.MilestoneCompleted,
	})
	if err != nil {
		return MaterialReport{}, err
	}
	if mp.ViewProgress == prevMat.ViewProgress && mp.Completed == prevMat.Completed {
		return MaterialReport{Material: mp, Component: cp}, nil
	}
	e.publish(ctx, Event{
		Type:        EventMaterialProgress,
		LearnerID:   learner,
		ModuleID:    loc.module.ID,
		ComponentID: componentID,
		MaterialID:  materialID,
		Status:      cp.Status,
		Progress:    mp.ViewProgress,
	})

	cp, err = e.rollUp(ctx, learner, loc, cp)
	if err != nil {
		return MaterialReport{}, err
	}
	return MaterialReport{Material: mp, Component: cp}, nil
}

func (e *Engine) locateMaterial(ctx context.Context, learner, moduleID, componentID, materialID string) (located, course.Material, error) {
	loc, err := e.locate(ctx, learner, moduleID, componentID)
	if err != nil {
		return located{}, course.Material{}, err
	}
	if loc.comp.Materials == nil {
		return located{}, course.Material{}, fmt.Errorf("%w: %s is %s", ErrWrongType, componentID, loc.comp.Type)
	}
	mat, ok := loc.comp.Material(materialID)
	if !ok {
		return located{}, course.Material{}, fmt.Errorf("material %s: %w", materialID, ErrNotFound)
	}
	if !IsUnlocked(loc.items, loc.index) {
		return located{}, course.Material{}, fmt.Errorf("%w: %s", ErrLockedComponent, componentID)
	}
	return loc, mat, nil
}

// Material returns a material of an unlocked material component.
func (e *Engine) Material(ctx context.Context, learner, moduleID, componentID, materialID string) (course.Material, error) {
	_, mat, err := e.locateMaterial(ctx, learner, moduleID, componentID, materialID)
	return mat, err
}

// rollUp recomputes a material component from its materials. Component
// progress is the mean view progress of required materials.
func (e *Engine) rollUp(ctx context.Context, learner string, loc located, cp ComponentProgress) (ComponentProgress, error) {
	mats, err := e.store.Materials(ctx, learner, loc.comp.ID)
	if err != nil {
		return ComponentProgress{}, err
	}
	byID := make(map[string]MaterialProgress, len(mats))
	for _, mp := range mats {
		byID[mp.MaterialID] = mp
	}
	var sum, req int
	all := true
	for _, m := range loc.comp.Materials.Materials {
		if !m.Required() {
			continue
		}
		req++
		mp := byID[m.ID]
		sum += mp.ViewProgress
		if !mp.Completed {
			all = false
		}
	}
	patch := ComponentPatch{ProgressPercentage: 100}
	if req > 0 {
		patch.ProgressPercentage = sum / req
	}
	if all {
		patch.Status = StatusCompleted
	}
	prev := cp.Status
	next, err := e.store.MergeComponent(ctx, learner, loc.comp.ID, patch)
	if err != nil {
		return ComponentProgress{}, err
	}
	e.transitioned(ctx, learner, loc.module, loc.comp.ID, prev, next)
	return next, nil
}

// MaterialReporter adapts ReportMilestone to the viewer cascade.
func (e *Engine) MaterialReporter(learner, moduleID, componentID, materialID string) viewer.Reporter {
	return viewer.ReporterFunc(func(ctx context.Context, m viewer.Milestone) error {
		_, err := e.ReportMilestone(ctx, learner, moduleID, componentID, materialID, m)
		return err
	})
}

// RecordedMilestone returns the highest milestone already stored for a material.
func (e *Engine) RecordedMilestone(ctx context.Context, learner, componentID, materialID string) (viewer.Milestone, error) {
	mats, err := e.store.Materials(ctx, learner, componentID)
	if err != nil {
		return viewer.MilestoneNone, err
	}
	for _, mp := range mats {
		if mp.MaterialID == materialID {
			return viewer.Milestone(mp.ViewProgress), nil
		}
	}
	return viewer.MilestoneNone, nil
}

// AddTimeSpent adds a heartbeat of seconds to a started component.
func (e *Engine) AddTimeSpent(ctx context.Context, learner, moduleID, componentID string, seconds int64) (ComponentProgress, error) {
	if seconds <= 0 || seconds > maxHeartbeat {
		return ComponentProgress{}, fmt.Errorf("%w: seconds %d", ErrInvalidInput, seconds)
	}
	loc, err := e.locate(ctx, learner, moduleID, componentID)
	if err != nil {
		return ComponentProgress{}, err
	}
	if !loc.recs[componentID].Status.Started() {
		return ComponentProgress{}, fmt.Errorf("%w: %s not started", ErrInvalidInput, componentID)
	}
	return e.store.AddTimeSpent(ctx, learner, componentID, seconds)
}

// Attempts returns the learner's attempt history, oldest first.
func (e *Engine) Attempts(ctx context.Context, learner, moduleID, componentID string) ([]grading.Attempt, error) {
	loc, err := e.locate(ctx, learner, moduleID, componentID)
	if err != nil {
		return nil, err
	}
	if _, err := assessmentOf(loc.comp); err != nil && errors.Is(err, ErrWrongType) {
		return nil, err
	}
	return e.store.ListAttempts(ctx, learner, componentID)
}

// ExpireSessions auto-submits every open session past its deadline with
// the answers stored before expiry. It returns how many were closed.
func (e *Engine) ExpireSessions(ctx context.Context) (int, error) {
	sessions, err := e.store.ExpiredSessions(ctx, e.now())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		unlock, err := e.locker.Lock(ctx, keylock.Key(s.LearnerID, s.ComponentID))
		if err != nil {
			return n, err
		}
		cur, err := e.store.Session(ctx, s.ID)
		if err == nil && cur.Status == SessionOpen {
			err = e.expireLocked(ctx, cur)
			if err == nil {
				n++
			}
		}
		unlock()
		if err != nil {
			e.log.Warn("session expiry failed", "session", s.ID, "learner", s.LearnerID, "error", err)
		}
	}
	return n, nil
}

// expireLocked force-submits s. Sessions that can no longer be scored are
// closed without an attempt.
func (e *Engine) expireLocked(ctx context.Context, s AttemptSession) error {
	m, err := e.module(ctx, s.ModuleID)
	var (
		c  course.Component
		ok bool
	)
	if err == nil {
		c, _, ok = m.Component(s.ComponentID)
	}
	var spec course.AssessmentSpec
	if ok {
		spec, err = assessmentOf(c)
	}
	if err != nil || !ok {
		_, cerr := e.store.CloseSession(ctx, s.ID, SessionExpired, e.now())
		if cerr != nil {
			return cerr
		}
		e.log.Warn("closed unscorable session", "session", s.ID, "error", err)
		return nil
	}
	_, err = e.finalize(ctx, m, c, spec, s, s.Answers, true)
	switch {
	case err == nil, errors.Is(err, ErrAlreadyCompleted), errors.Is(err, ErrAttemptsExhausted):
		return nil
	}
	return err
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if len(e.sinks) == 0 {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.sinks.Publish(ctx, ev)
}
