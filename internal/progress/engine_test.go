package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-progress/internal/course"
	"github.com/mind-engage/mindengage-progress/internal/grading"
	"github.com/mind-engage/mindengage-progress/internal/viewer"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// staticCatalog serves modules without validating them.
type staticCatalog map[string]course.Module

func (c staticCatalog) GetModule(_ context.Context, id string) (course.Module, error) {
	m, ok := c[id]
	if !ok {
		return course.Module{}, course.ErrNotFound
	}
	return m, nil
}

func (c staticCatalog) PutModule(_ context.Context, m course.Module) error {
	c[m.ID] = m
	return nil
}

func (c staticCatalog) ListModules(context.Context) ([]course.Module, error) { return nil, nil }

func twoMCQ() []course.Question {
	return []course.Question{
		{ID: "q1", Text: "Pick a", Type: course.QuestionMCQ, Points: 10, Options: []course.Option{
			{ID: "a", Text: "A", IsCorrect: true}, {ID: "b", Text: "B"},
		}},
		{ID: "q2", Text: "Pick d", Type: course.QuestionMCQ, Points: 10, Options: []course.Option{
			{ID: "c", Text: "C"}, {ID: "d", Text: "D", IsCorrect: true},
		}},
	}
}

var (
	allRight = map[string]interface{}{"q1": "a", "q2": "d"}
	halfWay  = map[string]interface{}{"q1": "a", "q2": "c"}
)

func onboarding() course.Module {
	return course.Module{
		ID:                  "m1",
		Title:               "Onboarding",
		PassingScoreDefault: 70,
		Status:              course.ModulePublished,
		Components: []course.Component{
			{ID: "pre", Order: 0, Type: course.PreAssessment, Required: true, Assessment: &course.AssessmentSpec{
				PassingScore: 70, MaxAttempts: 3, AllowRetake: true, Questions: twoMCQ(),
			}},
			{ID: "mat", Order: 1, Type: course.MaterialList, Required: true, Materials: &course.MaterialListSpec{
				Materials: []course.Material{
					{ID: "pdf", Title: "Handbook", FileType: course.FilePDF, SourceRef: "docs/handbook.pdf"},
					{ID: "vid", Title: "Welcome", FileType: course.FileVideo, SourceRef: "media/welcome.mp4"},
					{ID: "extra", Title: "Blog", FileType: course.FileExternal, SourceRef: "https://example.com/blog", Optional: true},
				},
			}},
			{ID: "post", Order: 2, Type: course.PostAssessment, Required: true, Assessment: &course.AssessmentSpec{
				MaxAttempts: 1, AllowRetake: false, TimeLimitMinutes: 10, Questions: twoMCQ(),
			}},
		},
	}
}

type fixture struct {
	engine *Engine
	store  Store
	clock  *fakeClock
	events *eventRecorder
	cat    staticCatalog
}

func newFixture(t *testing.T, store Store) *fixture {
	t.Helper()
	if store == nil {
		store = NewMemoryStore()
	}
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	rec := &eventRecorder{}
	cat := staticCatalog{"m1": onboarding()}
	n := int64(0)
	e := NewEngine(cat, store, grading.NewScorer(grading.WithClock(clock.Now)),
		WithClock(clock.Now),
		WithSink(rec),
		WithIDs(func() string { return fmt.Sprintf("id-%d", atomic.AddInt64(&n, 1)) }),
	)
	return &fixture{engine: e, store: store, clock: clock, events: rec, cat: cat}
}

func (f *fixture) passPre(t *testing.T) {
	t.Helper()
	out, err := f.engine.SubmitAssessment(context.Background(), "u1", "m1", "pre", allRight)
	if err != nil {
		t.Fatalf("pass pre: %v", err)
	}
	if out.Status != StatusCompleted {
		t.Fatalf("pre status = %s", out.Status)
	}
}

func (f *fixture) finishMaterials(t *testing.T) {
	t.Helper()
	for _, id := range []string{"pdf", "vid"} {
		if _, err := f.engine.ReportMilestone(context.Background(), "u1", "m1", "mat", id, viewer.MilestoneCompleted); err != nil {
			t.Fatalf("complete %s: %v", id, err)
		}
	}
}

func TestEngine_LockedComponent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.engine.OpenComponent(ctx, "u1", "m1", "mat"); !errors.Is(err, ErrLockedComponent) {
		t.Fatalf("expected ErrLockedComponent, got %v", err)
	}
	if _, err := f.engine.ReportMilestone(ctx, "u1", "m1", "mat", "pdf", viewer.MilestoneOpened); !errors.Is(err, ErrLockedComponent) {
		t.Fatalf("milestone on locked component: %v", err)
	}
	if _, err := f.engine.StartAttempt(ctx, "u1", "m1", "post"); !errors.Is(err, ErrLockedComponent) {
		t.Fatalf("attempt on locked component: %v", err)
	}
	cp, _ := f.store.Component(ctx, "u1", "mat")
	if cp.Status != StatusNotStarted {
		t.Fatalf("locked access changed state: %s", cp.Status)
	}

	f.passPre(t)
	cp, err := f.engine.OpenComponent(ctx, "u1", "m1", "mat")
	if err != nil {
		t.Fatalf("open after pass: %v", err)
	}
	if cp.Status != StatusInProgress || cp.StartedAt == nil {
		t.Fatalf("open: %+v", cp)
	}
}

func TestEngine_ScoresAndRecordsAttempt(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	out, err := f.engine.SubmitAssessment(ctx, "u1", "m1", "pre", halfWay)
	if err != nil {
		t.Fatal(err)
	}
	a := out.Attempt
	if a.EarnedPoints != 10 || a.TotalPoints != 20 || a.ScorePercent != 50 || a.Passed {
		t.Fatalf("attempt = %+v", a)
	}
	if out.Status != StatusFailed || out.Exhausted || out.RemainingAttempts != 2 {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Progress.Score == nil || *out.Progress.Score != 50 {
		t.Fatalf("score not recorded: %+v", out.Progress)
	}

	out, err = f.engine.SubmitAssessment(ctx, "u1", "m1", "pre", allRight)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusCompleted || *out.Progress.Score != 100 || out.Attempt.Sequence != 2 {
		t.Fatalf("retake = %+v", out)
	}
	hist, err := f.engine.Attempts(ctx, "u1", "m1", "pre")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].Sequence != 1 || hist[1].Sequence != 2 {
		t.Fatalf("history = %+v", hist)
	}
	if f.events.count(EventComponentCompleted) != 1 || f.events.count(EventComponentFailed) != 1 {
		t.Fatalf("events = %+v", f.events.events)
	}

	if _, err := f.engine.StartAttempt(ctx, "u1", "m1", "pre"); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("attempt on completed: %v", err)
	}
}

func TestEngine_AttemptLimiting(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		out, err := f.engine.SubmitAssessment(ctx, "u1", "m1", "pre", halfWay)
		if err != nil {
			t.Fatalf("submission %d: %v", i, err)
		}
		if want := i == 3; out.Exhausted != want {
			t.Fatalf("submission %d exhausted = %v", i, out.Exhausted)
		}
	}
	if _, err := f.engine.SubmitAssessment(ctx, "u1", "m1", "pre", allRight); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("4th submission: expected ErrAttemptsExhausted, got %v", err)
	}
	cp, _ := f.store.Component(ctx, "u1", "pre")
	if cp.Status != StatusFailed || cp.Attempts != 3 {
		t.Fatalf("progress = %+v", cp)
	}

	snap, err := f.engine.Snapshot(ctx, "u1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Components[0].Exhausted || *snap.Components[0].RemainingAttempts != 0 {
		t.Fatalf("snapshot = %+v", snap.Components[0])
	}
	if snap.Resume.Reason != ResumeBlocked || snap.Resume.ComponentID != "pre" {
		t.Fatalf("resume = %+v", snap.Resume)
	}
}

func TestEngine_NoRetakeIsTerminal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := onboarding()
	m.Components[0].Assessment.MaxAttempts = 5
	m.Components[0].Assessment.AllowRetake = false
	f.cat["m1"] = m

	out, err := f.engine.SubmitAssessment(ctx, "u1", "m1", "pre", halfWay)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Exhausted || out.RemainingAttempts != 0 {
		t.Fatalf("outcome = %+v", out)
	}
	if _, err := f.engine.StartAttempt(ctx, "u1", "m1", "pre"); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
}

func TestEngine_NoRetakeAllowsOneAttempt(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := onboarding()
	m.Components[0].Assessment.AllowRetake = false
	f.cat["m1"] = m

	snap, err := f.engine.Snapshot(ctx, "u1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if r := snap.Components[0].RemainingAttempts; r == nil || *r != 1 {
		t.Fatalf("remaining before any attempt = %v, want 1", r)
	}
	if _, err := f.engine.StartAttempt(ctx, "u1", "m1", "pre"); err != nil {
		t.Fatal(err)
	}
	snap, _ = f.engine.Snapshot(ctx, "u1", "m1")
	if r := snap.Components[0].RemainingAttempts; r == nil || *r != 1 {
		t.Fatalf("remaining while in progress = %v, want 1", r)
	}
}

// flakyStore fails the next IncrementAttempts with an infrastructure error.
type flakyStore struct {
	Store
	fail atomic.Bool
}

func (s *flakyStore) IncrementAttempts(ctx context.Context, learner, component string, max int) (int, error) {
	if s.fail.CompareAndSwap(true, false) {
		return 0, errors.New("connection reset")
	}
	return s.Store.IncrementAttempts(ctx, learner, component, max)
}

func TestEngine_FailedSubmitKeepsSessionOpen(t *testing.T) {
	store := &flakyStore{Store: NewMemoryStore()}
	f := newFixture(t, store)
	ctx := context.Background()

	sess, err := f.engine.StartAttempt(ctx, "u1", "m1", "pre")
	if err != nil {
		t.Fatal(err)
	}
	store.fail.Store(true)
	if _, err := f.engine.SubmitAttempt(ctx, "u1", sess.ID, allRight); err == nil {
		t.Fatal("expected the submit to fail")
	}
	got, err := store.Session(ctx, sess.ID)
	if err != nil || got.Status != SessionOpen || got.ClosedAt != nil {
		t.Fatalf("session after failed submit = %+v, %v", got, err)
	}
	if hist, _ := store.ListAttempts(ctx, "u1", "pre"); len(hist) != 0 {
		t.Fatalf("history = %+v, want none", hist)
	}

	out, err := f.engine.SubmitAttempt(ctx, "u1", sess.ID, allRight)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if out.Status != StatusCompleted || out.Attempt.Sequence != 1 {
		t.Fatalf("retry outcome = %+v", out)
	}
}

func TestEngine_ConcurrentSubmissionsNeverExceedMax(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		succeeded int64
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := f.engine.SubmitAssessment(ctx, "u1", "m1", "pre", halfWay)
				switch {
				case err == nil:
					atomic.AddInt64(&succeeded, 1)
				case errors.Is(err, ErrSessionClosed):
					// another tab submitted the shared session first
				case errors.Is(err, ErrAttemptsExhausted):
					return
				default:
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if succeeded != 3 {
		t.Fatalf("succeeded = %d, want 3", succeeded)
	}
	cp, _ := f.store.Component(ctx, "u1", "pre")
	if cp.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", cp.Attempts)
	}
	hist, _ := f.store.ListAttempts(ctx, "u1", "pre")
	if len(hist) != 3 {
		t.Fatalf("history = %d, want 3", len(hist))
	}
}

func TestEngine_MaterialsCompleteComponent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.passPre(t)

	for _, ms := range []viewer.Milestone{viewer.MilestoneOpened, viewer.MilestoneLoaded, viewer.MilestoneOpened} {
		if _, err := f.engine.ReportMilestone(ctx, "u1", "m1", "mat", "pdf", ms); err != nil {
			t.Fatal(err)
		}
	}
	mats, _ := f.store.Materials(ctx, "u1", "mat")
	if len(mats) != 1 || mats[0].ViewProgress != 75 || mats[0].Completed {
		t.Fatalf("materials = %+v", mats)
	}

	rep, err := f.engine.ReportMilestone(ctx, "u1", "m1", "mat", "pdf", viewer.MilestoneCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Component.Status != StatusInProgress || rep.Component.ProgressPercentage != 50 {
		t.Fatalf("one of two required done: %+v", rep.Component)
	}
	rep, err = f.engine.ReportMilestone(ctx, "u1", "m1", "mat", "vid", viewer.MilestoneCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Component.Status != StatusCompleted {
		t.Fatalf("optional material gated completion: %+v", rep.Component)
	}

	snap, err := f.engine.Snapshot(ctx, "u1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.OverallProgress != 66 || snap.Completed || snap.Status != StatusInProgress {
		t.Fatalf("snapshot = %d %v %s", snap.OverallProgress, snap.Completed, snap.Status)
	}
	if snap.Resume.ComponentID != "post" || snap.Resume.Reason != ResumeNext {
		t.Fatalf("resume = %+v", snap.Resume)
	}
	if snap.Components[2].Locked {
		t.Fatal("post should be unlocked")
	}
}

func TestEngine_IdempotentCompletion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.passPre(t)
	f.finishMaterials(t)

	before := f.events.count(EventMaterialProgress)
	completed := f.events.count(EventComponentCompleted)
	for i := 0; i < 2; i++ {
		if _, err := f.engine.ReportMilestone(ctx, "u1", "m1", "mat", "pdf", viewer.MilestoneCompleted); err != nil {
			t.Fatalf("repeat completion: %v", err)
		}
	}
	if got := f.events.count(EventMaterialProgress); got != before {
		t.Fatalf("duplicate material events: %d -> %d", before, got)
	}
	if got := f.events.count(EventComponentCompleted); got != completed {
		t.Fatalf("duplicate completion events: %d -> %d", completed, got)
	}
}

func TestEngine_ModuleCompletion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.passPre(t)
	f.finishMaterials(t)

	if _, err := f.engine.SubmitAssessment(ctx, "u1", "m1", "post", allRight); err != nil {
		t.Fatal(err)
	}
	snap, err := f.engine.Snapshot(ctx, "u1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Completed || snap.OverallProgress != 100 || snap.Resume.Reason != ResumeComplete {
		t.Fatalf("snapshot = %+v", snap)
	}
	if f.events.count(EventModuleCompleted) != 1 {
		t.Fatalf("module.completed events = %d", f.events.count(EventModuleCompleted))
	}
}

func TestEngine_ExpiryAutoSubmitsStoredAnswers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.passPre(t)
	f.finishMaterials(t)

	sess, err := f.engine.StartAttempt(ctx, "u1", "m1", "post")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Deadline == nil || !sess.Deadline.Equal(f.clock.Now().Add(10*time.Minute)) {
		t.Fatalf("deadline = %v", sess.Deadline)
	}
	if _, err := f.engine.SaveAnswers(ctx, "u1", sess.ID, allRight); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(11 * time.Minute)
	n, err := f.engine.ExpireSessions(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ExpireSessions = %d, %v", n, err)
	}
	hist, _ := f.store.ListAttempts(ctx, "u1", "post")
	if len(hist) != 1 || !hist[0].Expired || !hist[0].Passed {
		t.Fatalf("history = %+v", hist)
	}
	if !hist[0].SubmittedAt.Equal(*sess.Deadline) {
		t.Fatalf("submitted at %v, want deadline %v", hist[0].SubmittedAt, *sess.Deadline)
	}
	cp, _ := f.store.Component(ctx, "u1", "post")
	if cp.Status != StatusCompleted {
		t.Fatalf("status = %s", cp.Status)
	}
	if cp.TimeSpentSeconds != 600 {
		t.Fatalf("time spent = %d, want 600", cp.TimeSpentSeconds)
	}

	if n, _ := f.engine.ExpireSessions(ctx); n != 0 {
		t.Fatalf("second sweep closed %d sessions", n)
	}
}

func TestEngine_LateAnswersDiscarded(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.passPre(t)
	f.finishMaterials(t)

	sess, err := f.engine.StartAttempt(ctx, "u1", "m1", "post")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.SaveAnswers(ctx, "u1", sess.ID, map[string]interface{}{"q1": "a"}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(15 * time.Minute)

	out, err := f.engine.SubmitAttempt(ctx, "u1", sess.ID, allRight)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Attempt.Expired || out.Attempt.ScorePercent != 50 || out.Status != StatusFailed {
		t.Fatalf("outcome = %+v", out)
	}
	if _, err := f.engine.SubmitAttempt(ctx, "u1", sess.ID, allRight); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("resubmit: %v", err)
	}
}

func TestEngine_SaveAfterDeadlineClosesSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.passPre(t)
	f.finishMaterials(t)

	sess, err := f.engine.StartAttempt(ctx, "u1", "m1", "post")
	if err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Hour)
	if _, err := f.engine.SaveAnswers(ctx, "u1", sess.ID, allRight); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	hist, _ := f.store.ListAttempts(ctx, "u1", "post")
	if len(hist) != 1 || hist[0].ScorePercent != 0 {
		t.Fatalf("history = %+v", hist)
	}
}

func TestEngine_StartAttemptReusesOpenSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	s1, err := f.engine.StartAttempt(ctx, "u1", "m1", "pre")
	if err != nil {
		t.Fatal(err)
	}
	s2, err := f.engine.StartAttempt(ctx, "u1", "m1", "pre")
	if err != nil {
		t.Fatal(err)
	}
	if s1.ID != s2.ID {
		t.Fatalf("second tab got a new session %s != %s", s2.ID, s1.ID)
	}
	if _, err := f.engine.SubmitAttempt(ctx, "u2", s1.ID, allRight); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign learner submitted: %v", err)
	}
}

func TestEngine_InvalidAssessmentIsContained(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := onboarding()
	m.Components[0].Required = false
	m.Components[0].Assessment.Questions = []course.Question{
		{ID: "q1", Type: course.QuestionMCQ, Points: 5, Options: []course.Option{{ID: "a"}, {ID: "b"}}},
	}
	f.cat["m1"] = m

	if _, err := f.engine.StartAttempt(ctx, "u1", "m1", "pre"); !errors.Is(err, course.ErrInvalidAssessmentSpec) {
		t.Fatalf("expected ErrInvalidAssessmentSpec, got %v", err)
	}
	// the rest of the module still works
	if _, err := f.engine.ReportMilestone(ctx, "u1", "m1", "mat", "pdf", viewer.MilestoneOpened); err != nil {
		t.Fatalf("material after invalid assessment: %v", err)
	}
}

func TestEngine_WrongComponentType(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if _, err := f.engine.ReportMilestone(ctx, "u1", "m1", "pre", "pdf", viewer.MilestoneOpened); !errors.Is(err, ErrWrongType) {
		t.Fatalf("milestone on assessment: %v", err)
	}
	if _, err := f.engine.ReportMilestone(ctx, "u1", "m1", "pre", "pdf", viewer.Milestone(7)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad milestone: %v", err)
	}
	if _, err := f.engine.Snapshot(ctx, "u1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown module: %v", err)
	}
}

func TestEngine_AddTimeSpent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if _, err := f.engine.AddTimeSpent(ctx, "u1", "m1", "pre", 30); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("not started: %v", err)
	}
	if _, err := f.engine.OpenComponent(ctx, "u1", "m1", "pre"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.engine.AddTimeSpent(ctx, "u1", "m1", "pre", 30); err != nil {
			t.Fatal(err)
		}
	}
	cp, _ := f.store.Component(ctx, "u1", "pre")
	if cp.TimeSpentSeconds != 90 {
		t.Fatalf("time spent = %d", cp.TimeSpentSeconds)
	}
	if _, err := f.engine.AddTimeSpent(ctx, "u1", "m1", "pre", -1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative: %v", err)
	}
}

func TestEngine_DrivesViewerCascade(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.passPre(t)

	m := onboarding().Components[1].Materials.Materials[0]
	c := viewer.NewCascade("v1", m, viewer.WithReporter(f.engine.MaterialReporter("u1", "m1", "mat", "pdf")))
	if _, err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.LoadFailed(ctx, "x-frame-options"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.LoadSucceeded(ctx); err != nil {
		t.Fatal(err)
	}
	got, err := f.engine.RecordedMilestone(ctx, "u1", "mat", "pdf")
	if err != nil {
		t.Fatal(err)
	}
	if got != viewer.MilestoneLoaded {
		t.Fatalf("recorded = %v, want loaded", got)
	}
}
