package viewer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-progress/internal/course"
)

type recorder struct{ got []Milestone }

func (r *recorder) Report(_ context.Context, m Milestone) error {
	r.got = append(r.got, m)
	return nil
}

func pdf() course.Material {
	return course.Material{ID: "m1", Title: "Handbook", FileType: course.FilePDF, SourceRef: "docs/handbook.pdf"}
}

func newTestCascade(m course.Material, rec *recorder, opts ...CascadeOption) *Cascade {
	opts = append([]CascadeOption{
		WithResolver(Resolver{ContentBase: "https://lms.test/content"}),
		WithReporter(rec),
	}, opts...)
	return NewCascade("v1", m, opts...)
}

func TestCascade_PDFFallsBackToThirdStrategy(t *testing.T) {
	rec := &recorder{}
	c := newTestCascade(pdf(), rec)
	ctx := context.Background()

	tgt, err := c.Open(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if tgt.Strategy != EmbeddedViewer || tgt.URL != "https://lms.test/content/docs/handbook.pdf" {
		t.Fatalf("unexpected first target: %+v", tgt)
	}

	tgt, err = c.LoadFailed(ctx, "x-frame-options")
	if err != nil || tgt.Strategy != GoogleDocsProxy {
		t.Fatalf("second target = %+v, %v", tgt, err)
	}
	if !strings.HasPrefix(tgt.URL, googleViewerURL) || !strings.Contains(tgt.URL, "handbook.pdf") {
		t.Fatalf("proxy url not built: %s", tgt.URL)
	}

	tgt, err = c.LoadFailed(ctx, "proxy timeout")
	if err != nil || tgt.Strategy != RawStreamIframe {
		t.Fatalf("third target = %+v, %v", tgt, err)
	}

	if _, err := c.LoadSucceeded(ctx); err != nil {
		t.Fatalf("loaded: %v", err)
	}
	if c.State() != StateRendered {
		t.Fatalf("state = %s, want rendered", c.State())
	}
	if want := []Milestone{MilestoneOpened, MilestoneLoaded}; !equalMilestones(rec.got, want) {
		t.Fatalf("milestones = %v, want %v", rec.got, want)
	}
}

func TestCascade_ExhaustedOnlyAfterAllStrategiesFail(t *testing.T) {
	rec := &recorder{}
	c := newTestCascade(pdf(), rec)
	ctx := context.Background()
	if _, err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := c.LoadFailed(ctx, "err"); err != nil {
			t.Fatalf("failure %d: unexpected %v", i, err)
		}
	}
	tgt, err := c.LoadFailed(ctx, "err")
	if !errors.Is(err, ErrRenderExhausted) {
		t.Fatalf("expected ErrRenderExhausted, got %v", err)
	}
	if !tgt.Terminal || tgt.Fallback != DownloadLink || tgt.URL == "" {
		t.Fatalf("expected download fallback, got %+v", tgt)
	}
	if c.Progress() != MilestoneOpened {
		t.Fatalf("progress = %v, want open", c.Progress())
	}
}

func TestCascade_ExternalDoesNotAutoCascade(t *testing.T) {
	m := course.Material{ID: "ext", FileType: course.FileExternal, SourceRef: "https://example.com/course"}
	c := newTestCascade(m, &recorder{})
	ctx := context.Background()
	tgt, err := c.Open(ctx)
	if err != nil || tgt.Strategy != SandboxedExternal || tgt.Sandbox == "" {
		t.Fatalf("open = %+v, %v", tgt, err)
	}
	tgt, err = c.LoadFailed(ctx, "blocked")
	if !errors.Is(err, ErrRenderExhausted) || tgt.Fallback != OpenExternally || tgt.URL != m.SourceRef {
		t.Fatalf("fallback = %+v, %v", tgt, err)
	}
}

func TestCascade_HTMLRendersInline(t *testing.T) {
	m := course.Material{ID: "h", FileType: course.FileHTML, HTML: "<p>hi</p>"}
	c := newTestCascade(m, &recorder{})
	ctx := context.Background()
	tgt, err := c.Open(ctx)
	if err != nil || tgt.Strategy != SandboxedHTML || tgt.HTML != "<p>hi</p>" || tgt.Fallback != NoFallback {
		t.Fatalf("open = %+v, %v", tgt, err)
	}
	tgt, err = c.LoadFailed(ctx, "script error")
	if err != nil || tgt.Strategy != SandboxedHTML || tgt.HTML != "<p>hi</p>" || tgt.Terminal {
		t.Fatalf("after error = %+v, %v", tgt, err)
	}
	if c.State() != StateLoading {
		t.Fatalf("state = %s, want loading", c.State())
	}
	if _, err := c.LoadSucceeded(ctx); err != nil || c.Progress() != MilestoneLoaded {
		t.Fatalf("loaded: progress = %v, %v", c.Progress(), err)
	}
}

func TestCascade_CancelRecordsNoLoadMilestone(t *testing.T) {
	rec := &recorder{}
	c := newTestCascade(pdf(), rec)
	ctx := context.Background()
	if _, err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}
	c.Cancel()
	if _, err := c.LoadSucceeded(ctx); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if c.Progress() != MilestoneOpened {
		t.Fatalf("progress = %v, want open only", c.Progress())
	}
	if len(rec.got) != 1 {
		t.Fatalf("reported %v, want only open", rec.got)
	}
}

func TestCascade_CancelDuringProbe(t *testing.T) {
	started := make(chan struct{})
	prober := ProberFunc(func(ctx context.Context, _ course.Material) (ProbeResult, error) {
		close(started)
		<-ctx.Done()
		return ProbeResult{}, ctx.Err()
	})
	c := newTestCascade(pdf(), &recorder{}, WithProber(prober))
	done := make(chan error, 1)
	go func() {
		_, err := c.Open(context.Background())
		done <- err
	}()
	<-started
	c.Cancel()
	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("open did not return after cancel")
	}
}

func TestCascade_MarkCompleteIdempotent(t *testing.T) {
	rec := &recorder{}
	c := newTestCascade(pdf(), rec)
	ctx := context.Background()
	if err := c.MarkComplete(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.MarkComplete(ctx); err != nil {
		t.Fatal(err)
	}
	if want := []Milestone{MilestoneCompleted}; !equalMilestones(rec.got, want) {
		t.Fatalf("milestones = %v, want %v", rec.got, want)
	}
	// a later open must not report a lower milestone
	if _, err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if len(rec.got) != 1 {
		t.Fatalf("unexpected reports after completion: %v", rec.got)
	}
}

func TestCascade_VideoPlaybackEnded(t *testing.T) {
	rec := &recorder{}
	m := course.Material{ID: "vid", FileType: course.FileVideo, SourceRef: "media/intro.mp4"}
	prober := ProberFunc(func(context.Context, course.Material) (ProbeResult, error) {
		return ProbeResult{Reachable: true, RangeSupported: true}, nil
	})
	c := newTestCascade(m, rec, WithProber(prober))
	ctx := context.Background()
	tgt, err := c.Open(ctx)
	if err != nil || tgt.Strategy != NativeMedia || !tgt.RangeSupported {
		t.Fatalf("open = %+v, %v", tgt, err)
	}
	if _, err := c.LoadSucceeded(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.PlaybackEnded(ctx); err != nil {
		t.Fatal(err)
	}
	if c.Progress() != MilestoneCompleted {
		t.Fatalf("progress = %v, want completed", c.Progress())
	}
	if want := []Milestone{MilestoneOpened, MilestoneLoaded, MilestoneCompleted}; !equalMilestones(rec.got, want) {
		t.Fatalf("milestones = %v, want %v", rec.got, want)
	}
}

func TestCascade_PlaybackEndedWithoutLoaded(t *testing.T) {
	rec := &recorder{}
	m := course.Material{ID: "vid", FileType: course.FileVideo, SourceRef: "media/intro.mp4"}
	c := newTestCascade(m, rec)
	ctx := context.Background()
	if _, err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.PlaybackEnded(ctx); err != nil {
		t.Fatalf("ended: %v", err)
	}
	if c.Progress() != MilestoneCompleted || c.State() != StateRendered {
		t.Fatalf("progress = %v state = %s, want completed rendered", c.Progress(), c.State())
	}
	if want := []Milestone{MilestoneOpened, MilestoneCompleted}; !equalMilestones(rec.got, want) {
		t.Fatalf("milestones = %v, want %v", rec.got, want)
	}
}

func TestCascade_PlaybackEndedRejected(t *testing.T) {
	ctx := context.Background()

	doc := newTestCascade(pdf(), &recorder{})
	if _, err := doc.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if err := doc.PlaybackEnded(ctx); !errors.Is(err, ErrNotMedia) {
		t.Fatalf("pdf ended: expected ErrNotMedia, got %v", err)
	}

	vid := newTestCascade(course.Material{ID: "vid", FileType: course.FileVideo, SourceRef: "media/intro.mp4"}, &recorder{})
	if _, err := vid.Open(ctx); err != nil {
		t.Fatal(err)
	}
	vid.Cancel()
	if err := vid.PlaybackEnded(ctx); !errors.Is(err, ErrCancelled) {
		t.Fatalf("cancelled ended: expected ErrCancelled, got %v", err)
	}
	if vid.Progress() != MilestoneOpened {
		t.Fatalf("progress = %v after cancel", vid.Progress())
	}
}

func TestCascade_UnreachableSourceGoesToFallback(t *testing.T) {
	prober := ProberFunc(func(context.Context, course.Material) (ProbeResult, error) {
		return ProbeResult{Reachable: false, StatusCode: 404}, nil
	})
	c := newTestCascade(pdf(), &recorder{}, WithProber(prober))
	tgt, err := c.Open(context.Background())
	if !errors.Is(err, ErrRenderExhausted) || tgt.Fallback != DownloadLink {
		t.Fatalf("open = %+v, %v", tgt, err)
	}
}

func TestRatchet_NeverRegresses(t *testing.T) {
	got := MilestoneNone
	for _, m := range []Milestone{MilestoneOpened, MilestoneLoaded, MilestoneOpened} {
		got = Ratchet(got, m)
	}
	if got != MilestoneLoaded {
		t.Fatalf("ratchet = %v, want 75", got)
	}
}

func TestCascade_SlowSourceStillTriesStrategies(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	defer close(release)

	m := pdf()
	m.SourceRef = srv.URL + "/slow.pdf"
	c := newTestCascade(m, &recorder{}, WithProber(NewHTTPProber(50*time.Millisecond)))
	ctx := context.Background()

	tgt, err := c.Open(ctx)
	if err != nil || tgt.Strategy != EmbeddedViewer || tgt.Terminal {
		t.Fatalf("open = %+v, %v", tgt, err)
	}
	for i, want := range []StrategyKind{GoogleDocsProxy, RawStreamIframe} {
		tgt, err = c.LoadFailed(ctx, "timeout")
		if err != nil || tgt.Strategy != want {
			t.Fatalf("failure %d = %+v, %v", i, tgt, err)
		}
	}
	if _, err := c.LoadFailed(ctx, "timeout"); !errors.Is(err, ErrRenderExhausted) {
		t.Fatalf("expected ErrRenderExhausted after three failures, got %v", err)
	}
}

func TestHTTPProber_RangeSupport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ranged":
			http.ServeContent(w, r, "a.mp4", time.Time{}, strings.NewReader("0123456789"))
		case "/plain":
			w.Write([]byte("no ranges"))
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewHTTPProber(time.Second)
	ctx := context.Background()

	res, err := p.Probe(ctx, course.Material{SourceRef: srv.URL + "/ranged"})
	if err != nil || !res.Reachable || !res.RangeSupported {
		t.Fatalf("ranged = %+v, %v", res, err)
	}
	res, err = p.Probe(ctx, course.Material{SourceRef: srv.URL + "/plain"})
	if err != nil || !res.Reachable || res.RangeSupported {
		t.Fatalf("plain = %+v, %v", res, err)
	}
	res, err = p.Probe(ctx, course.Material{SourceRef: srv.URL + "/missing"})
	if err != nil || res.Reachable {
		t.Fatalf("missing = %+v, %v", res, err)
	}
	res, err = p.Probe(ctx, course.Material{SourceRef: srv.URL + "/broken"})
	if !errors.Is(err, ErrProbeInconclusive) || res.StatusCode != http.StatusBadGateway {
		t.Fatalf("broken = %+v, %v", res, err)
	}
}

func equalMilestones(a, b []Milestone) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
