package expiry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-progress/internal/course"
	"github.com/mind-engage/mindengage-progress/internal/viewer"
)

type fakeExpirer struct {
	calls int
	n     int
	err   error
}

func (f *fakeExpirer) ExpireSessions(context.Context) (int, error) {
	f.calls++
	return f.n, f.err
}

func TestSweeper_RunOnce(t *testing.T) {
	reg := viewer.NewRegistry()
	reg.Put("u1", viewer.NewCascade("v1", course.Material{ID: "m", FileType: course.FilePDF, SourceRef: "a.pdf"}))
	exp := &fakeExpirer{n: 2}

	s := New(exp, reg, Options{ViewerMaxAge: time.Minute})
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	res := s.RunOnce(context.Background())
	if res.Sessions != 2 || res.Viewers != 1 {
		t.Fatalf("result = %+v", res)
	}
	if reg.Len() != 0 {
		t.Fatalf("registry still holds %d viewers", reg.Len())
	}

	exp.err = errors.New("db down")
	exp.n = 0
	if res := s.RunOnce(context.Background()); res.Sessions != 0 || exp.calls != 2 {
		t.Fatalf("failing sweep = %+v calls=%d", res, exp.calls)
	}
}

func TestSweeper_StartRejectsBadSchedule(t *testing.T) {
	s := New(&fakeExpirer{}, nil, Options{})
	if err := s.Start("not a schedule"); err == nil {
		t.Fatal("expected schedule error")
	}
	if err := s.Start("@every 1h"); err != nil {
		t.Fatalf("valid schedule: %v", err)
	}
	<-s.Stop().Done()
}
