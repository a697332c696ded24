package grading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-progress/internal/course"
)

func mcq(id string, points float64, correct string) course.Question {
	return course.Question{
		ID: id, Type: course.QuestionMCQ, Points: points,
		Options: []course.Option{
			{ID: "a", Text: "Alpha", IsCorrect: correct == "a"},
			{ID: "b", Text: "Beta", IsCorrect: correct == "b"},
			{ID: "c", Text: "Gamma", IsCorrect: correct == "c"},
		},
	}
}

func fixedClock() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func TestScore_TwoMCQOneCorrect(t *testing.T) {
	spec := course.AssessmentSpec{
		PassingScore: 70, MaxAttempts: 3,
		Questions: []course.Question{mcq("q1", 10, "a"), mcq("q2", 10, "b")},
	}
	s := NewScorer(WithClock(fixedClock))
	a, err := s.Score(context.Background(), spec, spec.PassingScore, map[string]interface{}{"q1": "a", "q2": "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.EarnedPoints != 10 || a.TotalPoints != 20 {
		t.Fatalf("points = %v/%v, want 10/20", a.EarnedPoints, a.TotalPoints)
	}
	if a.ScorePercent != 50 {
		t.Fatalf("scorePercent = %d, want 50", a.ScorePercent)
	}
	if a.Passed {
		t.Fatalf("expected failed attempt")
	}
	if len(a.PerQuestion) != 2 || !a.PerQuestion[0].Correct || a.PerQuestion[1].Correct {
		t.Fatalf("unexpected per-question results: %+v", a.PerQuestion)
	}
}

func TestScore_Deterministic(t *testing.T) {
	spec := course.AssessmentSpec{
		PassingScore: 50, MaxAttempts: 1,
		Questions: []course.Question{mcq("q1", 3, "a"), mcq("q2", 7, "c"), mcq("q3", 1, "b")},
	}
	answers := map[string]interface{}{"q1": "a", "q2": "Gamma", "q3": "c"}
	s := NewScorer()
	first, err := s.Score(context.Background(), spec, 50, answers)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := s.Score(context.Background(), spec, 50, answers)
		if err != nil {
			t.Fatal(err)
		}
		if again.ScorePercent != first.ScorePercent || again.Passed != first.Passed {
			t.Fatalf("run %d: got %d/%v, want %d/%v", i, again.ScorePercent, again.Passed, first.ScorePercent, first.Passed)
		}
	}
	if first.ScorePercent != 91 { // 10/11 = 90.9
		t.Fatalf("scorePercent = %d, want 91", first.ScorePercent)
	}
}

func TestScore_UnansweredAndWrongShapeAreIncorrect(t *testing.T) {
	spec := course.AssessmentSpec{
		PassingScore: 1, MaxAttempts: 1,
		Questions: []course.Question{mcq("q1", 5, "a"), mcq("q2", 5, "b")},
	}
	a, err := NewScorer().Score(context.Background(), spec, 1, map[string]interface{}{"q2": 42})
	if err != nil {
		t.Fatalf("unanswered must not error: %v", err)
	}
	if a.EarnedPoints != 0 || a.ScorePercent != 0 || a.Passed {
		t.Fatalf("unexpected attempt: %+v", a)
	}
}

func TestScore_TrueFalse(t *testing.T) {
	yes := true
	spec := course.AssessmentSpec{
		PassingScore: 100, MaxAttempts: 1,
		Questions: []course.Question{
			{ID: "t1", Type: course.QuestionTrueFalse, Points: 1, CorrectAnswer: &yes},
			{ID: "t2", Type: course.QuestionTrueFalse, Points: 1, Options: []course.Option{
				{ID: "o1", Text: "True"}, {ID: "o2", Text: "False", IsCorrect: true},
			}},
		},
	}
	cases := []struct {
		name    string
		answers map[string]interface{}
		want    int
	}{
		{"bools", map[string]interface{}{"t1": true, "t2": false}, 100},
		{"strings", map[string]interface{}{"t1": "true", "t2": "FALSE"}, 100},
		{"option ids", map[string]interface{}{"t1": true, "t2": "o2"}, 100},
		{"one wrong", map[string]interface{}{"t1": false, "t2": false}, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := NewScorer().Score(context.Background(), spec, 100, tc.answers)
			if err != nil {
				t.Fatal(err)
			}
			if a.ScorePercent != tc.want {
				t.Fatalf("scorePercent = %d, want %d", a.ScorePercent, tc.want)
			}
		})
	}
}

func TestScore_InvalidSpec(t *testing.T) {
	cases := map[string]course.AssessmentSpec{
		"no questions": {MaxAttempts: 1},
		"no correct option": {MaxAttempts: 1, Questions: []course.Question{{
			ID: "q", Type: course.QuestionMCQ, Points: 1,
			Options: []course.Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}},
		}}},
		"single option mcq": {MaxAttempts: 1, Questions: []course.Question{{
			ID: "q", Type: course.QuestionMCQ, Points: 1,
			Options: []course.Option{{ID: "a", Text: "A", IsCorrect: true}},
		}}},
		"zero points": {MaxAttempts: 1, Questions: []course.Question{mcq("q", 0, "a")}},
	}
	for name, spec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewScorer().Score(context.Background(), spec, 50, nil)
			if !errors.Is(err, course.ErrInvalidAssessmentSpec) {
				t.Fatalf("expected ErrInvalidAssessmentSpec, got %v", err)
			}
		})
	}
}

func TestPercent_RoundsHalfUp(t *testing.T) {
	cases := []struct {
		earned, total float64
		want          int
	}{
		{1, 8, 13}, // 12.5
		{2, 3, 67}, // 66.67
		{1, 3, 33}, // 33.33
		{0, 5, 0},
		{5, 5, 100},
		{0.5, 4, 13}, // 12.5
	}
	for _, tc := range cases {
		if got := Percent(tc.earned, tc.total); got != tc.want {
			t.Errorf("Percent(%v,%v) = %d, want %d", tc.earned, tc.total, got, tc.want)
		}
	}
}
