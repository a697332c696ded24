package grading

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-progress/internal/course"
)

// QuestionResult is the outcome of grading a single question response.
type QuestionResult struct {
	QuestionID   string  `json:"question_id"`
	Correct      bool    `json:"correct"`
	EarnedPoints float64 `json:"earned_points"`
}

// Attempt is an immutable scored submission.
type Attempt struct {
	ID           string                 `json:"id"`
	ComponentID  string                 `json:"component_id"`
	SubmittedAt  time.Time              `json:"submitted_at"`
	Answers      map[string]interface{} `json:"answers"` // questionID -> submitted answer
	EarnedPoints float64                `json:"earned_points"`
	TotalPoints  float64                `json:"total_points"`
	ScorePercent int                    `json:"score_percent"`
	PassingScore int                    `json:"passing_score"`
	Passed       bool                   `json:"passed"`
	PerQuestion  []QuestionResult       `json:"per_question"`

	// set by the progression layer
	Sequence int  `json:"sequence,omitempty"`
	Expired  bool `json:"expired,omitempty"`
}

// Strategy decides whether a response answers a question correctly.
// Responses of the wrong shape are incorrect, not errors.
type Strategy interface {
	Correct(ctx context.Context, q course.Question, response interface{}) (bool, error)
}

// Option configures a Scorer.
type Option func(*Scorer)

func WithClock(now func() time.Time) Option { return func(s *Scorer) { s.now = now } }

// WithStrategy installs or replaces the strategy for a question type.
func WithStrategy(t course.QuestionType, st Strategy) Option {
	return func(s *Scorer) { s.strategies[t] = st }
}

// Scorer is the assessment scoring engine. It has no attempt-count awareness.
type Scorer struct {
	strategies map[course.QuestionType]Strategy
	now        func() time.Time
}

// NewScorer installs the built-in strategies.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{
		strategies: map[course.QuestionType]Strategy{
			course.QuestionMCQ:       mcqSingleStrategy{},
			course.QuestionTrueFalse: trueFalseStrategy{},
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Score grades answers against spec with the given passing score.
// It fails with course.ErrInvalidAssessmentSpec when the spec cannot be scored.
func (s *Scorer) Score(ctx context.Context, spec course.AssessmentSpec, passingScore int, answers map[string]interface{}) (Attempt, error) {
	if err := course.ValidateAssessment(spec); err != nil {
		return Attempt{}, err
	}
	a := Attempt{
		SubmittedAt:  s.now(),
		Answers:      copyAnswers(answers),
		PassingScore: passingScore,
		PerQuestion:  make([]QuestionResult, 0, len(spec.Questions)),
	}
	for _, q := range spec.Questions {
		st, ok := s.strategies[q.Type]
		if !ok {
			return Attempt{}, fmt.Errorf("%w: no strategy for question type %q", course.ErrInvalidAssessmentSpec, q.Type)
		}
		a.TotalPoints += q.Points

		res := QuestionResult{QuestionID: q.ID}
		if resp, has := answers[q.ID]; has && resp != nil {
			ok, err := st.Correct(ctx, q, resp)
			if err != nil {
				return Attempt{}, err
			}
			if ok {
				res.Correct = true
				res.EarnedPoints = q.Points
				a.EarnedPoints += q.Points
			}
		}
		a.PerQuestion = append(a.PerQuestion, res)
	}
	if a.TotalPoints <= 0 {
		return Attempt{}, fmt.Errorf("%w: total points is zero", course.ErrInvalidAssessmentSpec)
	}
	a.ScorePercent = Percent(a.EarnedPoints, a.TotalPoints)
	a.Passed = a.ScorePercent >= passingScore
	return a, nil
}

// Percent returns round-half-up(100 * earned / total).
// Points are scaled to integer thousandths first so 0.5 boundaries are exact.
func Percent(earned, total float64) int {
	e := int64(earned*1000 + 0.5)
	t := int64(total*1000 + 0.5)
	if t <= 0 {
		return 0
	}
	return int((200*e + t) / (2 * t))
}

// --- Strategies ---

type mcqSingleStrategy struct{}

func (mcqSingleStrategy) Correct(_ context.Context, q course.Question, response interface{}) (bool, error) {
	resp, ok := response.(string)
	if !ok {
		return false, nil
	}
	resp = strings.TrimSpace(resp)
	if resp == "" {
		return false, nil
	}
	for _, o := range q.Options {
		if !o.IsCorrect {
			continue
		}
		if (o.ID != "" && resp == o.ID) || resp == strings.TrimSpace(o.Text) {
			return true, nil
		}
	}
	return false, nil
}

type trueFalseStrategy struct{}

func (trueFalseStrategy) Correct(_ context.Context, q course.Question, response interface{}) (bool, error) {
	key, err := q.TrueFalseKey()
	if err != nil {
		return false, err
	}
	got, ok := toBool(q, response)
	if !ok {
		return false, nil
	}
	return got == key, nil
}

// toBool accepts a bool, a "true"/"false" string, or the id/text of an option
// whose text parses as a boolean.
func toBool(q course.Question, response interface{}) (bool, bool) {
	switch v := response.(type) {
	case bool:
		return v, true
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		if b, err := strconv.ParseBool(s); err == nil {
			return b, true
		}
		for _, o := range q.Options {
			if o.ID == v || strings.EqualFold(strings.TrimSpace(o.Text), s) {
				if b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(o.Text))); err == nil {
					return b, true
				}
			}
		}
	}
	return false, false
}

func copyAnswers(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// IsInvalidSpec reports whether err is a content error in the assessment data.
func IsInvalidSpec(err error) bool { return errors.Is(err, course.ErrInvalidAssessmentSpec) }
