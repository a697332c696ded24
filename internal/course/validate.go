package course

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidAssessmentSpec = errors.New("invalid assessment spec")
	ErrInvalidModule         = errors.New("invalid module")
	ErrNotFound              = errors.New("module not found")
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func v() *validator.Validate {
	validateOnce.Do(func() { validate = validator.New(validator.WithRequiredStructEnabled()) })
	return validate
}

// ValidateModule checks field ranges and the ordering invariant, then every
// component payload. Assessment problems wrap ErrInvalidAssessmentSpec so the
// caller can tell content errors apart from learner-caused failures.
func ValidateModule(m Module) error {
	if err := v().Struct(m); err != nil {
		return fmt.Errorf("%w: %s: %v", classify(err), m.ID, err)
	}
	seen := make(map[int]bool, len(m.Components))
	ids := make(map[string]bool, len(m.Components))
	for _, c := range m.Components {
		if c.Order < 0 || c.Order >= len(m.Components) || seen[c.Order] {
			return fmt.Errorf("%w: %s: component order must be unique, dense and 0-based (got %d)", ErrInvalidModule, m.ID, c.Order)
		}
		seen[c.Order] = true
		if ids[c.ID] {
			return fmt.Errorf("%w: %s: duplicate component id %q", ErrInvalidModule, m.ID, c.ID)
		}
		ids[c.ID] = true
		if err := ValidateComponent(c); err != nil {
			return err
		}
	}
	return nil
}

func ValidateComponent(c Component) error {
	if c.Type.IsAssessment() {
		if c.Assessment == nil {
			return fmt.Errorf("%w: component %s has no assessment", ErrInvalidAssessmentSpec, c.ID)
		}
		return ValidateAssessment(*c.Assessment)
	}
	if c.Materials == nil || len(c.Materials.Materials) == 0 {
		return fmt.Errorf("%w: component %s has no materials", ErrInvalidModule, c.ID)
	}
	if err := v().Struct(c.Materials); err != nil {
		return fmt.Errorf("%w: component %s: %v", ErrInvalidModule, c.ID, err)
	}
	for _, mat := range c.Materials.Materials {
		switch mat.FileType {
		case FileHTML:
			if mat.HTML == "" && mat.SourceRef == "" {
				return fmt.Errorf("%w: material %s has no content", ErrInvalidModule, mat.ID)
			}
		default:
			if mat.SourceRef == "" {
				return fmt.Errorf("%w: material %s has no source", ErrInvalidModule, mat.ID)
			}
		}
	}
	return nil
}

// ValidateAssessment enforces the scoring preconditions: positive total points,
// at least one correct option per question and two options for MCQ.
func ValidateAssessment(a AssessmentSpec) error {
	if err := v().Struct(a); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAssessmentSpec, err)
	}
	total := 0.0
	for _, q := range a.Questions {
		if err := ValidateQuestion(q); err != nil {
			return err
		}
		total += q.Points
	}
	if total <= 0 {
		return fmt.Errorf("%w: total points is zero", ErrInvalidAssessmentSpec)
	}
	return nil
}

func ValidateQuestion(q Question) error {
	if q.Points <= 0 {
		return fmt.Errorf("%w: question %s has non-positive points", ErrInvalidAssessmentSpec, q.ID)
	}
	switch q.Type {
	case QuestionMCQ:
		if len(q.Options) < 2 {
			return fmt.Errorf("%w: question %s needs at least two options", ErrInvalidAssessmentSpec, q.ID)
		}
		if !hasCorrect(q.Options) {
			return fmt.Errorf("%w: question %s has no correct option", ErrInvalidAssessmentSpec, q.ID)
		}
	case QuestionTrueFalse:
		if _, err := q.TrueFalseKey(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: question %s has unknown type %q", ErrInvalidAssessmentSpec, q.ID, q.Type)
	}
	return nil
}

// TrueFalseKey derives the stored correct boolean of a TRUE_FALSE question,
// either from CorrectAnswer or from the option flagged correct.
func (q Question) TrueFalseKey() (bool, error) {
	if q.CorrectAnswer != nil {
		return *q.CorrectAnswer, nil
	}
	for _, o := range q.Options {
		if !o.IsCorrect {
			continue
		}
		for _, s := range []string{o.ID, o.Text} {
			if b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(s))); err == nil {
				return b, nil
			}
		}
	}
	return false, fmt.Errorf("%w: question %s has no derivable true/false answer", ErrInvalidAssessmentSpec, q.ID)
}

func hasCorrect(opts []Option) bool {
	for _, o := range opts {
		if o.IsCorrect {
			return true
		}
	}
	return false
}

// classify attributes struct-tag failures inside an assessment payload to the
// assessment, everything else to the module.
func classify(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if strings.Contains(fe.Namespace(), ".Assessment.") {
				return ErrInvalidAssessmentSpec
			}
		}
	}
	return ErrInvalidModule
}
