package course

type ModuleStatus string

const (
	ModuleDraft     ModuleStatus = "DRAFT"
	ModulePublished ModuleStatus = "PUBLISHED"
	ModuleArchived  ModuleStatus = "ARCHIVED"
)

type ComponentType string

const (
	PreAssessment  ComponentType = "PRE_ASSESSMENT"
	PostAssessment ComponentType = "POST_ASSESSMENT"
	MaterialList   ComponentType = "MATERIAL"
)

// IsAssessment reports whether the component is scored through attempts.
func (t ComponentType) IsAssessment() bool {
	return t == PreAssessment || t == PostAssessment
}

type QuestionType string

const (
	QuestionMCQ       QuestionType = "MCQ"
	QuestionTrueFalse QuestionType = "TRUE_FALSE"
)

type FileType string

const (
	FilePDF          FileType = "PDF"
	FileVideo        FileType = "VIDEO"
	FileDocument     FileType = "DOCUMENT"
	FilePresentation FileType = "PRESENTATION"
	FileImage        FileType = "IMAGE"
	FileHTML         FileType = "HTML"
	FileExternal     FileType = "EXTERNAL"
)

type Module struct {
	ID                  string       `json:"id" yaml:"id" validate:"required"`
	Title               string       `json:"title" yaml:"title"`
	Components          []Component  `json:"components" yaml:"components" validate:"required,min=1,dive"`
	PassingScoreDefault int          `json:"passing_score_default" yaml:"passing_score_default" validate:"min=0,max=100"`
	Status              ModuleStatus `json:"status" yaml:"status" validate:"omitempty,oneof=DRAFT PUBLISHED ARCHIVED"`

	CreatedAt int64 `json:"created_at,omitempty" yaml:"-"`
}

type Component struct {
	ID       string        `json:"id" yaml:"id" validate:"required"`
	Order    int           `json:"order" yaml:"order" validate:"min=0"`
	Type     ComponentType `json:"type" yaml:"type" validate:"required,oneof=PRE_ASSESSMENT POST_ASSESSMENT MATERIAL"`
	Required bool          `json:"required" yaml:"required"`

	// exactly one of these is set, matching Type
	Assessment *AssessmentSpec   `json:"assessment,omitempty" yaml:"assessment,omitempty"`
	Materials  *MaterialListSpec `json:"materials,omitempty" yaml:"materials,omitempty"`
}

type AssessmentSpec struct {
	PassingScore     int        `json:"passing_score" yaml:"passing_score" validate:"min=0,max=100"` // 0 = module default
	TimeLimitMinutes int        `json:"time_limit_minutes" yaml:"time_limit_minutes" validate:"min=0"`
	MaxAttempts      int        `json:"max_attempts" yaml:"max_attempts" validate:"min=1"`
	AllowRetake      bool       `json:"allow_retake" yaml:"allow_retake"`
	Questions        []Question `json:"questions" yaml:"questions" validate:"required,min=1,dive"`
}

type Question struct {
	ID            string       `json:"id" yaml:"id" validate:"required"`
	Text          string       `json:"text" yaml:"text"`
	Type          QuestionType `json:"type" yaml:"type" validate:"required,oneof=MCQ TRUE_FALSE"`
	Points        float64      `json:"points" yaml:"points" validate:"gt=0"`
	Options       []Option     `json:"options,omitempty" yaml:"options,omitempty" validate:"dive"`
	CorrectAnswer *bool        `json:"correct_answer,omitempty" yaml:"correct_answer,omitempty"` // TRUE_FALSE only
}

type Option struct {
	ID        string `json:"id" yaml:"id"`
	Text      string `json:"text" yaml:"text" validate:"required_without=ID"`
	IsCorrect bool   `json:"is_correct,omitempty" yaml:"is_correct,omitempty"`
}

type MaterialListSpec struct {
	Materials []Material `json:"materials" yaml:"materials" validate:"required,min=1,dive"`
}

type Material struct {
	ID                       string   `json:"id" yaml:"id" validate:"required"`
	Title                    string   `json:"title" yaml:"title"`
	FileType                 FileType `json:"file_type" yaml:"file_type" validate:"required,oneof=PDF VIDEO DOCUMENT PRESENTATION IMAGE HTML EXTERNAL"`
	SourceRef                string   `json:"source_ref,omitempty" yaml:"source_ref,omitempty"` // blob key or URL
	HTML                     string   `json:"html,omitempty" yaml:"html,omitempty"`             // inline content for HTML
	EstimatedDurationMinutes int      `json:"estimated_duration_minutes,omitempty" yaml:"estimated_duration_minutes,omitempty" validate:"min=0"`
	Optional                 bool     `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// Required reports whether the material gates completion of its component.
func (m Material) Required() bool { return !m.Optional }

// Component returns the component with the given id.
func (m Module) Component(id string) (Component, int, bool) {
	for i, c := range m.Components {
		if c.ID == id {
			return c, i, true
		}
	}
	return Component{}, -1, false
}

// Material returns the material with the given id inside a MATERIAL component.
func (c Component) Material(id string) (Material, bool) {
	if c.Materials == nil {
		return Material{}, false
	}
	for _, m := range c.Materials.Materials {
		if m.ID == id {
			return m, true
		}
	}
	return Material{}, false
}

// EffectivePassingScore resolves a zero passing score to the module default.
func (m Module) EffectivePassingScore(spec AssessmentSpec) int {
	if spec.PassingScore > 0 {
		return spec.PassingScore
	}
	return m.PassingScoreDefault
}

// StripAnswerKeys returns a copy safe to serve to learners.
func (m Module) StripAnswerKeys() Module {
	out := m
	out.Components = make([]Component, len(m.Components))
	for i, c := range m.Components {
		if c.Assessment != nil {
			a := *c.Assessment
			a.Questions = make([]Question, len(c.Assessment.Questions))
			for j, q := range c.Assessment.Questions {
				q.CorrectAnswer = nil
				opts := make([]Option, len(q.Options))
				for k, o := range q.Options {
					o.IsCorrect = false
					opts[k] = o
				}
				q.Options = opts
				a.Questions[j] = q
			}
			c.Assessment = &a
		}
		out.Components[i] = c
	}
	return out
}
