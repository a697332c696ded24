package progress

import (
	"errors"
	"time"

	"github.com/mind-engage/mindengage-progress/internal/course"
)

var (
	ErrLockedComponent   = errors.New("component is locked")
	ErrAttemptsExhausted = errors.New("attempts exhausted")
	ErrAlreadyCompleted  = errors.New("component already completed")
	ErrSessionClosed     = errors.New("attempt session is closed")
	ErrWrongType         = errors.New("operation not valid for component type")
	ErrInvalidInput      = errors.New("invalid input")

	// ErrNotFound aliases the catalog error so one errors.Is check covers both.
	ErrNotFound = course.ErrNotFound
)

type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"

	// StatusLocked is computed for display and never stored.
	StatusLocked Status = "LOCKED"
)

// Started reports whether the learner has touched the component.
func (s Status) Started() bool {
	return s == StatusInProgress || s == StatusCompleted || s == StatusFailed
}

// ComponentProgress is the per learner, per component record.
type ComponentProgress struct {
	LearnerID          string     `json:"learner_id"`
	ComponentID        string     `json:"component_id"`
	Status             Status     `json:"status"`
	ProgressPercentage int        `json:"progress_percentage"`
	Score              *int       `json:"score"`
	ScoreSequence      int        `json:"-"`
	Attempts           int        `json:"attempts"`
	TimeSpentSeconds   int64      `json:"time_spent_seconds"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// newComponentProgress is the lazily created default record.
func newComponentProgress(learner, component string) ComponentProgress {
	return ComponentProgress{LearnerID: learner, ComponentID: component, Status: StatusNotStarted}
}

// ComponentPatch is an incoming update. Zero fields leave the record alone.
type ComponentPatch struct {
	Status Status
	// Reopen lets IN_PROGRESS replace FAILED; set only when a retry starts.
	Reopen             bool
	ProgressPercentage int
	Score              *int
	ScoreSequence      int
	StartedAt          *time.Time
}

// Merge applies p to cp following the monotonic rules shared by every Store.
func (cp ComponentProgress) Merge(p ComponentPatch, now time.Time) ComponentProgress {
	if cp.Status == "" {
		cp.Status = StatusNotStarted
	}
	cp.Status = mergeStatus(cp.Status, p.Status, p.Reopen)
	if p.ProgressPercentage > cp.ProgressPercentage {
		cp.ProgressPercentage = clampPercent(p.ProgressPercentage)
	}
	if p.Score != nil && p.ScoreSequence > cp.ScoreSequence {
		s := *p.Score
		cp.Score = &s
		cp.ScoreSequence = p.ScoreSequence
	}
	if cp.StartedAt == nil && p.StartedAt != nil {
		t := *p.StartedAt
		cp.StartedAt = &t
	}
	if cp.Status == StatusCompleted && cp.CompletedAt == nil {
		t := now
		cp.CompletedAt = &t
		cp.ProgressPercentage = 100
	}
	cp.UpdatedAt = now
	return cp
}

func mergeStatus(existing, incoming Status, reopen bool) Status {
	switch {
	case incoming == "" || incoming == StatusLocked:
		return existing
	case existing == StatusCompleted:
		return existing
	case incoming == StatusNotStarted && existing.Started():
		return existing
	case incoming == StatusInProgress && existing == StatusFailed && !reopen:
		return existing
	}
	return incoming
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// MaterialProgress is the per learner, per material viewing record.
type MaterialProgress struct {
	LearnerID    string    `json:"learner_id"`
	ComponentID  string    `json:"component_id"`
	MaterialID   string    `json:"material_id"`
	ViewProgress int       `json:"view_progress"`
	Completed    bool      `json:"completed"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type MaterialPatch struct {
	ViewProgress int
	Completed    bool
}

// Merge takes the max view progress and ORs completion.
func (mp MaterialProgress) Merge(p MaterialPatch, now time.Time) MaterialProgress {
	if v := clampPercent(p.ViewProgress); v > mp.ViewProgress {
		mp.ViewProgress = v
	}
	mp.Completed = mp.Completed || p.Completed
	mp.UpdatedAt = now
	return mp
}

type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionSubmitted SessionStatus = "submitted"
	SessionExpired   SessionStatus = "expired"
)

// AttemptSession is a timed, in-flight assessment attempt holding draft answers.
type AttemptSession struct {
	ID          string                 `json:"id"`
	LearnerID   string                 `json:"learner_id"`
	ModuleID    string                 `json:"module_id"`
	ComponentID string                 `json:"component_id"`
	Status      SessionStatus          `json:"status"`
	Answers     map[string]interface{} `json:"answers"`
	StartedAt   time.Time              `json:"started_at"`
	Deadline    *time.Time             `json:"deadline,omitempty"`
	ClosedAt    *time.Time             `json:"closed_at,omitempty"`
}

// PastDeadline reports whether now is after the session's deadline.
func (s AttemptSession) PastDeadline(now time.Time) bool {
	return s.Deadline != nil && now.After(*s.Deadline)
}
