package progress

import "github.com/mind-engage/mindengage-progress/internal/course"

// Item is the view of one component the pure rules work on.
type Item struct {
	ComponentID string `json:"component_id"`
	Required    bool   `json:"required"`
	Status      Status `json:"status"`
	// Terminal marks a FAILED assessment with no retries left.
	Terminal bool `json:"terminal,omitempty"`
}

// Items lines up module components with their progress records in order.
// Components without a record are NOT_STARTED.
func Items(m course.Module, recs map[string]ComponentProgress) []Item {
	out := make([]Item, len(m.Components))
	for i, c := range m.Components {
		cp, ok := recs[c.ID]
		if !ok {
			cp = newComponentProgress("", c.ID)
		}
		out[i] = Item{
			ComponentID: c.ID,
			Required:    c.Required,
			Status:      cp.Status,
			Terminal:    c.Assessment != nil && IsTerminal(*c.Assessment, cp),
		}
	}
	return out
}

// IsTerminal reports whether a FAILED assessment can no longer be retried.
func IsTerminal(spec course.AssessmentSpec, cp ComponentProgress) bool {
	if cp.Status != StatusFailed {
		return false
	}
	return cp.Attempts >= spec.MaxAttempts || !spec.AllowRetake
}

// AttemptLimit is how many attempts an assessment allows in total; without
// retakes that is one regardless of MaxAttempts.
func AttemptLimit(spec course.AssessmentSpec) int {
	if !spec.AllowRetake && spec.MaxAttempts > 1 {
		return 1
	}
	return spec.MaxAttempts
}

// IsUnlocked reports whether the component at index i may be opened.
// A started component stays reachable. Otherwise the nearest required
// predecessor must be COMPLETED; optional predecessors never gate.
func IsUnlocked(items []Item, i int) bool {
	if i < 0 || i >= len(items) {
		return false
	}
	if i == 0 || items[i].Status.Started() {
		return true
	}
	for j := i - 1; j >= 0; j-- {
		if items[j].Required {
			return items[j].Status == StatusCompleted
		}
	}
	return true
}

type ResumeReason string

const (
	ResumeInProgress ResumeReason = "in_progress"
	ResumeNext       ResumeReason = "next"
	ResumeBlocked    ResumeReason = "blocked"
	ResumeComplete   ResumeReason = "complete"
)

// ResumeTarget says where a learner continues. ComponentID is empty when
// the module is complete.
type ResumeTarget struct {
	ComponentID string       `json:"component_id,omitempty"`
	Index       int          `json:"index"`
	Reason      ResumeReason `json:"reason"`
}

// Resume picks the first IN_PROGRESS component, else the first unlocked
// component that is not COMPLETED and still actionable. A terminal failure
// with nothing actionable before it is reported as blocked.
func Resume(items []Item) ResumeTarget {
	for i, it := range items {
		if it.Status == StatusInProgress {
			return ResumeTarget{ComponentID: it.ComponentID, Index: i, Reason: ResumeInProgress}
		}
	}
	blocked := -1
	for i, it := range items {
		if it.Status == StatusCompleted || !IsUnlocked(items, i) {
			continue
		}
		if it.Terminal {
			if blocked < 0 {
				blocked = i
			}
			continue
		}
		return ResumeTarget{ComponentID: it.ComponentID, Index: i, Reason: ResumeNext}
	}
	if blocked >= 0 {
		return ResumeTarget{ComponentID: items[blocked].ComponentID, Index: blocked, Reason: ResumeBlocked}
	}
	return ResumeTarget{Index: -1, Reason: ResumeComplete}
}

// Aggregate returns floor(100 * completed required / required) and whether
// every required component is COMPLETED. A module with no required
// components is complete.
func Aggregate(items []Item) (overall int, completed bool) {
	var req, done int
	for _, it := range items {
		if !it.Required {
			continue
		}
		req++
		if it.Status == StatusCompleted {
			done++
		}
	}
	if req == 0 {
		return 100, true
	}
	return 100 * done / req, done == req
}
