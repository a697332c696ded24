package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Milestone is a discrete view-progress checkpoint.
type Milestone int

const (
	MilestoneNone      Milestone = 0
	MilestoneOpened    Milestone = 50
	MilestoneLoaded    Milestone = 75
	MilestoneCompleted Milestone = 100
)

func (m Milestone) String() string {
	switch m {
	case MilestoneOpened:
		return "open"
	case MilestoneLoaded:
		return "content-loaded"
	case MilestoneCompleted:
		return "completed"
	case MilestoneNone:
		return "none"
	}
	return strconv.Itoa(int(m))
}

// ParseMilestone accepts a milestone name or its numeric value.
func ParseMilestone(s string) (Milestone, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "opened", "50":
		return MilestoneOpened, nil
	case "content-loaded", "loaded", "75":
		return MilestoneLoaded, nil
	case "completed", "complete", "ended", "playback-ended", "100":
		return MilestoneCompleted, nil
	}
	return MilestoneNone, fmt.Errorf("unknown milestone %q", s)
}

// UnmarshalJSON accepts either form ParseMilestone does, quoted or as a bare
// number: "completed", "100" and 100 are the same milestone. A bare 0 decodes
// to MilestoneNone so encoded values round-trip.
func (m *Milestone) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case "null":
		return nil
	case "0":
		*m = MilestoneNone
		return nil
	}
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	v, err := ParseMilestone(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Ratchet returns the higher of the recorded and incoming values.
func Ratchet(recorded, incoming Milestone) Milestone {
	if incoming > recorded {
		return incoming
	}
	return recorded
}

// Reporter receives milestones that raised the recorded view progress.
type Reporter interface {
	Report(ctx context.Context, m Milestone) error
}

type ReporterFunc func(ctx context.Context, m Milestone) error

func (f ReporterFunc) Report(ctx context.Context, m Milestone) error { return f(ctx, m) }
