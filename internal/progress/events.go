package progress

import (
	"context"
	"time"
)

type EventType string

const (
	EventComponentStarted   EventType = "component.started"
	EventComponentCompleted EventType = "component.completed"
	EventComponentFailed    EventType = "component.failed"
	EventAttemptSubmitted   EventType = "attempt.submitted"
	EventMaterialProgress   EventType = "material.progress"
	EventModuleCompleted    EventType = "module.completed"
)

// Event is emitted after a state change has been stored.
type Event struct {
	Type        EventType `json:"type"`
	LearnerID   string    `json:"learner_id"`
	ModuleID    string    `json:"module_id"`
	ComponentID string    `json:"component_id,omitempty"`
	MaterialID  string    `json:"material_id,omitempty"`
	Status      Status    `json:"status,omitempty"`
	Progress    int       `json:"progress"`
	Score       *int      `json:"score,omitempty"`
	Attempts    int       `json:"attempts,omitempty"`
	At          time.Time `json:"at"`
}

// EventSink receives events. Sinks handle their own failures; a sink
// must never block progress writes.
type EventSink interface {
	Publish(ctx context.Context, e Event)
}

type EventSinkFunc func(ctx context.Context, e Event)

func (f EventSinkFunc) Publish(ctx context.Context, e Event) { f(ctx, e) }

// Sinks fans an event out to several sinks in order.
type Sinks []EventSink

func (s Sinks) Publish(ctx context.Context, e Event) {
	for _, sink := range s {
		sink.Publish(ctx, e)
	}
}
