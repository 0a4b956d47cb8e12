package domain

import "time"

// EventType classifies run lifecycle events.
type EventType string

const (
	EventTypeRunSubmitted  EventType = "run.submitted"
	EventTypeTaskOpened    EventType = "task.opened"
	EventTypeStepAllocated EventType = "step.allocated"
	EventTypeStepDegraded  EventType = "step.degraded"
	EventTypeStepSettled   EventType = "step.settled"
	EventTypeRunCompleted  EventType = "run.completed"
	EventTypeRunFailed     EventType = "run.failed"
	EventTypeRunCancelled  EventType = "run.cancelled"
)

// Event is one run lifecycle notification published on the event bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run_id"`
	TaskID    uint64                 `json:"task_id,omitempty"`
	Role      Role                   `json:"role,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
