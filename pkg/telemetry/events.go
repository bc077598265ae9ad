package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a run event in the bootforge engine.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Workflow is the workflow name, if applicable.
	Workflow string `json:"workflow,omitempty"`

	// Step is the associated step name, if applicable.
	Step string `json:"step,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for workflow run events.
const (
	EventTypeRunStarted            = "run.started"
	EventTypeRunCompleted          = "run.completed"
	EventTypeRunFailed             = "run.failed"
	EventTypeStateChanged          = "state.changed"
	EventTypeStepStarted           = "step.started"
	EventTypeStepCompleted         = "step.completed"
	EventTypeStepRetried           = "step.retried"
	EventTypeStepSkipped           = "step.skipped"
	EventTypeBackupCreated         = "backup.created"
	EventTypeVerificationCompleted = "verification.completed"
	EventTypePolicyDenied          = "policy.denied"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventBus delivers run events to subscribers. Delivery is synchronous and
// in emission order: a workflow run is single-threaded, and subscribers
// (store appender, journal writer, stdout streamer) rely on seeing events
// exactly as they happened.
type EventBus struct {
	config      EventsConfig
	subscribers []subscriberEntry
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventBus creates a new event bus with the given configuration.
func NewEventBus(cfg EventsConfig) *EventBus {
	return &EventBus{
		config:      cfg,
		subscribers: make([]subscriberEntry, 0),
	}
}

// Subscribe adds a new event subscriber. A nil filter receives everything.
func (b *EventBus) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	b.subscribers = append(b.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// Publish delivers an event to all matching subscribers before returning.
func (b *EventBus) Publish(event Event) {
	if !b.config.Enabled {
		return
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, entry := range b.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// PublishRunStarted publishes a run started event.
func (b *EventBus) PublishRunStarted(runID, workflow string, dryRun bool) {
	mode := "real"
	if dryRun {
		mode = "dry-run"
	}
	b.Publish(Event{
		Type:     EventTypeRunStarted,
		Source:   "orchestrator",
		RunID:    runID,
		Workflow: workflow,
		Message:  workflow + " run started (" + mode + ")",
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"mode": mode,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (b *EventBus) PublishRunCompleted(runID, workflow, status string, exitCode int, duration time.Duration) {
	level := EventLevelInfo
	if exitCode != 0 {
		level = EventLevelError
	}
	b.Publish(Event{
		Type:     EventTypeRunCompleted,
		Source:   "orchestrator",
		RunID:    runID,
		Workflow: workflow,
		Message:  workflow + " run completed with status " + status,
		Level:    level,
		Data: map[string]interface{}{
			"status":    status,
			"exit_code": exitCode,
			"duration":  duration.Seconds(),
		},
	})
}

// PublishStateChanged publishes a workflow state transition event.
func (b *EventBus) PublishStateChanged(runID, workflow, from, to string) {
	b.Publish(Event{
		Type:     EventTypeStateChanged,
		Source:   "orchestrator",
		RunID:    runID,
		Workflow: workflow,
		Message:  "state " + from + " -> " + to,
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	})
}

// PublishStepStarted publishes a step started event.
func (b *EventBus) PublishStepStarted(runID, workflow, step, description string) {
	b.Publish(Event{
		Type:     EventTypeStepStarted,
		Source:   "executor",
		RunID:    runID,
		Workflow: workflow,
		Step:     step,
		Message:  description,
		Level:    EventLevelInfo,
	})
}

// PublishStepCompleted publishes a step completed event.
func (b *EventBus) PublishStepCompleted(runID, workflow, step, outcome string, attempts int, duration time.Duration) {
	level := EventLevelInfo
	if outcome == "failed" {
		level = EventLevelError
	}
	b.Publish(Event{
		Type:     EventTypeStepCompleted,
		Source:   "executor",
		RunID:    runID,
		Workflow: workflow,
		Step:     step,
		Message:  "step " + step + " " + outcome,
		Level:    level,
		Data: map[string]interface{}{
			"outcome":  outcome,
			"attempts": attempts,
			"duration": duration.Seconds(),
		},
	})
}

// PublishStepRetried publishes a retry attempt event.
func (b *EventBus) PublishStepRetried(runID, workflow, step string, attempt, maxAttempts int) {
	b.Publish(Event{
		Type:     EventTypeStepRetried,
		Source:   "executor",
		RunID:    runID,
		Workflow: workflow,
		Step:     step,
		Message:  "step " + step + " will retry",
		Level:    EventLevelWarning,
		Data: map[string]interface{}{
			"attempt":      attempt,
			"max_attempts": maxAttempts,
		},
	})
}

// PublishStepSkipped publishes a guarded step skip event.
func (b *EventBus) PublishStepSkipped(runID, workflow, step, reason string) {
	b.Publish(Event{
		Type:     EventTypeStepSkipped,
		Source:   "orchestrator",
		RunID:    runID,
		Workflow: workflow,
		Step:     step,
		Message:  "step " + step + " skipped: " + reason,
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishBackupCreated publishes a backup manifest event.
func (b *EventBus) PublishBackupCreated(runID, workflow, root string, copied, failed int) {
	b.Publish(Event{
		Type:     EventTypeBackupCreated,
		Source:   "backup",
		RunID:    runID,
		Workflow: workflow,
		Message:  "backup snapshot created at " + root,
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"root":   root,
			"copied": copied,
			"failed": failed,
		},
	})
}

// PublishVerificationCompleted publishes the verification verdict.
func (b *EventBus) PublishVerificationCompleted(runID, workflow string, issues int, pass bool) {
	level := EventLevelInfo
	if !pass {
		level = EventLevelWarning
	}
	b.Publish(Event{
		Type:     EventTypeVerificationCompleted,
		Source:   "verifier",
		RunID:    runID,
		Workflow: workflow,
		Message:  "verification completed",
		Level:    level,
		Data: map[string]interface{}{
			"issues": issues,
			"pass":   pass,
		},
	})
}

// PublishPolicyDenied publishes a plan policy denial.
func (b *EventBus) PublishPolicyDenied(runID, workflow, policy, reason string) {
	b.Publish(Event{
		Type:     EventTypePolicyDenied,
		Source:   "policy",
		RunID:    runID,
		Workflow: workflow,
		Message:  "plan denied by policy " + policy + ": " + reason,
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"policy": policy,
			"reason": reason,
		},
	})
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a given level
// or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
