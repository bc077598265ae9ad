package telemetry

import (
	"testing"
	"time"
)

func newTestBus() *EventBus {
	return NewEventBus(EventsConfig{Enabled: true})
}

func TestEventBus_Publish_DeliversInOrder(t *testing.T) {
	bus := newTestBus()

	var got []string
	bus.Subscribe(func(e Event) {
		got = append(got, e.Type)
	}, nil)

	bus.Publish(Event{Type: EventTypeRunStarted})
	bus.Publish(Event{Type: EventTypeStepStarted})
	bus.Publish(Event{Type: EventTypeStepCompleted})
	bus.Publish(Event{Type: EventTypeRunCompleted})

	want := []string{EventTypeRunStarted, EventTypeStepStarted, EventTypeStepCompleted, EventTypeRunCompleted}
	if len(got) != len(want) {
		t.Fatalf("delivered %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEventBus_Publish_FillsIDAndTimestamp(t *testing.T) {
	bus := newTestBus()

	var got Event
	bus.Subscribe(func(e Event) { got = e }, nil)

	bus.Publish(Event{Type: EventTypeRunStarted, RunID: "run-1"})

	if got.ID == "" {
		t.Error("event ID not assigned")
	}
	if got.Timestamp.IsZero() {
		t.Error("event timestamp not assigned")
	}
	if got.RunID != "run-1" {
		t.Errorf("run ID = %q, want run-1", got.RunID)
	}
}

func TestEventBus_Disabled_DropsEvents(t *testing.T) {
	bus := NewEventBus(EventsConfig{Enabled: false})

	delivered := 0
	bus.Subscribe(func(Event) { delivered++ }, nil)

	bus.Publish(Event{Type: EventTypeRunStarted})

	if delivered != 0 {
		t.Errorf("disabled bus delivered %d events", delivered)
	}
}

func TestEventBus_FilterByType(t *testing.T) {
	bus := newTestBus()

	var got []string
	bus.Subscribe(func(e Event) {
		got = append(got, e.Type)
	}, FilterByType(EventTypeStepRetried))

	bus.Publish(Event{Type: EventTypeStepStarted})
	bus.Publish(Event{Type: EventTypeStepRetried})
	bus.Publish(Event{Type: EventTypeStepCompleted})
	bus.Publish(Event{Type: EventTypeStepRetried})

	if len(got) != 2 {
		t.Fatalf("filter passed %d events, want 2", len(got))
	}
	for _, typ := range got {
		if typ != EventTypeStepRetried {
			t.Errorf("filter passed %q", typ)
		}
	}
}

func TestEventBus_FilterByRunID(t *testing.T) {
	bus := newTestBus()

	delivered := 0
	bus.Subscribe(func(Event) { delivered++ }, FilterByRunID("run-a"))

	bus.Publish(Event{Type: EventTypeRunStarted, RunID: "run-a"})
	bus.Publish(Event{Type: EventTypeRunStarted, RunID: "run-b"})

	if delivered != 1 {
		t.Errorf("filter passed %d events, want 1", delivered)
	}
}

func TestEventBus_FilterByLevel(t *testing.T) {
	bus := newTestBus()

	var got []string
	bus.Subscribe(func(e Event) {
		got = append(got, e.Level)
	}, FilterByLevel(EventLevelWarning))

	bus.Publish(Event{Type: EventTypeStepRetried, Level: EventLevelWarning})
	bus.Publish(Event{Type: EventTypeStepCompleted, Level: EventLevelInfo})
	bus.Publish(Event{Type: EventTypeRunFailed, Level: EventLevelError})

	if len(got) != 2 {
		t.Fatalf("filter passed %d events, want 2", len(got))
	}
}

func TestEventBus_PublishRunCompleted_Fields(t *testing.T) {
	bus := newTestBus()

	var got Event
	bus.Subscribe(func(e Event) { got = e }, nil)

	bus.PublishRunCompleted("run-1", "install", "succeeded", 0, 1500*time.Millisecond)

	if got.Type != EventTypeRunCompleted {
		t.Errorf("type = %q, want %q", got.Type, EventTypeRunCompleted)
	}
	if got.Workflow != "install" {
		t.Errorf("workflow = %q", got.Workflow)
	}
	if got.Level != EventLevelInfo {
		t.Errorf("level = %q, want info for exit code 0", got.Level)
	}
	if got.Data["status"] != "succeeded" {
		t.Errorf("status = %v", got.Data["status"])
	}
	if got.Data["exit_code"] != 0 {
		t.Errorf("exit_code = %v", got.Data["exit_code"])
	}
	if got.Data["duration"] != 1.5 {
		t.Errorf("duration = %v", got.Data["duration"])
	}
}

func TestEventBus_PublishStepRetried_IsWarning(t *testing.T) {
	bus := newTestBus()

	var got Event
	bus.Subscribe(func(e Event) { got = e }, nil)

	bus.PublishStepRetried("run-1", "install", "download_installer", 2, 3)

	if got.Type != EventTypeStepRetried {
		t.Errorf("type = %q", got.Type)
	}
	if got.Level != EventLevelWarning {
		t.Errorf("level = %q, want warning", got.Level)
	}
	if got.Data["attempt"] != 2 || got.Data["max_attempts"] != 3 {
		t.Errorf("attempt data = %v", got.Data)
	}
}

func TestEventBus_PublishStateChanged_Fields(t *testing.T) {
	bus := newTestBus()

	var got Event
	bus.Subscribe(func(e Event) { got = e }, nil)

	bus.PublishStateChanged("run-1", "install", "detecting", "confirming")

	if got.Type != EventTypeStateChanged {
		t.Errorf("type = %q", got.Type)
	}
	if got.Data["from"] != "detecting" || got.Data["to"] != "confirming" {
		t.Errorf("transition data = %v", got.Data)
	}
}

func TestEventBus_PublishRunStarted_Mode(t *testing.T) {
	bus := newTestBus()

	var got Event
	bus.Subscribe(func(e Event) { got = e }, nil)

	bus.PublishRunStarted("run-1", "uninstall", true)

	if got.Data["mode"] != "dry-run" {
		t.Errorf("mode = %v, want dry-run", got.Data["mode"])
	}

	bus.PublishRunStarted("run-2", "uninstall", false)
	if got.Data["mode"] != "real" {
		t.Errorf("mode = %v, want real", got.Data["mode"])
	}
}
