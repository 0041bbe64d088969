package state

import (
	"testing"

	"github.com/atlasview/layerd/internal/layer"
	"github.com/atlasview/layerd/pkg/logger"
)

func TestLatestCreatesIdleState(t *testing.T) {
	m := NewMachine(logger.NewNoOp())

	st := m.Latest("temperature")
	if st.Status != StatusIdle {
		t.Fatalf("initial status = %q, want idle", st.Status)
	}
	if st.DataSource != layer.SourceUnknown {
		t.Fatalf("initial data source = %q, want unknown", st.DataSource)
	}
}

func TestTransitionLifecycle(t *testing.T) {
	m := NewMachine(logger.NewNoOp())

	steps := []struct {
		to     Status
		source layer.SourceKind
	}{
		{StatusLoading, layer.SourceUnknown},
		{StatusSuccess, layer.SourceReal},
		{StatusLoading, layer.SourceUnknown}, // re-fetch
		{StatusFallback, layer.SourceFallback},
		{StatusLoading, layer.SourceUnknown},
		{StatusError, layer.SourceUnknown},
	}
	for _, step := range steps {
		st, err := m.Transition("temperature", step.to, step.source, "", nil)
		if err != nil {
			t.Fatalf("transition to %q failed: %v", step.to, err)
		}
		if st.Status != step.to {
			t.Fatalf("status = %q, want %q", st.Status, step.to)
		}
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	m := NewMachine(logger.NewNoOp())

	if _, err := m.Transition("temperature", StatusError, layer.SourceUnknown, "boom", nil); err == nil {
		t.Fatal("idle -> error should be rejected")
	}
	if st := m.Latest("temperature"); st.Status != StatusIdle {
		t.Fatalf("rejected transition mutated state to %q", st.Status)
	}
}

func TestCacheHitSettlesWithoutLoading(t *testing.T) {
	m := NewMachine(logger.NewNoOp())

	st, err := m.Transition("temperature", StatusSuccess, layer.SourceReal, "", map[string]any{"cached": true})
	if err != nil {
		t.Fatalf("idle -> success should be allowed for cache hits: %v", err)
	}
	if st.Status != StatusSuccess || st.DataSource != layer.SourceReal {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestTransitionEmitsEvents(t *testing.T) {
	m := NewMachine(logger.NewNoOp())

	var events []Event
	unsubscribe := m.Subscribe("temperature", func(e Event) {
		events = append(events, e)
	})
	defer unsubscribe()

	m.Transition("temperature", StatusLoading, layer.SourceUnknown, "", nil)
	m.Transition("temperature", StatusSuccess, layer.SourceReal, "", nil)

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Previous != StatusIdle || events[0].New != StatusLoading {
		t.Fatalf("first event %+v", events[0])
	}
	if events[1].Previous != StatusLoading || events[1].New != StatusSuccess {
		t.Fatalf("second event %+v", events[1])
	}
	if events[1].DataSource != layer.SourceReal {
		t.Fatalf("event data source = %q", events[1].DataSource)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	m := NewMachine(logger.NewNoOp())

	count := 0
	unsubscribe := m.Subscribe("temperature", func(Event) { count++ })

	unsubscribe()
	unsubscribe() // must be safe to call twice

	m.Transition("temperature", StatusLoading, layer.SourceUnknown, "", nil)
	if count != 0 {
		t.Fatalf("unsubscribed callback fired %d times", count)
	}
}

func TestUnsubscribeFromWithinCallback(t *testing.T) {
	m := NewMachine(logger.NewNoOp())

	count := 0
	var unsubscribe func()
	unsubscribe = m.Subscribe("temperature", func(Event) {
		count++
		unsubscribe()
	})

	m.Transition("temperature", StatusLoading, layer.SourceUnknown, "", nil)
	m.Transition("temperature", StatusSuccess, layer.SourceReal, "", nil)

	if count != 1 {
		t.Fatalf("callback fired %d times, want 1", count)
	}
}

func TestEventsScopedToLayer(t *testing.T) {
	m := NewMachine(logger.NewNoOp())

	fired := false
	m.Subscribe("precipitation", func(Event) { fired = true })

	m.Transition("temperature", StatusLoading, layer.SourceUnknown, "", nil)
	if fired {
		t.Fatal("subscriber received an event for a different layer")
	}
}
