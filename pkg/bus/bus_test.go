package bus

import (
	"testing"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()

	var got []Event
	unsub := b.Subscribe(func(evt Event) {
		got = append(got, evt)
	})
	defer unsub()

	b.Publish(Event{Type: EventDocumentUpdated, Payload: &Payload{ID: "d1"}})

	if len(got) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(got))
	}
	if got[0].Type != EventDocumentUpdated || got[0].Payload.ID != "d1" {
		t.Errorf("Unexpected event: %+v", got[0])
	}
}

func TestFanOutOrder(t *testing.T) {
	b := New()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		defer b.Subscribe(func(Event) { order = append(order, i) })()
	}

	b.Publish(Event{Type: EventClipboardUpdated})

	for i, v := range order {
		if v != i {
			t.Fatalf("Fan-out out of subscription order: %v", order)
		}
	}
}

func TestLateSubscriberMissesEvent(t *testing.T) {
	b := New()
	b.Publish(Event{Type: EventMemoryUpdated})

	fired := false
	defer b.Subscribe(func(Event) { fired = true })()

	if fired {
		t.Error("Plain subscribe must not replay past events")
	}
}

func TestStickySubscribeReplaysLastEvent(t *testing.T) {
	b := New()
	b.Publish(Event{Type: EventNoteCreated, Payload: &Payload{ID: "n1"}})
	b.Publish(Event{Type: EventNoteUpdated, Payload: &Payload{ID: "n2"}})

	var got []Event
	defer b.SubscribeSticky(func(evt Event) { got = append(got, evt) })()

	if len(got) != 1 {
		t.Fatalf("Sticky subscribe should replay exactly the last event, got %d", len(got))
	}
	if got[0].Type != EventNoteUpdated || got[0].Payload.ID != "n2" {
		t.Errorf("Expected most recent event, got %+v", got[0])
	}

	b.Publish(Event{Type: EventNoteDeleted, Payload: &Payload{ID: "n2"}})
	if len(got) != 2 {
		t.Fatalf("Sticky subscriber should also receive live events, got %d", len(got))
	}
}

func TestStickySubscribeWithoutHistory(t *testing.T) {
	b := New()

	fired := false
	defer b.SubscribeSticky(func(Event) { fired = true })()

	if fired {
		t.Error("Sticky subscribe with no history should not fire")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()

	count := 0
	unsub := b.Subscribe(func(Event) { count++ })

	b.Publish(Event{Type: EventDocumentCreated})
	unsub()
	b.Publish(Event{Type: EventDocumentCreated})
	unsub() // second call is a no-op

	if count != 1 {
		t.Errorf("Expected 1 delivery after unsubscribe, got %d", count)
	}
}

func TestPanickingHandlerDoesNotStopFanOut(t *testing.T) {
	b := New()

	defer b.Subscribe(func(Event) { panic("ui callback blew up") })()

	delivered := false
	defer b.Subscribe(func(Event) { delivered = true })()

	b.Publish(Event{Type: EventSessionUpdated})

	if !delivered {
		t.Error("Fan-out must continue past a panicking handler")
	}
}

func TestEventAction(t *testing.T) {
	cases := []struct {
		typ  EventType
		want Action
	}{
		{EventDocumentCreated, ActionCreated},
		{EventNoteUpdated, ActionUpdated},
		{EventDocumentDeleted, ActionDeleted},
		{EventTodoListChanged, ""},
		{EventType("weird"), ""},
	}
	for _, tc := range cases {
		if got := (Event{Type: tc.typ}).Action(); got != tc.want {
			t.Errorf("Action(%s) = %q, want %q", tc.typ, got, tc.want)
		}
	}
}

func TestMatchesScope(t *testing.T) {
	evt := Event{Type: EventDocumentUpdated, Payload: &Payload{ID: "d1", Scope: "work"}}
	if !evt.MatchesScope("work") {
		t.Error("Event should match its own scope")
	}
	if evt.MatchesScope("personal") {
		t.Error("Event must not match a different scope")
	}

	global := Event{Type: EventMemoryUpdated}
	if !global.MatchesScope("anything") {
		t.Error("Events without payload scope apply everywhere")
	}
}
