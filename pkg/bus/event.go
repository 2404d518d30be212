package bus

import "strings"

// EventType names a server-pushed change notification. The set is closed:
// consumers classify events by exhaustive matching on these constants, not by
// probing payload fields.
type EventType string

const (
	EventDocumentCreated EventType = "document.created"
	EventDocumentUpdated EventType = "document.updated"
	EventDocumentDeleted EventType = "document.deleted"

	EventNoteCreated EventType = "note.created"
	EventNoteUpdated EventType = "note.updated"
	EventNoteDeleted EventType = "note.deleted"

	// EventTodoListChanged signals that the whole todo sub-list changed.
	// There is no per-item identity, so list consumers treat it as ambiguous.
	EventTodoListChanged EventType = "todolist.changed"

	EventClipboardUpdated EventType = "clipboard.updated"
	EventMemoryUpdated    EventType = "memory.updated"

	EventSessionUpdated EventType = "session.updated"
)

// Action is the trailing verb of an EventType.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// Payload carries the optional entity identity of a change event.
// Scope, when present, restricts the event to one workspace partition.
type Payload struct {
	ID    string `json:"id"`
	Scope string `json:"scope,omitempty"`
}

// Event is a tagged change notification pushed by the server.
type Event struct {
	Type    EventType `json:"type"`
	Payload *Payload  `json:"payload,omitempty"`
}

// Action returns the trailing verb of the event type, or "" when the type
// does not follow the entity.verb shape.
func (e Event) Action() Action {
	idx := strings.LastIndexByte(string(e.Type), '.')
	if idx < 0 {
		return ""
	}
	switch a := Action(e.Type[idx+1:]); a {
	case ActionCreated, ActionUpdated, ActionDeleted:
		return a
	default:
		return ""
	}
}

// MatchesScope reports whether the event applies to the given scope.
// Events without a payload scope apply everywhere.
func (e Event) MatchesScope(scope string) bool {
	if e.Payload == nil || e.Payload.Scope == "" {
		return true
	}
	return e.Payload.Scope == scope
}
