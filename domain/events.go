package domain

import "encoding/json"

// Live update event types fanned out on a document topic. Mutation events
// carry the mutated entity in Data; cursor events carry telemetry in
// Payload and are never persisted.
const (
	EventTaskCreated     = "task_created"
	EventTaskUpdated     = "task_updated"
	EventTaskBulkUpdated = "task_bulk_updated"
	EventTaskDeleted     = "task_deleted"
	EventTodoUpdated     = "todo_updated"
	EventCursorUpdate    = "cursor_update"
)

// Event is the wire shape of a live update. Receivers treat Data as a
// signal to refetch, never as the new truth.
type Event struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CursorPosition is ephemeral pointer telemetry exchanged between
// collaborators viewing the same document.
type CursorPosition struct {
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// Topic returns the broadcast topic scoping live updates to one document.
func Topic(todoID string) string {
	return "todo-" + todoID
}

// NewEvent wraps data in a typed mutation event.
func NewEvent(eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: raw}, nil
}

// NewCursorEvent wraps a cursor position in a cursor_update event.
func NewCursorEvent(pos CursorPosition) (Event, error) {
	raw, err := json.Marshal(pos)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: EventCursorUpdate, Payload: raw}, nil
}
