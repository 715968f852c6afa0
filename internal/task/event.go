package task

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType tags a GlobalEvent.
type EventType string

const (
	// EventTaskAdd signals that a task was created.
	EventTaskAdd EventType = "TaskAdd"

	// EventTaskUpdate signals that the task with the carried id changed.
	EventTaskUpdate EventType = "TaskUpdate"
)

// ErrMalformedEvent is returned for payloads that are not a known GlobalEvent.
var ErrMalformedEvent = errors.New("malformed global event")

// GlobalEvent is the invalidation signal pushed on the events channel.
// It never carries a task payload, only the id of the task to refetch.
type GlobalEvent struct {
	Type EventType `json:"type"`
	UUID string    `json:"uuid,omitempty"`
}

// TaskAdded builds a TaskAdd event.
func TaskAdded() GlobalEvent {
	return GlobalEvent{Type: EventTaskAdd}
}

// TaskUpdated builds a TaskUpdate event for id.
func TaskUpdated(id string) GlobalEvent {
	return GlobalEvent{Type: EventTaskUpdate, UUID: id}
}

// ParseGlobalEvent decodes and validates an event payload.
func ParseGlobalEvent(data []byte) (GlobalEvent, error) {
	var evt GlobalEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return GlobalEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch evt.Type {
	case EventTaskAdd:
		evt.UUID = ""
	case EventTaskUpdate:
		if evt.UUID == "" {
			return GlobalEvent{}, fmt.Errorf("%w: TaskUpdate without uuid", ErrMalformedEvent)
		}
	default:
		return GlobalEvent{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, evt.Type)
	}
	return evt, nil
}
