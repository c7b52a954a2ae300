// Package events defines the event types used throughout codexgw: the
// hub's internal control-plane notifications and the journal's
// persisted, cursor-ordered conversation events.
package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of a hub (control-plane) event.
type EventType string

const (
	// EventTypeTailerRetire is published by a tailer requesting the
	// manager deregister it after its idle-shutdown timer fires. Modeled
	// as a message rather than a back-reference so the tailer never
	// holds a pointer to the thing that owns it.
	EventTypeTailerRetire EventType = "tailer_retire"

	// EventTypeSidecarCommitted is published whenever a journal writer
	// commits a sidecar update, so other components (e.g. an optional
	// session-directory index) can react without polling the filesystem.
	EventTypeSidecarCommitted EventType = "sidecar_committed"

	// EventTypePTYSpawned and EventTypePTYReaped mark PTY registry
	// lifecycle transitions, used for diagnostics.
	EventTypePTYSpawned EventType = "pty_spawned"
	EventTypePTYReaped  EventType = "pty_reaped"
)

// Event is the base interface for all hub-distributed events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	ToJSON() ([]byte, error)
	GetSessionID() string
}

// BaseEvent contains fields common to every hub event.
type BaseEvent struct {
	EventType EventType   `json:"event"`
	EventTime time.Time   `json:"timestamp"`
	SessionID string      `json:"session_id,omitempty"`
	Payload   interface{} `json:"payload"`
}

// GetSessionID returns the session id this event pertains to, if any.
func (e *BaseEvent) GetSessionID() string { return e.SessionID }

// Type returns the event type.
func (e *BaseEvent) Type() EventType { return e.EventType }

// Timestamp returns when the event occurred.
func (e *BaseEvent) Timestamp() time.Time { return e.EventTime }

// ToJSON serializes the event to JSON.
func (e *BaseEvent) ToJSON() ([]byte, error) { return json.Marshal(e) }

// NewEvent creates a new base hub event with the given type and payload.
func NewEvent(eventType EventType, payload interface{}) *BaseEvent {
	return &BaseEvent{EventType: eventType, EventTime: time.Now().UTC(), Payload: payload}
}

// NewEventWithSession creates a new hub event scoped to a session id.
func NewEventWithSession(eventType EventType, payload interface{}, sessionID string) *BaseEvent {
	return &BaseEvent{EventType: eventType, EventTime: time.Now().UTC(), SessionID: sessionID, Payload: payload}
}

// TailerRetirePayload is the payload of a tailer_retire event.
type TailerRetirePayload struct {
	SessionID string `json:"session_id"`
}

// NewTailerRetireEvent creates a tailer_retire event.
func NewTailerRetireEvent(sessionID string) *BaseEvent {
	return NewEventWithSession(EventTypeTailerRetire, TailerRetirePayload{SessionID: sessionID}, sessionID)
}

// SidecarCommittedPayload is the payload of a sidecar_committed event.
type SidecarCommittedPayload struct {
	SessionID  string `json:"session_id"`
	LastCursor int64  `json:"last_cursor"`
}

// NewSidecarCommittedEvent creates a sidecar_committed event.
func NewSidecarCommittedEvent(sessionID string, lastCursor int64) *BaseEvent {
	return NewEventWithSession(EventTypeSidecarCommitted, SidecarCommittedPayload{
		SessionID:  sessionID,
		LastCursor: lastCursor,
	}, sessionID)
}

// PTYLifecyclePayload is the payload of pty_spawned/pty_reaped events.
type PTYLifecyclePayload struct {
	SessionID string `json:"session_id"`
	Provider  string `json:"provider,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// NewPTYSpawnedEvent creates a pty_spawned event.
func NewPTYSpawnedEvent(sessionID, provider string) *BaseEvent {
	return NewEventWithSession(EventTypePTYSpawned, PTYLifecyclePayload{SessionID: sessionID, Provider: provider}, sessionID)
}

// NewPTYReapedEvent creates a pty_reaped event.
func NewPTYReapedEvent(sessionID, reason string) *BaseEvent {
	return NewEventWithSession(EventTypePTYReaped, PTYLifecyclePayload{SessionID: sessionID, Reason: reason}, sessionID)
}
