// Package events defines the lifecycle notifications published while cell
// executions move through the queue, for external observers such as UI
// forwarders and audit pipelines.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const Topic = "kernelq.executions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionEnqueuedEvent  EventType = "execution.enqueued"
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	// Session lifecycle events.
	SessionInterruptedEvent EventType = "session.interrupted"
	SessionRestartedEvent   EventType = "session.restarted"
	QueueFailedEvent        EventType = "queue.failed"
	DocumentClosedEvent     EventType = "document.closed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	DocumentID string         `json:"document_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBase(eventType EventType, documentID string) BaseEvent {
	return BaseEvent{
		ID:         "evt-" + uuid.New().String()[:8],
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		DocumentID: documentID,
	}
}

type ExecutionEnqueued struct {
	BaseEvent

	RequestID string `json:"request_id"`
	OriginID  string `json:"origin_id,omitempty"`
	CodeSize  int    `json:"code_size"`
}

func (e ExecutionEnqueued) GetType() EventType {
	return ExecutionEnqueuedEvent
}

type ExecutionStarted struct {
	BaseEvent

	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	RequestID string        `json:"request_id"`
	Duration  time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	RequestID string        `json:"request_id"`
	Error     string        `json:"error"`
	Duration  time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	RequestID string `json:"request_id"`
	Forceful  bool   `json:"forceful"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

type SessionInterrupted struct {
	BaseEvent

	SessionID string `json:"session_id,omitempty"`
}

func (e SessionInterrupted) GetType() EventType {
	return SessionInterruptedEvent
}

type SessionRestarted struct {
	BaseEvent

	OldSessionID string `json:"old_session_id,omitempty"`
	NewSessionID string `json:"new_session_id,omitempty"`
}

func (e SessionRestarted) GetType() EventType {
	return SessionRestartedEvent
}

type QueueFailed struct {
	BaseEvent

	Error string `json:"error"`
}

func (e QueueFailed) GetType() EventType {
	return QueueFailedEvent
}

type DocumentClosed struct {
	BaseEvent
}

func (e DocumentClosed) GetType() EventType {
	return DocumentClosedEvent
}
