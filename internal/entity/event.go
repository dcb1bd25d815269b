// Structure of the realtime Event envelope and its closed vocabulary in Shipper.

package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the tag of an Event, it is also the SSE "event:" name.
type EventType string

// AI generation stream.
const (
	EventAIChunk      EventType = "ai:chunk"
	EventAIThinking   EventType = "ai:thinking"
	EventAIToolCall   EventType = "ai:tool-call"
	EventAIToolResult EventType = "ai:tool-result"
	EventAIComplete   EventType = "ai:complete"
	EventAIError      EventType = "ai:error"
)

// Secondary assistant, mirrors the AI family.
const (
	EventAdvisorChunk      EventType = "advisor:chunk"
	EventAdvisorThinking   EventType = "advisor:thinking"
	EventAdvisorToolCall   EventType = "advisor:tool-call"
	EventAdvisorToolResult EventType = "advisor:tool-result"
	EventAdvisorComplete   EventType = "advisor:complete"
	EventAdvisorError      EventType = "advisor:error"
)

// Chat state.
const (
	EventChatStreamingStart EventType = "chat:streaming-start"
	EventChatStreamingStop  EventType = "chat:streaming-stop"
	EventChatMessageAdded   EventType = "chat:message-added"
	EventChatTyping         EventType = "chat:typing"
)

// Sandbox.
const (
	EventSandboxFileChanged    EventType = "sandbox:file-changed"
	EventSandboxFileDeleted    EventType = "sandbox:file-deleted"
	EventSandboxTerminalOutput EventType = "sandbox:terminal-output"
	EventSandboxPreviewReload  EventType = "sandbox:preview-reload"
	EventSandboxStatus         EventType = "sandbox:status"
)

// File stream side-channel.
const (
	EventFileCreated        EventType = "file:created"
	EventFileUpdated        EventType = "file:updated"
	EventFileStreamComplete EventType = "file:stream-complete"
)

// Presence and workspace.
const (
	EventPresenceJoin     EventType = "presence:join"
	EventPresenceLeave    EventType = "presence:leave"
	EventWorkspaceUpdated EventType = "workspace:updated"
)

// EventConnected names the handshake frame written when a stream opens.
const EventConnected EventType = "connected"

// Event is the immutable envelope published to a channel.
// Type is always derived from Data, see NewEvent.
type Event struct {
	Type EventType
	Data Payload
	// UserID is the originator, connections of the same user never receive the event.
	UserID string
	// Timestamp in unix milliseconds.
	Timestamp int64
}

// NewEvent wraps a payload into an Event stamped with the current time.
func NewEvent(data Payload, userID string) Event {
	return Event{
		Type:      data.eventType(),
		Data:      data,
		UserID:    userID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// wireEvent is the JSON shape of an Event, both on the backbone and inside SSE frames.
type wireEvent struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	UserID    string          `json:"userId,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.Data == nil {
		return nil, fmt.Errorf("event %q has no payload", e.Type)
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{Type: e.Data.eventType(), Data: data, UserID: e.UserID, Timestamp: e.Timestamp})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	decode, ok := decoders[w.Type]
	if !ok {
		return fmt.Errorf("unknown event type %q", w.Type)
	}
	if len(w.Data) == 0 {
		w.Data = json.RawMessage("{}")
	}
	data, err := decode(w.Data)
	if err != nil {
		return fmt.Errorf("decoding %q payload: %w", w.Type, err)
	}
	*e = Event{Type: w.Type, Data: data, UserID: w.UserID, Timestamp: w.Timestamp}
	return nil
}

// DecodeEvent parses a serialized Event received from the backbone.
func DecodeEvent(b []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(b, &e)
	return e, err
}

// Known reports whether t belongs to the channel event vocabulary.
func (t EventType) Known() bool {
	_, ok := decoders[t]
	return ok
}
