// Payload shapes of every channel event in Shipper, one struct per event family.

package entity

import (
	"encoding/json"
)

// Payload is implemented only by the structs of this file, so the set of
// publishable events stays closed.
type Payload interface {
	eventType() EventType
}

// TypeOf returns the event tag a payload is published under.
func TypeOf(p Payload) EventType {
	return p.eventType()
}

// Family selects which assistant emitted an AI stream payload.
type Family string

const (
	FamilyAI      Family = "ai"
	FamilyAdvisor Family = "advisor"
)

func (f Family) tag(suffix string) EventType {
	if f == "" {
		f = FamilyAI
	}
	return EventType(string(f) + ":" + suffix)
}

// ChunkPayload is a batch of streamed text, ai:chunk or ai:thinking.
type ChunkPayload struct {
	Family     Family `json:"-"`
	MessageID  string `json:"messageId"`
	Chunk      string `json:"chunk"`
	IsThinking bool   `json:"isThinking,omitempty"`
}

func (p ChunkPayload) eventType() EventType {
	if p.IsThinking {
		return p.Family.tag("thinking")
	}
	return p.Family.tag("chunk")
}

type ToolCallPayload struct {
	Family     Family          `json:"-"`
	MessageID  string          `json:"messageId"`
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
}

func (p ToolCallPayload) eventType() EventType { return p.Family.tag("tool-call") }

type ToolResultPayload struct {
	Family     Family          `json:"-"`
	MessageID  string          `json:"messageId"`
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
}

func (p ToolResultPayload) eventType() EventType { return p.Family.tag("tool-result") }

type CompletePayload struct {
	Family       Family `json:"-"`
	MessageID    string `json:"messageId"`
	FinishReason string `json:"finishReason,omitempty"`
}

func (p CompletePayload) eventType() EventType { return p.Family.tag("complete") }

type ErrorPayload struct {
	Family    Family `json:"-"`
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

func (p ErrorPayload) eventType() EventType { return p.Family.tag("error") }

type StreamingStartPayload struct {
	MessageID string `json:"messageId"`
}

func (StreamingStartPayload) eventType() EventType { return EventChatStreamingStart }

type StreamingStopPayload struct {
	MessageID string `json:"messageId"`
	Reason    string `json:"reason,omitempty"`
}

func (StreamingStopPayload) eventType() EventType { return EventChatStreamingStop }

type MessageAddedPayload struct {
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
	Content   string `json:"content,omitempty"`
}

func (MessageAddedPayload) eventType() EventType { return EventChatMessageAdded }

type TypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

func (TypingPayload) eventType() EventType { return EventChatTyping }

// FileChangedPayload reports a sandbox file write. Content is left out for binary files.
type FileChangedPayload struct {
	Path     string `json:"path"`
	Action   string `json:"action"`
	Content  string `json:"content,omitempty"`
	Binary   bool   `json:"binary,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

func (FileChangedPayload) eventType() EventType { return EventSandboxFileChanged }

type FileDeletedPayload struct {
	Path string `json:"path"`
}

func (FileDeletedPayload) eventType() EventType { return EventSandboxFileDeleted }

type TerminalOutputPayload struct {
	Output string `json:"output"`
	Stream string `json:"stream,omitempty"`
}

func (TerminalOutputPayload) eventType() EventType { return EventSandboxTerminalOutput }

type PreviewReloadPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (PreviewReloadPayload) eventType() EventType { return EventSandboxPreviewReload }

type SandboxStatusPayload struct {
	Status    string `json:"status"`
	TunnelURL string `json:"tunnelUrl,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (SandboxStatusPayload) eventType() EventType { return EventSandboxStatus }

type PresenceJoinPayload struct {
	UserID string `json:"userId"`
}

func (PresenceJoinPayload) eventType() EventType { return EventPresenceJoin }

type PresenceLeavePayload struct {
	UserID string `json:"userId"`
}

func (PresenceLeavePayload) eventType() EventType { return EventPresenceLeave }

// WorkspaceUpdatedPayload tells workspace members that a resource changed.
type WorkspaceUpdatedPayload struct {
	Resource   string `json:"resource"`
	ResourceID string `json:"resourceId,omitempty"`
	Action     string `json:"action"`
}

func (WorkspaceUpdatedPayload) eventType() EventType { return EventWorkspaceUpdated }

type decoder func(json.RawMessage) (Payload, error)

// decodeAs builds a decoder for T, prep fills the fields the tag implies.
func decodeAs[T Payload](prep func(*T)) decoder {
	return func(raw json.RawMessage) (Payload, error) {
		var p T
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if prep != nil {
			prep(&p)
		}
		return p, nil
	}
}

func chunkDecoder(f Family, thinking bool) decoder {
	return decodeAs(func(p *ChunkPayload) { p.Family, p.IsThinking = f, thinking })
}

var decoders = map[EventType]decoder{
	EventAIChunk:      chunkDecoder(FamilyAI, false),
	EventAIThinking:   chunkDecoder(FamilyAI, true),
	EventAIToolCall:   decodeAs(func(p *ToolCallPayload) { p.Family = FamilyAI }),
	EventAIToolResult: decodeAs(func(p *ToolResultPayload) { p.Family = FamilyAI }),
	EventAIComplete:   decodeAs(func(p *CompletePayload) { p.Family = FamilyAI }),
	EventAIError:      decodeAs(func(p *ErrorPayload) { p.Family = FamilyAI }),

	EventAdvisorChunk:      chunkDecoder(FamilyAdvisor, false),
	EventAdvisorThinking:   chunkDecoder(FamilyAdvisor, true),
	EventAdvisorToolCall:   decodeAs(func(p *ToolCallPayload) { p.Family = FamilyAdvisor }),
	EventAdvisorToolResult: decodeAs(func(p *ToolResultPayload) { p.Family = FamilyAdvisor }),
	EventAdvisorComplete:   decodeAs(func(p *CompletePayload) { p.Family = FamilyAdvisor }),
	EventAdvisorError:      decodeAs(func(p *ErrorPayload) { p.Family = FamilyAdvisor }),

	EventChatStreamingStart: decodeAs[StreamingStartPayload](nil),
	EventChatStreamingStop:  decodeAs[StreamingStopPayload](nil),
	EventChatMessageAdded:   decodeAs[MessageAddedPayload](nil),
	EventChatTyping:         decodeAs[TypingPayload](nil),

	EventSandboxFileChanged:    decodeAs[FileChangedPayload](nil),
	EventSandboxFileDeleted:    decodeAs[FileDeletedPayload](nil),
	EventSandboxTerminalOutput: decodeAs[TerminalOutputPayload](nil),
	EventSandboxPreviewReload:  decodeAs[PreviewReloadPayload](nil),
	EventSandboxStatus:         decodeAs[SandboxStatusPayload](nil),

	EventPresenceJoin:     decodeAs[PresenceJoinPayload](nil),
	EventPresenceLeave:    decodeAs[PresenceLeavePayload](nil),
	EventWorkspaceUpdated: decodeAs[WorkspaceUpdatedPayload](nil),
}
