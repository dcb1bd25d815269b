// Publisher is the typed publish facade used by the generation pipeline and
// the sandbox manager. Every method reports success and never panics.

package realtime

import (
	"Shipper/internal/batcher"
	"Shipper/internal/entity"
	"Shipper/pkg/log"
	"context"
	"encoding/json"
	"unicode/utf8"

	"github.com/h2non/filetype"
)

type Publisher struct {
	hub    *Hub
	logger log.Logger
}

func NewPublisher(hub *Hub, logger log.Logger) *Publisher {
	return &Publisher{hub: hub, logger: logger}
}

func chunkScope(f entity.Family, projectID string) string {
	return string(f) + ":" + projectID
}

func (p *Publisher) publish(channel string, payload entity.Payload, userID string) bool {
	if puberr := p.hub.Publish(context.Background(), channel, entity.NewEvent(payload, userID)); puberr != nil {
		p.logger.Error().Err(puberr).Str("channel", channel).Msg("Error occured while publishing event")
		return false
	}
	return true
}

func (p *Publisher) toProject(projectID string, payload entity.Payload, userID string) bool {
	if projectID == "" {
		p.logger.Warn().Str("type", string(entity.TypeOf(payload))).Msg("Dropped event without project id")
		return false
	}
	return p.publish(entity.ProjectChannel(projectID), payload, userID)
}

func (p *Publisher) rawJSON(v any) (json.RawMessage, bool) {
	if v == nil {
		return nil, true
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, true
	}
	b, encerr := json.Marshal(v)
	if encerr != nil {
		p.logger.Error().Err(encerr).Msg("Error occured while encoding tool payload")
		return nil, false
	}
	return b, true
}

// AI stream

// PublishChunk queues a text fragment, fragments of one message are coalesced
// into a single ai:chunk (or ai:thinking) event per flush interval.
func (p *Publisher) PublishChunk(projectID, messageID, text string, isThinking bool, userID string) bool {
	return p.chunk(entity.FamilyAI, projectID, messageID, text, isThinking, userID)
}

// FlushChunks emits the pending fragments of a message right away.
func (p *Publisher) FlushChunks(projectID, messageID string) bool {
	return p.flush(entity.FamilyAI, projectID, messageID)
}

func (p *Publisher) PublishToolCall(projectID, messageID, toolCallID, toolName string, args any, userID string) bool {
	return p.toolCall(entity.FamilyAI, projectID, messageID, toolCallID, toolName, args, userID)
}

func (p *Publisher) PublishToolResult(projectID, messageID, toolCallID, toolName string, result any, isError bool, userID string) bool {
	return p.toolResult(entity.FamilyAI, projectID, messageID, toolCallID, toolName, result, isError, userID)
}

// PublishComplete flushes the message's pending fragments before announcing completion.
func (p *Publisher) PublishComplete(projectID, messageID, finishReason, userID string) bool {
	return p.complete(entity.FamilyAI, projectID, messageID, finishReason, userID)
}

// PublishError flushes the message's pending fragments before reporting the error.
func (p *Publisher) PublishError(projectID, messageID, errMsg, userID string) bool {
	return p.fail(entity.FamilyAI, projectID, messageID, errMsg, userID)
}

// Advisor stream, same semantics as the AI stream.

func (p *Publisher) PublishAdvisorChunk(projectID, messageID, text string, isThinking bool, userID string) bool {
	return p.chunk(entity.FamilyAdvisor, projectID, messageID, text, isThinking, userID)
}

func (p *Publisher) FlushAdvisorChunks(projectID, messageID string) bool {
	return p.flush(entity.FamilyAdvisor, projectID, messageID)
}

func (p *Publisher) PublishAdvisorToolCall(projectID, messageID, toolCallID, toolName string, args any, userID string) bool {
	return p.toolCall(entity.FamilyAdvisor, projectID, messageID, toolCallID, toolName, args, userID)
}

func (p *Publisher) PublishAdvisorToolResult(projectID, messageID, toolCallID, toolName string, result any, isError bool, userID string) bool {
	return p.toolResult(entity.FamilyAdvisor, projectID, messageID, toolCallID, toolName, result, isError, userID)
}

func (p *Publisher) PublishAdvisorComplete(projectID, messageID, finishReason, userID string) bool {
	return p.complete(entity.FamilyAdvisor, projectID, messageID, finishReason, userID)
}

func (p *Publisher) PublishAdvisorError(projectID, messageID, errMsg, userID string) bool {
	return p.fail(entity.FamilyAdvisor, projectID, messageID, errMsg, userID)
}

func (p *Publisher) chunk(f entity.Family, projectID, messageID, text string, isThinking bool, userID string) bool {
	if projectID == "" || messageID == "" {
		p.logger.Warn().Str("project", projectID).Msg("Dropped chunk without project or message id")
		return false
	}
	p.hub.batcher.Append(batcher.Key{Scope: chunkScope(f, projectID), MessageID: messageID, Thinking: isThinking}, text, userID)
	return true
}

func (p *Publisher) flush(f entity.Family, projectID, messageID string) bool {
	if projectID == "" || messageID == "" {
		return false
	}
	p.hub.batcher.FlushMessage(chunkScope(f, projectID), messageID)
	return true
}

func (p *Publisher) toolCall(f entity.Family, projectID, messageID, toolCallID, toolName string, args any, userID string) bool {
	raw, ok := p.rawJSON(args)
	if !ok {
		return false
	}
	return p.toProject(projectID, entity.ToolCallPayload{
		Family: f, MessageID: messageID, ToolCallID: toolCallID, ToolName: toolName, Args: raw,
	}, userID)
}

func (p *Publisher) toolResult(f entity.Family, projectID, messageID, toolCallID, toolName string, result any, isError bool, userID string) bool {
	raw, ok := p.rawJSON(result)
	if !ok {
		return false
	}
	return p.toProject(projectID, entity.ToolResultPayload{
		Family: f, MessageID: messageID, ToolCallID: toolCallID, ToolName: toolName, Result: raw, IsError: isError,
	}, userID)
}

func (p *Publisher) complete(f entity.Family, projectID, messageID, finishReason, userID string) bool {
	p.flush(f, projectID, messageID)
	return p.toProject(projectID, entity.CompletePayload{Family: f, MessageID: messageID, FinishReason: finishReason}, userID)
}

func (p *Publisher) fail(f entity.Family, projectID, messageID, errMsg, userID string) bool {
	p.flush(f, projectID, messageID)
	return p.toProject(projectID, entity.ErrorPayload{Family: f, MessageID: messageID, Error: errMsg}, userID)
}

// Chat state

func (p *Publisher) PublishStreamingStart(projectID, messageID, userID string) bool {
	return p.toProject(projectID, entity.StreamingStartPayload{MessageID: messageID}, userID)
}

func (p *Publisher) PublishStreamingStop(projectID, messageID, reason, userID string) bool {
	return p.toProject(projectID, entity.StreamingStopPayload{MessageID: messageID, Reason: reason}, userID)
}

func (p *Publisher) PublishMessageAdded(projectID, messageID, role, content, userID string) bool {
	return p.toProject(projectID, entity.MessageAddedPayload{MessageID: messageID, Role: role, Content: content}, userID)
}

// PublishTyping is never echoed to the typing user's own connections.
func (p *Publisher) PublishTyping(projectID, userID string, isTyping bool) bool {
	return p.toProject(projectID, entity.TypingPayload{UserID: userID, IsTyping: isTyping}, userID)
}

// Sandbox

// PublishFileChanged announces a sandbox file write. Binary content is
// replaced by its detected mime type.
func (p *Publisher) PublishFileChanged(projectID, path, action, content string) bool {
	payload := entity.FileChangedPayload{Path: path, Action: action, Content: content}
	if binary, mime := sniff(content); binary {
		payload.Content, payload.Binary, payload.MimeType = "", true, mime
	}
	return p.toProject(projectID, payload, "")
}

func (p *Publisher) PublishFileDeleted(projectID, path string) bool {
	return p.toProject(projectID, entity.FileDeletedPayload{Path: path}, "")
}

func (p *Publisher) PublishTerminalOutput(projectID, output, stream string) bool {
	return p.toProject(projectID, entity.TerminalOutputPayload{Output: output, Stream: stream}, "")
}

func (p *Publisher) PublishPreviewReload(projectID, reason string) bool {
	return p.toProject(projectID, entity.PreviewReloadPayload{Reason: reason}, "")
}

func (p *Publisher) PublishSandboxStatus(projectID, status, tunnelURL, errMsg string) bool {
	return p.toProject(projectID, entity.SandboxStatusPayload{Status: status, TunnelURL: tunnelURL, Error: errMsg}, "")
}

// Workspace

func (p *Publisher) PublishWorkspaceEvent(workspaceID string, payload entity.WorkspaceUpdatedPayload, userID string) bool {
	if workspaceID == "" {
		return false
	}
	return p.publish(entity.WorkspaceChannel(workspaceID), payload, userID)
}

// File stream side-channel

func (p *Publisher) PublishFileCreated(projectID, path, content string) bool {
	return p.file(entity.EventFileCreated, projectID, path, content)
}

func (p *Publisher) PublishFileUpdated(projectID, path, content string) bool {
	return p.file(entity.EventFileUpdated, projectID, path, content)
}

// PublishFileStreamComplete tells file stream clients the generation step wrote its last file.
func (p *Publisher) PublishFileStreamComplete(projectID string) bool {
	return p.file(entity.EventFileStreamComplete, projectID, "", "")
}

func (p *Publisher) file(t entity.EventType, projectID, path, content string) bool {
	if projectID == "" {
		p.logger.Warn().Str("type", string(t)).Msg("Dropped file event without project id")
		return false
	}
	fe := entity.NewFileEvent(t, projectID, path, content)
	if binary, mime := sniff(content); binary {
		fe.Content, fe.Binary, fe.MimeType = "", true, mime
	}
	if puberr := p.hub.PublishFile(context.Background(), projectID, fe); puberr != nil {
		p.logger.Error().Err(puberr).Str("project", projectID).Msg("Error occured while publishing file event")
		return false
	}
	return true
}

// sniff reports whether content is binary, with its mime type when known.
func sniff(content string) (bool, string) {
	if content == "" {
		return false, ""
	}
	head := []byte(content)
	if len(head) > 262 {
		head = head[:262]
	}
	if kind, _ := filetype.Match(head); kind != filetype.Unknown {
		return true, kind.MIME.Value
	}
	if !utf8.ValidString(content) {
		return true, "application/octet-stream"
	}
	return false, ""
}
