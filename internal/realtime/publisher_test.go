package realtime

import (
	"Shipper/internal/entity"
	"Shipper/internal/sse"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngHeader is the signature of a PNG file.
var pngHeader = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"

func decodeFrame(t *testing.T, frame string) entity.Event {
	_, data, ok := strings.Cut(frame, "\ndata: ")
	require.True(t, ok, frame)
	ev, err := entity.DecodeEvent([]byte(strings.TrimSpace(data)))
	require.NoError(t, err)
	return ev
}

func TestChunksCoalesceAndFlushOnComplete(t *testing.T) {
	hub := newLocalHub(t)
	pub := NewPublisher(hub, logger)
	viewer := sse.NewClient("viewer", 16)
	hub.Subscribe("project:42", viewer)

	for _, frag := range []string{"a", "b", "c"} {
		require.True(t, pub.PublishChunk("42", "m1", frag, false, "author"))
	}
	require.True(t, pub.PublishChunk("42", "m1", "thinking...", true, "author"))
	require.True(t, pub.PublishComplete("42", "m1", "stop", "author"))

	frames := queued(viewer)
	require.Len(t, frames, 3)
	thinking := decodeFrame(t, frames[0])
	chunk := decodeFrame(t, frames[1])
	done := decodeFrame(t, frames[2])

	assert.Equal(t, entity.EventAIThinking, thinking.Type)
	assert.Equal(t, entity.EventAIChunk, chunk.Type)
	assert.Equal(t, "abc", chunk.Data.(entity.ChunkPayload).Chunk)
	assert.Equal(t, "author", chunk.UserID)
	assert.Equal(t, entity.EventAIComplete, done.Type)

	// the timer of a flushed batch never fires a second copy
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, queued(viewer))
}

func TestAdvisorChunksUseAdvisorTags(t *testing.T) {
	hub := newLocalHub(t)
	pub := NewPublisher(hub, logger)
	viewer := sse.NewClient("", 16)
	hub.Subscribe("project:42", viewer)

	require.True(t, pub.PublishAdvisorChunk("42", "m2", "hi", false, ""))
	require.True(t, pub.PublishAdvisorError("42", "m2", "rate limited", ""))

	frames := queued(viewer)
	require.Len(t, frames, 2)
	assert.True(t, strings.HasPrefix(frames[0], "event: advisor:chunk\n"))
	assert.True(t, strings.HasPrefix(frames[1], "event: advisor:error\n"))
}

func TestToolEvents(t *testing.T) {
	hub := newLocalHub(t)
	pub := NewPublisher(hub, logger)
	viewer := sse.NewClient("", 16)
	hub.Subscribe("project:42", viewer)

	require.True(t, pub.PublishToolCall("42", "m1", "call-1", "writeFile", map[string]string{"path": "a.ts"}, ""))
	require.True(t, pub.PublishToolResult("42", "m1", "call-1", "writeFile", json.RawMessage(`{"ok":true}`), false, ""))
	assert.False(t, pub.PublishToolCall("42", "m1", "call-2", "bad", make(chan int), ""))

	frames := queued(viewer)
	require.Len(t, frames, 2)
	call := decodeFrame(t, frames[0]).Data.(entity.ToolCallPayload)
	assert.JSONEq(t, `{"path":"a.ts"}`, string(call.Args))
	result := decodeFrame(t, frames[1]).Data.(entity.ToolResultPayload)
	assert.JSONEq(t, `{"ok":true}`, string(result.Result))
}

func TestSandboxEvents(t *testing.T) {
	hub := newLocalHub(t)
	pub := NewPublisher(hub, logger)
	viewer := sse.NewClient("", 16)
	hub.Subscribe("project:42", viewer)

	require.True(t, pub.PublishSandboxStatus("42", "ready", "https://x.dev", ""))
	require.True(t, pub.PublishFileChanged("42", "src/a.ts", "write", "const a = 1"))
	require.True(t, pub.PublishFileChanged("42", "logo.png", "write", pngHeader))
	require.True(t, pub.PublishFileDeleted("42", "old.ts"))
	require.True(t, pub.PublishTerminalOutput("42", "ready in 300ms", "stdout"))
	require.True(t, pub.PublishPreviewReload("42", ""))
	assert.False(t, pub.PublishSandboxStatus("", "ready", "", ""))

	frames := queued(viewer)
	require.Len(t, frames, 6)
	text := decodeFrame(t, frames[1]).Data.(entity.FileChangedPayload)
	assert.Equal(t, "const a = 1", text.Content)
	assert.False(t, text.Binary)
	bin := decodeFrame(t, frames[2]).Data.(entity.FileChangedPayload)
	assert.True(t, bin.Binary)
	assert.Equal(t, "image/png", bin.MimeType)
	assert.Empty(t, bin.Content)
}

func TestChatAndWorkspaceEvents(t *testing.T) {
	hub := newLocalHub(t)
	pub := NewPublisher(hub, logger)
	alice := sse.NewClient("alice", 16)
	bob := sse.NewClient("bob", 16)
	member := sse.NewClient("bob", 16)
	hub.Subscribe("project:42", alice)
	hub.Subscribe("project:42", bob)
	hub.Subscribe("workspace:w1", member)

	require.True(t, pub.PublishTyping("42", "alice", true))
	require.True(t, pub.PublishStreamingStart("42", "m1", ""))
	require.True(t, pub.PublishStreamingStop("42", "m1", "done", ""))
	require.True(t, pub.PublishMessageAdded("42", "m1", "assistant", "hello", ""))
	require.True(t, pub.PublishWorkspaceEvent("w1", entity.WorkspaceUpdatedPayload{Resource: "project", ResourceID: "42", Action: "renamed"}, "alice"))

	assert.Len(t, queued(alice), 3)
	assert.Len(t, queued(bob), 4)
	frames := queued(member)
	require.Len(t, frames, 1)
	assert.Contains(t, frames[0], "event: workspace:updated")
}

func TestSniff(t *testing.T) {
	binary, mime := sniff(pngHeader)
	assert.True(t, binary)
	assert.Equal(t, "image/png", mime)

	binary, _ = sniff("\xff\xfe\xfd")
	assert.True(t, binary)

	binary, _ = sniff("package main\n")
	assert.False(t, binary)
	binary, _ = sniff("")
	assert.False(t, binary)
}
