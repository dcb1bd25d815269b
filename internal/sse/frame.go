// Text event stream framing.
// gin's SSEvent renders "event:name" without the space after the colon and
// re-encodes data, so frames are built here byte for byte.

package sse

import (
	"Shipper/internal/entity"
	"bytes"
	"encoding/json"
	"time"
)

// EventFrame renders a channel event as "event: <type>\ndata: <json>\n\n".
func EventFrame(ev entity.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.Grow(len(ev.Type) + len(data) + 16)
	b.WriteString("event: ")
	b.WriteString(string(ev.Type))
	b.WriteString("\ndata: ")
	b.Write(data)
	b.WriteString("\n\n")
	return b.Bytes(), nil
}

// DataFrame renders v as an unnamed "data: <json>\n\n" frame.
func DataFrame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return dataFrame(data), nil
}

func dataFrame(data []byte) []byte {
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	return append(frame, "\n\n"...)
}

// CommentFrame is ignored by EventSource consumers, used for keep-alives.
func CommentFrame(text string) []byte {
	return []byte(": " + text + "\n\n")
}

// ConnectedFrame is the handshake written when a stream opens. key is
// "channel" for channel streams and "projectId" for the file stream.
func ConnectedFrame(key, value string) []byte {
	// map keys are marshaled sorted, both keys sort before "timestamp"
	data, _ := json.Marshal(map[string]any{
		key:         value,
		"timestamp": time.Now().UnixMilli(),
	})
	var b bytes.Buffer
	b.WriteString("event: ")
	b.WriteString(string(entity.EventConnected))
	b.WriteByte('\n')
	b.Write(dataFrame(data))
	return b.Bytes()
}
