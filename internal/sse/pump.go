// Writes a Client's queued frames onto the HTTP response.

package sse

import (
	"context"
	"io"
	"time"
)

const keepAliveComment = "keepalive"

// DefaultHeartbeat is the keep-alive period used when none is configured.
const DefaultHeartbeat = 30 * time.Second

// Pump returns a step function for gin's Context.Stream. Each step writes one
// queued frame or a keep-alive comment. The stream ends when ctx is done, the
// client is closed or a write fails, a failed write also closes the client.
func Pump(ctx context.Context, client *Client, heartbeat time.Duration) func(w io.Writer) bool {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	// gin stops calling the step without notice when the peer goes away
	context.AfterFunc(ctx, ticker.Stop)
	keepAlive := CommentFrame(keepAliveComment)

	return func(w io.Writer) bool {
		var frame []byte
		select {
		case <-ctx.Done():
			return false
		case <-client.Done():
			ticker.Stop()
			return false
		case frame = <-client.Outbound():
		case <-ticker.C:
			frame = keepAlive
		}
		if _, err := w.Write(frame); err != nil {
			client.Close()
			ticker.Stop()
			return false
		}
		return true
	}
}
