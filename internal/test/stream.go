// Event stream client used by handler tests. httptest.ResponseRecorder cannot
// serve streams (gin needs CloseNotify), so streams run against a real server.

package test

import (
	"bufio"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Stream is an open event stream response, split into frames.
type Stream struct {
	Response *http.Response
	frames   chan string
}

// OpenStream GETs url and starts reading frames. The stream is closed on test cleanup.
func OpenStream(t *testing.T, url string, headers map[string]string) *Stream {
	t.Helper()
	req, reqerr := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, reqerr)
	for key, val := range headers {
		req.Header.Set(key, val)
	}
	resp, resperr := http.DefaultClient.Do(req)
	require.NoError(t, resperr)
	t.Cleanup(func() { resp.Body.Close() })

	s := &Stream{Response: resp, frames: make(chan string, 64)}
	go s.read()
	return s
}

func (s *Stream) read() {
	defer close(s.frames)
	reader := bufio.NewReader(s.Response.Body)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			if len(lines) > 0 {
				s.frames <- strings.Join(lines, "\n")
				lines = nil
			}
			continue
		}
		lines = append(lines, line)
	}
}

// Next returns the next frame, keep-alive comments included.
// ok is false on timeout or once the stream has ended.
func (s *Stream) Next(timeout time.Duration) (frame string, ok bool) {
	select {
	case frame, ok = <-s.frames:
		return frame, ok
	case <-time.After(timeout):
		return "", false
	}
}

// NextEvent is Next without keep-alive comments.
func (s *Stream) NextEvent(timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	for {
		frame, ok := s.Next(time.Until(deadline))
		if !ok || !strings.HasPrefix(frame, ":") {
			return frame, ok
		}
	}
}
