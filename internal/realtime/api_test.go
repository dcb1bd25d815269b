// Tests of the realtime REST APIs in Shipper. Streams run against httptest.NewServer.

package realtime

import (
	"Shipper/internal/auth"
	"Shipper/internal/backbone"
	"Shipper/internal/presence"
	"Shipper/internal/test"
	"Shipper/pkg/globalcontext"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	jwtSecret     = "api-test-secret"
	internalToken = "internal-test-token"
)

type apiFixture struct {
	hub       *Hub
	publisher *Publisher
	router    *gin.Engine
	server    *httptest.Server
}

func newAPIFixture(t *testing.T, hub *Hub, secret, internal string) *apiFixture {
	publisher := NewPublisher(hub, logger)
	presenceSvc := presence.NewService(presence.NewMemoryRepository(), hub.Publish, logger)

	router := test.NewRouter()
	router.Use(globalcontext.UniqueIDMiddleware(logger))
	APIHandlers(router, hub, publisher, presenceSvc, Guards{
		User:        auth.UserMiddleware(logger, secret, false),
		RequireUser: auth.UserMiddleware(logger, secret, true),
		Internal:    auth.InternalMiddleware(logger, internal),
	}, logger)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &apiFixture{hub: hub, publisher: publisher, router: router, server: server}
}

func newDefaultFixture(t *testing.T) *apiFixture {
	return newAPIFixture(t, newLocalHub(t), jwtSecret, internalToken)
}

func token(t *testing.T, userID string) string {
	tok, err := auth.CreateToken(jwtSecret, userID, time.Minute)
	require.NoError(t, err)
	return tok
}

func waitCount(t *testing.T, f func() int, n int) {
	assert.Eventually(t, func() bool { return f() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestProjectStream(t *testing.T) {
	fx := newDefaultFixture(t)
	stream := test.OpenStream(t, fx.server.URL+"/api/sse/projects/42/stream", nil)

	resp := stream.Response
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	hello, ok := stream.NextEvent(time.Second)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(hello, "event: connected\ndata: {\"channel\":\"project:42\""), hello)

	waitCount(t, func() int { return fx.hub.registry.Count("project:42") }, 1)
	require.True(t, fx.publisher.PublishSandboxStatus("42", "ready", "", ""))

	frame, ok := stream.NextEvent(time.Second)
	require.True(t, ok)
	assert.Contains(t, frame, "event: sandbox:status")
	assert.Contains(t, frame, `"status":"ready"`)

	// closing the response removes the connection
	resp.Body.Close()
	waitCount(t, func() int { return fx.hub.registry.Count("project:42") }, 0)
}

func TestStreamHeartbeat(t *testing.T) {
	opts := testOptions
	opts.Heartbeat = 20 * time.Millisecond
	hub := NewHub(backbone.NewLocal(logger), opts, logger, nil)
	hub.Start(context.Background())
	t.Cleanup(func() { hub.Shutdown(context.Background()) })
	fx := newAPIFixture(t, hub, "", "")

	stream := test.OpenStream(t, fx.server.URL+"/api/sse/workspaces/w1/stream", nil)
	_, ok := stream.Next(time.Second)
	require.True(t, ok)
	frame, ok := stream.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, ": keepalive", frame)
}

func TestOriginatorSuppressionOverHTTP(t *testing.T) {
	fx := newDefaultFixture(t)
	alice := test.OpenStream(t, fx.server.URL+"/api/sse/projects/7/stream?token="+token(t, "alice"), nil)
	bob := test.OpenStream(t, fx.server.URL+"/api/sse/projects/7/stream", map[string]string{"Authorization": "Bearer " + token(t, "bob")})
	alice.NextEvent(time.Second)
	bob.NextEvent(time.Second)
	waitCount(t, func() int { return fx.hub.registry.Count("project:7") }, 2)

	// bob's join reaches alice
	join, ok := alice.NextEvent(time.Second)
	require.True(t, ok)
	assert.Contains(t, join, "event: presence:join")
	assert.Contains(t, join, `"userId":"bob"`)

	body := bytes.NewBufferString(`{"isTyping":true}`)
	req, _ := http.NewRequest(http.MethodPost, fx.server.URL+"/api/sse/projects/7/typing", body)
	req.Header.Set("Authorization", "Bearer "+token(t, "alice"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	frame, ok := bob.NextEvent(time.Second)
	require.True(t, ok)
	assert.Contains(t, frame, "event: chat:typing")
	_, ok = alice.NextEvent(100 * time.Millisecond)
	assert.False(t, ok)

	presenceResp, err := http.Get(fx.server.URL + "/api/sse/projects/7/presence")
	require.NoError(t, err)
	defer presenceResp.Body.Close()
	var members struct {
		Users []string `json:"users"`
	}
	require.NoError(t, json.NewDecoder(presenceResp.Body).Decode(&members))
	assert.Equal(t, []string{"alice", "bob"}, members.Users)
}

func TestFileStreamReplay(t *testing.T) {
	fx := newDefaultFixture(t)
	require.True(t, fx.publisher.PublishFileCreated("p1", "a.ts", "1"))
	require.True(t, fx.publisher.PublishFileCreated("p1", "b.ts", "2"))

	stream := test.OpenStream(t, fx.server.URL+"/api/sse/projects/p1/files/stream", nil)
	hello, ok := stream.NextEvent(time.Second)
	require.True(t, ok)
	assert.Contains(t, hello, `"projectId":"p1"`)

	for _, path := range []string{"a.ts", "b.ts"} {
		frame, ok := stream.NextEvent(time.Second)
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(frame, "data: "), frame)
		assert.Contains(t, frame, `"path":"`+path+`"`)
	}
}

func TestInternalPublish(t *testing.T) {
	fx := newDefaultFixture(t)
	headers := map[string]string{auth.InternalHeader: internalToken, "Content-Type": "application/json"}

	stream := test.OpenStream(t, fx.server.URL+"/api/sse/projects/42/stream", nil)
	stream.NextEvent(time.Second)
	waitCount(t, func() int { return fx.hub.registry.Count("project:42") }, 1)

	tests := []struct {
		name    string
		body    string
		headers map[string]string
		want    int
	}{
		{"sandbox status", `{"type":"sandbox:status","data":{"status":"ready"}}`, headers, http.StatusAccepted},
		{"file event", `{"type":"file:updated","data":{"path":"a.ts","content":"x"}}`, headers, http.StatusAccepted},
		{"unknown type", `{"type":"sandbox:explode","data":{}}`, headers, http.StatusBadRequest},
		{"payload mismatch", `{"type":"sandbox:status","data":"ready"}`, headers, http.StatusBadRequest},
		{"user with space", `{"type":"sandbox:status","data":{},"userId":"a b"}`, headers, http.StatusBadRequest},
		{"not json", `nope`, headers, http.StatusBadRequest},
		{"missing token", `{"type":"sandbox:status","data":{}}`, map[string]string{}, http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/sse/internal/projects/42/events", strings.NewReader(tc.body))
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			fx.router.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}

	frame, ok := stream.NextEvent(time.Second)
	require.True(t, ok)
	assert.Contains(t, frame, "event: sandbox:status")
	assert.Equal(t, 1, fx.hub.Stats().FileStreams["42"].Buffered)
}

func TestInternalPublishDisabled(t *testing.T) {
	hub := newLocalHub(t)
	fx := newAPIFixture(t, hub, jwtSecret, "")
	test.ExecuteAPITest(logger, t, fx.router, test.RequestAPITest{
		Method:       http.MethodPost,
		Path:         "/api/sse/internal/projects/42/events",
		Body:         strings.NewReader(`{"type":"sandbox:status","data":{}}`),
		Headers:      map[string]string{auth.InternalHeader: ""},
		WantResponse: []int{http.StatusNotFound},
	})
}

func TestStatsAndBadIDs(t *testing.T) {
	fx := newDefaultFixture(t)
	w := test.ExecuteAPITest(logger, t, fx.router, test.RequestAPITest{
		Method: http.MethodGet, Path: "/api/sse/stats", WantResponse: []int{http.StatusOK},
	})
	var stats Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, "local", string(stats.Mode))

	test.ExecuteAPITest(logger, t, fx.router, test.RequestAPITest{
		Method: http.MethodGet, Path: "/api/sse/projects/a*b/presence", WantResponse: []int{http.StatusBadRequest},
	})
	test.ExecuteAPITest(logger, t, fx.router, test.RequestAPITest{
		Method: http.MethodPost, Path: "/api/sse/projects/42/typing", Body: strings.NewReader(`{"isTyping":true}`),
		WantResponse: []int{http.StatusUnauthorized},
	})
}
