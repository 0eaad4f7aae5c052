// ABOUTME: Tests for the monitor HTTP surface
// ABOUTME: Uses a fake session behind an httptest server
package monitor

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Sendspin/sendspin-avsync/pkg/avsync"
)

type fakeSession struct {
	mu       sync.Mutex
	calls    []string
	rate     float64
	position int64
	closed   bool
	events   chan avsync.Event
}

func newFakeSession() *fakeSession {
	return &fakeSession{rate: 1.0, events: make(chan avsync.Event, 4)}
}

func (f *fakeSession) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return avsync.ErrClosed
	}
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeSession) Play() error  { return f.record("play") }
func (f *fakeSession) Pause() error { return f.record("pause") }
func (f *fakeSession) Step() error  { return f.record("step") }

func (f *fakeSession) Seek(pos int64) error {
	if err := f.record("seek"); err != nil {
		return err
	}
	f.mu.Lock()
	f.position = pos
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) SetPlaybackRate(rate float64) error {
	if rate <= 0 {
		return avsync.ErrInvalidRate
	}
	if err := f.record("rate"); err != nil {
		return err
	}
	f.mu.Lock()
	f.rate = rate
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) Stats() avsync.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := avsync.Stats{ID: "test", Position: f.position}
	stats.Clock.PlaybackRate = f.rate
	return stats
}

func (f *fakeSession) Subscribe() (<-chan avsync.Event, func()) {
	return f.events, func() {}
}

func (f *fakeSession) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestMonitor(t *testing.T) (*fakeSession, *httptest.Server) {
	t.Helper()
	session := newFakeSession()
	ts := httptest.NewServer(NewServer(session, Config{}).Handler())
	t.Cleanup(ts.Close)
	return session, ts
}

func post(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	_, ts := newTestMonitor(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	session, ts := newTestMonitor(t)
	session.position = 1234

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var stats avsync.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	require.Equal(t, "test", stats.ID)
	require.Equal(t, int64(1234), stats.Position)
}

func TestCommands(t *testing.T) {
	session, ts := newTestMonitor(t)

	for _, path := range []string{"/api/play", "/api/pause", "/api/step"} {
		resp := post(t, ts.URL+path)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
	require.Equal(t, []string{"play", "pause", "step"}, session.Calls())
}

func TestCommandsRequirePost(t *testing.T) {
	session, ts := newTestMonitor(t)

	for _, path := range []string{"/api/play", "/api/pause", "/api/step", "/api/rate", "/api/seek"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, path)
	}
	require.Empty(t, session.Calls())

	require.Equal(t, http.StatusMethodNotAllowed, post(t, ts.URL+"/api/status").StatusCode)

	resp, err := http.Get(ts.URL + "/api/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRate(t *testing.T) {
	session, ts := newTestMonitor(t)

	resp := post(t, ts.URL+"/api/rate?value=1.5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats avsync.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	require.Equal(t, 1.5, stats.Clock.PlaybackRate)

	require.Equal(t, http.StatusBadRequest, post(t, ts.URL+"/api/rate?value=fast").StatusCode)
	require.Equal(t, http.StatusBadRequest, post(t, ts.URL+"/api/rate?value=0").StatusCode)
	require.Equal(t, []string{"rate"}, session.Calls())
}

func TestSeek(t *testing.T) {
	session, ts := newTestMonitor(t)

	require.Equal(t, http.StatusOK, post(t, ts.URL+"/api/seek?pos=5000000").StatusCode)
	require.Equal(t, int64(5000000), session.Stats().Position)

	require.Equal(t, http.StatusBadRequest, post(t, ts.URL+"/api/seek?pos=-1").StatusCode)
	require.Equal(t, http.StatusBadRequest, post(t, ts.URL+"/api/seek").StatusCode)
}

func TestClosedSession(t *testing.T) {
	session, ts := newTestMonitor(t)
	session.closed = true

	resp := post(t, ts.URL+"/api/play")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Contains(t, body["error"], "closed")
}

func TestEventStream(t *testing.T) {
	session, ts := newTestMonitor(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	session.events <- avsync.Event{Type: avsync.EventSeeked, Name: "seeked", Position: 42}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]interface{}
	require.NoError(t, ws.ReadJSON(&got))
	require.Equal(t, "seeked", got["type"])
	require.Equal(t, float64(42), got["position"])

	close(session.events)
	_, _, err = ws.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "expected close, got %v", err)
}

func TestServeClosesEventSocketsOnShutdown(t *testing.T) {
	session := newFakeSession()
	srv := NewServer(session, Config{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/api/events", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.sockets) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	require.Error(t, err)

	// Upgrades reaching the handler after shutdown are turned away
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	late, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events", nil)
	require.NoError(t, err)
	defer late.Close()

	_ = late.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = late.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "expected close, got %v", err)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Empty(t, srv.sockets)
}
