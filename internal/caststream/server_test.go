package caststream

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/example/tklogs/internal/resource"
	"github.com/example/tklogs/internal/stream"
)

func TestHubBroadcastDeliversMessages(t *testing.T) {
	h := newHub(logr.Discard(), 0)
	c := &client{send: make(chan []byte, 1), logger: logr.Discard()}
	h.Register(c)

	msg := []byte("hello")
	h.Broadcast(msg)

	select {
	case got := <-c.send:
		if string(got) != string(msg) {
			t.Fatalf("unexpected payload: %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for broadcast")
	}
}

func TestHubBroadcastDropsSlowClients(t *testing.T) {
	h := newHub(logr.Discard(), 0)
	c := &client{send: make(chan []byte, 1), logger: logr.Discard()}
	h.Register(c)
	c.send <- []byte("backlog")

	h.Broadcast([]byte("next"))

	waitForCondition(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		_, ok := h.clients[c]
		return !ok
	})
}

func TestHubReplaysBacklogInOrder(t *testing.T) {
	h := newHub(logr.Discard(), 2)
	for _, m := range []string{"a", "b", "c"} {
		h.Broadcast([]byte(m))
	}
	c := &client{send: make(chan []byte, 8), logger: logr.Discard()}
	h.Register(c)
	h.Broadcast([]byte("d"))
	var got []string
	for i := 0; i < 3; i++ {
		got = append(got, string(<-c.send))
	}
	if strings.Join(got, "") != "bcd" {
		t.Fatalf("unexpected replay order: %v", got)
	}
}

func TestObserveLineFrame(t *testing.T) {
	s := New("", ModeWS, "", logr.Discard(), WithBacklog(4))
	s.ObserveLine(stream.Line{
		Time:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Identity:  resource.Identity{Namespace: "ci", Pod: "p"},
		Container: "step-build",
		Ordinal:   1,
		Text:      "\x1b[32mok\x1b[0m",
	})
	s.PaneCompleted(resource.Identity{Namespace: "ci", Pod: "p"}, stream.PaneView{Name: "step-build", Ordinal: 1, Err: errors.New("reset")})
	if len(s.hub.backlog) != 2 {
		t.Fatalf("expected two frames in backlog, got %d", len(s.hub.backlog))
	}
	var line, done Frame
	if err := json.Unmarshal(s.hub.backlog[0], &line); err != nil {
		t.Fatalf("decode line frame: %v", err)
	}
	if line.Type != "line" || line.Line != "ok" || line.Ordinal != 1 || line.Timestamp != "2024-05-01T10:00:00Z" {
		t.Fatalf("unexpected line frame: %+v", line)
	}
	if err := json.Unmarshal(s.hub.backlog[1], &done); err != nil {
		t.Fatalf("decode done frame: %v", err)
	}
	if done.Type != "done" || done.Error != "reset" {
		t.Fatalf("unexpected done frame: %+v", done)
	}
}

func TestServerEndToEnd(t *testing.T) {
	s := New("", ModeWeb, "ci/p", logr.Discard())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	defer s.hub.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("unexpected healthz body %q", body)
	}

	resp, err = http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("index request failed: %v", err)
	}
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(page), "tklogs mirror") || !strings.Contains(string(page), "ci/p") {
		t.Fatalf("index page missing title or info")
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	waitForCondition(t, func() bool {
		s.hub.mu.RLock()
		defer s.hub.mu.RUnlock()
		return len(s.hub.clients) == 1
	})
	s.ObserveLine(stream.Line{Identity: resource.Identity{Namespace: "ci", Pod: "p"}, Container: "step", Text: "hello"})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil || f.Line != "hello" {
		t.Fatalf("unexpected frame %s (%v)", msg, err)
	}
}

func waitForCondition(t *testing.T, ok func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			t.Fatalf("condition not met before timeout")
		case <-ticker.C:
			if ok() {
				return
			}
		}
	}
}
