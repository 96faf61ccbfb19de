package debugserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"thalis/internal/memory"
)

func TestOnStepIsNoopWithNoClients(t *testing.T) {
	s := New(memory.NewBump(), memory.NewHeap(), ":0")
	s.OnStep(10, 1, 1)
	if s.seq != 0 {
		t.Fatalf("seq = %d, want 0 when no client was ever attached", s.seq)
	}
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.RLock()
		got := len(s.clients)
		s.mu.RUnlock()
		if got >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d client(s) to attach", n)
}

func TestOnStepBroadcastsFrameToAttachedClient(t *testing.T) {
	bump := memory.NewBump()
	heap := memory.NewHeap()
	s := New(bump, heap, ":0")
	s.throttle = 0

	ts := httptest.NewServer(http.HandlerFunc(s.handleWS))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForClients(t, s, 1)

	s.OnStep(42, 3, 2)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame.PC != 42 || frame.StackDepth != 3 || frame.FrameDepth != 2 {
		t.Fatalf("frame = %+v, want PC=42 StackDepth=3 FrameDepth=2", frame)
	}
	if frame.Seq != 1 {
		t.Fatalf("frame.Seq = %d, want 1 for the first broadcast", frame.Seq)
	}
}

func TestOnStepThrottlesRapidSuccessiveSteps(t *testing.T) {
	s := New(memory.NewBump(), memory.NewHeap(), ":0")
	s.throttle = time.Hour // effectively never send a second frame in this test

	ts := httptest.NewServer(http.HandlerFunc(s.handleWS))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForClients(t, s, 1)

	s.OnStep(1, 0, 0)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("first frame: %v", err)
	}

	s.OnStep(2, 0, 0)
	if s.seq != 1 {
		t.Fatalf("seq = %d, want 1: the second OnStep call should be throttled away", s.seq)
	}
}
