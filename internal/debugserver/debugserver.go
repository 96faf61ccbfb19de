// Package debugserver implements the optional, read-only VM telemetry
// relay SPEC_FULL.md §0/§2 adds to the core: a websocket endpoint a
// browser or devtools client can attach to while a Program runs, to
// watch its program counter, call-stack depth, and allocator peak usage
// live. It is strictly an observer — spec §1 excludes a debugging
// protocol, and nothing here lets a client pause, step, or otherwise
// influence the VM's control flow; the VM never blocks waiting for a
// client to be present or to read a frame.
//
// Grounded on the teacher's internal/network/websocket.go and
// websocket_server.go (WebSocketServer/WebSocketConn, upgrade-then-
// broadcast shape), rehomed from ad hoc TCP chat messaging onto VM
// instrumentation frames.
package debugserver

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"thalis/internal/memory"
)

// Frame is one telemetry snapshot broadcast to every connected client.
type Frame struct {
	Seq         uint64    `json:"seq"`
	Time        time.Time `json:"time"`
	PC          int       `json:"pc"`
	StackDepth  int       `json:"stackDepth"`
	FrameDepth  int       `json:"frameDepth"`
	BumpPeak    int       `json:"bumpPeak"`
	HeapAllocs  int       `json:"heapAllocs"`
	HeapFrees   int       `json:"heapFrees"`
	HeapLive    int       `json:"heapLive"`
	HeapPeak    int       `json:"heapPeak"`
}

// client is one attached websocket connection, identified the same way
// the teacher's WebSocketConn.ID is: a fresh UUID per connection rather
// than a hand-rolled counter.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Server relays Frames to every attached client. It implements
// vm.Hook, so a running interpreter can be instrumented with one line:
// `machine.Hook = server`.
type Server struct {
	bump *memory.Bump
	heap *memory.Heap

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu      sync.RWMutex
	clients map[string]*client
	seq     uint64

	throttle time.Duration
	lastSent time.Time
}

// New builds a Server that reports the given allocators' stats
// alongside each step. addr is the listen address, e.g. ":7777".
func New(bump *memory.Bump, heap *memory.Heap, addr string) *Server {
	s := &Server{
		bump: bump,
		heap: heap,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[string]*client),
		throttle: 16 * time.Millisecond,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/vm", s.handleWS)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Serve starts the HTTP/websocket listener. It blocks until the
// listener fails or Close is called (which returns http.ErrServerClosed
// here, treated as a clean shutdown).
func (s *Server) Serve() error {
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Close() error {
	s.mu.Lock()
	for _, c := range s.clients {
		close(c.send)
	}
	s.clients = map[string]*client{}
	s.mu.Unlock()
	return s.httpSrv.Close()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("debugserver: upgrade failed: %v", err)
		return
	}
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, 64)}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	go s.writeLoop(c)
	go s.readLoop(c)
}

// readLoop exists only to notice the client going away (a websocket
// server must drain reads even on a write-only channel); it discards
// whatever the client sends, since the relay has no inbound command
// surface.
func (s *Server) readLoop(c *client) {
	defer s.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(c *client) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.drop(c)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		close(c.send)
	}
	s.mu.Unlock()
	c.conn.Close()
}

// OnStep implements vm.Hook. It throttles broadcasts to s.throttle so a
// tight interpreter loop does not spend more time marshalling telemetry
// than executing opcodes; a client that wants every single step can set
// s.throttle to 0.
func (s *Server) OnStep(pc, stackDepth, frameDepth int) {
	now := time.Now()
	s.mu.RLock()
	empty := len(s.clients) == 0
	s.mu.RUnlock()
	if empty {
		return
	}
	if s.throttle > 0 && now.Sub(s.lastSent) < s.throttle {
		return
	}
	s.lastSent = now
	s.seq++

	allocs, frees, live, peakLive := s.heap.Stats()
	frame := Frame{
		Seq:        s.seq,
		Time:       now,
		PC:         pc,
		StackDepth: stackDepth,
		FrameDepth: frameDepth,
		BumpPeak:   s.bump.Peak(),
		HeapAllocs: allocs,
		HeapFrees:  frees,
		HeapLive:   live,
		HeapPeak:   peakLive,
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- payload:
		default: // slow client; drop the frame rather than block the VM
		}
	}
}
