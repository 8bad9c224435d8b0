package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/pointerlink/internal/app"
	"github.com/ayusman/pointerlink/internal/log"
)

const (
	// clientBuffer is how many events a slow client may lag before events are dropped.
	clientBuffer = 64
	writeWait    = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Telemetry broadcasts pipeline cycle events to websocket clients.
// It is an app.Observer; OnCycle never blocks the pipeline.
type Telemetry struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
	dropped uint64
}

// NewTelemetry creates an empty broadcaster.
func NewTelemetry() *Telemetry {
	return &Telemetry{clients: make(map[*websocket.Conn]chan []byte)}
}

// OnCycle queues ev for every connected client, dropping it for clients
// whose buffer is full.
func (t *Telemetry) OnCycle(ev app.CycleEvent) {
	t.mu.RLock()
	if len(t.clients) == 0 {
		t.mu.RUnlock()
		return
	}
	t.mu.RUnlock()

	msg, err := json.Marshal(ev)
	if err != nil {
		log.Warn("encode telemetry event", "seq", ev.Seq, "err", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.clients {
		select {
		case ch <- msg:
		default:
			t.dropped++
		}
	}
}

// Clients returns the number of connected clients.
func (t *Telemetry) Clients() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// Dropped returns how many events were dropped for slow clients.
func (t *Telemetry) Dropped() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dropped
}

// ServeHTTP handles WebSocket upgrade requests.
func (t *Telemetry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ch := make(chan []byte, clientBuffer)
	t.mu.Lock()
	t.clients[conn] = ch
	t.mu.Unlock()
	log.Debug("telemetry client connected", "remote", r.RemoteAddr)

	defer func() {
		t.mu.Lock()
		delete(t.clients, conn)
		t.mu.Unlock()
		log.Debug("telemetry client disconnected", "remote", r.RemoteAddr)
	}()

	// The read side only detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case msg := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
