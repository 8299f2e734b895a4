package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BricePourLe13/jarvis-voice/internal/observability"
)

const (
	monitorQueueSize   = 64
	monitorWriteWait   = 5 * time.Second
	monitorPongWait    = 90 * time.Second
	monitorPingPeriod  = 30 * time.Second
	monitorReadLimitKB = 4
)

// MonitorEvent is one entry on the admin live feed: session and tool
// lifecycle as it happens, across all gyms.
type MonitorEvent struct {
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	GymID     string    `json:"gym_id,omitempty"`
	Surface   string    `json:"surface,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// monitorHub fans events out to connected dashboard websockets. Slow
// consumers lose events, never block publishers.
type monitorHub struct {
	upgrader websocket.Upgrader
	metrics  *observability.Metrics

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

func newMonitorHub(upgrader websocket.Upgrader, metrics *observability.Metrics) *monitorHub {
	return &monitorHub{
		upgrader: upgrader,
		metrics:  metrics,
		clients:  make(map[*websocket.Conn]chan []byte),
	}
}

// Publish queues the event for every connected client. Marshal once,
// drop per-client when a queue is full.
func (h *monitorHub) Publish(ev MonitorEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[monitor] encode event %s: %v", ev.Kind, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, queue := range h.clients {
		select {
		case queue <- data:
		default:
			// Slow dashboard: skip this event rather than block the
			// publisher.
		}
	}
}

func (h *monitorHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *monitorHub) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	queue := make(chan []byte, monitorQueueSize)
	h.mu.Lock()
	h.clients[conn] = queue
	h.mu.Unlock()
	h.metrics.MonitorClients.Set(float64(h.clientCount()))

	done := make(chan struct{})
	go h.writeLoop(conn, queue, done)

	// The feed is one-way; reads only notice the peer going away.
	conn.SetReadLimit(monitorReadLimitKB << 10)
	_ = conn.SetReadDeadline(time.Now().Add(monitorPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(monitorPongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	close(done)
	_ = conn.Close()
	h.metrics.MonitorClients.Set(float64(h.clientCount()))
}

func (h *monitorHub) writeLoop(conn *websocket.Conn, queue <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(monitorPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case data := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(monitorWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(monitorWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
