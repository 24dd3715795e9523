package api

import (
	"log"
	"net/http"
	"sync"

	"transcript-orchestrator/pkg/models"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans job transition events out to websocket subscribers. It
// implements jobs.EventSink; every applied state transition lands here.
// Slow subscribers lose events rather than back-pressuring writers.
type Hub struct {
	mu      sync.Mutex
	clients map[chan models.JobEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[chan models.JobEvent]struct{}),
	}
}

func (h *Hub) Publish(ev models.JobEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) subscribe() chan models.JobEvent {
	ch := make(chan models.JobEvent, 16)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan models.JobEvent) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// WatchHandler upgrades the connection and streams job events until
// the client goes away.
func (h *Handlers) WatchHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events := h.hub.subscribe()
	defer h.hub.unsubscribe(events)

	done := make(chan struct{})

	// Reader loop only to observe the close.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-events:
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("Watch: dropping subscriber: %v", err)
				return
			}
		case <-done:
			return
		}
	}
}
