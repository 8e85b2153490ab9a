package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The sensor runs on trusted operator networks.
		return true
	},
}

// Handler bridges hub subscriptions onto websocket connections.
type Handler struct {
	hub *Hub
}

// NewHandler builds the live-feed endpoint handler.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP upgrades the connection, registers a subscription and streams
// events until either side disconnects. A literal "ping" text frame from
// the client is answered with a pong event.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	sub := h.hub.Subscribe()
	log.Printf("Live feed connected: subscriber=%s", sub.ID)

	pong := make(chan struct{}, 4)
	done := make(chan struct{})

	// Writer owns the connection's write side.
	go func() {
		defer conn.Close()
		for {
			select {
			case ev, ok := <-sub.Events:
				if !ok {
					return
				}
				if err := writeJSON(conn, ev); err != nil {
					return
				}
			case <-pong:
				if err := writeJSON(conn, Event{Type: "pong"}); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if string(msg) == "ping" {
			select {
			case pong <- struct{}{}:
			default:
			}
		}
	}

	close(done)
	h.hub.Unsubscribe(sub.ID)
	conn.Close()
	log.Printf("Live feed disconnected: subscriber=%s", sub.ID)
}

func writeJSON(conn *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Println("JSON marshal error:", err)
		return nil
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
