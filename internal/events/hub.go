// Package events fans orchestrator run events out to WebSocket subscribers.
// The hub never blocks the publisher: a subscriber that cannot keep up with
// its bounded send buffer is dropped.
package events

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wakehub/wakehub/internal/logging"
)

// RunEvent is one orchestrator transition, as delivered to subscribers.
type RunEvent struct {
	RunID   string    `json:"run_id"`
	AlarmID string    `json:"alarm_id,omitempty"`
	Target  string    `json:"target"`
	Phase   string    `json:"phase"`
	State   string    `json:"state"`
	Branch  string    `json:"branch,omitempty"`
	Message string    `json:"message,omitempty"`
	TS      time.Time `json:"ts"`
}

// Publisher is what event producers depend on.
type Publisher interface {
	Publish(event RunEvent)
}

// NopPublisher discards events; it keeps producers testable without a hub.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(RunEvent) {}

const (
	broadcastBuffer  = 64
	subscriberBuffer = 16
	writeTimeout     = 5 * time.Second
)

type subscriber struct {
	conn   *websocket.Conn
	send   chan RunEvent
	remote string
}

// Hub broadcasts run events to all connected WebSocket subscribers.
type Hub struct {
	logger zerolog.Logger

	broadcast chan RunEvent
	stop      chan struct{}
	done      chan struct{}

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	stopped     bool
}

// NewHub creates a hub. Call Start before publishing and Stop on shutdown.
func NewHub() *Hub {
	return &Hub{
		logger:      logging.WithComponent("events"),
		broadcast:   make(chan RunEvent, broadcastBuffer),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Start launches the fan-out loop.
func (h *Hub) Start() {
	go h.run()
}

// Stop terminates the fan-out loop and disconnects every subscriber. Safe to
// call once; events published afterwards are discarded.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	close(h.stop)
	<-h.done

	h.mu.Lock()
	for sub := range h.subscribers {
		delete(h.subscribers, sub)
		close(sub.send)
	}
	h.mu.Unlock()
}

// Publish hands an event to the fan-out loop without blocking. A zero TS is
// stamped with the current time.
func (h *Hub) Publish(event RunEvent) {
	if event.TS.IsZero() {
		event.TS = time.Now().UTC()
	}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Debug().Str("run_id", event.RunID).Msg("hub saturated, event discarded")
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			return
		case event := <-h.broadcast:
			h.mu.Lock()
			for sub := range h.subscribers {
				select {
				case sub.send <- event:
				default:
					// A full buffer means the client is not reading;
					// drop it rather than stall everyone else.
					delete(h.subscribers, sub)
					close(sub.send)
					h.logger.Warn().Str("remote", sub.remote).Msg("dropping slow subscriber")
				}
			}
			h.mu.Unlock()
		}
	}
}

// register adds an upgraded connection and starts its pumps. The connection
// is closed immediately when the hub is already stopped.
func (h *Hub) register(conn *websocket.Conn) {
	sub := &subscriber{
		conn:   conn,
		send:   make(chan RunEvent, subscriberBuffer),
		remote: conn.RemoteAddr().String(),
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	h.logger.Info().Str("remote", sub.remote).Msg("subscriber connected")
	go h.writeLoop(sub)
	go h.readLoop(sub)
}

// unregister removes a subscriber if it is still tracked; only this method
// and the hub loop close the send channel.
func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	defer sub.conn.Close()

	for event := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := sub.conn.WriteJSON(event); err != nil {
			h.unregister(sub)
			return
		}
	}

	// Channel closed: the hub dropped us or is shutting down.
	sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	sub.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

// readLoop drains client frames so close handshakes and pings are processed;
// any read error means the client went away.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.unregister(sub)

	sub.conn.SetReadLimit(512)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}
