// Package websocket fans alert events out to subscribed clients. Producers
// never block: every subscriber owns a bounded queue and slow consumers
// lose their oldest events first.
package websocket

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/safelink/safelink/internal/telemetry"
)

// Event is one hub message.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Subscription is one registered consumer. Read events from Events until it
// is closed.
type Subscription struct {
	ID     string
	Events chan Event

	mu          sync.Mutex
	closed      bool
	dropped     uint64
	consecutive int
}

// Dropped returns the number of events lost to queue overflow.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// enqueue offers an event, dropping the oldest queued event when full.
// Reports whether the subscriber passed its sustained-overflow limit.
func (s *Subscription) enqueue(ev Event, overflowLimit int) (evict bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	droppedHere := false
	for {
		select {
		case s.Events <- ev:
			if !droppedHere {
				s.consecutive = 0
			}
			return false
		default:
		}
		// Queue full: drop the oldest and retry.
		select {
		case <-s.Events:
			droppedHere = true
			s.dropped++
			s.consecutive++
			telemetry.HubEventsDropped.Inc()
			if s.consecutive > overflowLimit {
				return true
			}
		default:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.Events)
	}
}

// Hub is the many-to-many broadcast point.
type Hub struct {
	queueSize     int
	overflowLimit int

	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewHub builds a hub. queueSize bounds each subscriber's queue;
// overflowLimit is the consecutive-drop count after which a subscriber is
// forcibly disconnected.
func NewHub(queueSize, overflowLimit int) *Hub {
	if queueSize < 1 {
		queueSize = 64
	}
	if overflowLimit < 1 {
		overflowLimit = 256
	}
	return &Hub{
		queueSize:     queueSize,
		overflowLimit: overflowLimit,
		subs:          make(map[string]*Subscription),
	}
}

// Subscribe registers a new consumer.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		ID:     uuid.NewString(),
		Events: make(chan Event, h.queueSize),
	}
	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a consumer and closes its queue.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Publish delivers an event to every subscriber without ever blocking the
// caller. Subscribers past their sustained-overflow limit are dropped.
func (h *Hub) Publish(eventType string, data any) {
	ev := Event{Type: eventType, Data: data}
	telemetry.HubEventsPublished.WithLabelValues(eventType).Inc()

	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	var evicted []string
	for _, s := range subs {
		if s.enqueue(ev, h.overflowLimit) {
			evicted = append(evicted, s.ID)
		}
	}
	for _, id := range evicted {
		log.Printf("Hub: disconnecting subscriber %s after sustained overflow", id)
		h.Unsubscribe(id)
	}
}

// SubscriberCount reports the number of registered consumers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Shutdown closes every subscription.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}
