// Package events broadcasts alert and delivery status transitions to
// connected websocket clients, feeding live dashboard views.
package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// Event is one status transition on an alert, delivery or job.
type Event struct {
	Type       string    `json:"type"`
	AlertID    string    `json:"alertId,omitempty"`
	DeliveryID string    `json:"deliveryId,omitempty"`
	ChannelID  string    `json:"channelId,omitempty"`
	Status     string    `json:"status,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	EventAlertReceived  = "alert.received"
	EventAlertStatus    = "alert.status"
	EventDeliveryStatus = "delivery.status"
)

type subscriber struct {
	events chan []byte
}

// Hub fans events out to websocket subscribers. Slow subscribers drop
// events rather than blocking publishers.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	logger      *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		logger:      logger,
	}
}

// Publish sends an event to all current subscribers. Never blocks.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		select {
		case sub.events <- data:
		default:
			// Subscriber is not keeping up; drop the event for it.
		}
	}
}

// ServeHTTP upgrades the request to a websocket and streams events until
// the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := &subscriber{events: make(chan []byte, 64)}
	h.add(sub)
	defer h.remove(sub)

	// Reads are discarded; this is a one-way feed. CloseRead surfaces
	// client disconnects through context cancellation.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-sub.events:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[sub] = struct{}{}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, sub)
}

// SubscriberCount reports the number of connected clients.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
