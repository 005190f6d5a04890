package controller

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

// Community feed event types.
const (
	EventPostCreated    = "post.created"
	EventCommentCreated = "comment.created"
)

type CommunityEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	At   time.Time   `json:"at"`
}

// CommunityHub fans community events out to connected members.
type CommunityHub struct {
	Logger *logrus.Entry

	mu          sync.RWMutex
	subscribers map[chan CommunityEvent]struct{}
}

const subscriberBuffer = 16

func NewCommunityHub(logger *logrus.Entry) *CommunityHub {
	return &CommunityHub{
		Logger:      logger,
		subscribers: make(map[chan CommunityEvent]struct{}),
	}
}

// Subscribe registers a listener. The returned func unsubscribes and closes
// the channel.
func (h *CommunityHub) Subscribe() (<-chan CommunityEvent, func()) {
	ch := make(chan CommunityEvent, subscriberBuffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast never blocks. A subscriber whose buffer is full misses the event.
func (h *CommunityHub) Broadcast(eventType string, data interface{}) {
	event := CommunityEvent{Type: eventType, Data: data, At: time.Now()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			h.Logger.WithField("event", eventType).Warn("Dropping event for slow subscriber")
		}
	}
}

func (h *CommunityHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// ServeWS streams events to one websocket until either side hangs up.
func (h *CommunityHub) ServeWS(c *websocket.Conn) {
	defer c.Close()

	events, unsubscribe := h.Subscribe()
	defer unsubscribe()

	// Reads only detect the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := c.WriteJSON(event); err != nil {
				h.Logger.WithError(err).Debug("Community websocket write failed")
				return
			}
		case <-ping.C:
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
