// Package server coordinates subscriber registration, message fan-out, and
// shutdown for every relay connection via the Hub type.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/relaychat/internal/message"
)

var (
	// ErrHubClosed is returned by Publish and Subscribe after Shutdown.
	ErrHubClosed = errors.New("hub: closed")
	// ErrHubSaturated is returned by Publish when the broadcast buffer is full.
	ErrHubSaturated = errors.New("hub: broadcast buffer full, message dropped")
	// ErrDuplicateConn is returned by Subscribe when the identity is already registered.
	ErrDuplicateConn = errors.New("hub: connection already registered")
)

// Hub fans every published message out to all subscribers except the one that
// published it. Each subscriber owns a bounded buffer, so a slow reader loses
// messages instead of stalling the others.
type Hub struct {
	subscribers      map[string]*Subscription
	broadcast        chan BroadcastMessage
	subscriberBuffer int
	metrics          *Metrics
	mutex            sync.RWMutex
	ctx              context.Context
	cancel           context.CancelFunc
	done             chan struct{}
	running          atomic.Bool
}

// HubOption configures a Hub.
type HubOption func(h *Hub)

// WithBroadcastCapacity sets the size of the shared broadcast buffer.
// Values below MinBroadcastCapacity are raised to it.
func WithBroadcastCapacity(n int) HubOption {
	return func(h *Hub) {
		if n < MinBroadcastCapacity {
			n = MinBroadcastCapacity
		}
		h.broadcast = make(chan BroadcastMessage, n)
	}
}

// WithSubscriberBuffer sets how many undelivered messages each subscriber may hold.
func WithSubscriberBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.subscriberBuffer = n
		}
	}
}

// WithHubMetrics records drops into m.
func WithHubMetrics(m *Metrics) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

// NewHub creates a Hub. Call Run in its own goroutine before publishing.
func NewHub(options ...HubOption) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		subscribers:      make(map[string]*Subscription),
		broadcast:        make(chan BroadcastMessage, defaultBroadcastCapacity),
		subscriberBuffer: defaultSubscriberBuffer,
		ctx:              ctx,
		cancel:           cancel,
		done:             make(chan struct{}),
	}
	for _, option := range options {
		if option != nil {
			option(h)
		}
	}
	return h
}

// Subscription is one connection's view of the hub.
type Subscription struct {
	id      string
	hub     *Hub
	send    chan BroadcastMessage
	dropped atomic.Uint64
	closed  bool // guarded by hub.mutex
}

// ID returns the identity the subscription was registered under.
func (s *Subscription) ID() string { return s.id }

// C returns the channel of delivered messages. It is closed when the
// subscription is closed or the hub shuts down.
func (s *Subscription) C() <-chan BroadcastMessage { return s.send }

// Dropped returns how many messages were lost because the buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close removes the subscription from the hub. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Subscribe registers id and returns its subscription. At most one live
// subscription may exist per id.
func (h *Hub) Subscribe(id string) (*Subscription, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.ctx.Err() != nil {
		return nil, ErrHubClosed
	}
	if _, exists := h.subscribers[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateConn, id)
	}

	sub := &Subscription{
		id:   id,
		hub:  h,
		send: make(chan BroadcastMessage, h.subscriberBuffer),
	}
	h.subscribers[id] = sub
	log.Printf("Client registered from %s. Total clients: %d", id, len(h.subscribers))
	return sub, nil
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	if current, ok := h.subscribers[sub.id]; ok && current == sub {
		delete(h.subscribers, sub.id)
	}
	close(sub.send)
	log.Printf("Client unregistered from %s. Total clients: %d", sub.id, len(h.subscribers))
}

// Publish queues um for delivery to every subscriber except origin. It never
// blocks: when the broadcast buffer is full the message is dropped and
// ErrHubSaturated is returned.
func (h *Hub) Publish(origin string, um message.UserMessage) error {
	if h.ctx.Err() != nil {
		return ErrHubClosed
	}
	select {
	case h.broadcast <- BroadcastMessage{Origin: origin, Payload: um}:
		return nil
	default:
		h.metrics.messageDropped(dropSaturated)
		log.Printf("Broadcast buffer full; dropping %s message from %s", um.Message.Kind(), origin)
		return ErrHubSaturated
	}
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subscribers)
}

// Has reports whether id is registered.
func (h *Hub) Has(id string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, ok := h.subscribers[id]
	return ok
}

// Run starts the hub's dispatch loop. It returns after Shutdown.
func (h *Hub) Run() {
	if !h.running.CompareAndSwap(false, true) {
		log.Printf("Hub is already running; ignoring second Run call")
		return
	}
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeSubscribers()
			return
		case msg := <-h.broadcast:
			h.handleBroadcast(msg)
		}
	}
}

// handleBroadcast delivers msg to every subscriber except its origin.
func (h *Hub) handleBroadcast(msg BroadcastMessage) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for id, sub := range h.subscribers {
		if id == msg.Origin {
			continue
		}
		h.deliver(sub, msg)
	}
}

// deliver must be called with the read lock held so that the channel cannot
// be closed underneath it.
func (h *Hub) deliver(sub *Subscription, msg BroadcastMessage) {
	select {
	case sub.send <- msg:
	default:
		n := sub.dropped.Add(1)
		h.metrics.messageDropped(dropLagged)
		log.Printf("Client %s is lagging; dropped %s message (%d dropped so far)", sub.id, msg.Payload.Message.Kind(), n)
	}
}

// closeSubscribers closes every subscription so that send paths observe the shutdown.
func (h *Hub) closeSubscribers() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	count := len(h.subscribers)
	for id, sub := range h.subscribers {
		sub.closed = true
		close(sub.send)
		delete(h.subscribers, id)
	}
	log.Printf("Closed %d subscriptions", count)
}

// Shutdown stops the hub and closes every subscription. It waits for Run to
// return, or until timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")
	h.cancel()

	if !h.running.Load() {
		h.closeSubscribers()
		return nil
	}

	select {
	case <-h.done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached")
		return context.DeadlineExceeded
	}
}
