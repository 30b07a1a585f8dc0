// Package server wires the hub, the TCP acceptor, and the WebSocket relay
// into a single Server with a shared lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/frame"
	"github.com/Tyrowin/relaychat/internal/message"
)

// ErrServerClosed is returned by ServeTCP after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// Server relays messages between TCP and WebSocket clients through one Hub.
type Server struct {
	cfg      Config
	hub      *Hub
	store    MessageStore
	media    MediaStore
	metrics  *Metrics
	origins  *originPolicy
	upgrader websocket.Upgrader
	codec    frame.Codec

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
}

// Option configures optional collaborators of a Server.
type Option func(s *Server)

// WithStore persists text messages into st and enables the history API.
func WithStore(st MessageStore) Option {
	return func(s *Server) {
		s.store = st
	}
}

// WithMedia stores relayed files and photos into m.
func WithMedia(m MediaStore) Option {
	return func(s *Server) {
		s.media = m
	}
}

// WithMetrics records relay counters into m.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a Server from cfg and starts its hub. A nil cfg selects the defaults.
func New(cfg *Config, options ...Option) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	sanitized := sanitizeConfig(*cfg)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       sanitized,
		origins:   newOriginPolicy(sanitized.AllowedOrigins),
		codec:     frame.NewCodec(sanitized.MaxFrameSize),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
	}
	for _, option := range options {
		if option != nil {
			option(s)
		}
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.hub = NewHub(
		WithBroadcastCapacity(sanitized.BroadcastCapacity),
		WithSubscriberBuffer(sanitized.SubscriberBuffer),
		WithHubMetrics(s.metrics),
	)
	go s.hub.Run()
	log.Println("Hub started and ready to relay messages")

	return s
}

// Config returns the sanitized configuration in effect.
func (s *Server) Config() Config {
	cfg := s.cfg
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ServeTCP accepts framed TCP clients on ln until Shutdown is called or ln is
// closed. Accept errors are logged and do not stop the loop.
func (s *Server) ServeTCP(ln net.Listener) error {
	if !s.trackListener(ln) {
		return ErrServerClosed
	}
	defer s.untrackListener(ln)

	log.Printf("Relay listening for TCP clients on %s", ln.Addr())

	var tempDelay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			tempDelay = nextAcceptDelay(tempDelay)
			log.Printf("Error accepting TCP client: %v; retrying in %v", err, tempDelay)
			select {
			case <-time.After(tempDelay):
			case <-s.ctx.Done():
				return ErrServerClosed
			}
			continue
		}
		tempDelay = 0

		conn := newConn(s, nc)
		if !s.spawn(func() { conn.serve(s.ctx) }) {
			_ = nc.Close()
			return ErrServerClosed
		}
	}
}

// spawn runs fn in a goroutine that Shutdown waits for. It returns false,
// without running fn, once shutdown has begun.
func (s *Server) spawn(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func nextAcceptDelay(current time.Duration) time.Duration {
	if current == 0 {
		return 5 * time.Millisecond
	}
	current *= 2
	if limit := time.Second; current > limit {
		current = limit
	}
	return current
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, ln)
}

// handleInbound performs the receive-side effects of one decoded message and
// publishes it to every other connection.
func (s *Server) handleInbound(ctx context.Context, origin string, um message.UserMessage) {
	name := um.DisplayName()

	switch m := um.Message.(type) {
	case message.Text:
		log.Printf("Got message from %s (%s): %s", origin, name, m.Body)
		if s.store != nil {
			if err := s.store.SaveText(ctx, um.Username, m.Body); err != nil {
				log.Printf("Error persisting message from %s: %v", origin, err)
			}
		}
	case message.File:
		log.Printf("Receiving file from %s (%s): %s", origin, name, m.Name)
		if s.media != nil {
			if _, err := s.media.SaveFile(m.Name, m.Data); err != nil {
				log.Printf("Error storing file from %s: %v", origin, err)
			}
		}
	case message.Photo:
		log.Printf("Receiving photo from %s (%s)", origin, name)
		if s.media != nil {
			if _, err := s.media.SavePhoto(time.Now(), m.Data); err != nil {
				log.Printf("Error storing photo from %s: %v", origin, err)
			}
		}
	case message.SetUser:
		log.Printf("Client %s is now known as %s", origin, name)
	case message.Stop:
		log.Printf("Ignoring stop message from %s", origin)
		return
	default:
		log.Printf("Ignoring unknown message %T from %s", um.Message, origin)
		return
	}

	s.metrics.messageReceived(um.Message.Kind().String())
	if err := s.hub.Publish(origin, um); err != nil {
		log.Printf("Error broadcasting message from %s: %v", origin, err)
	}
}

// Shutdown stops accepting clients, closes the hub and every connection, and
// waits for connection goroutines to finish or for timeout to elapse.
func (s *Server) Shutdown(timeout time.Duration) error {
	log.Println("Shutting down relay...")
	deadline := time.Now().Add(timeout)

	s.mu.Lock()
	s.cancel()
	for ln := range s.listeners {
		if err := ln.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing listener %s: %v", ln.Addr(), err)
		}
	}
	s.mu.Unlock()

	hubErr := s.hub.Shutdown(time.Until(deadline))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Relay shutdown completed")
	case <-time.After(time.Until(deadline)):
		return fmt.Errorf("relay shutdown: %w", context.DeadlineExceeded)
	}
	return hubErr
}
