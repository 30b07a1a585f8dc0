// Package server manages framed TCP connections, coupling a receive path and
// a send path per peer and tearing both down when either one ends.
package server

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/Tyrowin/relaychat/internal/frame"
	"github.com/Tyrowin/relaychat/internal/message"
)

// Conn is one framed TCP peer. Its identity in the hub is the peer address.
type Conn struct {
	conn         net.Conn
	server       *Server
	addr         string
	codec        frame.Codec
	rateLimiter  *rateLimiter
	idleTimeout  time.Duration
	writeTimeout time.Duration

	mu       sync.Mutex
	username *string
}

func newConn(s *Server, nc net.Conn) *Conn {
	return &Conn{
		conn:         nc,
		server:       s,
		addr:         nc.RemoteAddr().String(),
		codec:        s.codec,
		rateLimiter:  newRateLimiter(s.cfg.RateLimit),
		idleTimeout:  s.cfg.IdleTimeout,
		writeTimeout: s.cfg.WriteTimeout,
	}
}

// Addr returns the peer address.
func (c *Conn) Addr() string { return c.addr }

// Username returns the name last set with a SetUser message, or nil.
func (c *Conn) Username() *string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *Conn) setUsername(name *string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = name
}

// serve registers the connection and runs both paths until either ends.
func (c *Conn) serve(parent context.Context) {
	sub, err := c.server.hub.Subscribe(c.addr)
	if err != nil {
		log.Printf("Rejecting TCP client %s: %v", c.addr, err)
		c.closeConnection()
		return
	}
	log.Printf("Accepted TCP client: %s", c.addr)
	c.server.metrics.connectionOpened(transportTCP)
	defer c.server.metrics.connectionClosed(transportTCP)

	ctx, cancel := context.WithCancel(parent)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		c.handleWriteError(c.writePump(ctx, sub))
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		c.handleReadError(ctx, c.readPump(ctx))
	}()

	<-ctx.Done()
	// Unblocks a reader parked in Decode and a writer parked in Write.
	c.closeConnection()
	sub.Close()
	wg.Wait()
}

// readPump decodes frames until the peer goes away.
func (c *Conn) readPump(ctx context.Context) error {
	for {
		if c.idleTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
				return err
			}
		}

		msg, err := c.codec.Decode(c.conn)
		if err != nil {
			return err
		}

		if !c.checkRateLimit() {
			continue
		}

		if set, ok := msg.(message.SetUser); ok {
			c.setUsername(set.Username)
		}
		c.server.handleInbound(ctx, c.addr, message.UserMessage{
			Username: c.Username(),
			Message:  msg,
		})
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Conn) checkRateLimit() bool {
	if !c.rateLimiter.allow() {
		c.server.metrics.messageDropped(dropRateLimited)
		log.Printf("Rate limit exceeded for %s; discarding message", c.addr)
		return false
	}
	return true
}

// handleReadError logs why the receive path ended.
func (c *Conn) handleReadError(ctx context.Context, err error) {
	switch {
	case err == nil:
	case ctx.Err() != nil:
		// The send path ended first and closed the socket.
	case errors.Is(err, frame.ErrConnectionClosed):
		log.Printf("Client %s disconnected: %v", c.addr, err)
	case errors.Is(err, frame.ErrFrameTooLarge):
		log.Printf("Frame from %s exceeded maximum size of %d bytes; dropping connection", c.addr, c.codec.MaxLength)
	case isTimeout(err):
		log.Printf("Client %s idle for %v; disconnecting", c.addr, c.idleTimeout)
	case isExpectedCloseError(err):
		log.Printf("Client %s connection closed: %v", c.addr, err)
	default:
		log.Printf("Read error from %s: %v", c.addr, err)
	}
}

// writePump relays hub messages to the peer until the subscription closes.
func (c *Conn) writePump(ctx context.Context, sub *Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item, ok := <-sub.C():
			if !ok {
				return nil
			}
			if item.Origin == c.addr {
				continue
			}
			if err := c.writeFrame(item.Payload.Message); err != nil {
				if errors.Is(err, frame.ErrFrameTooLarge) {
					log.Printf("Skipping %s message for %s: %v", item.Payload.Message.Kind(), c.addr, err)
					continue
				}
				return err
			}
		}
	}
}

func (c *Conn) writeFrame(msg message.Message) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.codec.Write(c.conn, msg)
}

func (c *Conn) handleWriteError(err error) {
	if err == nil || isExpectedCloseError(err) {
		return
	}
	log.Printf("Error writing to %s: %v", c.addr, err)
}

// closeConnection safely closes the socket with proper error handling
func (c *Conn) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		log.Printf("Error closing connection to %s: %v", c.addr, err)
	}
}
