// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/message"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client represents a WebSocket peer of the relay. Its hub identity is a
// random UUID; addr is kept for logging.
type Client struct {
	conn           *websocket.Conn
	server         *Server
	id             string
	addr           string
	maxMessageSize int64
	rateLimiter    *rateLimiter
	writeTimeout   time.Duration
}

// NewClient creates a Client for an upgraded connection. The read limit is
// applied immediately.
func NewClient(conn *websocket.Conn, s *Server, addr string) *Client {
	cfg := s.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		server:         s,
		id:             uuid.NewString(),
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		writeTimeout:   cfg.WriteTimeout,
	}
}

// ID returns the hub identity of the client.
func (c *Client) ID() string { return c.id }

// serve registers the client and runs both pumps until either ends.
func (c *Client) serve(parent context.Context) {
	sub, err := c.server.hub.Subscribe(c.id)
	if err != nil {
		log.Printf("Rejecting WebSocket client %s: %v", c.addr, err)
		c.closeConnection()
		return
	}
	c.server.metrics.connectionOpened(transportWebSocket)
	defer c.server.metrics.connectionClosed(transportWebSocket)

	ctx, cancel := context.WithCancel(parent)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		c.writePump(ctx, sub)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		c.readPump(ctx)
	}()

	<-ctx.Done()
	c.closeConnection()
	sub.Close()
	wg.Wait()
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		log.Printf("Message from %s exceeded maximum size of %d bytes", c.addr, c.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		log.Printf("Client %s disconnected: %v", c.addr, err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		log.Printf("Client %s connection closed: %v", c.addr, err)
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		log.Printf("Unexpected WebSocket error from %s: %v", c.addr, err)
		return true
	}

	log.Printf("WebSocket read error from %s: %v", c.addr, err)
	return true
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if !c.rateLimiter.allow() {
		c.server.metrics.messageDropped(dropRateLimited)
		log.Printf("Rate limit exceeded for %s; discarding message", c.addr)
		return false
	}
	return true
}

// processMessage decodes a JSON UserMessage and hands it to the relay.
// It returns false if the payload was rejected.
func (c *Client) processMessage(ctx context.Context, raw []byte) bool {
	var um message.UserMessage
	if err := json.Unmarshal(raw, &um); err != nil {
		log.Printf("Invalid message from %s: %v", c.addr, err)
		return false
	}
	c.server.handleInbound(ctx, c.id, um)
	return true
}

func (c *Client) readPump(ctx context.Context) {
	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.handleReadError(err)
			}
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(ctx, raw)
	}
}

func (c *Client) writePump(ctx context.Context, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.writeCloseMessage()
			return
		case item, ok := <-sub.C():
			if !ok {
				c.writeCloseMessage()
				return
			}
			if item.Origin == c.id {
				continue
			}
			if !c.writeJSONMessage(item.Payload) {
				return
			}
		case <-ticker.C:
			if !c.handlePing() {
				return
			}
		}
	}
}

// writeJSONMessage writes one UserMessage as a text frame
func (c *Client) writeJSONMessage(um message.UserMessage) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		log.Printf("Error setting write deadline for %s: %v", c.addr, err)
		return false
	}

	payload, err := json.Marshal(um)
	if err != nil {
		log.Printf("Error encoding message for %s: %v", c.addr, err)
		return true
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing message to %s: %v", c.addr, err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() {
	if err := c.conn.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
		return
	}
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing close message to %s: %v", c.addr, err)
		}
	}
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		log.Printf("Error setting write deadline for ping to %s: %v", c.addr, err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		log.Printf("Error writing ping message to %s: %v", c.addr, err)
		return false
	}
	return true
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error closing connection for %s: %v", c.addr, err)
		}
	}
}
