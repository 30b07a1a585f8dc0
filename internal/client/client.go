// Package client implements the terminal side of the relay: it turns local
// input lines into messages for the server and renders or stores whatever the
// server relays back.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/relaychat/internal/frame"
	"github.com/Tyrowin/relaychat/internal/message"
)

const (
	// DefaultQueueSize is the number of parsed messages that may wait for the
	// send path.
	DefaultQueueSize = 2048

	maxLineLength = 1 << 20
)

var (
	// ErrStopped is returned by Run after the user entered ".stop".
	ErrStopped = errors.New("client: stopped by user")
	// ErrServerDisconnected is returned by Run when the connection to the
	// server can no longer be read or written.
	ErrServerDisconnected = errors.New("client: server disconnected")
)

// MediaStore receives the files and photos relayed by the server.
// *media.Store implements it.
type MediaStore interface {
	SaveFile(name string, data []byte) (string, error)
	SavePhoto(receivedAt time.Time, data []byte) (string, error)
}

// Client is one session with the relay server.
type Client struct {
	conn      net.Conn
	codec     frame.Codec
	logger    *log.Logger
	media     MediaStore
	queueSize int
	now       func() time.Time

	outMu sync.Mutex
	out   io.Writer
}

// Option configures a Client.
type Option func(c *Client)

// WithLogger sets the diagnostics logger. The default discards everything.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithOutput sets where chat output is printed. The default discards it.
func WithOutput(w io.Writer) Option {
	return func(c *Client) {
		if w != nil {
			c.out = w
		}
	}
}

// WithMedia stores received files and photos into m.
func WithMedia(m MediaStore) Option {
	return func(c *Client) {
		c.media = m
	}
}

// WithCodec replaces the frame codec, mainly to change the maximum frame size.
func WithCodec(codec frame.Codec) Option {
	return func(c *Client) {
		c.codec = codec
	}
}

// WithQueueSize sets how many parsed messages may wait for the send path.
func WithQueueSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// New creates a Client over an established connection.
func New(conn net.Conn, options ...Option) *Client {
	c := &Client{
		conn:      conn,
		logger:    log.New(io.Discard, "", 0),
		out:       io.Discard,
		queueSize: DefaultQueueSize,
		now:       time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(c)
		}
	}
	return c
}

// Dial connects to the relay at addr.
func Dial(ctx context.Context, addr string, options ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return New(conn, options...), nil
}

// Close closes the connection to the server.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run drives the session until the user stops it, the server goes away, or
// ctx is cancelled. It returns ErrStopped, an error wrapping
// ErrServerDisconnected, or ctx.Err(). The connection is closed on return.
//
// The end of input does not end the session; incoming messages are still
// rendered until one of the conditions above. The goroutine reading input is
// not waited for, since a read from a terminal cannot be interrupted.
func (c *Client) Run(ctx context.Context, input io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outbound := make(chan message.Message, c.queueSize)
	errs := make(chan error, 3)

	go func() { errs <- c.readInput(ctx, input, outbound) }()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- c.sendLoop(ctx, outbound)
	}()
	go func() {
		defer wg.Done()
		errs <- c.receiveLoop(ctx)
	}()

	var err error
	for err == nil {
		select {
		case err = <-errs:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	cancel()
	if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		c.logger.Printf("Error closing connection: %v", cerr)
	}
	wg.Wait()
	return err
}

// readInput parses lines into messages. It returns ErrStopped on ".stop" and
// nil at the end of input.
func (c *Client) readInput(ctx context.Context, input io.Reader, outbound chan<- message.Message) error {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.logger.Printf("Got input: %q", line)

		msg, err := message.Parse(line)
		if err != nil {
			c.logger.Printf("Invalid input %q: %v", line, err)
			c.printf("Error: %v\n", err)
			continue
		}

		if _, ok := msg.(message.Stop); ok {
			c.logger.Println("Received stop message, stopping...")
			return ErrStopped
		}
		select {
		case outbound <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Printf("Error reading input: %v", err)
	}
	c.logger.Println("Input closed")
	return nil
}

// sendLoop writes queued messages to the server, one frame per message.
func (c *Client) sendLoop(ctx context.Context, outbound <-chan message.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-outbound:
			c.logger.Printf("Sending %s message to server...", msg.Kind())
			if err := c.codec.Write(c.conn, msg); err != nil {
				if errors.Is(err, frame.ErrFrameTooLarge) {
					c.printf("Error: %v\n", err)
					continue
				}
				return fmt.Errorf("%w: %w", ErrServerDisconnected, err)
			}
		}
	}
}

// receiveLoop renders every frame from the server. Any decode failure means
// the server is gone.
func (c *Client) receiveLoop(ctx context.Context) error {
	for {
		msg, err := c.codec.Decode(c.conn)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Printf("Server disconnected: %v", err)
			return fmt.Errorf("%w: %w", ErrServerDisconnected, err)
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg message.Message) {
	switch m := msg.(type) {
	case message.Text:
		c.logger.Printf("Received message: %q", m.Body)
		c.printf("%s\n", m.Body)
	case message.File:
		c.logger.Printf("Receiving file: %s...", m.Name)
		c.printf("Receiving file: %s...\n", m.Name)
		if c.media == nil {
			return
		}
		if _, err := c.media.SaveFile(m.Name, m.Data); err != nil {
			c.logger.Printf("Failed to write received file: %v", err)
			c.printf("Error: %v\n", err)
		}
	case message.Photo:
		c.logger.Println("Receiving photo...")
		c.printf("Receiving photo...\n")
		if c.media == nil {
			return
		}
		if _, err := c.media.SavePhoto(c.now(), m.Data); err != nil {
			c.logger.Printf("Failed to write received photo: %v", err)
			c.printf("Error: %v\n", err)
		}
	default:
		c.logger.Printf("Ignoring %s message from server", msg.Kind())
	}
}

func (c *Client) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
