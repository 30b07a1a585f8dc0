// Package testhelpers provides common utilities and helper functions for
// end-to-end tests of the relay.
//
// It starts complete relays on loopback ports with temporary storage, dials
// TCP and WebSocket clients, and offers assertions shared by the integration
// tests to reduce code duplication in test files.
package testhelpers

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/media"
	"github.com/Tyrowin/relaychat/internal/message"
	"github.com/Tyrowin/relaychat/internal/server"
	"github.com/Tyrowin/relaychat/internal/store"
)

// TestOrigin is allowed by the default configuration.
const TestOrigin = "http://localhost:8080"

// Relay is a running server with its collaborators.
type Relay struct {
	Server  *server.Server
	Store   *store.Store
	Media   *media.Store
	TCPAddr string
	HTTP    *httptest.Server
}

// StartRelay runs a relay with SQLite and media storage under t.TempDir.
// configure may adjust the configuration before the server is built.
// Everything is shut down when the test ends.
func StartRelay(t *testing.T, configure func(cfg *server.Config)) *Relay {
	t.Helper()

	dir := t.TempDir()
	cfg := server.NewConfig()
	cfg.DBPath = filepath.Join(dir, "sqlite.db")
	cfg.FilesDir = filepath.Join(dir, "files")
	if configure != nil {
		configure(cfg)
	}

	st, err := store.Open(context.Background(), cfg.DBPath)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	ms, err := media.New(cfg.FilesDir)
	if err != nil {
		t.Fatalf("Failed to create media directories: %v", err)
	}

	srv := server.New(cfg,
		server.WithStore(st),
		server.WithMedia(ms),
		server.WithMetrics(server.NewMetrics()),
	)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go func() { _ = srv.ServeTCP(ln) }()

	httpServer := httptest.NewServer(srv.SetupRoutes())

	r := &Relay{
		Server:  srv,
		Store:   st,
		Media:   ms,
		TCPAddr: ln.Addr().String(),
		HTTP:    httpServer,
	}
	t.Cleanup(r.Close)
	return r
}

// Close stops the HTTP server, the relay, and the store. It may be called
// more than once.
func (r *Relay) Close() {
	r.HTTP.Close()
	_ = r.Server.Shutdown(5 * time.Second)
	_ = r.Store.Close()
}

// WebSocketURL returns the ws:// URL of the relay endpoint.
func (r *Relay) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(r.HTTP.URL, "http") + "/ws"
}

// WaitForClients polls until the hub holds n connections.
func (r *Relay) WaitForClients(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Server.Hub().Len() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d connected clients, got %d", n, r.Server.Hub().Len())
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
// It returns the connection or an error if connection fails.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendUserMessage writes um as JSON over the WebSocket connection.
func SendUserMessage(conn *websocket.Conn, um message.UserMessage) error {
	return conn.WriteJSON(um)
}

// ReceiveUserMessage reads one JSON UserMessage, waiting at most timeout.
func ReceiveUserMessage(conn *websocket.Conn, timeout time.Duration) (message.UserMessage, error) {
	var um message.UserMessage
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return um, err
	}
	err := conn.ReadJSON(&um)
	return um, err
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// SafeBuffer collects output written from several goroutines.
type SafeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything written so far.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// WaitFor polls until the buffer contains want or timeout elapses, and
// reports whether it was found.
func (b *SafeBuffer) WaitFor(want string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if strings.Contains(b.String(), want) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
