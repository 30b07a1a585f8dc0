package server_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/frame"
	"github.com/Tyrowin/relaychat/internal/media"
	"github.com/Tyrowin/relaychat/internal/message"
	"github.com/Tyrowin/relaychat/internal/server"
	"github.com/Tyrowin/relaychat/internal/store"
)

const testOrigin = "http://localhost:8080"

type relay struct {
	srv     *server.Server
	store   *store.Store
	media   *media.Store
	tcpAddr string
	http    *httptest.Server
}

// startRelay runs a server with a SQLite store and media directory in a temp
// dir, a TCP listener on a loopback port, and an httptest server for the routes.
func startRelay(t *testing.T, configure func(cfg *server.Config)) *relay {
	t.Helper()

	dir := t.TempDir()
	cfg := server.NewConfig()
	cfg.DBPath = filepath.Join(dir, "relay.db")
	cfg.FilesDir = filepath.Join(dir, "files")
	if configure != nil {
		configure(cfg)
	}

	st, err := store.Open(context.Background(), cfg.DBPath)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	ms, err := media.New(cfg.FilesDir)
	if err != nil {
		t.Fatalf("media.New() error = %v", err)
	}

	srv := server.New(cfg,
		server.WithStore(st),
		server.WithMedia(ms),
		server.WithMetrics(server.NewMetrics()),
	)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	go func() { _ = srv.ServeTCP(ln) }()

	httpServer := httptest.NewServer(srv.SetupRoutes())

	t.Cleanup(func() {
		httpServer.Close()
		_ = srv.Shutdown(5 * time.Second)
		_ = st.Close()
	})

	return &relay{
		srv:     srv,
		store:   st,
		media:   ms,
		tcpAddr: ln.Addr().String(),
		http:    httpServer,
	}
}

// waitForClients polls until the hub holds n subscribers.
func (r *relay) waitForClients(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.srv.Hub().Len() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("hub has %d clients, want %d", r.srv.Hub().Len(), n)
}

func (r *relay) wsURL() string {
	return "ws" + strings.TrimPrefix(r.http.URL, "http") + "/ws"
}

func dialTCP(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	headers := http.Header{}
	headers.Set("Origin", testOrigin)
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("websocket dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn net.Conn, m message.Message) {
	t.Helper()
	if err := frame.NewCodec(0).Write(conn, m); err != nil {
		t.Fatalf("write %s frame: %v", m.Kind(), err)
	}
}

func readFrame(t *testing.T, conn net.Conn) message.Message {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	m, err := frame.Decode(conn)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return m
}

// expectNoFrame fails if a frame arrives on conn within a short window.
func expectNoFrame(t *testing.T, conn net.Conn) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	m, err := frame.Decode(conn)
	if err == nil {
		t.Errorf("unexpected frame %#v", m)
		return
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Errorf("read error = %v, want a timeout", err)
	}
}

func readWS(t *testing.T, conn *websocket.Conn) message.UserMessage {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	var um message.UserMessage
	if err := conn.ReadJSON(&um); err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	return um
}
