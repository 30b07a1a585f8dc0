package server_test

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tyrowin/relaychat/internal/frame"
	"github.com/Tyrowin/relaychat/internal/message"
	"github.com/Tyrowin/relaychat/internal/server"
)

// TestTCPRelayBroadcastsToOthers verifies the end-to-end path: a text frame
// from one client is persisted and delivered to every other client, but not
// echoed back to its sender.
func TestTCPRelayBroadcastsToOthers(t *testing.T) {
	r := startRelay(t, nil)
	sender := dialTCP(t, r.tcpAddr)
	peers := []net.Conn{dialTCP(t, r.tcpAddr), dialTCP(t, r.tcpAddr)}
	r.waitForClients(t, 3)

	sendFrame(t, sender, message.Text{Body: "hello"})

	for i, peer := range peers {
		got := readFrame(t, peer)
		if got != (message.Text{Body: "hello"}) {
			t.Errorf("peer %d received %#v, want Text hello", i, got)
		}
	}
	expectNoFrame(t, sender)

	records, err := r.store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("stored %d records, want 1", len(records))
	}
	if records[0].Username != nil || records[0].Message != "hello" {
		t.Errorf("stored record = %+v, want anonymous hello", records[0])
	}

	users, err := r.store.Usernames(context.Background())
	if err != nil {
		t.Fatalf("Usernames() error = %v", err)
	}
	if len(users) != 1 || users[0] != message.AnonymousUser {
		t.Errorf("Usernames() = %q, want [Anonymous]", users)
	}
}

// TestTCPRelayOrderPerSender verifies that peers see one sender's messages in order.
func TestTCPRelayOrderPerSender(t *testing.T) {
	r := startRelay(t, nil)
	sender := dialTCP(t, r.tcpAddr)
	peer := dialTCP(t, r.tcpAddr)
	r.waitForClients(t, 2)

	bodies := []string{"one", "two", "three", "four", "five"}
	for _, body := range bodies {
		sendFrame(t, sender, message.Text{Body: body})
	}
	for _, body := range bodies {
		if got := readFrame(t, peer); got != (message.Text{Body: body}) {
			t.Fatalf("received %#v, want Text %q", got, body)
		}
	}
}

// TestTCPRelaySetUser verifies that SetUser is relayed and names later text rows.
func TestTCPRelaySetUser(t *testing.T) {
	r := startRelay(t, nil)
	sender := dialTCP(t, r.tcpAddr)
	peer := dialTCP(t, r.tcpAddr)
	r.waitForClients(t, 2)

	sendFrame(t, sender, message.SetUser{Username: message.StringPtr("alice")})
	sendFrame(t, sender, message.Text{Body: "hi"})

	set, ok := readFrame(t, peer).(message.SetUser)
	if !ok || set.Username == nil || *set.Username != "alice" {
		t.Errorf("first frame = %#v, want SetUser alice", set)
	}
	if got := readFrame(t, peer); got != (message.Text{Body: "hi"}) {
		t.Errorf("second frame = %#v, want Text hi", got)
	}

	records, err := r.store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 1 || records[0].Username == nil || *records[0].Username != "alice" {
		t.Errorf("records = %+v, want one row by alice", records)
	}
}

// TestTCPRelayDiscardsStop verifies that a Stop frame from a client is never relayed.
func TestTCPRelayDiscardsStop(t *testing.T) {
	r := startRelay(t, nil)
	sender := dialTCP(t, r.tcpAddr)
	peer := dialTCP(t, r.tcpAddr)
	r.waitForClients(t, 2)

	sendFrame(t, sender, message.Stop{})
	sendFrame(t, sender, message.Text{Body: "after stop"})

	if got := readFrame(t, peer); got != (message.Text{Body: "after stop"}) {
		t.Errorf("peer received %#v, want Text after stop", got)
	}
}

// TestTCPRelayStoresMedia verifies the server-side side effects of File and Photo.
func TestTCPRelayStoresMedia(t *testing.T) {
	r := startRelay(t, nil)
	sender := dialTCP(t, r.tcpAddr)
	peer := dialTCP(t, r.tcpAddr)
	r.waitForClients(t, 2)

	sendFrame(t, sender, message.File{Name: "report.txt", Data: []byte("quarterly")})
	sendFrame(t, sender, message.Photo{Data: []byte("png-bytes")})

	file, ok := readFrame(t, peer).(message.File)
	if !ok || file.Name != "report.txt" || string(file.Data) != "quarterly" {
		t.Errorf("peer received %#v, want the file", file)
	}
	if _, ok := readFrame(t, peer).(message.Photo); !ok {
		t.Error("peer did not receive the photo")
	}

	data, err := os.ReadFile(filepath.Join(r.media.Root(), "report.txt"))
	if err != nil {
		t.Fatalf("server did not store the file: %v", err)
	}
	if string(data) != "quarterly" {
		t.Errorf("stored file = %q, want %q", data, "quarterly")
	}

	photos, err := os.ReadDir(r.media.ImagesPath())
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(photos) != 1 {
		t.Errorf("stored %d photos, want 1", len(photos))
	}
}

// TestTCPDisconnectRemovesClient verifies that a closed connection leaves the
// registry while the others keep working.
func TestTCPDisconnectRemovesClient(t *testing.T) {
	r := startRelay(t, nil)
	leaving := dialTCP(t, r.tcpAddr)
	sender := dialTCP(t, r.tcpAddr)
	peer := dialTCP(t, r.tcpAddr)
	r.waitForClients(t, 3)

	leaving.Close()
	r.waitForClients(t, 2)

	sendFrame(t, sender, message.Text{Body: "still relaying"})
	if got := readFrame(t, peer); got != (message.Text{Body: "still relaying"}) {
		t.Errorf("peer received %#v", got)
	}
}

// TestTCPOversizedFrameDropsConnection verifies that a declared length above
// the limit closes only the offending connection.
func TestTCPOversizedFrameDropsConnection(t *testing.T) {
	r := startRelay(t, func(cfg *server.Config) {
		cfg.MaxFrameSize = 64
	})
	bad := dialTCP(t, r.tcpAddr)
	sender := dialTCP(t, r.tcpAddr)
	peer := dialTCP(t, r.tcpAddr)
	r.waitForClients(t, 3)

	var header [frame.HeaderSize]byte
	binary.LittleEndian.PutUint32(header[:], 1<<20)
	if _, err := bad.Write(header[:]); err != nil {
		t.Fatalf("write header: %v", err)
	}

	if err := bad.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, err := frame.Decode(bad); !errors.Is(err, frame.ErrConnectionClosed) {
		t.Errorf("oversized sender read error = %v, want ErrConnectionClosed", err)
	}
	r.waitForClients(t, 2)

	sendFrame(t, sender, message.Text{Body: "small"})
	if got := readFrame(t, peer); got != (message.Text{Body: "small"}) {
		t.Errorf("peer received %#v", got)
	}
}

// TestTCPIdleTimeout verifies that a silent client is disconnected.
func TestTCPIdleTimeout(t *testing.T) {
	r := startRelay(t, func(cfg *server.Config) {
		cfg.IdleTimeout = 100 * time.Millisecond
	})
	idle := dialTCP(t, r.tcpAddr)
	r.waitForClients(t, 1)

	if err := idle.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, err := frame.Decode(idle); !errors.Is(err, frame.ErrConnectionClosed) {
		t.Errorf("idle client read error = %v, want ErrConnectionClosed", err)
	}
	r.waitForClients(t, 0)
}

// TestTCPRateLimit verifies that messages beyond the burst are dropped, not relayed.
func TestTCPRateLimit(t *testing.T) {
	r := startRelay(t, func(cfg *server.Config) {
		cfg.RateLimit = server.RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	})
	sender := dialTCP(t, r.tcpAddr)
	peer := dialTCP(t, r.tcpAddr)
	r.waitForClients(t, 2)

	for _, body := range []string{"1", "2", "3", "4"} {
		sendFrame(t, sender, message.Text{Body: body})
	}

	readFrame(t, peer)
	readFrame(t, peer)
	expectNoFrame(t, peer)
}

// TestServerShutdownClosesConnections verifies that Shutdown stops the acceptor
// and disconnects every client.
func TestServerShutdownClosesConnections(t *testing.T) {
	srv := server.New(nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ServeTCP(ln) }()

	conn := dialTCP(t, ln.Addr().String())
	deadline := time.Now().Add(2 * time.Second)
	for srv.Hub().Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := srv.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case err := <-serveErr:
		if !errors.Is(err, server.ErrServerClosed) {
			t.Errorf("ServeTCP() error = %v, want ErrServerClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ServeTCP did not return after Shutdown")
	}

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, err := frame.Decode(conn); !errors.Is(err, frame.ErrConnectionClosed) {
		t.Errorf("client read after shutdown error = %v, want ErrConnectionClosed", err)
	}

	if err := srv.ServeTCP(ln); !errors.Is(err, server.ErrServerClosed) {
		t.Errorf("ServeTCP() after Shutdown error = %v, want ErrServerClosed", err)
	}
}
