// Package server defines shared relay types and utility helpers that are
// reused across the TCP connection, WebSocket client, and hub logic.
package server

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/Tyrowin/relaychat/internal/message"
	"github.com/Tyrowin/relaychat/internal/store"
)

// BroadcastMessage is one item flowing through the hub: a message together
// with the identity of the connection that published it, so that the origin
// can be excluded from delivery.
type BroadcastMessage struct {
	Origin  string
	Payload message.UserMessage
}

// MessageStore is the persistence sink consulted by the receive paths and
// queried by the HTTP API. *store.Store implements it.
type MessageStore interface {
	SaveText(ctx context.Context, username *string, body string) error
	Usernames(ctx context.Context) ([]string, error)
	DeleteUser(ctx context.Context, username string) (int64, error)
	Recent(ctx context.Context, limit int) ([]store.Record, error)
}

// MediaStore receives the files and photos relayed through the server.
// *media.Store implements it.
type MediaStore interface {
	SaveFile(name string, data []byte) (string, error)
	SavePhoto(receivedAt time.Time, data []byte) (string, error)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}

// isTimeout reports whether err is a deadline expiry.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
