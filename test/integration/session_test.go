package integration

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/Tyrowin/relaychat/internal/client"
	"github.com/Tyrowin/relaychat/internal/media"
	"github.com/Tyrowin/relaychat/test/testhelpers"
)

// session is a terminal client connected to a relay, fed through a pipe.
type session struct {
	out    *testhelpers.SafeBuffer
	files  *media.Store
	input  *io.PipeWriter
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func startSession(t *testing.T, r *testhelpers.Relay) *session {
	t.Helper()

	files, err := media.New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create client media directories: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := &testhelpers.SafeBuffer{}
	c, err := client.Dial(ctx, r.TCPAddr,
		client.WithOutput(out),
		client.WithMedia(files),
	)
	if err != nil {
		cancel()
		t.Fatalf("Failed to dial relay: %v", err)
	}

	pr, pw := io.Pipe()
	s := &session{
		out:    out,
		files:  files,
		input:  pw,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		s.err = c.Run(ctx, pr)
		close(s.done)
	}()

	t.Cleanup(func() {
		pw.Close()
		cancel()
		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
			t.Error("client session did not stop")
		}
	})
	return s
}

// send types one line into the client.
func (s *session) send(t *testing.T, line string) {
	t.Helper()
	if _, err := fmt.Fprintln(s.input, line); err != nil {
		t.Fatalf("Failed to type %q: %v", line, err)
	}
}

// wait returns the result of Run once the session has ended.
func (s *session) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-s.done:
		return s.err
	case <-time.After(5 * time.Second):
		t.Fatal("client session did not end")
		return nil
	}
}

func (s *session) expectOutput(t *testing.T, want string) {
	t.Helper()
	if !s.out.WaitFor(want, 2*time.Second) {
		t.Errorf("Expected client output to contain %q, got %q", want, s.out.String())
	}
}
