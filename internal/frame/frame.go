// Package frame implements the relay wire format: every message travels as a
// 4-byte little-endian length followed by exactly that many payload bytes.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/Tyrowin/relaychat/internal/message"
)

// HeaderSize is the length of the frame prefix in bytes.
const HeaderSize = 4

// DefaultMaxLength bounds the payload a Codec accepts when none is configured.
const DefaultMaxLength = 16 << 20

var (
	// ErrConnectionClosed means the peer went away: the length prefix could
	// not be read in full or the payload did not deserialise.
	ErrConnectionClosed = errors.New("frame: connection closed")
	// ErrReadFailed means the payload could not be read after a valid prefix.
	ErrReadFailed = errors.New("frame: read failed")
	// ErrWriteFailed means a frame could not be written in full.
	ErrWriteFailed = errors.New("frame: write failed")
	// ErrFrameTooLarge means the declared or encoded payload exceeds the maximum length.
	ErrFrameTooLarge = errors.New("frame: payload exceeds maximum length")
)

// Codec reads and writes frames with a bounded payload size.
// The zero value uses DefaultMaxLength.
type Codec struct {
	MaxLength uint32
}

// NewCodec returns a Codec limited to maxLength payload bytes.
// A non-positive maxLength selects DefaultMaxLength.
func NewCodec(maxLength int64) Codec {
	if maxLength <= 0 || maxLength > int64(^uint32(0)) {
		return Codec{MaxLength: DefaultMaxLength}
	}
	return Codec{MaxLength: uint32(maxLength)}
}

func (c Codec) limit() uint32 {
	if c.MaxLength == 0 {
		return DefaultMaxLength
	}
	return c.MaxLength
}

// Encode serialises m and prepends its length.
func (c Codec) Encode(m message.Message) ([]byte, error) {
	payload, err := message.Marshal(m)
	if err != nil {
		return nil, err
	}
	if uint64(len(payload)) > uint64(c.limit()) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), c.limit())
	}
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Write encodes m and writes the frame with a single Write call so that
// concurrent frames on the same writer never interleave.
func (c Codec) Write(w io.Writer, m message.Message) error {
	buf, err := c.Encode(m)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// Decode reads exactly one frame from r.
func (c Codec) Decode(r io.Reader) (message.Message, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if isClosed(err) {
			return nil, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}

	length := binary.LittleEndian.Uint32(header[:])
	if length > c.limit() {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, c.limit())
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}

	m, err := message.Unmarshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return m, nil
}

// Encode frames m with the default Codec.
func Encode(m message.Message) ([]byte, error) {
	return Codec{}.Encode(m)
}

// Decode reads one frame from r with the default Codec.
func Decode(r io.Reader) (message.Message, error) {
	return Codec{}.Decode(r)
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}
