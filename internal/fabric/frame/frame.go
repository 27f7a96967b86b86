// Package frame implements the length-prefix framing used on every mesh
// connection.
//
// Wire format:
//
//	[4-byte big-endian length][length bytes of payload]
//
// A zero length is a valid empty frame. A declared length above the
// configured maximum is rejected before any payload byte is read.
//
// Reads never buffer beyond the current frame, so a connection may be handed
// to a raw byte relay after any number of framed exchanges.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/norpie/constellation/internal/core/domain"
)

// HeaderSize is the size of the length prefix.
const HeaderSize = 4

// DefaultMaxSize is the default maximum payload size (100 MiB).
const DefaultMaxSize = 100 * 1024 * 1024

// Write writes one frame to w.
//
// The header and payload are written with a single Write call so that
// concurrent writers on a datagram-like medium never interleave a header with
// another frame's payload.
func Write(w io.Writer, payload []byte, maxSize int) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if len(payload) > maxSize {
		return domain.ErrFrameTooLarge.WithDetails(fmt.Sprintf("payload %d bytes exceeds max %d", len(payload), maxSize))
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return classify(err)
	}
	return nil
}

// Read reads one frame from r.
func Read(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, classify(err)
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if uint64(n) > uint64(maxSize) {
		return nil, domain.ErrFrameTooLarge.WithDetails(fmt.Sprintf("declared length %d exceeds max %d", n, maxSize))
	}
	if n == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		// A short payload after a complete header is a torn frame, not a
		// clean close.
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, domain.ErrClosed.WithDetails("truncated frame").WithCause(err)
		}
		return nil, classify(err)
	}
	return payload, nil
}

// classify maps I/O errors onto the transport taxonomy.
func classify(err error) error {
	var de *domain.DomainError
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return domain.ErrClosed.WithCause(err)
	case errors.Is(err, os.ErrDeadlineExceeded):
		return domain.ErrTimeout.WithCause(err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.ErrTimeout.WithCause(err)
	}
	return domain.ErrClosed.WithDetails("io failure").WithCause(err)
}

// Classify exposes the error mapping used by Read and Write for callers that
// perform raw I/O on the same connection.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	return classify(err)
}
