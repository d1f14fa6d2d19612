package client

import (
	"errors"
	"time"
)

// ErrNoData is returned by Transport.ReadChunk when nothing arrived within
// the wait budget. The pump treats it as a no-op cycle, not a failure.
var ErrNoData = errors.New("no data available")

// ErrClosed is returned once the peer has closed the connection.
var ErrClosed = errors.New("connection closed")

// ErrNotConnected is returned when an operation needs an open connection.
var ErrNotConnected = errors.New("not connected")

// Transport is a duplex, line-oriented byte stream to an OOCSI server.
// The engine is the single reader; implementations do not need to support
// concurrent reads.
type Transport interface {
	Connect(addr string) error

	// SendLine writes one protocol line, adding the newline terminator.
	SendLine(line string) error

	// ReadChunk reads up to len(p) bytes, waiting at most wait for data.
	// It returns ErrNoData when the wait elapses with nothing to read and
	// ErrClosed once the peer has closed the connection.
	ReadChunk(p []byte, wait time.Duration) (int, error)

	Close() error
}
