package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const dialTimeout = 10 * time.Second

// TCPTransport speaks the protocol over a plain TCP connection, the default
// transport of the OOCSI wire protocol.
type TCPTransport struct {
	conn net.Conn
}

func NewTCPTransport() *TCPTransport {
	return &TCPTransport{}
}

func (t *TCPTransport) Connect(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	t.conn = conn
	return nil
}

func (t *TCPTransport) SendLine(line string) error {
	if t.conn == nil {
		return ErrNotConnected
	}
	_, err := t.conn.Write(append([]byte(line), '\n'))
	return err
}

// ReadChunk reads with a deadline so the caller can poll a socket that has
// nothing to say. A deadline miss maps to ErrNoData.
func (t *TCPTransport) ReadChunk(p []byte, wait time.Duration) (int, error) {
	if t.conn == nil {
		return 0, ErrNotConnected
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return 0, err
	}
	n, err := t.conn.Read(p)
	if err != nil {
		var nerr net.Error
		switch {
		case errors.As(err, &nerr) && nerr.Timeout():
			return n, ErrNoData
		case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			return n, ErrClosed
		default:
			return n, err
		}
	}
	if n == 0 {
		return 0, ErrClosed
	}
	return n, nil
}

func (t *TCPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}
