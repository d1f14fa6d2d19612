package client

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport speaks the same line protocol over a WebSocket
// connection; each text message carries one protocol line.
type WebSocketTransport struct {
	conn *websocket.Conn
	buf  []byte // undelivered tail of the last message
}

func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{}
}

func (t *WebSocketTransport) Connect(addr string) error {
	u, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("invalid WebSocket URL: %w", err)
	}

	// Accept bare host:port and tcp:// addresses for symmetry with the
	// TCP transport.
	if u.Scheme == "" || u.Scheme == "tcp" {
		u, err = url.Parse("ws://" + addr)
		if err != nil {
			return fmt.Errorf("invalid WebSocket URL: %w", err)
		}
	}
	if u.Path == "" {
		u.Path = "/ws"
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect to WebSocket server: %w", err)
	}
	t.conn = conn
	return nil
}

func (t *WebSocketTransport) SendLine(line string) error {
	if t.conn == nil {
		return ErrNotConnected
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		return fmt.Errorf("send WebSocket message: %w", err)
	}
	return nil
}

func (t *WebSocketTransport) ReadChunk(p []byte, wait time.Duration) (int, error) {
	if t.conn == nil {
		return 0, ErrNotConnected
	}

	if len(t.buf) == 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return 0, err
		}
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			var nerr net.Error
			switch {
			case errors.As(err, &nerr) && nerr.Timeout():
				return 0, ErrNoData
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway),
				errors.Is(err, net.ErrClosed):
				return 0, ErrClosed
			default:
				return 0, fmt.Errorf("WebSocket read: %w", err)
			}
		}
		// Messages arrive without terminators; restore them so the framer
		// sees the same stream shape as on TCP.
		t.buf = append(data, '\n')
	}

	n := copy(p, t.buf)
	t.buf = t.buf[n:]
	return n, nil
}

func (t *WebSocketTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	// Best-effort close handshake; the socket is closed either way.
	_ = t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return t.conn.Close()
}
