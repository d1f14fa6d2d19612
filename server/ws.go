package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dev broker serves local tooling; cross-origin pages are fine.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades an HTTP request and runs the regular session loop over
// it; each WebSocket text message is one protocol line.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err.Error())
		return
	}
	if s.registry.Len() >= s.cfg.MaxClients {
		slog.Warn("Max clients reached, rejecting WebSocket connection", "remote_addr", r.RemoteAddr)
		conn.Close()
		return
	}
	s.handleConn(&wsLineConn{conn: conn})
}

// wsLineConn adapts a WebSocket connection to the line interface.
type wsLineConn struct {
	conn *websocket.Conn
}

func (w *wsLineConn) ReadLine() (string, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func (w *wsLineConn) WriteLine(line string) error {
	return w.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (w *wsLineConn) Close() error {
	return w.conn.Close()
}

func (w *wsLineConn) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}
