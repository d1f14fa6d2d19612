package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/iddi/oocsi-go/proto"
)

// idleMultiplier times the ping interval is how long a client may stay
// silent before it is dropped.
const idleMultiplier = 3

// Server is a development OOCSI broker: it speaks the server side of the
// wire protocol over TCP and WebSocket, fans events out to channel
// subscribers and delivers directly to handles. Everything is in-memory;
// there is no persistence, delivery guarantee or authentication beyond the
// handle handshake.
type Server struct {
	cfg      Config
	registry *Registry
	broker   *Broker

	listener net.Listener
	web      *http.Server
	announce *announcer
}

func New(cfg Config) *Server {
	return &Server{
		cfg:      cfg,
		registry: NewRegistry(),
		broker:   NewBroker(),
	}
}

// Listen binds the protocol listener (and the web listener, when
// configured) without serving yet, so tests and callers can learn the
// bound address before traffic flows.
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	s.listener = l
	if s.cfg.Web != "" {
		s.web = &http.Server{Addr: s.cfg.Web, Handler: s.router()}
	}
	return nil
}

// Addr returns the bound protocol address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Listen
	}
	return s.listener.Addr().String()
}

// Serve accepts connections until ctx is cancelled, then shuts everything
// down. Listen must have been called.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return fmt.Errorf("server is not listening")
	}
	slog.Info("Starting OOCSI server", "addr", s.Addr())

	go s.acceptLoop()
	go s.pingLoop(ctx)

	if s.web != nil {
		go func() {
			slog.Info("Starting status API", "addr", s.cfg.Web)
			if err := s.web.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Status API failed", "error", err.Error())
			}
		}()
	}

	if s.cfg.Announce {
		a, err := announceService(s.Addr())
		if err != nil {
			slog.Warn("mDNS announcement failed", "error", err.Error())
		} else {
			s.announce = a
		}
	}

	<-ctx.Done()
	return s.Shutdown()
}

// Start is Listen followed by Serve.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) Shutdown() error {
	slog.Info("Shutting down OOCSI server")
	if s.announce != nil {
		s.announce.stop()
	}
	if s.web != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.web.Shutdown(shutdownCtx)
	}
	for _, sess := range s.registry.List() {
		sess.conn.Close()
	}
	return s.listener.Close()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // listener closed
		}
		if s.registry.Len() >= s.cfg.MaxClients {
			slog.Warn("Max clients reached, rejecting connection", "remote_addr", conn.RemoteAddr())
			conn.Close()
			continue
		}
		go s.handleConn(newTCPLineConn(conn))
	}
}

// handleConn runs one client from handshake to disconnect.
func (s *Server) handleConn(conn lineConn) {
	remote := conn.RemoteAddr()
	defer conn.Close()

	line, err := conn.ReadLine()
	if err != nil {
		return
	}
	handle, ok := parseHandshake(line)
	if !ok {
		conn.WriteLine("error (invalid handle)")
		return
	}

	sess := newSession(handle, conn)
	if !s.registry.Store(sess) {
		slog.Warn("Rejecting duplicate handle", "handle", handle, "remote_addr", remote)
		conn.WriteLine(fmt.Sprintf("error (handle already registered: %s)", handle))
		return
	}
	defer func() {
		s.registry.Delete(handle)
		s.broker.Drop(sess)
		slog.Info("Client disconnected", "handle", handle, "remote_addr", remote)
	}()

	welcome, _ := json.Marshal(map[string]string{"client": handle, "server": "oocsi-go"})
	if err := sess.Send(string(welcome)); err != nil {
		return
	}
	slog.Info("Client connected", "handle", handle, "remote_addr", remote)

	for {
		line, err := conn.ReadLine()
		if err != nil {
			return
		}
		sess.touch()
		if !s.handleLine(sess, line) {
			return
		}
	}
}

// handleLine executes one client command; it reports false when the session
// should end.
func (s *Server) handleLine(sess *Session, line string) bool {
	verb, rest, _ := strings.Cut(line, " ")
	switch verb {
	case "", ".":
		// keep-alive reply
	case "ping":
		sess.Send(proto.KeepAlive)
	case "subscribe":
		if rest != "" {
			s.broker.Subscribe(rest, sess)
			sess.addChannel(rest)
			slog.Debug("Subscribed", "handle", sess.Handle, "channel", rest)
		}
	case "unsubscribe":
		if rest != "" {
			s.broker.Unsubscribe(rest, sess)
			sess.removeChannel(rest)
			slog.Debug("Unsubscribed", "handle", sess.Handle, "channel", rest)
		}
	case "sendraw":
		channel, raw, ok := strings.Cut(rest, " ")
		if !ok || channel == "" {
			return true
		}
		payload := make(map[string]any)
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			slog.Debug("Discarding malformed payload", "handle", sess.Handle, "error", err.Error())
			return true
		}
		s.deliver(proto.Event{
			Sender:    sess.Handle,
			Recipient: channel,
			Timestamp: time.Now().UnixMilli(),
			Data:      payload,
		})
	case "quit":
		return false
	default:
		slog.Debug("Ignoring unknown command", "handle", sess.Handle, "line", line)
	}
	return true
}

// deliver stamps and fans an event out: every subscriber of the recipient
// channel gets it, and so does the client whose handle matches the
// recipient, making every client directly addressable.
func (s *Server) deliver(ev proto.Event) {
	targets := s.broker.Subscribers(ev.Recipient)
	seen := make(map[*Session]struct{}, len(targets)+1)
	for _, sess := range targets {
		seen[sess] = struct{}{}
	}
	if direct, ok := s.registry.Get(ev.Recipient); ok {
		if _, dup := seen[direct]; !dup {
			targets = append(targets, direct)
		}
	}

	sent := 0
	for _, sess := range targets {
		if err := sess.SendEvent(ev); err != nil {
			slog.Warn("Delivery failed", "handle", sess.Handle, "channel", ev.Recipient, "error", err.Error())
			continue
		}
		sent++
	}
	slog.Debug("Event delivered",
		"sender", ev.Sender,
		"channel", ev.Recipient,
		"subscribers", sent,
	)
}

// pingLoop keeps clients alive and drops the silent ones.
func (s *Server) pingLoop(ctx context.Context) {
	interval := s.cfg.pingInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, sess := range s.registry.List() {
			if sess.Idle() > idleMultiplier*interval {
				slog.Info("Dropping silent client", "handle", sess.Handle)
				sess.conn.Close()
				continue
			}
			sess.Send("ping")
		}
	}
}

// parseHandshake extracts the handle from the first client line. The
// "(JSON)" suffix selects JSON events, which is all this server speaks.
func parseHandshake(line string) (string, bool) {
	handle := strings.TrimSuffix(strings.TrimSpace(line), "(JSON)")
	if handle == "" || strings.ContainsAny(handle, " \t") {
		return "", false
	}
	return handle, true
}

// tcpLineConn adapts a net.Conn to the line interface.
type tcpLineConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

func newTCPLineConn(conn net.Conn) *tcpLineConn {
	return &tcpLineConn{conn: conn, scanner: bufio.NewScanner(conn)}
}

func (t *tcpLineConn) ReadLine() (string, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("connection closed")
	}
	return strings.TrimRight(t.scanner.Text(), "\r"), nil
}

func (t *tcpLineConn) WriteLine(line string) error {
	_, err := t.conn.Write(append([]byte(line), '\n'))
	return err
}

func (t *tcpLineConn) Close() error {
	return t.conn.Close()
}

func (t *tcpLineConn) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
