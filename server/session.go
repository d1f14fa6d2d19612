package server

import (
	"sync"
	"time"

	"github.com/iddi/oocsi-go/proto"
)

// lineConn is a single client connection carrying newline-delimited protocol
// lines. TCP and WebSocket connections both satisfy it.
type lineConn interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
	RemoteAddr() string
}

// Session is one connected client: its handle, its connection and its
// channel subscriptions. Writes are serialized because the ping loop and
// event delivery run on different goroutines.
type Session struct {
	Handle string

	conn lineConn

	writeMu sync.Mutex

	mu       sync.Mutex
	channels map[string]struct{}
	lastSeen time.Time
}

func newSession(handle string, conn lineConn) *Session {
	return &Session{
		Handle:   handle,
		conn:     conn,
		channels: make(map[string]struct{}),
		lastSeen: time.Now(),
	}
}

func (s *Session) Send(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteLine(line)
}

func (s *Session) SendEvent(ev proto.Event) error {
	line, err := proto.EncodeEvent(ev)
	if err != nil {
		return err
	}
	return s.Send(string(line))
}

func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// Idle returns how long the client has been silent.
func (s *Session) Idle() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastSeen)
}

func (s *Session) addChannel(channel string) {
	s.mu.Lock()
	s.channels[channel] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) removeChannel(channel string) {
	s.mu.Lock()
	delete(s.channels, channel)
	s.mu.Unlock()
}

// Channels returns the channels this session subscribed to.
func (s *Session) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for channel := range s.channels {
		out = append(out, channel)
	}
	return out
}
