package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iddi/oocsi-go/proto"
)

// State is the connection state of a client. It is owned by the connection
// lifecycle; everything else only reads it.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EventHandler receives channel broadcasts. Handlers subscribed to a channel
// are invoked in registration order, once per registration.
type EventHandler func(sender, recipient string, event map[string]any)

// Responder answers a named service call. The returned payload is published
// back to the caller; a nil return becomes an empty payload.
type Responder func(event map[string]any) map[string]any

// DefaultHandle is used when no handle is given. Every '#' resolves to a
// random digit.
const DefaultHandle = "OOCSIClient_####"

const (
	readChunkSize = 1024
	pollInterval  = 10 * time.Millisecond
	handshakeWait = 10 * time.Second
)

// Client is the protocol engine: it owns one transport, the subscription,
// call and service registries and the connection state. It is designed for a
// single reader of the transport at a time; subscribing or publishing from
// other goroutines is safe, but only one goroutine may pump.
type Client struct {
	handle    string
	transport Transport
	log       *slog.Logger

	mu        sync.RWMutex
	state     State
	addr      string
	reconnect time.Duration // 0 disables redialing in Run

	subMu     sync.RWMutex
	receivers map[string][]EventHandler

	svcMu       sync.RWMutex
	services    map[string]Responder
	svcChannels map[string]struct{}

	callMu sync.Mutex
	calls  map[string]*Call

	framer  proto.Framer
	queued  []string // lines decoded during the handshake, drained by Pump
	readBuf []byte

	running atomic.Bool // a Run loop currently owns the transport
}

// NewClient creates a client with the given handle template. Every '#' in
// the template is replaced with a random digit; an empty template falls back
// to DefaultHandle. The resolved handle is immutable.
func NewClient(handle string, t Transport) *Client {
	handle = resolveHandle(handle)
	return &Client{
		handle:      handle,
		transport:   t,
		log:         slog.Default().With("handle", handle),
		receivers:   make(map[string][]EventHandler),
		services:    make(map[string]Responder),
		svcChannels: make(map[string]struct{}),
		calls:       make(map[string]*Call),
		readBuf:     make([]byte, readChunkSize),
	}
}

func resolveHandle(handle string) string {
	if strings.TrimSpace(handle) == "" {
		handle = DefaultHandle
	}
	for strings.Contains(handle, "#") {
		handle = strings.Replace(handle, "#", strconv.Itoa(rand.IntN(10)), 1)
	}
	return handle
}

// Handle returns the client's resolved identity.
func (c *Client) Handle() string {
	return c.handle
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// EnableReconnect arms the redial loop used by Run: after a lost connection,
// Run waits the given interval and dials again, indefinitely. Pump callers
// never reconnect implicitly. A handshake rejected by the server disarms it.
func (c *Client) EnableReconnect(interval time.Duration) {
	c.mu.Lock()
	c.reconnect = interval
	c.mu.Unlock()
}

func (c *Client) disableReconnect() {
	c.mu.Lock()
	c.reconnect = 0
	c.mu.Unlock()
}

func (c *Client) reconnectInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnect
}

// Connect dials the server and performs the text handshake. It blocks until
// the client is Connected or the handshake has failed, and replays every
// known subscription so reconnecting restores the previous state.
func (c *Client) Connect(addr string) error {
	c.mu.Lock()
	c.addr = addr
	c.state = Connecting
	c.mu.Unlock()

	c.log.Info("connecting", "addr", addr)

	if err := c.transport.Connect(addr); err != nil {
		c.setState(Disconnected)
		return err
	}
	c.framer.Reset()
	c.queued = nil

	if err := c.handshake(); err != nil {
		c.transport.Close()
		c.setState(Disconnected)
		return err
	}

	c.setState(Connected)
	c.log.Info("connection established", "addr", addr)
	return nil
}

func (c *Client) handshake() error {
	if err := c.transport.SendLine(proto.Handshake(c.handle)); err != nil {
		return fmt.Errorf("handshake send: %w", err)
	}

	line, err := c.readHandshakeLine()
	if err != nil {
		return err
	}

	switch {
	case proto.IsEvent(line):
		for _, channel := range c.channelsToReplay() {
			if err := c.transport.SendLine(proto.Subscribe(channel)); err != nil {
				return fmt.Errorf("subscription replay: %w", err)
			}
		}
		return nil
	case strings.HasPrefix(line, "error"):
		c.log.Error("server rejected handshake", "response", line)
		c.disableReconnect()
		return fmt.Errorf("server rejected handshake: %s", line)
	default:
		return fmt.Errorf("unexpected handshake response: %q", line)
	}
}

// readHandshakeLine blocks for the first server line. Traffic decoded after
// it is queued for the pump.
func (c *Client) readHandshakeLine() (string, error) {
	deadline := time.Now().Add(handshakeWait)
	for {
		wait := time.Until(deadline)
		if wait <= 0 {
			return "", fmt.Errorf("handshake read: %w", ErrNoData)
		}
		n, err := c.transport.ReadChunk(c.readBuf, wait)
		if errors.Is(err, ErrNoData) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("handshake read: %w", err)
		}
		if lines := c.framer.Push(c.readBuf[:n]); len(lines) > 0 {
			c.queued = append(c.queued, lines[1:]...)
			return lines[0], nil
		}
	}
}

// channelsToReplay lists everything a fresh connection must subscribe to:
// the client's own handle, all channels with callbacks, and all responder
// channels.
func (c *Client) channelsToReplay() []string {
	seen := map[string]struct{}{c.handle: {}}
	out := []string{c.handle}

	c.subMu.RLock()
	for channel := range c.receivers {
		if _, dup := seen[channel]; !dup {
			seen[channel] = struct{}{}
			out = append(out, channel)
		}
	}
	c.subMu.RUnlock()

	c.svcMu.RLock()
	for channel := range c.svcChannels {
		if _, dup := seen[channel]; !dup {
			seen[channel] = struct{}{}
			out = append(out, channel)
		}
	}
	c.svcMu.RUnlock()
	return out
}

// Pump performs one receive/dispatch cycle. It waits at most the poll
// interval for data; nothing pending is a no-op. A closed peer connection
// turns the client Disconnected and is terminal for this connection.
func (c *Client) Pump() error {
	if c.State() != Connected {
		return ErrNotConnected
	}

	if len(c.queued) > 0 {
		lines := c.queued
		c.queued = nil
		for _, line := range lines {
			c.route(line)
		}
	}

	n, err := c.transport.ReadChunk(c.readBuf, pollInterval)
	switch {
	case errors.Is(err, ErrNoData):
		return nil
	case errors.Is(err, ErrClosed):
		c.teardown()
		return ErrClosed
	case err != nil:
		c.log.Warn("read failed", "error", err)
		c.teardown()
		return err
	}

	for _, line := range c.framer.Push(c.readBuf[:n]) {
		c.route(line)
	}
	return nil
}

// Run pumps the connection cooperatively until ctx is cancelled or the
// connection is lost. With reconnection enabled, a lost connection is
// redialed with a fixed backoff instead of ending the loop.
func (c *Client) Run(ctx context.Context) error {
	c.running.Store(true)
	defer c.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if c.State() != Connected {
			interval := c.reconnectInterval()
			if interval <= 0 {
				return ErrClosed
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
			c.mu.RLock()
			addr := c.addr
			c.mu.RUnlock()
			if err := c.Connect(addr); err != nil {
				c.log.Warn("reconnect failed", "addr", addr, "error", err)
			}
			continue
		}

		if err := c.Pump(); err != nil && c.reconnectInterval() <= 0 {
			return err
		}
	}
}

func (c *Client) teardown() {
	c.transport.Close()
	c.setState(Disconnected)
	c.log.Info("disconnected")
}

func (c *Client) route(line string) {
	switch {
	case proto.IsKeepAlive(line):
		c.send(proto.KeepAlive)
	case proto.IsEvent(line):
		ev, err := proto.DecodeEvent([]byte(line))
		if err != nil {
			c.log.Debug("discarding malformed event", "error", err)
			return
		}
		c.dispatch(ev)
	default:
		// Anything else on the wire is noise.
	}
}

// dispatch classifies one decoded event: service invocation, call response,
// or plain channel broadcast.
func (c *Client) dispatch(ev proto.Event) {
	payload := ev.Data

	if name, ok := payload[proto.MessageHandle].(string); ok {
		if responder := c.responder(name); responder != nil {
			delete(payload, proto.MessageHandle)
			id, hasID := payload[proto.MessageID]
			delete(payload, proto.MessageID)

			reply := responder(payload)
			if reply == nil {
				reply = map[string]any{}
			}
			if hasID {
				reply[proto.MessageID] = id
			}
			if err := c.Publish(ev.Sender, reply); err != nil {
				c.log.Warn("service reply failed", "call", name, "error", err)
			}
			// A service invocation is simultaneously a channel broadcast.
			c.broadcast(ev.Sender, ev.Recipient, payload)
			return
		}
	}

	if id, ok := payload[proto.MessageID].(string); ok {
		delete(payload, proto.MessageID)
		c.fulfill(id, payload)
		return
	}

	c.broadcast(ev.Sender, ev.Recipient, payload)
}

func (c *Client) broadcast(sender, recipient string, event map[string]any) {
	c.subMu.RLock()
	handlers := slices.Clone(c.receivers[recipient])
	c.subMu.RUnlock()

	for _, handler := range handlers {
		handler(sender, recipient, event)
	}
}

func (c *Client) responder(name string) Responder {
	c.svcMu.RLock()
	defer c.svcMu.RUnlock()
	return c.services[name]
}

// send writes one line; a failed write flips the client to Disconnected.
func (c *Client) send(line string) error {
	if err := c.transport.SendLine(line); err != nil {
		c.log.Warn("send failed", "error", err)
		c.setState(Disconnected)
		return err
	}
	return nil
}

// Publish serializes data and sends it to the channel. Nothing is buffered
// or retried; a write failure marks the client Disconnected.
func (c *Client) Publish(channel string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return c.send(proto.SendRaw(channel, raw))
}

// Subscribe appends the callback to the channel's list and optimistically
// tells the server. The same callback may be registered more than once; it
// is then invoked once per registration. Before a connection exists the
// subscription is only recorded and replayed on connect.
func (c *Client) Subscribe(channel string, handler EventHandler) error {
	c.subMu.Lock()
	c.receivers[channel] = append(c.receivers[channel], handler)
	c.subMu.Unlock()

	if c.State() != Connected {
		return nil
	}
	if err := c.send(proto.Subscribe(channel)); err != nil {
		return err
	}
	c.log.Info("subscribed", "channel", channel)
	return nil
}

// Unsubscribe removes every callback for the channel. Unsubscribing a
// channel that was never subscribed is an error.
func (c *Client) Unsubscribe(channel string) error {
	c.subMu.Lock()
	_, ok := c.receivers[channel]
	delete(c.receivers, channel)
	c.subMu.Unlock()

	if !ok {
		return fmt.Errorf("not subscribed to %q", channel)
	}
	if c.State() != Connected {
		return nil
	}
	if err := c.send(proto.Unsubscribe(channel)); err != nil {
		return err
	}
	c.log.Info("unsubscribed", "channel", channel)
	return nil
}

// Register installs a responder for the named call and subscribes to the
// channel so invocations reach this client. The last registration for a
// name wins. Responder channels are replayed on reconnect like regular
// subscriptions.
func (c *Client) Register(channel, name string, responder Responder) error {
	c.svcMu.Lock()
	c.services[name] = responder
	c.svcChannels[channel] = struct{}{}
	c.svcMu.Unlock()

	c.log.Info("registered responder", "channel", channel, "call", name)
	if c.State() != Connected {
		return nil
	}
	return c.send(proto.Subscribe(channel))
}

// Stop sends quit, closes the transport and leaves the client Disconnected.
// In-flight calls are not cancelled; they expire on their own.
func (c *Client) Stop() {
	c.disableReconnect()
	if c.State() == Connected {
		c.transport.SendLine(proto.Quit)
	}
	c.transport.Close()
	c.setState(Disconnected)
	c.log.Info("stopped")
}
