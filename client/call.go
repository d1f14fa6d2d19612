package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iddi/oocsi-go/proto"
)

// Call is one pending request/response exchange, identified by a UUID v4
// correlation id. It is fulfilled at most once and never after its deadline:
// a response arriving late is treated as if the call never existed.
type Call struct {
	ID       string
	Name     string
	deadline time.Time

	mu       sync.Mutex
	response map[string]any
	done     chan struct{}
}

func newCall(name string, timeout time.Duration) *Call {
	return &Call{
		ID:       uuid.NewString(),
		Name:     name,
		deadline: time.Now().Add(timeout),
		done:     make(chan struct{}),
	}
}

// fulfill attaches the response unless the deadline has passed or the call
// was already completed. It reports whether the response was accepted.
func (call *Call) fulfill(payload map[string]any) bool {
	if !time.Now().Before(call.deadline) {
		return false
	}
	call.mu.Lock()
	defer call.mu.Unlock()
	select {
	case <-call.done:
		return false
	default:
	}
	call.response = payload
	close(call.done)
	return true
}

// Response returns the payload and whether the call was answered in time.
// Callers must check ok before trusting the payload.
func (call *Call) Response() (map[string]any, bool) {
	call.mu.Lock()
	defer call.mu.Unlock()
	return call.response, call.response != nil
}

// Done is closed once a response has been attached.
func (call *Call) Done() <-chan struct{} {
	return call.done
}

// Expired reports whether the deadline passed without a response.
func (call *Call) Expired() bool {
	if _, ok := call.Response(); ok {
		return false
	}
	return time.Now().After(call.deadline)
}

// Call issues a request on the channel for the named service and returns the
// pending call immediately. The response, if one arrives in time, is
// attached by the pump.
func (c *Client) Call(channel, name string, data map[string]any, timeout time.Duration) *Call {
	call := newCall(name, timeout)

	payload := make(map[string]any, len(data)+2)
	for k, v := range data {
		payload[k] = v
	}
	payload[proto.MessageHandle] = name
	payload[proto.MessageID] = call.ID

	c.callMu.Lock()
	c.calls[call.ID] = call
	c.callMu.Unlock()

	if err := c.Publish(channel, payload); err != nil {
		c.log.Warn("call publish failed", "call", name, "error", err)
	}
	return call
}

// CallAndWait issues the call and blocks until it is fulfilled or the
// timeout elapses, then returns the call in whatever state it is in. When no
// Run loop owns the transport, the caller pumps while waiting so the
// response can actually arrive.
func (c *Client) CallAndWait(channel, name string, data map[string]any, timeout time.Duration) *Call {
	call := c.Call(channel, name, data, timeout)
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-call.Done():
			return call
		default:
		}
		if !time.Now().Before(deadline) {
			c.forget(call.ID)
			return call
		}

		if c.running.Load() || c.State() != Connected {
			select {
			case <-call.Done():
				return call
			case <-time.After(pollInterval):
			}
			continue
		}
		if err := c.Pump(); err != nil {
			// Connection gone; nothing more can fulfill the call.
			c.forget(call.ID)
			return call
		}
	}
}

// fulfill resolves a response to its pending call. Unknown ids are dropped;
// expired calls are removed without completing the waiter.
func (c *Client) fulfill(id string, payload map[string]any) {
	c.callMu.Lock()
	call, ok := c.calls[id]
	delete(c.calls, id)
	c.callMu.Unlock()

	if !ok {
		return
	}
	if !call.fulfill(payload) {
		c.log.Debug("dropping late call response", "call", call.Name, "id", id)
	}
}

func (c *Client) forget(id string) {
	c.callMu.Lock()
	delete(c.calls, id)
	c.callMu.Unlock()
}
