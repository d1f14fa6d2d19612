package client

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport scripts inbound chunks and records outbound lines. Each
// queued chunk is handed out by one ReadChunk call, which lets tests force
// lines to arrive split across reads.
type fakeTransport struct {
	mu     sync.Mutex
	sent   []string
	chunks [][]byte
	closed bool
}

func (f *fakeTransport) Connect(addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = false
	return nil
}

func (f *fakeTransport) SendLine(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.sent = append(f.sent, line)
	return nil
}

func (f *fakeTransport) ReadChunk(p []byte, wait time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chunks) > 0 {
		n := copy(p, f.chunks[0])
		if n == len(f.chunks[0]) {
			f.chunks = f.chunks[1:]
		} else {
			f.chunks[0] = f.chunks[0][n:]
		}
		return n, nil
	}
	if f.closed {
		return 0, ErrClosed
	}
	return 0, ErrNoData
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// queue schedules one complete protocol line as its own read chunk.
func (f *fakeTransport) queue(line string) {
	f.queueChunk([]byte(line + "\n"))
}

func (f *fakeTransport) queueChunk(chunk []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunk)
}

func (f *fakeTransport) sentLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeTransport) markClosed() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func newConnectedClient(t *testing.T, handle string) (*Client, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	c := NewClient(handle, ft)
	ft.queue(`{"client":"` + c.Handle() + `","server":"test"}`)
	require.NoError(t, c.Connect("test:4444"))
	require.Equal(t, Connected, c.State())
	return c, ft
}

func TestResolveHandle(t *testing.T) {
	ft := &fakeTransport{}

	c := NewClient("Dev_##", ft)
	assert.Regexp(t, regexp.MustCompile(`^Dev_\d\d$`), c.Handle())

	c = NewClient("", ft)
	assert.Regexp(t, regexp.MustCompile(`^OOCSIClient_\d{4}$`), c.Handle())

	c = NewClient("plain", ft)
	assert.Equal(t, "plain", c.Handle())
}

func TestConnectHandshakeAndReplay(t *testing.T) {
	ft := &fakeTransport{}
	c := NewClient("replayer", ft)

	noop := func(sender, recipient string, event map[string]any) {}
	require.NoError(t, c.Subscribe("colors", noop))
	require.NoError(t, c.Register("math", "sum", func(event map[string]any) map[string]any { return nil }))

	ft.queue(`{"client":"replayer"}`)
	require.NoError(t, c.Connect("test:4444"))

	sent := ft.sentLines()
	require.NotEmpty(t, sent)
	assert.Equal(t, "replayer(JSON)", sent[0])
	assert.Contains(t, sent, "subscribe replayer")
	assert.Contains(t, sent, "subscribe colors")
	assert.Contains(t, sent, "subscribe math")
}

func TestConnectRejectedByServer(t *testing.T) {
	ft := &fakeTransport{}
	c := NewClient("taken", ft)
	ft.queue("error (handle already registered: taken)")

	err := c.Connect("test:4444")
	require.Error(t, err)
	assert.Equal(t, Disconnected, c.State())
}

func TestBroadcastInvokesHandlersInOrder(t *testing.T) {
	c, ft := newConnectedClient(t, "order")

	var got []int
	for i := 1; i <= 3; i++ {
		i := i
		require.NoError(t, c.Subscribe("colors", func(sender, recipient string, event map[string]any) {
			got = append(got, i)
		}))
	}

	ft.queue(`{"sender":"s","recipient":"colors","timestamp":0,"hue":1}`)
	require.NoError(t, c.Pump())

	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestDuplicateSubscriptionMeansDuplicateDelivery(t *testing.T) {
	c, ft := newConnectedClient(t, "dups")

	calls := 0
	handler := func(sender, recipient string, event map[string]any) { calls++ }
	require.NoError(t, c.Subscribe("colors", handler))
	require.NoError(t, c.Subscribe("colors", handler))

	ft.queue(`{"sender":"s","recipient":"colors","timestamp":0}`)
	require.NoError(t, c.Pump())

	assert.Equal(t, 2, calls)
}

func TestKeepAliveNeverReachesSubscribers(t *testing.T) {
	c, ft := newConnectedClient(t, "alive")

	invoked := false
	require.NoError(t, c.Subscribe("colors", func(sender, recipient string, event map[string]any) {
		invoked = true
	}))
	before := len(ft.sentLines())

	ft.queue("ping")
	ft.queue(".")
	require.NoError(t, c.Pump())
	require.NoError(t, c.Pump())

	assert.False(t, invoked)
	sent := ft.sentLines()[before:]
	assert.Equal(t, []string{".", "."}, sent)
}

func TestOtherLinesAreDiscarded(t *testing.T) {
	c, ft := newConnectedClient(t, "noise")

	invoked := false
	require.NoError(t, c.Subscribe("colors", func(sender, recipient string, event map[string]any) {
		invoked = true
	}))
	before := len(ft.sentLines())

	ft.queue("welcome to nothing")
	ft.queue(`{"sender":"s","recipient":"colors","timestamp":0,"bad json`)
	require.NoError(t, c.Pump())
	require.NoError(t, c.Pump())

	assert.False(t, invoked)
	assert.Len(t, ft.sentLines(), before)
}

func TestPublishRoundTrip(t *testing.T) {
	c, ft := newConnectedClient(t, "round")

	require.NoError(t, c.Publish("channel", map[string]any{"x": 1}))
	sent := ft.sentLines()
	assert.Equal(t, `sendraw channel {"x":1}`, sent[len(sent)-1])

	var gotSender, gotRecipient string
	var gotEvent map[string]any
	require.NoError(t, c.Subscribe("channel", func(sender, recipient string, event map[string]any) {
		gotSender, gotRecipient, gotEvent = sender, recipient, event
	}))

	ft.queue(`{"sender":"s","recipient":"channel","timestamp":0,"x":1}`)
	require.NoError(t, c.Pump())

	assert.Equal(t, "s", gotSender)
	assert.Equal(t, "channel", gotRecipient)
	assert.Equal(t, map[string]any{"x": float64(1)}, gotEvent)
}

func TestLineSplitAcrossChunksIsDeliveredOnce(t *testing.T) {
	c, ft := newConnectedClient(t, "split")

	var events []map[string]any
	require.NoError(t, c.Subscribe("colors", func(sender, recipient string, event map[string]any) {
		events = append(events, event)
	}))

	line := `{"sender":"s","recipient":"colors","timestamp":0,"hue":120}` + "\n"
	ft.queueChunk([]byte(line[:20]))
	ft.queueChunk([]byte(line[20:]))

	require.NoError(t, c.Pump())
	require.Empty(t, events)
	require.NoError(t, c.Pump())

	require.Len(t, events, 1)
	assert.Equal(t, float64(120), events[0]["hue"])
}

func TestZeroReadDisconnects(t *testing.T) {
	c, ft := newConnectedClient(t, "gone")

	ft.markClosed()
	err := c.Pump()
	require.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, Disconnected, c.State())

	// The connection instance is terminal; no further dispatch happens.
	err = c.Pump()
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestUnsubscribe(t *testing.T) {
	c, ft := newConnectedClient(t, "unsub")

	invoked := 0
	require.NoError(t, c.Subscribe("colors", func(sender, recipient string, event map[string]any) {
		invoked++
	}))
	require.NoError(t, c.Unsubscribe("colors"))
	assert.Contains(t, ft.sentLines(), "unsubscribe colors")

	ft.queue(`{"sender":"s","recipient":"colors","timestamp":0}`)
	require.NoError(t, c.Pump())
	assert.Zero(t, invoked)

	err := c.Unsubscribe("colors")
	require.Error(t, err)
	err = c.Unsubscribe("never-subscribed")
	require.Error(t, err)
}

func TestStopSendsQuit(t *testing.T) {
	c, ft := newConnectedClient(t, "stopper")

	c.Stop()
	assert.Equal(t, Disconnected, c.State())
	sent := ft.sentLines()
	assert.Equal(t, "quit", sent[len(sent)-1])
}

func TestCallFulfilledBeforeDeadline(t *testing.T) {
	c, ft := newConnectedClient(t, "caller")

	call := c.Call("math", "sum", map[string]any{"a": 1, "b": 2}, time.Second)

	// The issued payload carries both control fields.
	sent := ft.sentLines()
	last := sent[len(sent)-1]
	require.True(t, strings.HasPrefix(last, "sendraw math "))
	payload := make(map[string]any)
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(last, "sendraw math ")), &payload))
	assert.Equal(t, "sum", payload["_MESSAGE_HANDLE"])
	assert.Equal(t, call.ID, payload["_MESSAGE_ID"])

	ft.queue(`{"sender":"responder","recipient":"caller","timestamp":0,"_MESSAGE_ID":"` + call.ID + `","total":3}`)
	require.NoError(t, c.Pump())

	response, ok := call.Response()
	require.True(t, ok)
	assert.Equal(t, float64(3), response["total"])
	assert.NotContains(t, response, "_MESSAGE_ID")
}

func TestLateResponseIsDropped(t *testing.T) {
	c, ft := newConnectedClient(t, "slowpoke")

	call := c.Call("math", "sum", map[string]any{}, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	ft.queue(`{"sender":"responder","recipient":"slowpoke","timestamp":0,"_MESSAGE_ID":"` + call.ID + `","total":3}`)
	require.NoError(t, c.Pump())

	_, ok := call.Response()
	assert.False(t, ok)
	assert.True(t, call.Expired())
}

func TestResponseForUnknownCallIsIgnored(t *testing.T) {
	c, ft := newConnectedClient(t, "nobody")

	invoked := false
	require.NoError(t, c.Subscribe("nobody", func(sender, recipient string, event map[string]any) {
		invoked = true
	}))

	ft.queue(`{"sender":"responder","recipient":"nobody","timestamp":0,"_MESSAGE_ID":"never-issued","total":3}`)
	require.NoError(t, c.Pump())
	// A correlation miss is silent: not even a channel broadcast.
	assert.False(t, invoked)
}

func TestCallAndWaitFulfilled(t *testing.T) {
	c, ft := newConnectedClient(t, "patient")

	go func() {
		// Let CallAndWait issue the request, then answer it.
		time.Sleep(20 * time.Millisecond)
		ft.mu.Lock()
		var id string
		for _, line := range ft.sent {
			if strings.HasPrefix(line, "sendraw math ") {
				payload := make(map[string]any)
				json.Unmarshal([]byte(strings.TrimPrefix(line, "sendraw math ")), &payload)
				id, _ = payload["_MESSAGE_ID"].(string)
			}
		}
		ft.mu.Unlock()
		ft.queue(`{"sender":"responder","recipient":"patient","timestamp":0,"_MESSAGE_ID":"` + id + `","total":7}`)
	}()

	call := c.CallAndWait("math", "sum", map[string]any{"a": 3, "b": 4}, time.Second)
	response, ok := call.Response()
	require.True(t, ok)
	assert.Equal(t, float64(7), response["total"])
}

func TestCallAndWaitTimesOut(t *testing.T) {
	c, _ := newConnectedClient(t, "impatient")

	start := time.Now()
	call := c.CallAndWait("math", "sum", map[string]any{}, 50*time.Millisecond)
	elapsed := time.Since(start)

	_, ok := call.Response()
	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestServiceInvocation(t *testing.T) {
	c, ft := newConnectedClient(t, "worker")

	responderCalls := 0
	require.NoError(t, c.Register("math", "sum", func(event map[string]any) map[string]any {
		responderCalls++
		total := event["a"].(float64) + event["b"].(float64)
		return map[string]any{"total": total}
	}))

	var broadcasts []map[string]any
	require.NoError(t, c.Subscribe("math", func(sender, recipient string, event map[string]any) {
		broadcasts = append(broadcasts, event)
	}))

	ft.queue(`{"sender":"caller","recipient":"math","timestamp":0,"_MESSAGE_HANDLE":"sum","_MESSAGE_ID":"abc","a":1,"b":2}`)
	require.NoError(t, c.Pump())

	require.Equal(t, 1, responderCalls)

	// Exactly one reply published to the original sender, correlated by id.
	var reply map[string]any
	replies := 0
	for _, line := range ft.sentLines() {
		if strings.HasPrefix(line, "sendraw caller ") {
			replies++
			reply = make(map[string]any)
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "sendraw caller ")), &reply))
		}
	}
	require.Equal(t, 1, replies)
	assert.Equal(t, float64(3), reply["total"])
	assert.Equal(t, "abc", reply["_MESSAGE_ID"])

	// The invocation is also a channel broadcast, stripped of control fields.
	require.Len(t, broadcasts, 1)
	assert.Equal(t, map[string]any{"a": float64(1), "b": float64(2)}, broadcasts[0])
}

func TestServiceInvocationForUnknownName(t *testing.T) {
	c, ft := newConnectedClient(t, "bystander")

	invoked := false
	require.NoError(t, c.Subscribe("math", func(sender, recipient string, event map[string]any) {
		invoked = true
	}))
	before := len(ft.sentLines())

	ft.queue(`{"sender":"caller","recipient":"math","timestamp":0,"_MESSAGE_HANDLE":"unknown","_MESSAGE_ID":"abc","a":1}`)
	require.NoError(t, c.Pump())

	// Without a responder the event degrades to a correlation miss.
	assert.False(t, invoked)
	assert.Len(t, ft.sentLines(), before)
}

func TestPumpRequiresConnection(t *testing.T) {
	c := NewClient("offline", &fakeTransport{})
	err := c.Pump()
	require.True(t, errors.Is(err, ErrNotConnected))
}
