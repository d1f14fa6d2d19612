package server

import (
	"sort"
	"sync"
)

// Broker maps channels to their subscriber sessions.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[*Session]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*Session]struct{})}
}

func (b *Broker) Subscribe(channel string, sess *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*Session]struct{})
	}
	b.subs[channel][sess] = struct{}{}
}

func (b *Broker) Unsubscribe(channel string, sess *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[channel]; ok {
		delete(subs, sess)
		if len(subs) == 0 {
			delete(b.subs, channel)
		}
	}
}

// Drop removes the session from every channel, used on disconnect.
func (b *Broker) Drop(sess *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for channel, subs := range b.subs {
		delete(subs, sess)
		if len(subs) == 0 {
			delete(b.subs, channel)
		}
	}
}

// Subscribers returns the sessions subscribed to a channel.
func (b *Broker) Subscribers(channel string) []*Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Session, 0, len(b.subs[channel]))
	for sess := range b.subs[channel] {
		out = append(out, sess)
	}
	return out
}

// Channels returns a snapshot of channel names to subscriber handles,
// sorted for stable status output.
func (b *Broker) Channels() map[string][]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string][]string, len(b.subs))
	for channel, subs := range b.subs {
		handles := make([]string, 0, len(subs))
		for sess := range subs {
			handles = append(handles, sess.Handle)
		}
		sort.Strings(handles)
		out[channel] = handles
	}
	return out
}
