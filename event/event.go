// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package event delivers connection lifecycle events to explicit
// subscribers.
package event // import "mellium.im/client/event"

import (
	"sync"

	"mellium.im/xmpp/jid"

	"mellium.im/client/stanza"
)

// Kind is the kind of an event.
type Kind uint8

// A list of event kinds.
const (
	// Status is emitted on every change of the connection status.
	Status Kind = iota

	// Online is emitted once all required stream features have been negotiated.
	Online

	// Offline is emitted when a connection ends for any reason.
	Offline

	// Error is emitted for errors that do not end the connection, and for the
	// cause of a connection that is ending.
	Error

	// Stanza is emitted for each incoming element that no handler consumed.
	Stanza
)

func (k Kind) String() string {
	switch k {
	case Status:
		return "status"
	case Online:
		return "online"
	case Offline:
		return "offline"
	case Error:
		return "error"
	case Stanza:
		return "stanza"
	}
	return "unknown"
}

// Event is a single lifecycle event.
// Gen is the connection generation the event belongs to.
type Event struct {
	Kind   Kind
	Gen    uint64
	Status string
	JID    jid.JID
	Stanza *stanza.Element
	Err    error
}

// Bus fans events out to subscribers.
// Each subscriber has its own unbounded queue so that publishing never blocks
// the connection that emits the event and no subscriber can stall another.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription receives events published after it was created.
type Subscription struct {
	bus    *Bus
	c      chan Event
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Subscribe returns a new subscription.
// Callers must call Close when they no longer read from it.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		bus:    b,
		c:      make(chan Event),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[*Subscription]struct{})
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	go s.pump()
	return s
}

// Publish queues ev for every current subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.push(ev)
	}
}

// C returns the channel on which events are delivered in publish order.
// It is closed after Close.
func (s *Subscription) C() <-chan Event {
	return s.c
}

// Close removes the subscription from the bus and drops queued events.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.c)
	for {
		s.mu.Lock()
		var ev Event
		ok := len(s.queue) > 0
		if ok {
			ev = s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
		}
		s.mu.Unlock()
		if !ok {
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.c <- ev:
		case <-s.done:
			return
		}
	}
}
