// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package iq

import (
	"context"
	"encoding/xml"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"mellium.im/xmpp/jid"

	"mellium.im/client/entity"
	"mellium.im/client/event"
	"mellium.im/client/internal/logger"
	"mellium.im/client/middleware"
	"mellium.im/client/stanza"
)

// DefaultTimeout is used when a caller is created without a timeout.
const DefaultTimeout = 30 * time.Second

// CallerConfig configures a Caller.
type CallerConfig struct {
	Entity     *entity.Entity
	Middleware *middleware.Dispatcher

	// Timeout bounds every request. Defaults to DefaultTimeout; a negative
	// value disables it.
	Timeout time.Duration

	Logger log.Logger
}

type response struct {
	el  *stanza.Element
	err error
}

type pending struct {
	gen uint64
	to  jid.JID
	ch  chan response
}

// Caller sends IQ requests and correlates the responses.
type Caller struct {
	entity  *entity.Entity
	timeout time.Duration
	logger  log.Logger
	sub     *event.Subscription
	remove  func()

	mu      sync.Mutex
	pending map[string]*pending
}

// NewCaller creates a caller and registers it with the middleware.
// Close must be called to release the resources of the caller.
func NewCaller(cfg CallerConfig) *Caller {
	c := &Caller{
		entity:  cfg.Entity,
		timeout: cfg.Timeout,
		logger:  logger.OrNop(cfg.Logger),
		pending: make(map[string]*pending),
	}
	if c.timeout == 0 {
		c.timeout = DefaultTimeout
	}
	c.remove = cfg.Middleware.UseFunc(stanza.IQName, CallerPriority, c.handle)
	c.sub = cfg.Entity.Subscribe()
	go c.watch()
	return c
}

// Close stops the caller. Pending requests are not affected.
func (c *Caller) Close() {
	c.remove()
	c.sub.Close()
}

// Pending returns the number of requests waiting for a response.
func (c *Caller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Caller) watch() {
	for ev := range c.sub.C() {
		if ev.Kind == event.Offline {
			c.rejectGen(ev.Gen)
		}
	}
}

func (c *Caller) rejectGen(gen uint64) {
	c.mu.Lock()
	var rejected []*pending
	for id, p := range c.pending {
		if p.gen <= gen {
			delete(c.pending, id)
			rejected = append(rejected, p)
		}
	}
	c.mu.Unlock()
	for _, p := range rejected {
		p.ch <- response{err: ErrDisconnected}
	}
}

// take removes and returns the pending request id, if any.
func (c *Caller) take(id string) *pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending[id]
	delete(c.pending, id)
	return p
}

// Request sends an IQ of type get or set wrapping payload and waits for the
// response.
// If the IQ has no ID a random one is assigned.
// A result is returned as the response element. An error response is
// returned as the response element together with a stanza.Error.
func (c *Caller) Request(ctx context.Context, iq stanza.IQ, payload xml.TokenReader) (*stanza.Element, error) {
	if iq.Type != stanza.GetIQ && iq.Type != stanza.SetIQ {
		return nil, errors.Errorf("iq: cannot request a response to an IQ of type %q", iq.Type)
	}
	if iq.ID == "" {
		iq.ID = uuid.NewString()
	}

	p := &pending{
		gen: c.entity.Generation(),
		to:  iq.To,
		ch:  make(chan response, 1),
	}
	c.mu.Lock()
	if _, ok := c.pending[iq.ID]; ok {
		c.mu.Unlock()
		return nil, errors.Errorf("iq: request %s is already pending", iq.ID)
	}
	c.pending[iq.ID] = p
	c.mu.Unlock()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.entity.Send(ctx, iq.Wrap(payload)); err != nil {
		c.take(iq.ID)
		reportRequest("send_error")
		return nil, err
	}
	c.mu.Lock()
	if c.pending[iq.ID] == p {
		p.gen = c.entity.Generation()
	}
	c.mu.Unlock()

	select {
	case resp := <-p.ch:
		switch {
		case resp.err == ErrDisconnected:
			reportRequest("disconnected")
		case resp.err != nil:
			reportRequest("error")
		default:
			reportRequest("result")
		}
		return resp.el, resp.err
	case <-ctx.Done():
		if c.take(iq.ID) == nil {
			// The response raced with the deadline.
			resp := <-p.ch
			return resp.el, resp.err
		}
		if ctx.Err() == context.DeadlineExceeded {
			reportRequest("timeout")
			level.Debug(c.logger).Log("msg", "request timed out", "id", iq.ID)
			return nil, ErrTimeout
		}
		reportRequest("canceled")
		return nil, ctx.Err()
	}
}

// Get sends a get request and returns the payload of the result, which may
// be nil.
func (c *Caller) Get(ctx context.Context, to jid.JID, payload xml.TokenReader) (*stanza.Element, error) {
	return c.payload(c.Request(ctx, stanza.IQ{Type: stanza.GetIQ, To: to}, payload))
}

// Set sends a set request and returns the payload of the result, which may
// be nil.
func (c *Caller) Set(ctx context.Context, to jid.JID, payload xml.TokenReader) (*stanza.Element, error) {
	return c.payload(c.Request(ctx, stanza.IQ{Type: stanza.SetIQ, To: to}, payload))
}

func (c *Caller) payload(el *stanza.Element, err error) (*stanza.Element, error) {
	if err != nil {
		return nil, err
	}
	children := el.Children()
	if len(children) == 0 {
		return nil, nil
	}
	return children[0], nil
}

func (c *Caller) handle(ctx context.Context, el *stanza.Element) (bool, error) {
	typ := stanza.IQType(el.Type())
	if typ != stanza.ResultIQ && typ != stanza.ErrorIQ {
		return false, nil
	}
	iq, err := stanza.NewIQ(el.Start)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	p, ok := c.pending[iq.ID]
	if !ok || !c.validFrom(p.to, iq.From) {
		c.mu.Unlock()
		return false, nil
	}
	delete(c.pending, iq.ID)
	c.mu.Unlock()

	if typ == stanza.ErrorIQ {
		se, _ := stanza.UnmarshalError(el)
		p.ch <- response{el: el, err: se}
		return true, nil
	}
	p.ch <- response{el: el}
	return true, nil
}

// validFrom reports whether a response from from can answer a request sent
// to to. Requests without an address, or addressed to the account or its
// domain, may be answered by the server without a from attribute.
func (c *Caller) validFrom(to, from jid.JID) bool {
	self := c.entity.JID()
	ownServer := func(j string) bool {
		return j == self.Domain().String() ||
			j == self.Bare().String() ||
			j == self.String()
	}
	if to.String() != "" {
		if from.String() == "" {
			return ownServer(to.String())
		}
		return from.String() == to.String()
	}
	return from.String() == "" || ownServer(from.String())
}
