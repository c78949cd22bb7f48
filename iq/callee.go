// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package iq

import (
	"context"
	"encoding/xml"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"mellium.im/client/entity"
	"mellium.im/client/internal/logger"
	"mellium.im/client/middleware"
	"mellium.im/client/stanza"
)

// Handler answers an IQ request.
// The returned token reader, which may be nil, is sent as the payload of a
// result. If a stanza.Error is returned it is sent as an error reply; any
// other error is reported as internal-server-error.
type Handler interface {
	HandleIQ(ctx context.Context, iq stanza.IQ, payload *stanza.Element) (xml.TokenReader, error)
}

// The HandlerFunc type is an adapter to allow the use of ordinary functions
// as IQ handlers.
type HandlerFunc func(ctx context.Context, iq stanza.IQ, payload *stanza.Element) (xml.TokenReader, error)

// HandleIQ calls f(ctx, iq, payload).
func (f HandlerFunc) HandleIQ(ctx context.Context, iq stanza.IQ, payload *stanza.Element) (xml.TokenReader, error) {
	return f(ctx, iq, payload)
}

type patternKey struct {
	xml.Name
	Type stanza.IQType
}

// CalleeConfig configures a Callee.
type CalleeConfig struct {
	Entity     *entity.Entity
	Middleware *middleware.Dispatcher
	Logger     log.Logger
}

// Callee answers get and set IQs.
//
// IQs are matched by the type and the XML name of their payload.
// If either the namespace or the localname of a pattern is left off, any
// namespace or localname will be matched.
// Full XML names take precedence, followed by wildcard localnames, followed by
// wildcard namespaces.
type Callee struct {
	entity *entity.Entity
	logger log.Logger
	wg     sync.WaitGroup

	mu       sync.RWMutex
	patterns map[patternKey]Handler
}

// NewCallee creates a callee and registers it with the middleware.
func NewCallee(cfg CalleeConfig) *Callee {
	c := &Callee{
		entity:   cfg.Entity,
		logger:   logger.OrNop(cfg.Logger),
		patterns: make(map[patternKey]Handler),
	}
	cfg.Middleware.UseFunc(stanza.IQName, CalleePriority, c.handle)
	return c
}

// Handle registers h for IQs of type typ whose payload matches n.
// It panics if typ is not get or set, or if a handler is already registered
// for the same pattern.
func (c *Callee) Handle(typ stanza.IQType, n xml.Name, h Handler) {
	if h == nil {
		panic("iq: nil handler")
	}
	if typ != stanza.GetIQ && typ != stanza.SetIQ {
		panic("iq: handlers can only be registered for get and set")
	}
	pattern := patternKey{Name: n, Type: typ}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.patterns[pattern]; ok {
		panic("iq: multiple registrations for " + string(typ) + " {" + n.Space + "}" + n.Local)
	}
	c.patterns[pattern] = h
}

// HandleFunc is like Handle but takes a function.
func (c *Callee) HandleFunc(typ stanza.IQType, n xml.Name, f HandlerFunc) {
	c.Handle(typ, n, f)
}

// Get is a shortcut for HandleFunc with the type set to "get".
func (c *Callee) Get(n xml.Name, f HandlerFunc) {
	c.Handle(stanza.GetIQ, n, f)
}

// Set is a shortcut for HandleFunc with the type set to "set".
func (c *Callee) Set(n xml.Name, f HandlerFunc) {
	c.Handle(stanza.SetIQ, n, f)
}

// Handler returns the handler for an IQ payload with the given name and type.
func (c *Callee) Handler(typ stanza.IQType, name xml.Name) (Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pattern := patternKey{Name: name, Type: typ}
	if h := c.patterns[pattern]; h != nil {
		return h, true
	}
	pattern.Name = xml.Name{Local: name.Local}
	if h := c.patterns[pattern]; h != nil {
		return h, true
	}
	pattern.Name = xml.Name{Space: name.Space}
	if h := c.patterns[pattern]; h != nil {
		return h, true
	}
	pattern.Name = xml.Name{}
	if h := c.patterns[pattern]; h != nil {
		return h, true
	}
	return nil, false
}

// Wait blocks until every running handler has returned.
func (c *Callee) Wait() {
	c.wg.Wait()
}

func (c *Callee) handle(ctx context.Context, el *stanza.Element) (bool, error) {
	typ := stanza.IQType(el.Type())
	if typ != stanza.GetIQ && typ != stanza.SetIQ {
		return false, nil
	}
	iq, err := stanza.NewIQ(el.Start)
	if err != nil {
		return false, err
	}

	var payload *stanza.Element
	var name xml.Name
	if children := el.Children(); len(children) > 0 {
		payload = children[0]
		name = payload.Name()
	}

	h, ok := c.Handler(typ, name)
	if !ok {
		reportCallee("unhandled")
		level.Debug(c.logger).Log("msg", "no handler for request", "type", typ, "payload", name.Local, "ns", name.Space)
		return true, c.entity.Send(ctx, iq.Error(stanza.Error{
			Type:      stanza.Cancel,
			Condition: stanza.ServiceUnavailable,
		}))
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.respond(ctx, h, iq, payload)
	}()
	return true, nil
}

func (c *Callee) respond(ctx context.Context, h Handler, iq stanza.IQ, payload *stanza.Element) {
	resp, err := h.HandleIQ(ctx, iq, payload)
	var reply xml.TokenReader
	switch {
	case err == nil:
		reportCallee("result")
		reply = iq.Result(resp)
	default:
		reportCallee("error")
		var se stanza.Error
		if !errors.As(err, &se) {
			level.Warn(c.logger).Log("msg", "request handler failed", "id", iq.ID, "err", err)
			se = stanza.Error{Type: stanza.Cancel, Condition: stanza.InternalServerError}
		}
		reply = iq.Error(se)
	}
	if err := c.entity.Send(ctx, reply); err != nil {
		level.Debug(c.logger).Log("msg", "failed to send reply", "id", iq.ID, "err", err)
	}
}
