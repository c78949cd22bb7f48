// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package middleware routes incoming top level elements to handlers.
//
// Handlers are registered with an XML name pattern and a priority.
// Patterns are XML names; if either the namespace or the localname is left
// off, any namespace or localname will be matched.
// For each element, matching handlers run in ascending priority order (ties
// in registration order) until one of them consumes the element.
package middleware // import "mellium.im/client/middleware"

import (
	"context"
	"encoding/xml"
	"sort"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"mellium.im/client/stanza"
)

// Handler processes a top level element.
// If consumed is true no further handlers see the element.
type Handler interface {
	HandleElement(ctx context.Context, el *stanza.Element) (consumed bool, err error)
}

// The HandlerFunc type is an adapter to allow the use of ordinary functions
// as handlers. If f is a function with the appropriate signature,
// HandlerFunc(f) is a Handler that calls f.
type HandlerFunc func(ctx context.Context, el *stanza.Element) (bool, error)

// HandleElement calls f(ctx, el).
func (f HandlerFunc) HandleElement(ctx context.Context, el *stanza.Element) (bool, error) {
	return f(ctx, el)
}

type entry struct {
	pattern  xml.Name
	priority int
	seq      uint64
	h        Handler
	removed  bool
}

// Dispatcher is the subscription table for incoming elements.
// Registration and removal may happen at any time, including from inside a
// handler.
type Dispatcher struct {
	logger log.Logger

	mu      sync.Mutex
	seq     uint64
	entries []*entry
}

// New returns an empty dispatcher.
func New(logger log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Dispatcher{logger: logger}
}

// Use registers h for elements matching pattern and returns a function that
// removes the registration.
// Calling remove more than once has no effect.
func (d *Dispatcher) Use(pattern xml.Name, priority int, h Handler) (remove func()) {
	if h == nil {
		panic("middleware: nil handler")
	}
	d.mu.Lock()
	d.seq++
	e := &entry{pattern: pattern, priority: priority, seq: d.seq, h: h}
	d.entries = append(d.entries, e)
	sort.SliceStable(d.entries, func(i, j int) bool {
		return d.entries[i].priority < d.entries[j].priority
	})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if e.removed {
			return
		}
		e.removed = true
		for i, other := range d.entries {
			if other == e {
				d.entries = append(d.entries[:i:i], d.entries[i+1:]...)
				break
			}
		}
	}
}

// UseFunc is like Use but takes a function.
func (d *Dispatcher) UseFunc(pattern xml.Name, priority int, f HandlerFunc) (remove func()) {
	return d.Use(pattern, priority, f)
}

// Len returns the number of registered handlers.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func (d *Dispatcher) snapshot() []*entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := make([]*entry, len(d.entries))
	copy(s, d.entries)
	return s
}

func (d *Dispatcher) active(e *entry) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !e.removed
}

// Dispatch passes el to every matching handler until one consumes it.
// Handlers registered while el is being dispatched do not see it; handlers
// removed while it is being dispatched are skipped if they have not run yet.
// A handler error does not stop dispatch; the first error is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, el *stanza.Element) (consumed bool, err error) {
	name := el.Name()
	for _, e := range d.snapshot() {
		if !stanza.Match(e.pattern, name) || !d.active(e) {
			continue
		}
		c, herr := e.h.HandleElement(ctx, el)
		if herr != nil {
			level.Debug(d.logger).Log("msg", "handler failed", "element", name.Local, "ns", name.Space, "err", herr)
			if err == nil {
				err = herr
			}
		}
		if c {
			return true, err
		}
	}
	return false, err
}
