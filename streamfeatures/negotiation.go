// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package streamfeatures

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"sync"

	"mellium.im/xmlstream"

	"mellium.im/client/entity"
	"mellium.im/client/stanza"
)

// Negotiation is the handle a feature uses while it is being negotiated.
//
// Elements in the namespaces of the feature are delivered through Receive.
// While the feature holds an element the entity does not read any further
// input, so the feature may upgrade the transport or request a restart before
// the next byte is parsed.
type Negotiation struct {
	ctx     context.Context
	entity  *entity.Entity
	gen     uint64
	feature Feature

	in      chan *stanza.Element
	release chan struct{}
	done    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	parked bool
}

func newNegotiation(ctx context.Context, e *entity.Entity, gen uint64, f Feature) *Negotiation {
	return &Negotiation{
		ctx:     ctx,
		entity:  e,
		gen:     gen,
		feature: f,
		in:      make(chan *stanza.Element),
		release: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Entity returns the entity being negotiated.
func (n *Negotiation) Entity() *entity.Entity {
	return n.entity
}

// Generation returns the connection generation being negotiated.
func (n *Negotiation) Generation() uint64 {
	return n.gen
}

// Send writes a top level element to the server.
func (n *Negotiation) Send(ctx context.Context, r xml.TokenReader) error {
	return n.entity.Send(ctx, r)
}

// SendElement is like Send but takes a value that can encode itself.
func (n *Negotiation) SendElement(ctx context.Context, m xmlstream.Marshaler) error {
	return n.entity.Send(ctx, m.TokenReader())
}

// Receive releases the previously received element, if any, and waits for
// the next element in the namespaces of the feature.
func (n *Negotiation) Receive(ctx context.Context) (*stanza.Element, error) {
	n.unpark()
	select {
	case el := <-n.in:
		n.mu.Lock()
		n.parked = true
		n.mu.Unlock()
		return el, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.ctx.Done():
		return nil, n.ctx.Err()
	}
}

// StartTLS upgrades the transport in band.
// It must be called while the feature holds the element that allowed the
// upgrade.
func (n *Negotiation) StartTLS(ctx context.Context, cfg *tls.Config) error {
	return n.entity.StartTLS(ctx, cfg)
}

// ConnectionState returns the TLS state of the transport, if it is
// encrypted.
func (n *Negotiation) ConnectionState() (tls.ConnectionState, bool) {
	return n.entity.ConnectionState()
}

func (n *Negotiation) wants(space string) bool {
	for _, s := range n.feature.namespaces() {
		if s == space {
			return true
		}
	}
	return false
}

// deliver hands el to the feature and blocks the caller until the feature
// releases it.
func (n *Negotiation) deliver(ctx context.Context, el *stanza.Element) (bool, error) {
	select {
	case n.in <- el:
	case <-n.done:
		return false, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
	select {
	case <-n.release:
	case <-ctx.Done():
	}
	return true, nil
}

func (n *Negotiation) unpark() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.parked {
		n.parked = false
		select {
		case n.release <- struct{}{}:
		default:
		}
	}
}

func (n *Negotiation) finish() {
	n.once.Do(func() {
		close(n.done)
		n.unpark()
	})
}
