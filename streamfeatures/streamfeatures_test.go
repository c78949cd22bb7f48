// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package streamfeatures_test

import (
	"context"
	"encoding/xml"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"mellium.im/xmlstream"

	"mellium.im/client/entity"
	"mellium.im/client/event"
	"mellium.im/client/internal/xmpptest"
	"mellium.im/client/middleware"
	"mellium.im/client/stanza"
	"mellium.im/client/streamfeatures"
	"mellium.im/client/transport"
	"mellium.im/client/transport/tcp"
)

const testNS = "urn:example:test"

func name(local string) xml.Name {
	return xml.Name{Space: testNS, Local: local}
}

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.order = append(r.order, s)
	r.mu.Unlock()
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *recorder) feature(local string, priority int) streamfeatures.Feature {
	return streamfeatures.Feature{
		Name:     name(local),
		Priority: priority,
		Negotiate: func(ctx context.Context, n *streamfeatures.Negotiation, announced *stanza.Element) (bool, error) {
			r.add(local)
			return false, nil
		},
	}
}

func setup(t *testing.T, srv *xmpptest.Server, skip bool) (*entity.Entity, *streamfeatures.Negotiator, *event.Subscription) {
	t.Helper()
	mw := middleware.New(nil)
	e := entity.New(entity.Config{
		Domain:     srv.Domain,
		Transports: []transport.Transport{&tcp.Transport{}},
		Dispatcher: mw,
	})
	n := streamfeatures.New(streamfeatures.Config{
		Entity:               e,
		Middleware:           mw,
		SkipOptionalFailures: skip,
	})
	sub := e.Subscribe()
	t.Cleanup(sub.Close)
	return e, n, sub
}

func waitEnd(t *testing.T, sub *event.Subscription) event.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.C():
			if ev.Kind == event.Online || ev.Kind == event.Offline {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for negotiation to end")
		}
	}
}

func TestFeatureOrder(t *testing.T) {
	srv := &xmpptest.Server{
		Features: func(*xmpptest.Conn) string {
			return `<a xmlns='urn:example:test'/><b xmlns='urn:example:test'/><c xmlns='urn:example:test'/><unknown xmlns='urn:example:other'/>`
		},
	}
	srv.Start(t)
	e, n, sub := setup(t, srv, false)

	rec := &recorder{}
	n.Use(rec.feature("a", 20))
	n.Use(rec.feature("b", 10))
	c := rec.feature("c", 5)
	c.Applies = func(*entity.Entity, *stanza.Element) bool { return false }
	n.Use(c)
	n.Use(rec.feature("d", 1))
	require.Equal(t, streamfeatures.Idle, n.State())

	require.NoError(t, e.Connect(context.Background(), []transport.Endpoint{srv.Endpoint()}))
	ev := waitEnd(t, sub)
	require.Equal(t, event.Online, ev.Kind)
	require.Equal(t, []string{"b", "a"}, rec.get())
	require.Equal(t, streamfeatures.Online, n.State())
	require.Equal(t, entity.Online, e.Status())

	var names []string
	for _, f := range n.Features() {
		names = append(names, f.Name.Local)
	}
	require.Equal(t, []string{"d", "c", "b", "a"}, names)
	require.Panics(t, func() { n.Use(rec.feature("e", 0)) })
}

func TestDuplicateFeaturePanics(t *testing.T) {
	srv := &xmpptest.Server{}
	srv.Start(t)
	_, n, _ := setup(t, srv, false)
	rec := &recorder{}
	n.Use(rec.feature("a", 1))
	require.Panics(t, func() { n.Use(rec.feature("a", 2)) })
}

func TestRestartNeverRepeatsFeature(t *testing.T) {
	srv := &xmpptest.Server{
		Features: func(*xmpptest.Conn) string {
			return `<x xmlns='urn:example:test'/><y xmlns='urn:example:test'/>`
		},
		OnElement: func(c *xmpptest.Conn, el *stanza.Element) bool {
			if el.Name() == name("go") {
				_ = c.Send(`<ok xmlns='urn:example:test'/>`)
				return true
			}
			return false
		},
	}
	srv.Start(t)
	e, n, sub := setup(t, srv, false)

	rec := &recorder{}
	n.Use(streamfeatures.Feature{
		Name:     name("x"),
		Priority: 1,
		Negotiate: func(ctx context.Context, neg *streamfeatures.Negotiation, announced *stanza.Element) (bool, error) {
			rec.add("x")
			err := neg.Send(ctx, xmlstream.Wrap(nil, xml.StartElement{Name: name("go")}))
			if err != nil {
				return false, err
			}
			el, err := neg.Receive(ctx)
			if err != nil {
				return false, err
			}
			if el.Name() != name("ok") {
				return false, errors.New("unexpected element")
			}
			return true, nil
		},
	})
	n.Use(rec.feature("y", 2))

	require.NoError(t, e.Connect(context.Background(), []transport.Endpoint{srv.Endpoint()}))
	ev := waitEnd(t, sub)
	require.Equal(t, event.Online, ev.Kind)
	require.Equal(t, []string{"x", "y"}, rec.get())
	require.Equal(t, 2, srv.Count("header"))
}

func TestFailureAborts(t *testing.T) {
	srv := &xmpptest.Server{
		Features: func(*xmpptest.Conn) string {
			return `<a xmlns='urn:example:test'/><b xmlns='urn:example:test'/>`
		},
	}
	srv.Start(t)
	e, n, sub := setup(t, srv, false)

	boom := errors.New("boom")
	rec := &recorder{}
	n.Use(streamfeatures.Feature{
		Name:     name("a"),
		Priority: 1,
		Optional: true,
		Negotiate: func(context.Context, *streamfeatures.Negotiation, *stanza.Element) (bool, error) {
			return false, boom
		},
	})
	n.Use(rec.feature("b", 2))

	require.NoError(t, e.Connect(context.Background(), []transport.Endpoint{srv.Endpoint()}))
	ev := waitEnd(t, sub)
	require.Equal(t, event.Offline, ev.Kind)
	var nerr *streamfeatures.NegotiationError
	require.True(t, errors.As(ev.Err, &nerr))
	require.Equal(t, name("a"), nerr.Feature)
	require.True(t, errors.Is(ev.Err, boom))
	require.Empty(t, rec.get())
	require.Equal(t, streamfeatures.Idle, n.State())
}

func TestSkipOptionalFailures(t *testing.T) {
	srv := &xmpptest.Server{
		Features: func(*xmpptest.Conn) string {
			return `<a xmlns='urn:example:test'/><b xmlns='urn:example:test'/>`
		},
	}
	srv.Start(t)
	e, n, sub := setup(t, srv, true)

	rec := &recorder{}
	n.Use(streamfeatures.Feature{
		Name:     name("a"),
		Priority: 1,
		Optional: true,
		Negotiate: func(context.Context, *streamfeatures.Negotiation, *stanza.Element) (bool, error) {
			rec.add("a")
			return false, errors.New("boom")
		},
	})
	n.Use(rec.feature("b", 2))

	require.NoError(t, e.Connect(context.Background(), []transport.Endpoint{srv.Endpoint()}))
	ev := waitEnd(t, sub)
	require.Equal(t, event.Online, ev.Kind)
	require.Equal(t, []string{"a", "b"}, rec.get())
}
