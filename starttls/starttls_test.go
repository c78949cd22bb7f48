// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package starttls_test

import (
	"context"
	"encoding/xml"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mellium.im/client/entity"
	"mellium.im/client/event"
	"mellium.im/client/internal/xmpptest"
	"mellium.im/client/middleware"
	"mellium.im/client/stanza"
	"mellium.im/client/starttls"
	"mellium.im/client/streamfeatures"
	"mellium.im/client/transport"
	"mellium.im/client/transport/tcp"
)

func connect(t *testing.T, srv *xmpptest.Server) (*entity.Entity, *streamfeatures.Negotiator, event.Event) {
	t.Helper()
	mw := middleware.New(nil)
	e := entity.New(entity.Config{
		Domain: srv.Domain,
		Transports: []transport.Transport{
			&tcp.Transport{},
			&tcp.Transport{DirectTLS: true, TLSConfig: srv.ClientTLSConfig()},
		},
		Dispatcher: mw,
	})
	n := streamfeatures.New(streamfeatures.Config{Entity: e, Middleware: mw})
	n.Use(starttls.Feature(srv.ClientTLSConfig()))
	sub := e.Subscribe()
	defer sub.Close()

	require.NoError(t, e.Connect(context.Background(), []transport.Endpoint{srv.Endpoint()}))
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.C():
			if ev.Kind == event.Online || ev.Kind == event.Offline {
				return e, n, ev
			}
		case <-timeout:
			t.Fatal("timed out")
		}
	}
}

func TestUpgrade(t *testing.T) {
	srv := &xmpptest.Server{StartTLS: true}
	srv.Start(t)

	e, _, ev := connect(t, srv)
	require.Equal(t, event.Online, ev.Kind)
	require.True(t, e.Secure())
	cs, ok := e.ConnectionState()
	require.True(t, ok)
	require.True(t, cs.HandshakeComplete)
	require.Equal(t, 1, srv.Count("starttls"))
	require.Equal(t, 2, srv.Count("header"))
}

func TestNeverTwice(t *testing.T) {
	srv := &xmpptest.Server{
		Features: func(*xmpptest.Conn) string {
			return `<starttls xmlns='urn:ietf:params:xml:ns:xmpp-tls'/>`
		},
	}
	srv.Start(t)

	e, _, ev := connect(t, srv)
	require.Equal(t, event.Online, ev.Kind)
	require.True(t, e.Secure())
	require.Equal(t, 1, srv.Count("starttls"))
}

func TestSkippedOnSecureTransport(t *testing.T) {
	srv := &xmpptest.Server{
		DirectTLS: true,
		Features: func(*xmpptest.Conn) string {
			return `<starttls xmlns='urn:ietf:params:xml:ns:xmpp-tls'/>`
		},
	}
	srv.Start(t)

	e, _, ev := connect(t, srv)
	require.Equal(t, event.Online, ev.Kind, "unexpected error %v", ev.Err)
	require.True(t, e.Secure())
	require.Equal(t, 0, srv.Count("starttls"))
	require.Equal(t, 1, srv.Count("header"))
}

func TestFailure(t *testing.T) {
	srv := &xmpptest.Server{
		StartTLS: true,
		OnElement: func(c *xmpptest.Conn, el *stanza.Element) bool {
			if el.Name() == starttls.Name {
				_ = c.Send(`<failure xmlns='urn:ietf:params:xml:ns:xmpp-tls'/>`)
				return true
			}
			return false
		},
	}
	srv.Start(t)

	_, _, ev := connect(t, srv)
	require.Equal(t, event.Offline, ev.Kind)
	require.True(t, errors.Is(ev.Err, starttls.ErrFailed))
}

func TestRequired(t *testing.T) {
	el := stanza.MustNew(xml.NewDecoder(strings.NewReader(`<starttls xmlns='urn:ietf:params:xml:ns:xmpp-tls'><required/></starttls>`)))
	require.True(t, starttls.Required(el))
	el = stanza.MustNew(xml.NewDecoder(strings.NewReader(`<starttls xmlns='urn:ietf:params:xml:ns:xmpp-tls'/>`)))
	require.False(t, starttls.Required(el))
	require.Equal(t, xml.Name{Space: "urn:ietf:params:xml:ns:xmpp-tls", Local: "starttls"}, starttls.Name)
}
