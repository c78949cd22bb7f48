// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package session_test

import (
	"context"
	"encoding/xml"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mellium.im/client/auth"
	"mellium.im/client/bind"
	"mellium.im/client/entity"
	"mellium.im/client/event"
	"mellium.im/client/internal/xmpptest"
	"mellium.im/client/iq"
	"mellium.im/client/middleware"
	"mellium.im/client/session"
	"mellium.im/client/stanza"
	"mellium.im/client/streamfeatures"
	"mellium.im/client/transport"
	"mellium.im/client/transport/tcp"
)

func negotiate(t *testing.T, srv *xmpptest.Server) event.Event {
	t.Helper()
	srv.Mechanisms = []string{"ANONYMOUS"}
	srv.Start(t)

	mw := middleware.New(nil)
	e := entity.New(entity.Config{
		Domain:     srv.Domain,
		Transports: []transport.Transport{&tcp.Transport{}},
		Dispatcher: mw,
	})
	caller := iq.NewCaller(iq.CallerConfig{Entity: e, Middleware: mw})
	defer caller.Close()
	n := streamfeatures.New(streamfeatures.Config{Entity: e, Middleware: mw})
	n.Use(session.Feature(caller))
	n.Use(bind.Feature(caller, ""))
	n.Use(auth.Feature(auth.Config{}))

	sub := e.Subscribe()
	defer sub.Close()
	require.NoError(t, e.Connect(context.Background(), []transport.Endpoint{srv.Endpoint()}))
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.C():
			if ev.Kind == event.Online || ev.Kind == event.Offline {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out")
		}
	}
}

func TestRequired(t *testing.T) {
	srv := &xmpptest.Server{}
	ev := negotiate(t, srv)
	require.Equal(t, event.Online, ev.Kind)
	require.Equal(t, []string{"header", "auth ANONYMOUS", "header", "bind", "session"}, srv.Log())
}

func TestOptionalSkipped(t *testing.T) {
	srv := &xmpptest.Server{SessionOptional: true}
	ev := negotiate(t, srv)
	require.Equal(t, event.Online, ev.Kind)
	require.Equal(t, 0, srv.Count("session"))
	require.Equal(t, 1, srv.Count("bind"))
}

func TestNotAnnounced(t *testing.T) {
	srv := &xmpptest.Server{NoSession: true}
	ev := negotiate(t, srv)
	require.Equal(t, event.Online, ev.Kind)
	require.Equal(t, 0, srv.Count("session"))
}

func TestError(t *testing.T) {
	srv := &xmpptest.Server{
		OnElement: func(c *xmpptest.Conn, el *stanza.Element) bool {
			if el.Child(session.Name) == nil {
				return false
			}
			_ = c.Reply(el, "error", `<error type='wait'><internal-server-error xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'/></error>`)
			return true
		},
	}
	ev := negotiate(t, srv)
	require.Equal(t, event.Offline, ev.Kind)
	var serr *session.Error
	require.True(t, errors.As(ev.Err, &serr))
	var se stanza.Error
	require.True(t, errors.As(ev.Err, &se))
	require.Equal(t, stanza.InternalServerError, se.Condition)
	require.Equal(t, stanza.Wait, se.Type)
}

func TestOptional(t *testing.T) {
	el := stanza.MustNew(xml.NewDecoder(strings.NewReader(`<session xmlns='urn:ietf:params:xml:ns:xmpp-session'><optional/></session>`)))
	require.True(t, session.Optional(el))
	el = stanza.MustNew(xml.NewDecoder(strings.NewReader(`<session xmlns='urn:ietf:params:xml:ns:xmpp-session'/>`)))
	require.False(t, session.Optional(el))
}
