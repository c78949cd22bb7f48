// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package version_test

import (
	"context"
	"encoding/xml"
	"errors"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"mellium.im/xmlstream"
	"mellium.im/xmpp/jid"

	"mellium.im/client/entity"
	"mellium.im/client/event"
	"mellium.im/client/internal/xmpptest"
	"mellium.im/client/iq"
	"mellium.im/client/middleware"
	"mellium.im/client/stanza"
	"mellium.im/client/transport"
	"mellium.im/client/transport/tcp"
	"mellium.im/client/version"
)

var (
	_ xmlstream.Marshaler = (*version.Query)(nil)
	_ xmlstream.WriterTo  = (*version.Query)(nil)
)

var marshalTests = [...]struct {
	in  version.Query
	out string
}{
	0: {
		in:  version.Query{},
		out: `<query xmlns="` + version.NS + `"></query>`,
	},
	1: {
		in:  version.Query{Name: "name", Version: "ver", OS: "os"},
		out: `<query xmlns="` + version.NS + `"><name>name</name><version>ver</version><os>os</os></query>`,
	},
	2: {
		in:  version.Query{Version: "ver"},
		out: `<query xmlns="` + version.NS + `"><version>ver</version></query>`,
	},
}

func TestMarshal(t *testing.T) {
	for i, tc := range marshalTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			var buf strings.Builder
			e := xml.NewEncoder(&buf)
			_, err := tc.in.WriteXML(e)
			require.NoError(t, err)
			require.NoError(t, e.Flush())
			require.Equal(t, tc.out, buf.String())
		})
	}
}

func TestLocal(t *testing.T) {
	q := version.Local()
	require.Equal(t, "xmppc", q.Name)
	require.Equal(t, version.Version, q.Version)
	require.Equal(t, runtime.GOOS, q.OS)
}

type fixture struct {
	e      *entity.Entity
	caller *iq.Caller
	callee *iq.Callee
}

func connect(t *testing.T, srv *xmpptest.Server) fixture {
	t.Helper()
	srv.Start(t)
	mw := middleware.New(nil)
	e := entity.New(entity.Config{
		Domain:     srv.Domain,
		Transports: []transport.Transport{&tcp.Transport{}},
		Dispatcher: mw,
	})
	f := fixture{
		e:      e,
		caller: iq.NewCaller(iq.CallerConfig{Entity: e, Middleware: mw, Timeout: time.Second}),
		callee: iq.NewCallee(iq.CalleeConfig{Entity: e, Middleware: mw}),
	}
	t.Cleanup(func() {
		/* #nosec */
		e.Close(context.Background())
		f.caller.Close()
	})

	sub := e.Subscribe()
	defer sub.Close()
	require.NoError(t, e.Connect(context.Background(), []transport.Endpoint{srv.Endpoint()}))
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.C():
			if ev.Kind == event.Stanza {
				return f
			}
		case <-timeout:
			t.Fatal("timed out waiting for stream")
		}
	}
}

func TestGet(t *testing.T) {
	srv := &xmpptest.Server{
		OnElement: func(c *xmpptest.Conn, el *stanza.Element) bool {
			if el.Child(version.Name) == nil {
				return false
			}
			_ = c.Reply(el, "result", `<query xmlns='jabber:iq:version'><name>prosody</name><version>0.12</version><os>Linux</os></query>`)
			return true
		},
	}
	f := connect(t, srv)

	q, err := version.Get(context.Background(), f.caller, jid.JID{})
	require.NoError(t, err)
	require.Equal(t, "prosody", q.Name)
	require.Equal(t, "0.12", q.Version)
	require.Equal(t, "Linux", q.OS)
}

func TestGetBadPayload(t *testing.T) {
	srv := &xmpptest.Server{
		OnElement: func(c *xmpptest.Conn, el *stanza.Element) bool {
			_ = c.Reply(el, "result", "")
			return true
		},
	}
	f := connect(t, srv)

	_, err := version.Get(context.Background(), f.caller, jid.JID{})
	var se stanza.Error
	require.True(t, errors.As(err, &se))
	require.Equal(t, stanza.BadRequest, se.Condition)
}

func TestHandle(t *testing.T) {
	replies := make(chan *stanza.Element, 1)
	srv := &xmpptest.Server{
		OnElement: func(c *xmpptest.Conn, el *stanza.Element) bool {
			switch el.Name().Local {
			case "presence":
				_ = c.Send(`<iq xmlns='jabber:client' type='get' id='v1' from='example.net'><query xmlns='jabber:iq:version'/></iq>`)
				return true
			case "iq":
				replies <- el
				return true
			}
			return false
		},
	}
	f := connect(t, srv)
	version.Handle(f.callee, version.Query{Name: "xmppc", Version: "1.2.3"})

	require.NoError(t, f.e.Send(context.Background(), xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: "jabber:client", Local: "presence"}})))

	select {
	case el := <-replies:
		require.Equal(t, "v1", el.ID())
		require.Equal(t, "result", el.Type())
		var q version.Query
		require.NoError(t, el.Child(version.Name).Decode(&q))
		require.Equal(t, "xmppc", q.Name)
		require.Equal(t, "1.2.3", q.Version)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
}
