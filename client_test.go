// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client_test

import (
	"context"
	"encoding/xml"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"mellium.im/xmlstream"
	"mellium.im/xmpp/jid"

	"mellium.im/client"
	"mellium.im/client/auth"
	"mellium.im/client/entity"
	"mellium.im/client/event"
	"mellium.im/client/internal/xmpptest"
	"mellium.im/client/iq"
	"mellium.im/client/reconnect"
	"mellium.im/client/resolve"
	"mellium.im/client/stanza"
	"mellium.im/client/streamfeatures"
	"mellium.im/client/transport"
)

var pingName = xml.Name{Space: "urn:xmpp:ping", Local: "ping"}

func waitFor(t *testing.T, sub *event.Subscription, match func(event.Event) bool) event.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.C():
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}
}

func newClient(t *testing.T, opts client.Options) *client.Client {
	t.Helper()
	c, err := client.New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		/* #nosec */
		c.Stop(context.Background())
		c.IQCaller.Close()
	})
	return c
}

func TestNew(t *testing.T) {
	_, err := client.New(client.Options{})
	require.True(t, errors.Is(err, client.ErrNoDomain))

	_, err = client.New(client.Options{Service: "ftp://example.net"})
	require.Error(t, err)

	c, err := client.New(client.Options{Service: "wss://example.net/xmpp-websocket"})
	require.NoError(t, err)
	require.Equal(t, "example.net", c.Domain())

	c, err = client.New(client.Options{Service: "xmpp://127.0.0.1:5222", Domain: "example.org"})
	require.NoError(t, err)
	require.Equal(t, "example.org", c.Domain())

	names := func(fs []streamfeatures.Feature) []xml.Name {
		var out []xml.Name
		for _, f := range fs {
			out = append(out, f.Name)
		}
		return out
	}
	require.Equal(t, []xml.Name{
		c.StartTLS.Name, c.SASL.Name, c.ResourceBinding.Name, c.SessionEstablishment.Name,
	}, names(c.StreamFeatures.Features()))
	require.Equal(t, []string{"SCRAM-SHA-1", "PLAIN", "ANONYMOUS"}, auth.Names(c.Mechanisms))
}

func TestEndpoints(t *testing.T) {
	c, err := client.New(client.Options{Service: "xmpps://127.0.0.1:5223", Domain: "example.net"})
	require.NoError(t, err)
	eps, err := c.Endpoints(context.Background())
	require.NoError(t, err)
	require.Equal(t, []transport.Endpoint{{
		Kind: transport.TLS, Host: "127.0.0.1", Port: 5223, Domain: "example.net",
	}}, eps)

	c, err = client.New(client.Options{
		Domain:     "example.net",
		Transports: []transport.Kind{transport.TCP},
		Resolver: &resolve.Resolver{
			LookupSRV: func(context.Context, string, string, string) (string, []*net.SRV, error) {
				return "", nil, errors.New("network unreachable")
			},
		},
	})
	require.NoError(t, err)
	eps, err = c.Endpoints(context.Background())
	require.NoError(t, err)
	require.Equal(t, []transport.Endpoint{resolve.Direct("example.net")}, eps)
}

func TestStartTLSPlainBindSession(t *testing.T) {
	srv := &xmpptest.Server{StartTLS: true, Users: map[string]string{"juliet": "s3cr3t"}}
	srv.Start(t)

	c := newClient(t, client.Options{
		Service:   srv.Service(),
		Domain:    srv.Domain,
		Username:  "juliet",
		Password:  "s3cr3t",
		Resource:  "balcony",
		TLSConfig: srv.ClientTLSConfig(),
	})
	require.NoError(t, c.Connect(context.Background()))

	require.Equal(t, []string{
		"header", "starttls", "header", "auth PLAIN", "header", "bind", "session",
	}, srv.Log())
	require.Equal(t, "juliet@example.net/balcony", c.JID().String())
	require.True(t, c.Entity.Secure())
	require.Equal(t, entity.Online, c.Entity.Status())
	require.Equal(t, streamfeatures.Online, c.StreamFeatures.State())
}

func TestAnonymousWithoutCredentials(t *testing.T) {
	srv := &xmpptest.Server{Mechanisms: []string{"PLAIN", "ANONYMOUS"}}
	srv.Start(t)

	c := newClient(t, client.Options{Service: srv.Service(), Domain: srv.Domain})
	require.NoError(t, c.Connect(context.Background()))
	require.Equal(t, 1, srv.Count("auth ANONYMOUS"))
	require.Equal(t, "anon@example.net/generated", c.JID().String())
}

func TestConnectReturnsCause(t *testing.T) {
	srv := &xmpptest.Server{}
	srv.Start(t)

	c := newClient(t, client.Options{
		Service:  srv.Service(),
		Domain:   srv.Domain,
		Username: "juliet",
		Password: "wrong",
	})
	err := c.Connect(context.Background())
	var failed *auth.FailedError
	require.True(t, errors.As(err, &failed), "unexpected error %v", err)
	require.Equal(t, auth.NotAuthorized, failed.Condition)
	var negErr *streamfeatures.NegotiationError
	require.True(t, errors.As(err, &negErr))
	require.Equal(t, entity.Offline, c.Entity.Status())
}

func TestIQRejectedOnDisconnect(t *testing.T) {
	srv := &xmpptest.Server{
		Mechanisms: []string{"ANONYMOUS"},
		OnElement: func(c *xmpptest.Conn, el *stanza.Element) bool {
			if el.Child(pingName) == nil {
				return false
			}
			c.Drop()
			return true
		},
	}
	srv.Start(t)

	c := newClient(t, client.Options{Service: srv.Service(), Domain: srv.Domain})
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.IQCaller.Get(context.Background(), jid.JID{}, xmlstream.Wrap(nil, xml.StartElement{Name: pingName}))
	require.True(t, errors.Is(err, iq.ErrDisconnected), "unexpected error %v", err)
	require.Equal(t, 0, c.IQCaller.Pending())
}

func TestFreshResolutionPerAttempt(t *testing.T) {
	srv := &xmpptest.Server{Mechanisms: []string{"ANONYMOUS"}}
	srv.Start(t)
	ep := srv.Endpoint()

	var lookups int32
	c := newClient(t, client.Options{
		Domain:     srv.Domain,
		Transports: []transport.Kind{transport.TCP},
		Backoff:    &reconnect.Backoff{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond},
		Resolver: &resolve.Resolver{
			LookupSRV: func(_ context.Context, service, proto, name string) (string, []*net.SRV, error) {
				if service != "xmpp-client" || name != "example.net" {
					return "", nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
				}
				atomic.AddInt32(&lookups, 1)
				return "", []*net.SRV{{Target: ep.Host, Port: ep.Port}}, nil
			},
		},
	})
	sub := c.Subscribe()
	defer sub.Close()

	require.NoError(t, c.Start(context.Background()))
	require.True(t, c.Reconnect.Running())
	require.Equal(t, int32(1), atomic.LoadInt32(&lookups))

	srv.DropAll()
	waitFor(t, sub, func(ev event.Event) bool {
		return ev.Kind == event.Online && ev.Gen == 2
	})
	require.Equal(t, int32(2), atomic.LoadInt32(&lookups))
	require.Equal(t, 2, srv.Count("auth ANONYMOUS"))
}

func TestStop(t *testing.T) {
	srv := &xmpptest.Server{Mechanisms: []string{"ANONYMOUS"}}
	srv.Start(t)

	c := newClient(t, client.Options{Service: srv.Service(), Domain: srv.Domain})
	sub := c.Subscribe()
	defer sub.Close()

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop(context.Background()))
	ev := waitFor(t, sub, func(ev event.Event) bool { return ev.Kind == event.Offline })
	require.NoError(t, ev.Err)
	require.False(t, c.Reconnect.Running())
	require.Equal(t, entity.Offline, c.Entity.Status())
	require.Equal(t, 1, srv.Count("footer"))

	require.NoError(t, c.Stop(context.Background()))
}

func TestStartFailureStopsReconnection(t *testing.T) {
	srv := &xmpptest.Server{}
	srv.Start(t)

	c := newClient(t, client.Options{
		Service:  srv.Service(),
		Domain:   srv.Domain,
		Username: "juliet",
		Password: "wrong",
	})
	require.Error(t, c.Start(context.Background()))
	require.False(t, c.Reconnect.Running())
}
