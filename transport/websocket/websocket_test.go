// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package websocket_test

import (
	"bufio"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"mellium.im/client/stream"
	"mellium.im/client/transport"
	"mellium.im/client/transport/websocket"
)

func newServer(t *testing.T, protocols []string, h func(*gws.Conn)) string {
	t.Helper()
	up := gws.Upgrader{Subprotocols: protocols}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		h(c)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestFraming(t *testing.T) {
	msgs := make(chan string, 4)
	u := newServer(t, []string{websocket.Subprotocol}, func(c *gws.Conn) {
		for {
			_, p, err := c.ReadMessage()
			if err != nil {
				close(msgs)
				return
			}
			msgs <- string(p)
			if strings.HasPrefix(string(p), "<open") {
				_ = c.WriteMessage(gws.TextMessage, []byte(`<open xmlns='urn:ietf:params:xml:ns:xmpp-framing' from='example.net' id='1' version='1.0'/>`))
				_ = c.WriteMessage(gws.TextMessage, []byte(`<features xmlns='http://etherx.jabber.org/streams'/>`))
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := (&websocket.Transport{}).Dial(ctx, transport.Endpoint{Kind: transport.WebSocket, URL: u})
	require.NoError(t, err)
	require.False(t, c.Secure())

	require.NoError(t, c.WriteHeader("example.net", ""))
	require.Equal(t, stream.Open("example.net", ""), <-msgs)

	d := xml.NewDecoder(bufio.NewReader(c))
	var names []string
	for len(names) < 2 {
		tok, err := d.Token()
		require.NoError(t, err)
		if start, ok := tok.(xml.StartElement); ok {
			names = append(names, start.Name.Local)
		}
	}
	require.Equal(t, []string{"open", "features"}, names)

	require.NoError(t, c.WriteFooter())
	require.Equal(t, stream.Close(), <-msgs)
	require.NoError(t, c.Close())
}

func TestServerClose(t *testing.T) {
	u := newServer(t, []string{websocket.Subprotocol}, func(c *gws.Conn) {
		_ = c.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, ""))
	})
	c, err := (&websocket.Transport{}).Dial(context.Background(), transport.Endpoint{Kind: transport.WebSocket, URL: u})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Read(make([]byte, 10))
	require.Equal(t, io.EOF, err)
}

func TestNoSubprotocol(t *testing.T) {
	u := newServer(t, nil, func(c *gws.Conn) {
		_, _, _ = c.ReadMessage()
	})
	_, err := (&websocket.Transport{}).Dial(context.Background(), transport.Endpoint{Kind: transport.WebSocket, URL: u})
	require.Equal(t, websocket.ErrSubprotocol, err)
}

func TestBadScheme(t *testing.T) {
	_, err := (&websocket.Transport{}).Dial(context.Background(), transport.Endpoint{Kind: transport.WebSocket, URL: "https://example.net/ws"})
	require.Error(t, err)
}
