// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmpptest provides a scripted XMPP server for tests.
package xmpptest // import "mellium.im/client/internal/xmpptest"

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"mellium.im/client/internal/ns"
	"mellium.im/client/stanza"
	"mellium.im/client/transport"
)

// Server is a loopback XMPP server that follows a fixed script: it offers
// STARTTLS (optionally), then SASL, then resource binding and session
// establishment, and answers each step.
// Every step it observes is recorded and can be inspected with Log.
type Server struct {
	// Domain is the service domain. Defaults to "example.net".
	Domain string

	// StartTLS offers a required STARTTLS feature before authentication.
	StartTLS bool

	// DirectTLS performs the TLS handshake as soon as a client connects.
	DirectTLS bool

	// Mechanisms is the list of advertised SASL mechanisms.
	// Defaults to PLAIN.
	Mechanisms []string

	// Users maps usernames to passwords accepted by PLAIN.
	Users map[string]string

	// SessionOptional marks the session feature as optional.
	SessionOptional bool

	// NoSession does not offer session establishment at all.
	NoSession bool

	// Features, if set, returns the raw children of <stream:features/> for
	// every stream header instead of the scripted ones.
	Features func(c *Conn) string

	// OnElement is called for every element received after the stream header.
	// If it returns true the built in script does not process the element.
	OnElement func(c *Conn, el *stanza.Element) bool

	ln     net.Listener
	tlsCfg *tls.Config
	cert   *x509.Certificate

	mu    sync.Mutex
	log   []string
	conns map[*Conn]struct{}
	wg    sync.WaitGroup
}

// Start listens on a random loopback port and serves until the test ends.
func (s *Server) Start(t testing.TB) {
	t.Helper()
	if s.Domain == "" {
		s.Domain = "example.net"
	}
	if len(s.Mechanisms) == 0 {
		s.Mechanisms = []string{"PLAIN"}
	}

	hs := httptest.NewUnstartedServer(http.NotFoundHandler())
	hs.StartTLS()
	s.tlsCfg = hs.TLS.Clone()
	s.cert = hs.Certificate()
	hs.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("xmpptest: listen: %v", err)
	}
	s.ln = ln
	s.conns = make(map[*Conn]struct{})
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
}

// Close stops the server and drops every connection.
func (s *Server) Close() {
	/* #nosec */
	s.ln.Close()
	s.DropAll()
	s.wg.Wait()
}

// Endpoint returns a TCP endpoint for the server, or a TLS endpoint if
// DirectTLS is set.
func (s *Server) Endpoint() transport.Endpoint {
	addr := s.ln.Addr().(*net.TCPAddr)
	kind := transport.TCP
	if s.DirectTLS {
		kind = transport.TLS
	}
	return transport.Endpoint{
		Kind:   kind,
		Host:   addr.IP.String(),
		Port:   uint16(addr.Port),
		Domain: s.Domain,
	}
}

// Service returns the endpoint as an xmpp:// or xmpps:// URI.
func (s *Server) Service() string {
	scheme := "xmpp://"
	if s.DirectTLS {
		scheme = "xmpps://"
	}
	return scheme + net.JoinHostPort(s.Endpoint().Host, strconv.Itoa(int(s.Endpoint().Port)))
}

// ClientTLSConfig returns a config that trusts the server certificate.
func (s *Server) ClientTLSConfig() *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(s.cert)
	return &tls.Config{RootCAs: pool, ServerName: "example.com"}
}

// Log returns the steps recorded so far, for instance "header", "starttls",
// "auth PLAIN", "bind", "session", "iq get" or "footer".
func (s *Server) Log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.log))
	copy(out, s.log)
	return out
}

// Count returns how many times step was recorded.
func (s *Server) Count(step string) int {
	n := 0
	for _, l := range s.Log() {
		if l == step {
			n++
		}
	}
	return n
}

func (s *Server) record(step string) {
	s.mu.Lock()
	s.log = append(s.log, step)
	s.mu.Unlock()
}

// DropAll closes every connection without ending the stream.
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Drop()
	}
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}
		c := &Conn{srv: s, nc: nc}
		if s.DirectTLS {
			cfg := s.tlsCfg.Clone()
			cfg.NextProtos = nil
			c.nc = tls.Server(nc, cfg)
			c.secure = true
		}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.run()
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}()
	}
}

// Conn is the server side of one client connection.
type Conn struct {
	srv *Server
	nc  net.Conn

	wmu sync.Mutex

	secure   bool
	authed   bool
	username string
	bound    bool
}

// Send writes raw XML to the client.
func (c *Conn) Send(s string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := io.WriteString(c.nc, s)
	return err
}

// Drop closes the connection without ending the stream.
func (c *Conn) Drop() {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	/* #nosec */
	c.nc.Close()
}

// Reply answers the IQ el with the given type and raw payload.
func (c *Conn) Reply(el *stanza.Element, typ, payload string) error {
	return c.Send(fmt.Sprintf(`<iq xmlns='jabber:client' type='%s' id='%s'>%s</iq>`, typ, el.ID(), payload))
}

func (c *Conn) run() {
	defer c.Drop()
	d := xml.NewDecoder(bufio.NewReader(c.nc))
	for {
		tok, err := d.Token()
		if err != nil {
			return
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space == ns.Stream && t.Name.Local == "stream" {
				c.srv.record("header")
				if err := c.Send(c.header()); err != nil {
					return
				}
				continue
			}
			el, err := stanza.Read(d, t)
			if err != nil {
				return
			}
			if h := c.srv.OnElement; h != nil && h(c, el) {
				continue
			}
			restart, upgrade, ok := c.handle(el)
			if !ok {
				return
			}
			if upgrade {
				tc := tls.Server(c.nc, c.srv.tlsCfg)
				if err := tc.Handshake(); err != nil {
					return
				}
				c.wmu.Lock()
				c.nc = tc
				c.wmu.Unlock()
				c.secure = true
			}
			if restart {
				d = xml.NewDecoder(bufio.NewReader(c.nc))
			}
		case xml.EndElement:
			if t.Name.Space == ns.Stream && t.Name.Local == "stream" {
				c.srv.record("footer")
				/* #nosec */
				c.Send(`</stream:stream>`)
				return
			}
		}
	}
}

func (c *Conn) header() string {
	var features bytes.Buffer
	switch {
	case c.srv.Features != nil:
		features.WriteString(c.srv.Features(c))
	case c.srv.StartTLS && !c.secure:
		features.WriteString(`<starttls xmlns='urn:ietf:params:xml:ns:xmpp-tls'><required/></starttls>`)
	case !c.authed:
		features.WriteString(`<mechanisms xmlns='urn:ietf:params:xml:ns:xmpp-sasl'>`)
		for _, m := range c.srv.Mechanisms {
			fmt.Fprintf(&features, `<mechanism>%s</mechanism>`, m)
		}
		features.WriteString(`</mechanisms>`)
	case !c.bound:
		features.WriteString(`<bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'/>`)
		switch {
		case c.srv.NoSession:
		case c.srv.SessionOptional:
			features.WriteString(`<session xmlns='urn:ietf:params:xml:ns:xmpp-session'><optional/></session>`)
		default:
			features.WriteString(`<session xmlns='urn:ietf:params:xml:ns:xmpp-session'/>`)
		}
	}
	return fmt.Sprintf(
		`<?xml version='1.0'?><stream:stream xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams' id='s%d' from='%s' version='1.0'><stream:features>%s</stream:features>`,
		len(c.srv.Log()), c.srv.Domain, features.String(),
	)
}

func (c *Conn) handle(el *stanza.Element) (restart, upgrade, ok bool) {
	name := el.Name()
	switch {
	case name.Space == ns.StartTLS && name.Local == "starttls":
		c.srv.record("starttls")
		if c.secure {
			/* #nosec */
			c.Send(`<failure xmlns='urn:ietf:params:xml:ns:xmpp-tls'/></stream:stream>`)
			return false, false, false
		}
		if err := c.Send(`<proceed xmlns='urn:ietf:params:xml:ns:xmpp-tls'/>`); err != nil {
			return false, false, false
		}
		return true, true, true

	case name.Space == ns.SASL && name.Local == "auth":
		mech := el.Attr("mechanism")
		c.srv.record("auth " + mech)
		if c.authenticate(mech, el.Text()) {
			c.authed = true
			return true, false, c.Send(`<success xmlns='urn:ietf:params:xml:ns:xmpp-sasl'/>`) == nil
		}
		return false, false, c.Send(`<failure xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><not-authorized/><text>bad credentials</text></failure>`) == nil

	case name.Space == ns.SASL && name.Local == "abort":
		c.srv.record("abort")
		return false, false, c.Send(`<failure xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><aborted/></failure>`) == nil

	case name.Space == ns.Client && name.Local == "iq":
		return false, false, c.handleIQ(el)
	}
	c.srv.record("element " + name.Local)
	return false, false, true
}

func (c *Conn) authenticate(mech, payload string) bool {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil && payload != "=" {
		return false
	}
	switch mech {
	case "ANONYMOUS":
		c.username = "anon"
		return true
	case "PLAIN":
		parts := bytes.Split(raw, []byte{0})
		if len(parts) != 3 {
			return false
		}
		user, pass := string(parts[1]), string(parts[2])
		if want, ok := c.srv.Users[user]; ok && want == pass {
			c.username = user
			return true
		}
	}
	return false
}

func (c *Conn) handleIQ(el *stanza.Element) bool {
	typ := el.Type()
	if bind := el.Child(xml.Name{Space: ns.Bind, Local: "bind"}); bind != nil && typ == "set" {
		c.srv.record("bind")
		resource := "generated"
		if r := bind.Child(xml.Name{Local: "resource"}); r != nil && r.Text() != "" {
			resource = r.Text()
		}
		c.bound = true
		return c.Reply(el, "result", fmt.Sprintf(
			`<bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'><jid>%s@%s/%s</jid></bind>`,
			c.username, c.srv.Domain, resource,
		)) == nil
	}
	if el.Child(xml.Name{Space: ns.Session, Local: "session"}) != nil && typ == "set" {
		c.srv.record("session")
		return c.Reply(el, "result", "") == nil
	}
	c.srv.record("iq " + typ)
	if typ == "get" || typ == "set" {
		return c.Reply(el, "error", `<error type='cancel'><service-unavailable xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'/></error>`) == nil
	}
	return true
}
