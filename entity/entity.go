// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package entity holds the state of a single client connection.
//
// An Entity owns at most one transport connection at a time. It writes the
// stream header, reads the incoming stream into top level elements and hands
// each of them to a dispatcher in the order in which they arrived. Lifecycle
// changes are published on an event.Bus.
package entity // import "mellium.im/client/entity"

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"mellium.im/xmlstream"
	"mellium.im/xmpp/jid"

	"mellium.im/client/event"
	"mellium.im/client/internal/logger"
	"mellium.im/client/stanza"
	"mellium.im/client/stream"
	"mellium.im/client/transport"
)

// Status is the connection status of an entity.
type Status string

// A list of connection statuses.
// Within one connection they progress in the listed order.
const (
	Offline       Status = "offline"
	Connecting    Status = "connecting"
	Open          Status = "open"
	Online        Status = "online"
	Disconnecting Status = "disconnecting"
)

// Errors returned by the entity.
var (
	// ErrNotOpen is returned when sending without an active transport.
	ErrNotOpen = errors.New("entity: no transport is open")

	// ErrAlreadyConnected is returned by Connect if a transport is active.
	ErrAlreadyConnected = errors.New("entity: already connected")

	// ErrStreamClosed is the offline cause when the server ends the stream.
	ErrStreamClosed = errors.New("entity: stream closed by server")
)

// Dispatcher receives the incoming top level elements.
type Dispatcher interface {
	Dispatch(ctx context.Context, el *stanza.Element) (consumed bool, err error)
}

// Config configures an entity.
type Config struct {
	// Domain is the service domain used in the stream header when an
	// endpoint does not carry one.
	Domain string

	// Lang is the default language of the stream.
	Lang string

	// Transports used to dial endpoints, keyed by their kind.
	Transports []transport.Transport

	// Allowed limits the transport kinds that may be used.
	// If empty, every kind in Transports is allowed.
	Allowed []transport.Kind

	// Dispatcher receives incoming elements. If nil every element is
	// published as a stanza event.
	Dispatcher Dispatcher

	// Bus receives lifecycle events. If nil a private bus is created.
	Bus *event.Bus

	Logger log.Logger
}

type connection struct {
	conn   transport.Conn
	gen    uint64
	domain string
	cancel context.CancelFunc
	done   chan struct{}

	// Only touched by the read loop, or by Restart while the read loop is
	// blocked in dispatch.
	br    *bufio.Reader
	reset bool
	info  stream.Info

	cause   error
	closing bool
}

// Entity is a connection state holder.
type Entity struct {
	domain     string
	lang       string
	transports map[transport.Kind]transport.Transport
	allowed    map[transport.Kind]bool
	dispatcher Dispatcher
	bus        *event.Bus
	logger     log.Logger

	mu     sync.Mutex
	status Status
	gen    uint64
	jid    jid.JID
	c      *connection

	wmu sync.Mutex
}

// New creates an offline entity.
func New(cfg Config) *Entity {
	e := &Entity{
		domain:     cfg.Domain,
		lang:       cfg.Lang,
		transports: make(map[transport.Kind]transport.Transport),
		dispatcher: cfg.Dispatcher,
		bus:        cfg.Bus,
		logger:     logger.OrNop(cfg.Logger),
		status:     Offline,
	}
	for _, t := range cfg.Transports {
		e.transports[t.Kind()] = t
	}
	if len(cfg.Allowed) > 0 {
		e.allowed = make(map[transport.Kind]bool)
		for _, k := range cfg.Allowed {
			e.allowed[k] = true
		}
	}
	if e.bus == nil {
		e.bus = &event.Bus{}
	}
	if j, err := jid.Parse(cfg.Domain); err == nil {
		e.jid = j
	}
	return e
}

// Bus returns the bus on which the entity publishes events.
func (e *Entity) Bus() *event.Bus {
	return e.bus
}

// Subscribe is a shortcut for Bus().Subscribe().
func (e *Entity) Subscribe() *event.Subscription {
	return e.bus.Subscribe()
}

// Allowed reports whether transports of kind k may be used.
func (e *Entity) Allowed(k transport.Kind) bool {
	if _, ok := e.transports[k]; !ok {
		return false
	}
	return e.allowed == nil || e.allowed[k]
}

// Kinds returns the kinds of the usable transports.
func (e *Entity) Kinds() []transport.Kind {
	var kinds []transport.Kind
	for _, k := range []transport.Kind{transport.TLS, transport.TCP, transport.WebSocket} {
		if e.Allowed(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Status returns the current connection status.
func (e *Entity) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Generation returns the number of the current (or last) connection.
// It is incremented every time a transport connects.
func (e *Entity) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

// JID returns the address of the entity: the domain before resource binding
// and the full JID afterwards.
func (e *Entity) JID() jid.JID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.jid
}

// SetJID sets the address of the entity.
func (e *Entity) SetJID(j jid.JID) {
	e.mu.Lock()
	e.jid = j
	e.mu.Unlock()
}

// Domain returns the domain of the current connection or the configured
// domain.
func (e *Entity) Domain() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c != nil {
		return e.c.domain
	}
	return e.domain
}

// StreamInfo returns the attributes of the last stream header received from
// the server.
func (e *Entity) StreamInfo() stream.Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c == nil {
		return stream.Info{}
	}
	return e.c.info
}

// Secure reports whether the active transport is encrypted.
func (e *Entity) Secure() bool {
	conn := e.conn()
	return conn != nil && conn.Secure()
}

// CanStartTLS reports whether the active transport is unencrypted and can be
// upgraded in band.
func (e *Entity) CanStartTLS() bool {
	conn := e.conn()
	if conn == nil || conn.Secure() {
		return false
	}
	_, ok := conn.(transport.Upgrader)
	return ok
}

// ConnectionState returns the TLS state of the active transport if it has
// one.
func (e *Entity) ConnectionState() (tls.ConnectionState, bool) {
	tc, ok := e.conn().(transport.TLSConn)
	if !ok || !e.Secure() {
		return tls.ConnectionState{}, false
	}
	return tc.ConnectionState(), true
}

func (e *Entity) conn() transport.Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c == nil {
		return nil
	}
	return e.c.conn
}

func (e *Entity) setStatus(s Status, gen uint64) {
	e.mu.Lock()
	if e.status == s {
		e.mu.Unlock()
		return
	}
	e.status = s
	e.mu.Unlock()
	level.Debug(e.logger).Log("msg", "status changed", "status", s, "gen", gen)
	e.bus.Publish(event.Event{Kind: event.Status, Gen: gen, Status: string(s)})
}

// Connect tries endpoints in order until a transport connects, writes the
// stream header and starts reading the stream.
// Endpoints whose kind is not allowed are skipped. A failure to connect to an
// endpoint is recorded as a *transport.Error and the next endpoint is tried.
// If no endpoint connects the returned error matches
// transport.ErrAllCandidatesExhausted.
func (e *Entity) Connect(ctx context.Context, endpoints []transport.Endpoint) error {
	e.mu.Lock()
	if e.c != nil {
		e.mu.Unlock()
		return ErrAlreadyConnected
	}
	gen := e.gen
	e.mu.Unlock()
	e.setStatus(Connecting, gen)

	var errs []error
	var conn transport.Conn
	var ep transport.Endpoint
	for _, candidate := range endpoints {
		if !e.Allowed(candidate.Kind) {
			continue
		}
		reportConnectAttempt(candidate.Kind)
		c, err := e.transports[candidate.Kind].Dial(ctx, candidate)
		if err != nil {
			reportConnectFailure(candidate.Kind)
			level.Debug(e.logger).Log("msg", "failed to connect", "endpoint", candidate, "err", err)
			errs = append(errs, &transport.Error{Endpoint: candidate, Err: err})
			if ctx.Err() != nil {
				break
			}
			continue
		}
		conn, ep = c, candidate
		break
	}
	if conn == nil {
		e.setStatus(Offline, gen)
		return transport.Exhausted(errs)
	}

	domain := ep.Domain
	if domain == "" {
		domain = e.domain
	}
	connCtx, cancel := context.WithCancel(context.Background())
	c := &connection{
		conn:   conn,
		domain: domain,
		cancel: cancel,
		done:   make(chan struct{}),
		br:     bufio.NewReader(conn),
	}

	e.mu.Lock()
	if e.c != nil {
		e.mu.Unlock()
		cancel()
		/* #nosec */
		conn.Close()
		return ErrAlreadyConnected
	}
	e.gen++
	c.gen = e.gen
	e.c = c
	e.mu.Unlock()

	level.Info(e.logger).Log("msg", "connected", "endpoint", ep, "gen", c.gen)

	e.wmu.Lock()
	err := conn.WriteHeader(domain, e.lang)
	e.wmu.Unlock()
	if err != nil {
		err = &transport.Error{Endpoint: ep, Err: err}
		e.abort(c, err)
		e.readLoopDone(c, nil)
		return err
	}

	go e.readLoop(context.WithValue(connCtx, genKey{}, c.gen), c)
	return nil
}

type genKey struct{}

// GenerationFromContext returns the generation of the connection whose read
// loop is dispatching with ctx.
func GenerationFromContext(ctx context.Context) (uint64, bool) {
	gen, ok := ctx.Value(genKey{}).(uint64)
	return gen, ok
}

// Send writes a single top level element.
// The element is serialized completely before anything is written so that
// concurrent senders never interleave partial stanzas.
func (e *Entity) Send(ctx context.Context, r xml.TokenReader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn := e.conn()
	if conn == nil {
		return ErrNotOpen
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if _, err := xmlstream.Copy(enc, r); err != nil {
		return errors.Wrap(err, "entity: encoding element")
	}
	if err := enc.Flush(); err != nil {
		return errors.Wrap(err, "entity: encoding element")
	}

	e.wmu.Lock()
	defer e.wmu.Unlock()
	_, err := conn.Write(buf.Bytes())
	return err
}

// SendElement is like Send but takes a value that can encode itself.
func (e *Entity) SendElement(ctx context.Context, m xmlstream.Marshaler) error {
	return e.Send(ctx, m.TokenReader())
}

// Restart sends a new stream header and resets the parser.
// It must be called while the element that required the restart is being
// dispatched, so that the parser is reset before more input is read.
func (e *Entity) Restart(ctx context.Context) error {
	e.mu.Lock()
	c := e.c
	if c == nil {
		e.mu.Unlock()
		return ErrNotOpen
	}
	c.reset = true
	c.info = stream.Info{}
	e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	e.wmu.Lock()
	defer e.wmu.Unlock()
	return c.conn.WriteHeader(c.domain, e.lang)
}

// StartTLS upgrades the active transport in band.
// Like Restart it must be called while the read loop is blocked in dispatch.
func (e *Entity) StartTLS(ctx context.Context, cfg *tls.Config) error {
	conn := e.conn()
	if conn == nil {
		return ErrNotOpen
	}
	up, ok := conn.(transport.Upgrader)
	if !ok {
		return errors.New("entity: transport does not support STARTTLS")
	}
	e.wmu.Lock()
	defer e.wmu.Unlock()
	return up.StartTLS(ctx, cfg)
}

// MarkOnline moves the connection of generation gen to the online status and
// publishes an online event.
// It reports false if that connection is no longer active.
func (e *Entity) MarkOnline(gen uint64) bool {
	e.mu.Lock()
	if e.c == nil || e.c.gen != gen || e.c.closing {
		e.mu.Unlock()
		return false
	}
	j := e.jid
	e.mu.Unlock()
	e.setStatus(Online, gen)
	level.Info(e.logger).Log("msg", "online", "jid", j, "gen", gen)
	e.bus.Publish(event.Event{Kind: event.Online, Gen: gen, JID: j})
	return true
}

// Abort closes the active connection immediately.
// Err is reported as the cause in the offline event.
func (e *Entity) Abort(err error) {
	e.mu.Lock()
	c := e.c
	e.mu.Unlock()
	if c != nil {
		e.abort(c, err)
	}
}

// AbortGen is like Abort but only affects the connection of generation gen.
func (e *Entity) AbortGen(gen uint64, err error) {
	e.mu.Lock()
	c := e.c
	e.mu.Unlock()
	if c != nil && c.gen == gen {
		e.abort(c, err)
	}
}

func (e *Entity) abort(c *connection, err error) {
	e.mu.Lock()
	if c.cause == nil {
		c.cause = err
	}
	e.mu.Unlock()
	c.cancel()
	/* #nosec */
	c.conn.Close()
}

// Close ends the stream and closes the transport.
// It waits for the server to end its stream until ctx is done, at which point
// the transport is closed without waiting.
func (e *Entity) Close(ctx context.Context) error {
	e.mu.Lock()
	c := e.c
	if c == nil {
		e.mu.Unlock()
		return nil
	}
	c.closing = true
	e.mu.Unlock()
	e.setStatus(Disconnecting, c.gen)

	e.wmu.Lock()
	err := c.conn.WriteFooter()
	e.wmu.Unlock()
	if err != nil {
		e.abort(c, nil)
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		e.abort(c, nil)
		<-c.done
	}
	return nil
}

// Done returns a channel that is closed when the current connection ends, or
// nil if there is none.
func (e *Entity) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c == nil {
		return nil
	}
	return e.c.done
}
