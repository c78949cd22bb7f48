// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client // import "mellium.im/client"

import (
	"context"
	"encoding/xml"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/text/language"
	"mellium.im/sasl"
	"mellium.im/xmpp/jid"

	"mellium.im/client/auth"
	"mellium.im/client/bind"
	"mellium.im/client/entity"
	"mellium.im/client/event"
	"mellium.im/client/internal/logger"
	"mellium.im/client/iq"
	"mellium.im/client/middleware"
	"mellium.im/client/reconnect"
	"mellium.im/client/resolve"
	"mellium.im/client/session"
	"mellium.im/client/starttls"
	"mellium.im/client/streamfeatures"
	"mellium.im/client/transport"
	"mellium.im/client/transport/tcp"
	"mellium.im/client/transport/websocket"
)

// ErrNoDomain is returned by New if neither a domain nor a service is
// configured.
var ErrNoDomain = errors.New("client: no domain or service configured")

// Client is a fully assembled XMPP client.
// Every component is exposed so that it can be inspected or extended, for
// instance by registering IQ handlers on IQCallee or additional stream
// features on StreamFeatures before the client is started.
type Client struct {
	Entity    *entity.Entity
	Reconnect *reconnect.Reconnector

	TCP       *tcp.Transport
	TLS       *tcp.Transport
	WebSocket *websocket.Transport

	Middleware     *middleware.Dispatcher
	StreamFeatures *streamfeatures.Negotiator
	IQCaller       *iq.Caller
	IQCallee       *iq.Callee
	Resolve        *resolve.Resolver

	StartTLS             streamfeatures.Feature
	SASL                 streamfeatures.Feature
	ResourceBinding      streamfeatures.Feature
	SessionEstablishment streamfeatures.Feature

	// Mechanisms are the SASL mechanisms in order of preference.
	Mechanisms []sasl.Mechanism

	service string
	domain  string
	kinds   []transport.Kind
	logger  log.Logger
}

// New assembles a client from opts.
// Nothing is dialed until Connect or Start is called.
func New(opts Options) (*Client, error) {
	domain := opts.domain()
	if domain == "" {
		return nil, ErrNoDomain
	}
	if opts.Service != "" {
		if _, err := resolve.ParseService(opts.Service); err != nil {
			return nil, err
		}
	}
	l := logger.OrNop(opts.Logger)
	with := func(component string) log.Logger {
		return log.With(l, "component", component)
	}

	c := &Client{
		TCP:        &tcp.Transport{},
		TLS:        &tcp.Transport{DirectTLS: true, TLSConfig: opts.TLSConfig},
		WebSocket:  &websocket.Transport{TLSConfig: opts.TLSConfig},
		Middleware: middleware.New(with("middleware")),
		Resolve:    opts.Resolver,
		Mechanisms: opts.Mechanisms,
		service:    opts.Service,
		domain:     domain,
		kinds:      opts.Transports,
		logger:     l,
	}
	if c.Resolve == nil {
		c.Resolve = &resolve.Resolver{Logger: with("resolve")}
	}
	if len(c.Mechanisms) == 0 {
		c.Mechanisms = auth.DefaultMechanisms()
	}

	c.Entity = entity.New(entity.Config{
		Domain:     domain,
		Lang:       opts.Lang,
		Transports: []transport.Transport{c.TCP, c.TLS, c.WebSocket},
		Allowed:    opts.Transports,
		Dispatcher: c.Middleware,
		Logger:     with("entity"),
	})
	c.StreamFeatures = streamfeatures.New(streamfeatures.Config{
		Entity:               c.Entity,
		Middleware:           c.Middleware,
		SkipOptionalFailures: opts.SkipOptionalFailures,
		Logger:               with("streamfeatures"),
	})
	c.IQCaller = iq.NewCaller(iq.CallerConfig{
		Entity:     c.Entity,
		Middleware: c.Middleware,
		Timeout:    opts.IQTimeout,
		Logger:     with("iq"),
	})
	c.IQCallee = iq.NewCallee(iq.CalleeConfig{
		Entity:     c.Entity,
		Middleware: c.Middleware,
		Logger:     with("iq"),
	})
	c.Reconnect = reconnect.New(reconnect.Config{
		Bus:     c.Entity.Bus(),
		Connect: c.Connect,
		Backoff: opts.Backoff,
		Logger:  with("reconnect"),
	})

	authenticate := opts.Authenticate
	if authenticate == nil {
		authenticate = auth.DefaultPolicy(opts.credentials())
	}
	c.StartTLS = starttls.Feature(opts.TLSConfig)
	c.SASL = auth.Feature(auth.Config{
		Mechanisms:   c.Mechanisms,
		Authenticate: authenticate,
		Lang:         language.Make(opts.Lang),
		Logger:       with("auth"),
	})
	c.ResourceBinding = bind.Feature(c.IQCaller, opts.Resource)
	c.SessionEstablishment = session.Feature(c.IQCaller)
	for _, f := range []streamfeatures.Feature{c.StartTLS, c.SASL, c.ResourceBinding, c.SessionEstablishment} {
		c.StreamFeatures.Use(f)
	}
	return c, nil
}

// Domain returns the service domain.
func (c *Client) Domain() string {
	return c.domain
}

// JID returns the address of the client.
func (c *Client) JID() jid.JID {
	return c.Entity.JID()
}

// Subscribe returns a subscription to the lifecycle events of the client.
func (c *Client) Subscribe() *event.Subscription {
	return c.Entity.Subscribe()
}

// Send writes a single element to the server.
func (c *Client) Send(ctx context.Context, r xml.TokenReader) error {
	return c.Entity.Send(ctx, r)
}

// Endpoints returns the candidates for a connection attempt.
// A configured service is used as is. Otherwise the domain is resolved anew,
// and if resolution fails a plain TCP connection to the domain on the default
// port is returned.
func (c *Client) Endpoints(ctx context.Context) ([]transport.Endpoint, error) {
	if c.service != "" {
		ep, err := resolve.ParseService(c.service)
		if err != nil {
			return nil, err
		}
		ep.Domain = c.domain
		return []transport.Endpoint{ep}, nil
	}
	eps, err := c.Resolve.Resolve(ctx, c.domain, c.kinds...)
	if err != nil {
		level.Warn(c.logger).Log("msg", "resolution failed, connecting directly", "domain", c.domain, "err", err)
		return []transport.Endpoint{resolve.Direct(c.domain)}, nil
	}
	return eps, nil
}

// Connect makes a single connection attempt and blocks until the client is
// online or the attempt failed.
// If the connection went offline before negotiation finished the cause is
// returned, or entity.ErrStreamClosed if the server closed the stream
// cleanly.
func (c *Client) Connect(ctx context.Context) error {
	eps, err := c.Endpoints(ctx)
	if err != nil {
		return err
	}

	sub := c.Entity.Subscribe()
	defer sub.Close()
	if err := c.Entity.Connect(ctx, eps); err != nil {
		return err
	}
	gen := c.Entity.Generation()

	for {
		select {
		case ev := <-sub.C():
			if ev.Gen != gen {
				continue
			}
			switch ev.Kind {
			case event.Online:
				return nil
			case event.Offline:
				if ev.Err != nil {
					return ev.Err
				}
				return entity.ErrStreamClosed
			}
		case <-ctx.Done():
			c.Entity.AbortGen(gen, ctx.Err())
			return ctx.Err()
		}
	}
}

// Start connects and keeps the client connected until Stop is called.
// If the first attempt fails its error is returned and no reconnection is
// scheduled.
func (c *Client) Start(ctx context.Context) error {
	c.Reconnect.Start()
	if err := c.Connect(ctx); err != nil {
		c.Reconnect.Stop()
		return err
	}
	return nil
}

// Stop cancels reconnection and closes the stream.
// Calling Stop on a client that is not connected is not an error.
func (c *Client) Stop(ctx context.Context) error {
	c.Reconnect.Stop()
	return c.Entity.Close(ctx)
}
