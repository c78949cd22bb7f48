// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package streamfeatures negotiates the features a server announces in
// <stream:features/>.
//
// Features are registered with a priority. Each time the server announces
// its features the negotiator picks the applicable feature with the lowest
// priority that has not yet been negotiated on the current connection and
// runs it. Features that require a stream restart (STARTTLS, SASL) cause the
// negotiator to wait for the next announcement; otherwise the same
// announcement is evaluated again. When no applicable feature is left the
// entity is marked online.
package streamfeatures // import "mellium.im/client/streamfeatures"

import (
	"context"
	"encoding/xml"
	"fmt"
	"sort"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"mellium.im/client/entity"
	"mellium.im/client/internal/logger"
	"mellium.im/client/internal/ns"
	"mellium.im/client/middleware"
	"mellium.im/client/stanza"
)

// InterceptPriority is the middleware priority of the handlers that route
// elements to the feature being negotiated.
const InterceptPriority = -1 << 20

// FeaturesName is the name of the stream features element.
var FeaturesName = xml.Name{Space: ns.Stream, Local: "features"}

// State is the state of the negotiator.
type State string

// A list of negotiator states.
const (
	Idle             State = "idle"
	AwaitingFeatures State = "awaiting-features"
	Negotiating      State = "negotiating"
	Restarting       State = "restarting-stream"
	Online           State = "online"
)

// A Feature is a stream feature that the client knows how to negotiate.
type Feature struct {
	// Name is the name of the child of <stream:features/> that announces the
	// feature.
	Name xml.Name

	// Priority orders features announced together. Lower values are
	// negotiated first and ties are broken by registration order.
	Priority int

	// Optional features that fail do not abort the connection if the
	// negotiator is configured to skip optional failures.
	Optional bool

	// Applies, if set, reports whether the announced feature should be
	// negotiated at all on the current connection of e.
	Applies func(e *entity.Entity, announced *stanza.Element) bool

	// Intercept lists additional namespaces whose top level elements are
	// routed to the feature while it is being negotiated. Elements in the
	// namespace of Name are always routed.
	Intercept []string

	// Negotiate performs the negotiation. The announced element is the child
	// of <stream:features/> that matched Name.
	// If restart is true the stream is restarted before the next element is
	// read.
	Negotiate func(ctx context.Context, n *Negotiation, announced *stanza.Element) (restart bool, err error)
}

func (f Feature) namespaces() []string {
	return append([]string{f.Name.Space}, f.Intercept...)
}

// NegotiationError is the cause reported when a feature fails.
type NegotiationError struct {
	Feature xml.Name
	Err     error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("streamfeatures: negotiating %s: %v", e.Feature.Local, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// Config configures a Negotiator.
type Config struct {
	Entity     *entity.Entity
	Middleware *middleware.Dispatcher

	// SkipOptionalFailures continues negotiation when an optional feature
	// fails instead of aborting the connection.
	SkipOptionalFailures bool

	Logger log.Logger
}

type session struct {
	gen        uint64
	announce   chan *stanza.Element
	negotiated map[xml.Name]bool
	state      State
}

// Negotiator runs stream feature negotiation for an entity.
type Negotiator struct {
	entity       *entity.Entity
	mw           *middleware.Dispatcher
	skipOptional bool
	logger       log.Logger

	mu          sync.Mutex
	features    []Feature
	intercepted map[string]bool
	started     bool
	sess        *session
	active      *Negotiation
}

// New creates a negotiator and registers its handlers with the middleware.
func New(cfg Config) *Negotiator {
	n := &Negotiator{
		entity:       cfg.Entity,
		mw:           cfg.Middleware,
		skipOptional: cfg.SkipOptionalFailures,
		logger:       logger.OrNop(cfg.Logger),
		intercepted:  make(map[string]bool),
	}
	n.mw.UseFunc(FeaturesName, 0, n.handleFeatures)
	return n
}

// Use registers a feature.
// It panics if negotiation has already started or if a feature with the same
// name is registered.
func (n *Negotiator) Use(f Feature) {
	if f.Negotiate == nil {
		panic("streamfeatures: feature without Negotiate function")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		panic("streamfeatures: feature registered after negotiation started")
	}
	for _, other := range n.features {
		if other.Name == f.Name {
			panic(fmt.Sprintf("streamfeatures: feature %s registered twice", f.Name.Local))
		}
	}
	n.features = append(n.features, f)
	sort.SliceStable(n.features, func(i, j int) bool {
		return n.features[i].Priority < n.features[j].Priority
	})
	for _, space := range f.namespaces() {
		if n.intercepted[space] {
			continue
		}
		n.intercepted[space] = true
		n.mw.UseFunc(xml.Name{Space: space}, InterceptPriority, n.intercept)
	}
}

// Features returns the registered features in negotiation order.
func (n *Negotiator) Features() []Feature {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Feature, len(n.features))
	copy(out, n.features)
	return out
}

// State returns the negotiation state of the current connection.
func (n *Negotiator) State() State {
	gen := n.entity.Generation()
	status := n.entity.Status()
	n.mu.Lock()
	defer n.mu.Unlock()
	if status == entity.Offline || status == entity.Disconnecting {
		return Idle
	}
	if n.sess == nil || n.sess.gen != gen {
		if status == entity.Connecting {
			return Idle
		}
		return AwaitingFeatures
	}
	return n.sess.state
}

func (n *Negotiator) setState(s *session, st State) {
	n.mu.Lock()
	s.state = st
	n.mu.Unlock()
	level.Debug(n.logger).Log("msg", "negotiation state changed", "state", st, "gen", s.gen)
}

func (n *Negotiator) handleFeatures(ctx context.Context, el *stanza.Element) (bool, error) {
	gen, ok := entity.GenerationFromContext(ctx)
	if !ok {
		gen = n.entity.Generation()
	}

	n.mu.Lock()
	n.started = true
	s := n.sess
	if s == nil || s.gen != gen {
		s = &session{
			gen:        gen,
			announce:   make(chan *stanza.Element, 1),
			negotiated: make(map[xml.Name]bool),
			state:      AwaitingFeatures,
		}
		n.sess = s
		go n.run(ctx, s)
	}
	st := s.state
	n.mu.Unlock()

	if st == Online {
		level.Debug(n.logger).Log("msg", "ignoring features after negotiation finished", "gen", gen)
		return true, nil
	}
	select {
	case s.announce <- el:
	case <-ctx.Done():
		return true, ctx.Err()
	}
	return true, nil
}

func (n *Negotiator) run(ctx context.Context, s *session) {
	for {
		var announced *stanza.Element
		select {
		case announced = <-s.announce:
		case <-ctx.Done():
			return
		}

		restart, err := n.negotiateAnnounced(ctx, s, announced)
		if err != nil {
			if ctx.Err() == nil {
				level.Warn(n.logger).Log("msg", "stream negotiation failed", "gen", s.gen, "err", err)
				n.entity.AbortGen(s.gen, err)
			}
			return
		}
		if restart {
			continue
		}

		n.setState(s, Online)
		n.entity.MarkOnline(s.gen)
		return
	}
}

// negotiateAnnounced negotiates features from one announcement until one of
// them requires a restart or none is left.
func (n *Negotiator) negotiateAnnounced(ctx context.Context, s *session, announced *stanza.Element) (restart bool, err error) {
	for {
		f, child := n.next(s, announced)
		if child == nil {
			return false, nil
		}
		s.negotiated[f.Name] = true
		n.setState(s, Negotiating)
		level.Debug(n.logger).Log("msg", "negotiating feature", "feature", f.Name.Local, "gen", s.gen)

		restart, err := n.negotiate(ctx, s, f, child)
		if err != nil {
			reportNegotiation(f.Name, "failure")
			if f.Optional && n.skipOptional && ctx.Err() == nil {
				level.Info(n.logger).Log("msg", "skipping failed optional feature", "feature", f.Name.Local, "err", err)
				continue
			}
			return false, &NegotiationError{Feature: f.Name, Err: err}
		}
		reportNegotiation(f.Name, "success")
		if restart {
			return true, nil
		}
	}
}

func (n *Negotiator) negotiate(ctx context.Context, s *session, f Feature, announced *stanza.Element) (restart bool, err error) {
	neg := newNegotiation(ctx, n.entity, s.gen, f)
	n.mu.Lock()
	n.active = neg
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		n.active = nil
		n.mu.Unlock()
		neg.finish()
	}()

	restart, err = f.Negotiate(ctx, neg, announced)
	if err != nil || !restart {
		return restart, err
	}
	n.setState(s, Restarting)
	if err := n.entity.Restart(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// next returns the applicable feature with the lowest priority that has not
// been negotiated yet, and the child of announced that announced it.
func (n *Negotiator) next(s *session, announced *stanza.Element) (Feature, *stanza.Element) {
	for _, f := range n.Features() {
		if s.negotiated[f.Name] {
			continue
		}
		child := announced.Child(f.Name)
		if child == nil {
			continue
		}
		if f.Applies != nil && !f.Applies(n.entity, child) {
			continue
		}
		return f, child
	}
	return Feature{}, nil
}

func (n *Negotiator) intercept(ctx context.Context, el *stanza.Element) (bool, error) {
	n.mu.Lock()
	neg := n.active
	n.mu.Unlock()
	if neg == nil || !neg.wants(el.Name().Space) {
		return false, nil
	}
	return neg.deliver(ctx, el)
}
