// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package reconnect re-establishes lost connections.
//
// A Reconnector watches the lifecycle events of an entity. When a connection
// goes offline it waits for a backoff delay and connects again, repeating
// with growing delays until a connection comes online. Every attempt calls
// the connect function anew, so endpoints are resolved again each time.
package reconnect // import "mellium.im/client/reconnect"

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"mellium.im/client/event"
	"mellium.im/client/internal/logger"
)

// State is the state of a Reconnector.
type State string

// A list of reconnector states.
const (
	Disconnected State = "disconnected"
	Waiting      State = "backoff-wait"
	Connecting   State = "connecting"
	Connected    State = "connected"
)

// Config configures a Reconnector.
type Config struct {
	// Bus is the event bus of the entity to supervise.
	Bus *event.Bus

	// Connect establishes a new connection. It is called from a single
	// goroutine.
	Connect func(ctx context.Context) error

	// Backoff computes the delays. Defaults to DefaultBackoff.
	Backoff *Backoff

	Logger log.Logger
}

// Reconnector restarts connections that went offline.
type Reconnector struct {
	bus     *event.Bus
	connect func(ctx context.Context) error
	backoff *Backoff
	logger  log.Logger

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	retries int
}

// New returns a stopped reconnector.
func New(cfg Config) *Reconnector {
	r := &Reconnector{
		bus:     cfg.Bus,
		connect: cfg.Connect,
		backoff: cfg.Backoff,
		logger:  logger.OrNop(cfg.Logger),
		state:   Disconnected,
	}
	if r.backoff == nil {
		r.backoff = DefaultBackoff()
	}
	return r
}

// Start begins supervision. It has no effect if the reconnector is running.
func (r *Reconnector) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	sub := r.bus.Subscribe()
	go r.run(ctx, sub, r.done)
}

// Stop ends supervision and cancels any pending attempt.
// No reconnection happens until Start is called again.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.setState(Disconnected)
}

// Running reports whether the reconnector supervises the entity.
func (r *Reconnector) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// State returns the current state.
func (r *Reconnector) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Retries returns the number of reconnection attempts made so far.
func (r *Reconnector) Retries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retries
}

func (r *Reconnector) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Reconnector) run(ctx context.Context, sub *event.Subscription, done chan struct{}) {
	defer close(done)
	defer sub.Close()

	var timer *time.Timer
	var wait <-chan time.Time
	schedule := func() {
		d := r.backoff.Next()
		level.Info(r.logger).Log("msg", "reconnecting", "in", d, "attempt", r.backoff.Attempts())
		r.setState(Waiting)
		timer = time.NewTimer(d)
		wait = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			switch ev.Kind {
			case event.Online:
				r.backoff.Reset()
				r.setState(Connected)
			case event.Offline:
				if wait == nil {
					level.Debug(r.logger).Log("msg", "connection lost", "gen", ev.Gen, "err", ev.Err)
					schedule()
				}
			}
		case <-wait:
			wait = nil
			r.setState(Connecting)
			r.mu.Lock()
			r.retries++
			r.mu.Unlock()
			reportRetry()
			if err := r.connect(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				level.Warn(r.logger).Log("msg", "reconnection failed", "err", err)
				schedule()
				continue
			}
			r.setState(Connected)
		case <-ctx.Done():
			return
		}
	}
}
