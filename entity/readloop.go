// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package entity

import (
	"context"
	"encoding/xml"
	"io"

	"github.com/go-kit/log/level"

	"mellium.im/client/event"
	"mellium.im/client/stanza"
	"mellium.im/client/stream"
)

func (e *Entity) readLoop(ctx context.Context, c *connection) {
	var cause error
	defer func() {
		e.readLoopDone(c, cause)
	}()

	var d *xml.Decoder
	var header bool
	for {
		e.mu.Lock()
		if d == nil || c.reset {
			c.reset = false
			d = xml.NewDecoder(c.br)
			header = false
		}
		e.mu.Unlock()

		tok, err := d.Token()
		if err != nil {
			if err == io.EOF {
				err = ErrStreamClosed
			}
			cause = err
			return
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if !header {
				info, err := stream.FromStartElement(t)
				if err != nil {
					cause = err
					return
				}
				header = true
				e.mu.Lock()
				c.info = info
				e.mu.Unlock()
				e.setStatus(Open, c.gen)
				continue
			}

			switch t.Name {
			case stream.CloseName:
				cause = ErrStreamClosed
				return
			case stream.ErrorName:
				cause = readStreamError(d, t)
				return
			}

			el, err := stanza.Read(d, t)
			if err != nil {
				cause = err
				return
			}
			e.handle(ctx, c, el)
		case xml.EndElement:
			if t.Name == stream.Name {
				cause = ErrStreamClosed
				return
			}
		}
	}
}

func readStreamError(d *xml.Decoder, start xml.StartElement) error {
	el, err := stanza.Read(d, start)
	if err != nil {
		return err
	}
	se := stream.Error{}
	if err := el.Decode(&se); err != nil {
		return stream.UndefinedCondition
	}
	return se
}

func (e *Entity) handle(ctx context.Context, c *connection, el *stanza.Element) {
	if e.dispatcher != nil {
		consumed, err := e.dispatcher.Dispatch(ctx, el)
		if err != nil {
			level.Warn(e.logger).Log("msg", "failed to process incoming element", "element", el.Name().Local, "err", err)
			e.bus.Publish(event.Event{Kind: event.Error, Gen: c.gen, Stanza: el, Err: err})
		}
		if consumed {
			return
		}
	}
	e.bus.Publish(event.Event{Kind: event.Stanza, Gen: c.gen, Stanza: el})
}

func (e *Entity) readLoopDone(c *connection, readErr error) {
	c.cancel()
	/* #nosec */
	c.conn.Close()

	e.mu.Lock()
	cause := c.cause
	if cause == nil && !c.closing {
		cause = readErr
	}
	if e.c == c {
		e.c = nil
	}
	e.mu.Unlock()
	close(c.done)

	e.setStatus(Offline, c.gen)
	reportDisconnect(cause)
	if cause != nil {
		level.Info(e.logger).Log("msg", "disconnected", "gen", c.gen, "err", cause)
		e.bus.Publish(event.Event{Kind: event.Error, Gen: c.gen, Err: cause})
	} else {
		level.Info(e.logger).Log("msg", "disconnected", "gen", c.gen)
	}
	e.bus.Publish(event.Event{Kind: event.Offline, Gen: c.gen, Err: cause})
}
