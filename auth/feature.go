// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package auth

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/text/language"
	"mellium.im/sasl"
	"mellium.im/xmlstream"
	"mellium.im/xmpp/jid"

	"mellium.im/client/internal/logger"
	"mellium.im/client/internal/ns"
	"mellium.im/client/stanza"
	"mellium.im/client/stream"
	"mellium.im/client/streamfeatures"
)

// Name is the name of the SASL feature.
var Name = xml.Name{Space: ns.SASL, Local: "mechanisms"}

// Config configures the SASL feature.
type Config struct {
	// Mechanisms in order of preference. Defaults to DefaultMechanisms.
	Mechanisms []sasl.Mechanism

	// Authenticate selects the mechanism and credentials.
	// Defaults to DefaultPolicy with empty credentials.
	Authenticate AuthenticateFunc

	// Lang is the preferred language of failure texts.
	Lang language.Tag

	Logger log.Logger
}

// Announced returns the mechanism names in a <mechanisms/> feature.
func Announced(announced *stanza.Element) []string {
	var names []string
	for _, child := range announced.Children() {
		if child.Name().Local == "mechanism" {
			names = append(names, strings.TrimSpace(child.Text()))
		}
	}
	return names
}

// Feature returns the SASL stream feature.
func Feature(cfg Config) streamfeatures.Feature {
	mechanisms := cfg.Mechanisms
	if len(mechanisms) == 0 {
		mechanisms = DefaultMechanisms()
	}
	authenticate := cfg.Authenticate
	if authenticate == nil {
		authenticate = DefaultPolicy(Credentials{})
	}
	l := logger.OrNop(cfg.Logger)

	return streamfeatures.Feature{
		Name:     Name,
		Priority: Priority,
		Negotiate: func(ctx context.Context, n *streamfeatures.Negotiation, announced *stanza.Element) (bool, error) {
			remote := Announced(announced)
			local := Names(mechanisms)
			x := &exchange{
				n:          n,
				mechanisms: mechanisms,
				remote:     remote,
				lang:       cfg.Lang,
				logger:     l,
			}
			err := authenticate(ctx, x.authenticate, Mechanisms{
				Available:    local,
				Intersection: Intersection(local, remote),
			})
			if err != nil {
				return false, err
			}
			if !x.done {
				return false, ErrNotAuthenticated
			}
			return true, nil
		},
	}
}

type exchange struct {
	n          *streamfeatures.Negotiation
	mechanisms []sasl.Mechanism
	remote     []string
	lang       language.Tag
	logger     log.Logger
	done       bool
}

func (x *exchange) lookup(name string) (sasl.Mechanism, bool) {
	for _, m := range x.mechanisms {
		if m.Name == name {
			return m, true
		}
	}
	return sasl.Mechanism{}, false
}

func (x *exchange) authenticate(ctx context.Context, name string, creds Credentials) error {
	if x.done {
		return errors.New("auth: already authenticated")
	}
	if name == "" {
		return ErrNoMechanism
	}
	m, ok := x.lookup(name)
	if !ok {
		return errors.Wrapf(ErrNoMechanism, "mechanism %s is not supported by the client", name)
	}
	level.Debug(x.logger).Log("msg", "authenticating", "mechanism", name, "username", creds.Username)

	err := x.run(ctx, m, creds)
	if err != nil {
		reportAuth(name, "failure")
		return err
	}
	reportAuth(name, "success")
	x.done = true
	if creds.Username != "" {
		e := x.n.Entity()
		if j, err := jid.New(creds.Username, e.Domain(), ""); err == nil {
			e.SetJID(j)
		}
	}
	return nil
}

func (x *exchange) run(ctx context.Context, m sasl.Mechanism, creds Credentials) error {
	opts := []sasl.Option{
		sasl.Credentials(func() ([]byte, []byte, []byte) {
			return []byte(creds.Username), []byte(creds.Password), []byte(creds.Identity)
		}),
		sasl.RemoteMechanisms(x.remote...),
	}
	if cs, ok := x.n.ConnectionState(); ok {
		opts = append(opts, sasl.TLSState(cs))
	}
	client := sasl.NewClient(m, opts...)

	more, resp, err := client.Step(nil)
	if err != nil {
		return err
	}
	start := xml.StartElement{
		Name: xml.Name{Space: ns.SASL, Local: "auth"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "mechanism"}, Value: m.Name}},
	}
	if err := x.send(ctx, start, resp); err != nil {
		return err
	}

	for {
		el, err := x.n.Receive(ctx)
		if err != nil {
			return err
		}
		switch el.Name().Local {
		case "challenge":
			challenge, err := decode(el.Text())
			if err != nil {
				return x.abort(ctx, err)
			}
			if !more {
				return x.abort(ctx, sasl.ErrTooManySteps)
			}
			more, resp, err = client.Step(challenge)
			if err != nil {
				return x.abort(ctx, err)
			}
			if err := x.send(ctx, xml.StartElement{Name: xml.Name{Space: ns.SASL, Local: "response"}}, resp); err != nil {
				return err
			}
		case "success":
			data, err := decode(el.Text())
			if err != nil {
				return err
			}
			if more && len(data) > 0 {
				if _, _, err := client.Step(data); err != nil {
					return errors.Wrap(err, "auth: verifying server")
				}
			}
			return nil
		case "failure":
			f := &FailedError{Mechanism: m.Name, Lang: x.lang}
			if err := el.Decode(f); err != nil {
				return err
			}
			return f
		default:
			return stream.UnsupportedStanzaType
		}
	}
}

func (x *exchange) abort(ctx context.Context, cause error) error {
	/* #nosec */
	x.n.Send(ctx, xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: ns.SASL, Local: "abort"}}))
	return cause
}

// send writes start with data encoded as base64. Empty data is sent as a
// single "=".
func (x *exchange) send(ctx context.Context, start xml.StartElement, data []byte) error {
	payload := "="
	if len(data) > 0 {
		payload = base64.StdEncoding.EncodeToString(data)
	}
	return x.n.Send(ctx, xmlstream.Wrap(xmlstream.Token(xml.CharData(payload)), start))
}

func decode(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "=" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "auth: decoding payload")
	}
	return data, nil
}
