// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza_test

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"mellium.im/xmlstream"

	"mellium.im/client/internal/ns"
	"mellium.im/client/stanza"
)

func parse(t *testing.T, s string) *stanza.Element {
	t.Helper()
	el, err := stanza.New(xml.NewDecoder(strings.NewReader(s)))
	require.NoError(t, err)
	return el
}

func TestElementRead(t *testing.T) {
	el := parse(t, `<iq xmlns='jabber:client' type='result' id='123' xml:lang='en'><bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'><jid>juliet@example.net/balcony</jid></bind></iq>`)

	require.Equal(t, xml.Name{Space: ns.Client, Local: "iq"}, el.Name())
	require.Equal(t, "result", el.Type())
	require.Equal(t, "123", el.ID())
	require.Equal(t, "en", el.Attr("lang"))
	require.True(t, el.IsStanza())

	bind := el.Child(xml.Name{Space: ns.Bind, Local: "bind"})
	require.NotNil(t, bind)
	jid := bind.Child(xml.Name{Local: "jid"})
	require.NotNil(t, jid)
	require.Equal(t, "juliet@example.net/balcony", jid.Text())
	require.Nil(t, el.Child(xml.Name{Space: ns.Session, Local: "session"}))
}

func TestElementReread(t *testing.T) {
	el := parse(t, `<message xmlns='jabber:client'><body>one</body><body>two</body></message>`)
	for i := 0; i < 2; i++ {
		require.Len(t, el.Children(), 2)
		require.Equal(t, `<message xmlns="jabber:client"><body xmlns="jabber:client">one</body><body xmlns="jabber:client">two</body></message>`, el.String())
	}
}

func TestElementTruncated(t *testing.T) {
	_, err := stanza.New(xml.NewDecoder(strings.NewReader(`<iq xmlns='jabber:client'><ping`)))
	require.Error(t, err)

	_, err = stanza.New(xml.NewDecoder(strings.NewReader(``)))
	require.Error(t, err)
}

func TestElementDecode(t *testing.T) {
	el := parse(t, `<mechanisms xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><mechanism>SCRAM-SHA-1</mechanism><mechanism>PLAIN</mechanism></mechanisms>`)
	v := struct {
		List []string `xml:"urn:ietf:params:xml:ns:xmpp-sasl mechanism"`
	}{}
	require.NoError(t, el.Decode(&v))
	require.Equal(t, []string{"SCRAM-SHA-1", "PLAIN"}, v.List)
}

func TestMatch(t *testing.T) {
	name := xml.Name{Space: ns.Client, Local: "iq"}
	require.True(t, stanza.Match(xml.Name{}, name))
	require.True(t, stanza.Match(xml.Name{Space: ns.Client}, name))
	require.True(t, stanza.Match(xml.Name{Local: "iq"}, name))
	require.False(t, stanza.Match(xml.Name{Local: "message"}, name))
	require.False(t, stanza.Match(xml.Name{Space: ns.SASL, Local: "iq"}, name))
}

func TestIQWrap(t *testing.T) {
	iq := stanza.IQ{ID: "abc", Type: stanza.GetIQ}
	el := stanza.MustNew(iq.Wrap(xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: "urn:xmpp:ping", Local: "ping"}})))
	require.Equal(t, "get", el.Type())
	require.Equal(t, "abc", el.ID())
	require.NotNil(t, el.Child(xml.Name{Space: "urn:xmpp:ping", Local: "ping"}))

	parsed, err := stanza.NewIQ(el.Start)
	require.NoError(t, err)
	require.Equal(t, iq, parsed)
}

func TestIQReply(t *testing.T) {
	el := parse(t, `<iq xmlns='jabber:client' type='get' id='1' from='romeo@example.net/orchard' to='juliet@example.com/balcony'><query xmlns='jabber:iq:version'/></iq>`)
	req, err := stanza.NewIQ(el.Start)
	require.NoError(t, err)

	reply := stanza.MustNew(req.Error(stanza.Error{Type: stanza.Cancel, Condition: stanza.ServiceUnavailable}))
	require.Equal(t, "error", reply.Type())
	require.Equal(t, "1", reply.ID())
	require.Equal(t, "romeo@example.net/orchard", reply.Attr("to"))
	require.Equal(t, "juliet@example.com/balcony", reply.Attr("from"))

	se, ok := stanza.UnmarshalError(reply)
	require.True(t, ok)
	require.Equal(t, stanza.ServiceUnavailable, se.Condition)
	require.Equal(t, stanza.Cancel, se.Type)
}

func TestUnmarshalError(t *testing.T) {
	el := parse(t, `<iq xmlns='jabber:client' type='error' id='1'><error type='modify'><bad-request xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'/><text xmlns='urn:ietf:params:xml:ns:xmpp-stanzas' xml:lang='en'>Malformed resource</text></error></iq>`)
	se, ok := stanza.UnmarshalError(el)
	require.True(t, ok)
	require.Equal(t, stanza.Error{Type: stanza.Modify, Condition: stanza.BadRequest, Lang: "en", Text: "Malformed resource"}, se)
	require.Equal(t, "bad-request: Malformed resource", se.Error())

	_, ok = stanza.UnmarshalError(parse(t, `<iq xmlns='jabber:client' type='result' id='1'/>`))
	require.False(t, ok)

	se, ok = stanza.UnmarshalError(parse(t, `<iq xmlns='jabber:client' type='error' id='1'/>`))
	require.True(t, ok)
	require.Equal(t, stanza.UndefinedCondition, se.Condition)
}
