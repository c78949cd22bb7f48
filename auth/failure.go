// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package auth

import (
	"encoding/xml"

	"golang.org/x/text/language"

	"mellium.im/client/internal/ns"
)

// Condition is a SASL error condition carried by a <failure/> element.
type Condition string

// Standard SASL error conditions.
const (
	Aborted              Condition = "aborted"
	AccountDisabled      Condition = "account-disabled"
	CredentialsExpired   Condition = "credentials-expired"
	EncryptionRequired   Condition = "encryption-required"
	IncorrectEncoding    Condition = "incorrect-encoding"
	InvalidAuthzID       Condition = "invalid-authzid"
	InvalidMechanism     Condition = "invalid-mechanism"
	MalformedRequest     Condition = "malformed-request"
	MechanismTooWeak     Condition = "mechanism-too-weak"
	NotAuthorized        Condition = "not-authorized"
	TemporaryAuthFailure Condition = "temporary-auth-failure"
)

// FailedError is returned when the server rejects authentication.
type FailedError struct {
	Mechanism string
	Condition Condition
	Lang      language.Tag
	Text      string
}

// Error returns the condition followed by the text, if any.
func (f *FailedError) Error() string {
	msg := "auth: " + f.Mechanism + " failed: " + string(f.Condition)
	if f.Text != "" {
		msg += ": " + f.Text
	}
	return msg
}

// MarshalXML satisfies the xml.Marshaler interface for a FailedError.
func (f *FailedError) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	failure := xml.StartElement{Name: xml.Name{Space: ns.SASL, Local: "failure"}}
	if err := e.EncodeToken(failure); err != nil {
		return err
	}
	cond := xml.StartElement{Name: xml.Name{Local: string(f.Condition)}}
	if err := e.EncodeToken(cond); err != nil {
		return err
	}
	if err := e.EncodeToken(cond.End()); err != nil {
		return err
	}
	if f.Text != "" {
		text := xml.StartElement{Name: xml.Name{Local: "text"}}
		if f.Lang != language.Und {
			text.Attr = []xml.Attr{{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: f.Lang.String()}}
		}
		if err := e.EncodeToken(text); err != nil {
			return err
		}
		if err := e.EncodeToken(xml.CharData(f.Text)); err != nil {
			return err
		}
		if err := e.EncodeToken(text.End()); err != nil {
			return err
		}
	}
	return e.EncodeToken(failure.End())
}

// UnmarshalXML satisfies the xml.Unmarshaler interface for a FailedError.
// If several text elements are present the one whose xml:lang best matches
// f.Lang is selected.
func (f *FailedError) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	decoded := struct {
		Condition struct {
			XMLName xml.Name
		} `xml:",any"`
		Text []struct {
			Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
			Data string `xml:",chardata"`
		} `xml:"text"`
	}{}
	if err := d.DecodeElement(&decoded, &start); err != nil {
		return err
	}
	f.Condition = Condition(decoded.Condition.XMLName.Local)
	if f.Condition == "" {
		f.Condition = NotAuthorized
	}

	tags := make([]language.Tag, 0, len(decoded.Text))
	data := make(map[language.Tag]string)
	for _, text := range decoded.Text {
		tag := language.Und
		if text.Lang != "" {
			t, err := language.Parse(text.Lang)
			if err != nil {
				continue
			}
			tag = t
		}
		tags = append(tags, tag)
		data[tag] = text.Data
	}
	if len(tags) == 0 {
		return nil
	}
	tag, idx, _ := language.NewMatcher(tags).Match(f.Lang)
	f.Lang = tag
	f.Text = data[tags[idx]]
	return nil
}
