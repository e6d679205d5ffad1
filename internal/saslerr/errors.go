// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package saslerr provides error conditions for the XMPP profile of SASL as
// defined by RFC 6120 §6.5.
package saslerr // import "mellium.im/xmppcore/internal/saslerr"

import (
	"encoding/xml"

	"golang.org/x/text/language"
	"mellium.im/xmlstream"

	"mellium.im/xmppcore/internal/ns"
	"mellium.im/xmppcore/stanza"
)

// Condition represents a SASL error condition that can be encapsulated by a
// <failure/> element.
type Condition string

// String returns the condition as it appears on the wire.
func (c Condition) String() string {
	return string(c)
}

// Standard SASL error conditions.
const (
	None                 Condition = ""
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

// Failure represents a SASL error that is marshalable to XML.
type Failure struct {
	Condition Condition
	Lang      language.Tag
	Text      string
}

// Error satisfies the error interface for a Failure. It returns the text string
// if set, or the condition otherwise.
func (f Failure) Error() string {
	if f.Text != "" {
		return f.Text
	}
	return string(f.Condition)
}

// Is reports whether target is a Failure with the same condition.
// A target with no condition matches any failure.
func (f Failure) Is(target error) bool {
	t, ok := target.(Failure)
	if !ok {
		return false
	}
	return t.Condition == None || t.Condition == f.Condition
}

// Element returns the <failure/> element for f.
func (f Failure) Element() *stanza.Element {
	e := stanza.NewElement(ns.SASL, "failure")
	if f.Condition != None {
		e.AppendChild(stanza.NewElement(ns.SASL, string(f.Condition)))
	}
	if f.Text != "" {
		text := e.AppendChild(stanza.NewElement(ns.SASL, "text"))
		if f.Lang != language.Und {
			text.SetAttribute(xml.Name{Space: ns.XML, Local: "lang"}, f.Lang.String())
		}
		text.Text = f.Text
	}
	return e
}

// TokenReader satisfies the xmlstream.Marshaler interface for a Failure.
func (f Failure) TokenReader() xml.TokenReader {
	return f.Element().TokenReader()
}

// WriteXML satisfies the xmlstream.WriterTo interface.
func (f Failure) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, f.TokenReader())
}

// MarshalXML satisfies the xml.Marshaler interface for a Failure.
func (f Failure) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := f.WriteXML(e)
	if err != nil {
		return err
	}
	return e.Flush()
}

// UnmarshalXML satisfies the xml.Unmarshaler interface for a Failure.
// See FromElement for how the text is selected.
func (f *Failure) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	e, err := stanza.ReadElement(d, start)
	if err != nil {
		return err
	}
	*f = FromElement(e, f.Lang)
	return nil
}

// FromElement decodes a <failure/> element.
// If multiple text elements are present, the one with an xml:lang attribute
// that most closely matches lang is selected.
// Text elements with unparsable language tags are ignored.
func FromElement(e *stanza.Element, lang language.Tag) Failure {
	var f Failure
	var tags []language.Tag
	data := make(map[language.Tag]string)
	for _, c := range e.Children {
		if c.Name.Local != "text" {
			if f.Condition == None {
				f.Condition = Condition(c.Name.Local)
			}
			continue
		}
		tag := language.Und
		if l := c.Lang(); l != "" {
			var err error
			tag, err = language.Parse(l)
			if err != nil {
				continue
			}
		}
		tags = append(tags, tag)
		data[tag] = c.Text
	}
	if len(tags) == 0 {
		return f
	}
	_, idx, _ := language.NewMatcher(tags).Match(lang)
	f.Lang = tags[idx]
	f.Text = data[f.Lang]
	return f
}
