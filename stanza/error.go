// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"
	"mellium.im/xmppcore/internal/ns"
	"mellium.im/xmppcore/jid"
)

// ErrorType is the type of an stanza error payloads.
// It should normally be one of the constants defined in this package.
type ErrorType string

const (
	// Cancel indicates that the error cannot be remedied and the operation should
	// not be retried.
	Cancel ErrorType = "cancel"

	// Auth indicates that an operation should be retried after providing
	// credentials.
	Auth ErrorType = "auth"

	// Continue indicates that the operation can proceed (the condition was only a
	// warning).
	Continue ErrorType = "continue"

	// Modify indicates that the operation can be retried after changing the data
	// sent.
	Modify ErrorType = "modify"

	// Wait is indicates that an error is temporary and may be retried.
	Wait ErrorType = "wait"
)

// Condition represents a more specific stanza error condition that can be
// encapsulated by an <error/> element.
type Condition string

// A list of stanza error conditions defined in RFC 6120 §8.3.3.
const (
	BadRequest            Condition = "bad-request"
	Conflict              Condition = "conflict"
	FeatureNotImplemented Condition = "feature-not-implemented"
	Forbidden             Condition = "forbidden"
	Gone                  Condition = "gone"
	InternalServerError   Condition = "internal-server-error"
	ItemNotFound          Condition = "item-not-found"
	JIDMalformed          Condition = "jid-malformed"
	NotAcceptable         Condition = "not-acceptable"
	NotAllowed            Condition = "not-allowed"
	NotAuthorized         Condition = "not-authorized"
	PolicyViolation       Condition = "policy-violation"
	RecipientUnavailable  Condition = "recipient-unavailable"
	Redirect              Condition = "redirect"
	RegistrationRequired  Condition = "registration-required"
	RemoteServerNotFound  Condition = "remote-server-not-found"
	RemoteServerTimeout   Condition = "remote-server-timeout"
	ResourceConstraint    Condition = "resource-constraint"
	ServiceUnavailable    Condition = "service-unavailable"
	SubscriptionRequired  Condition = "subscription-required"
	UndefinedCondition    Condition = "undefined-condition"
	UnexpectedRequest     Condition = "unexpected-request"
)

// DefaultConditions are the conditions the core library itself produces.
var DefaultConditions = []Condition{
	BadRequest,
	FeatureNotImplemented,
	ServiceUnavailable,
	ItemNotFound,
	NotAuthorized,
}

// DefaultType returns the error type RFC 6120 recommends for a condition.
func (c Condition) DefaultType() ErrorType {
	switch c {
	case BadRequest, JIDMalformed, NotAcceptable, PolicyViolation, Redirect, Gone:
		return Modify
	case Forbidden, NotAuthorized, RegistrationRequired, SubscriptionRequired:
		return Auth
	case RecipientUnavailable, RemoteServerTimeout, ResourceConstraint, UnexpectedRequest:
		return Wait
	}
	return Cancel
}

// Error is an implementation of error intended to be marshalable and
// unmarshalable as XML.
type Error struct {
	By        jid.JID
	Type      ErrorType
	Condition Condition
	Text      string
	Lang      string
}

// NewError returns an error with the given condition and text and the default
// type for the condition.
func NewError(cond Condition, text string) Error {
	return Error{
		Type:      cond.DefaultType(),
		Condition: cond,
		Text:      text,
	}
}

// Error satisfies the error interface by returning the text if set or the
// condition otherwise.
func (se Error) Error() string {
	if se.Text != "" {
		return se.Text
	}
	return string(se.Condition)
}

// Is reports whether target is a stanza error with the same condition.
// An empty condition on target matches any stanza error.
func (se Error) Is(target error) bool {
	t, ok := target.(Error)
	if !ok {
		return false
	}
	return t.Condition == "" || t.Condition == se.Condition
}

// Element converts the error into an <error/> element in the given content
// namespace.
func (se Error) Element(space string) *Element {
	e := NewElement(space, "error")
	if se.Type != "" {
		e.SetAttrValue("type", string(se.Type))
	}
	if !se.By.IsZero() {
		e.SetAttrValue("by", se.By.String())
	}
	if se.Condition != "" {
		e.AppendChild(NewElement(ns.Stanza, string(se.Condition)))
	}
	if se.Text != "" {
		text := NewElement(ns.Stanza, "text")
		text.Text = se.Text
		if se.Lang != "" {
			text.SetAttribute(xmlLang, se.Lang)
		}
		e.AppendChild(text)
	}
	return e
}

// ErrorFromElement reads a stanza error from an <error/> element.
func ErrorFromElement(e *Element) Error {
	se := Error{
		Type: ErrorType(e.AttrValue("type")),
	}
	if by := e.AttrValue("by"); by != "" {
		se.By, _ = jid.Parse(by)
	}
	for _, c := range e.Children {
		if c.Name.Space != ns.Stanza {
			continue
		}
		switch {
		case c.Name.Local == "text":
			if se.Text == "" {
				se.Text = c.Text
				se.Lang = c.Lang()
			}
		case se.Condition == "":
			se.Condition = Condition(c.Name.Local)
		}
	}
	return se
}

// TokenReader satisfies the xmlstream.Marshaler interface for Error.
func (se Error) TokenReader() xml.TokenReader {
	start := xml.StartElement{
		Name: xml.Name{Local: "error"},
	}
	if se.Type != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(se.Type)})
	}
	if !se.By.IsZero() {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "by"}, Value: se.By.String()})
	}

	inner := []xml.TokenReader{
		xmlstream.Wrap(nil, xml.StartElement{
			Name: xml.Name{Space: ns.Stanza, Local: string(se.Condition)},
		}),
	}
	if se.Text != "" {
		var attrs []xml.Attr
		// xml:lang attribute is optional, don't include it if it's empty.
		if se.Lang != "" {
			attrs = []xml.Attr{{Name: xmlLang, Value: se.Lang}}
		}
		inner = append(inner, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(se.Text)),
			xml.StartElement{Name: xml.Name{Space: ns.Stanza, Local: "text"}, Attr: attrs},
		))
	}
	return xmlstream.Wrap(xmlstream.MultiReader(inner...), start)
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (se Error) WriteXML(w xmlstream.TokenWriter) (n int, err error) {
	return xmlstream.Copy(w, se.TokenReader())
}

// MarshalXML satisfies the xml.Marshaler interface for Error.
func (se Error) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := se.WriteXML(e)
	if err != nil {
		return err
	}
	return e.Flush()
}

// UnmarshalXML satisfies the xml.Unmarshaler interface for Error.
// If se.Lang is set before unmarshaling, the text in that language is
// preferred.
func (se *Error) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	e, err := ReadElement(d, start)
	if err != nil {
		return err
	}
	want := se.Lang
	*se = ErrorFromElement(e)
	if want == "" {
		return nil
	}
	for _, c := range e.ChildrenNamed(xml.Name{Space: ns.Stanza, Local: "text"}) {
		if c.Lang() == want {
			se.Text = c.Text
			se.Lang = want
			break
		}
	}
	return nil
}

// ErrorClass is the stanza class of the <error/> plugin that is registered on
// every root stanza.
var ErrorClass = &Class{
	Name:         "error",
	PluginAttrib: "error",
	Interfaces:   []string{"type", "condition", "text", "by", "code"},
	Accessors: map[string]Accessor{
		"condition": {
			Get: func(s *Stanza, _ string) string {
				for _, c := range s.el.Children {
					if c.Name.Space == ns.Stanza && c.Name.Local != "text" {
						return c.Name.Local
					}
				}
				return ""
			},
			Set: func(s *Stanza, value, _ string) error {
				delCondition(s)
				cond := NewElement(ns.Stanza, value)
				s.el.Children = append([]*Element{cond}, s.el.Children...)
				return nil
			},
			Del: func(s *Stanza, _ string) {
				delCondition(s)
			},
		},
		"text": {
			Get: func(s *Stanza, _ string) string {
				if c := s.el.Child(xml.Name{Space: ns.Stanza, Local: "text"}); c != nil {
					return c.Text
				}
				return ""
			},
			Set: func(s *Stanza, value, _ string) error {
				name := xml.Name{Space: ns.Stanza, Local: "text"}
				c := s.el.Child(name)
				if c == nil {
					c = s.el.AppendChild(NewElement(ns.Stanza, "text"))
				}
				c.Text = value
				return nil
			},
			Del: func(s *Stanza, _ string) {
				s.el.RemoveChildren(xml.Name{Space: ns.Stanza, Local: "text"})
			},
		},
	},
}

func delCondition(s *Stanza) {
	out := s.el.Children[:0]
	for _, c := range s.el.Children {
		if c.Name.Space == ns.Stanza && c.Name.Local != "text" {
			continue
		}
		out = append(out, c)
	}
	s.el.Children = out
}
