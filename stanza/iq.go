// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"fmt"
)

// IQType is the type of an IQ stanza.
// It should normally be one of the constants defined in this package.
type IQType string

const (
	// GetIQ is used to query another entity for information.
	GetIQ IQType = "get"

	// SetIQ is used to provide data to another entity, set new values, and
	// replace existing values.
	SetIQ IQType = "set"

	// ResultIQ is sent in response to a successful get or set IQ.
	ResultIQ IQType = "result"

	// ErrorIQ is sent to report that an error occurred during the delivery or
	// processing of a get or set IQ.
	ErrorIQ IQType = "error"
)

// Valid reports whether t is one of the four IQ types.
func (t IQType) Valid() bool {
	switch t {
	case GetIQ, SetIQ, ResultIQ, ErrorIQ:
		return true
	}
	return false
}

// MarshalText satisfies the encoding.TextMarshaler interface.
func (t IQType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("stanza: invalid iq type %q", string(t))
	}
	return []byte(t), nil
}

// IQClass is the class of the <iq/> root stanza.
var IQClass = &Class{
	Name:       "iq",
	Interfaces: []string{"type", "to", "from", "id", "query", "lang"},
	Accessors: map[string]Accessor{
		"type": {
			Set: func(s *Stanza, value, _ string) error {
				if !IQType(value).Valid() {
					return fmt.Errorf("stanza: invalid iq type %q", value)
				}
				s.el.SetAttrValue("type", value)
				return nil
			},
		},
		"query": {
			Get: func(s *Stanza, _ string) string {
				if p := payload(s.el); p != nil {
					return p.Name.Space
				}
				return ""
			},
			Set: func(s *Stanza, value, _ string) error {
				if p := payload(s.el); p != nil && p.Name.Space == value {
					return nil
				}
				removePayload(s.el)
				s.el.AppendChild(NewElement(value, "query"))
				return nil
			},
			Del: func(s *Stanza, _ string) {
				removePayload(s.el)
			},
		},
	},
}

func payload(e *Element) *Element {
	for _, c := range e.Children {
		if c.Name.Local == "error" && c.Name.Space == e.Name.Space {
			continue
		}
		return c
	}
	return nil
}

func removePayload(e *Element) {
	out := e.Children[:0]
	for _, c := range e.Children {
		if c.Name.Local == "error" && c.Name.Space == e.Name.Space {
			out = append(out, c)
		}
	}
	e.Children = out
}

// IQ ("Information Query") is used as a general request response mechanism.
// IQ's are one-to-one, provide get and set semantics, and always require a
// response in the form of a result or an error.
type IQ struct {
	*Stanza
}

// NewIQ returns a new IQ of the given type.
func (r *Registry) NewIQ(typ IQType) IQ {
	iq := IQ{Stanza: r.New(IQClass)}
	iq.el.SetAttrValue("type", string(typ))
	return iq
}

// AsIQ returns an IQ view of s if s is an iq stanza.
func AsIQ(s *Stanza) (IQ, bool) {
	if s == nil || s.el.Name.Local != "iq" || (!isContentNS(s.el.Name.Space) && s.el.Name.Space != s.reg.Namespace()) {
		return IQ{}, false
	}
	return IQ{Stanza: s}, true
}

// Type returns the type of the IQ.
func (iq IQ) Type() IQType {
	return IQType(iq.el.AttrValue("type"))
}

// SetType sets the type of the IQ, returning an error if typ is not one of the
// four IQ types.
func (iq IQ) SetType(typ IQType) error {
	return iq.Set("type", string(typ))
}

// IsRequest reports whether the IQ is a get or set that demands a reply.
func (iq IQ) IsRequest() bool {
	t := iq.Type()
	return t == GetIQ || t == SetIQ
}

// Payload returns the first child element that is not a stanza error or nil.
func (iq IQ) Payload() *Element {
	return payload(iq.el)
}

// SetPayload replaces the payload of the IQ.
func (iq IQ) SetPayload(e *Element) {
	removePayload(iq.el)
	if e != nil {
		iq.el.AppendChild(e)
	}
}

// Reply returns a new result IQ addressed to the sender of iq with the same
// id and no payload.
func (iq IQ) Reply() IQ {
	reply := iq.reg.NewIQ(ResultIQ)
	reply.el.Name.Space = iq.el.Name.Space
	reply.SetID(iq.ID())
	reply.el.SetAttrValue("to", iq.el.AttrValue("from"))
	reply.el.SetAttrValue("from", iq.el.AttrValue("to"))
	return reply
}

// ErrorReply returns a new error IQ addressed to the sender of iq carrying se.
func (iq IQ) ErrorReply(se Error) IQ {
	reply := iq.Reply()
	reply.el.SetAttrValue("type", string(ErrorIQ))
	reply.SetErr(se)
	return reply
}
