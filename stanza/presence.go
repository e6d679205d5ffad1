// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"fmt"
	"strconv"
)

// PresenceType is the type of a presence stanza.
// It should normally be one of the constants defined in this package.
type PresenceType string

const (
	// AvailablePresence is a special case that signals that the entity is
	// available for communication.
	AvailablePresence PresenceType = ""

	// ErrorPresence indicates that an error has occurred regarding processing of
	// a previously sent presence stanza; if the presence stanza is of type
	// "error", it MUST include an <error/> child element
	ErrorPresence PresenceType = "error"

	// ProbePresence is a request for an entity's current presence. It should
	// generally only be generated and sent by servers on behalf of a user.
	ProbePresence PresenceType = "probe"

	// SubscribePresence is sent when the sender wishes to subscribe to the
	// recipient's presence.
	SubscribePresence PresenceType = "subscribe"

	// SubscribedPresence indicates that the sender has allowed the recipient to
	// receive future presence broadcasts.
	SubscribedPresence PresenceType = "subscribed"

	// UnavailablePresence indicates that the sender is no longer available for
	// communication.
	UnavailablePresence PresenceType = "unavailable"

	// UnsubscribePresence indicates that the sender is unsubscribing from the
	// receiver's presence.
	UnsubscribePresence PresenceType = "unsubscribe"

	// UnsubscribedPresence indicates that the subscription request has been
	// denied, or a previously granted subscription has been revoked.
	UnsubscribedPresence PresenceType = "unsubscribed"
)

func (t PresenceType) valid() bool {
	switch t {
	case AvailablePresence, ErrorPresence, ProbePresence, SubscribePresence,
		SubscribedPresence, UnavailablePresence, UnsubscribePresence, UnsubscribedPresence:
		return true
	}
	return false
}

// Show values narrow an available presence.
const (
	ShowAway = "away"
	ShowChat = "chat"
	ShowDND  = "dnd"
	ShowXA   = "xa"
)

func validShow(s string) bool {
	switch s {
	case ShowAway, ShowChat, ShowDND, ShowXA:
		return true
	}
	return false
}

// PresenceClass is the class of the <presence/> root stanza.
//
// Setting the type interface to a show value ("away", "chat", "dnd" or "xa")
// sets the show child instead and reading the type of an available presence
// returns its show value.
var PresenceClass = &Class{
	Name:           "presence",
	Interfaces:     []string{"type", "to", "from", "id", "show", "status", "priority", "lang"},
	SubInterfaces:  []string{"show", "status", "priority"},
	LangInterfaces: []string{"status"},
	Accessors: map[string]Accessor{
		"type": {
			Get: func(s *Stanza, _ string) string {
				if t := s.el.AttrValue("type"); t != "" {
					return t
				}
				return s.subText("show", "")
			},
			Set: func(s *Stanza, value, _ string) error {
				switch {
				case validShow(value):
					s.el.SetAttrValue("type", "")
					s.setSubText("show", value, "")
				case value == "available":
					s.el.SetAttrValue("type", "")
				case PresenceType(value).valid():
					s.setSubText("show", "", "")
					s.el.SetAttrValue("type", value)
				default:
					return fmt.Errorf("stanza: invalid presence type %q", value)
				}
				return nil
			},
			Del: func(s *Stanza, _ string) {
				s.el.SetAttrValue("type", "")
				s.setSubText("show", "", "")
			},
		},
		"show": {
			Set: func(s *Stanza, value, _ string) error {
				if !validShow(value) {
					return fmt.Errorf("stanza: invalid presence show %q", value)
				}
				s.setSubText("show", value, "")
				return nil
			},
		},
		"priority": {
			Set: func(s *Stanza, value, _ string) error {
				if _, err := strconv.ParseInt(value, 10, 8); err != nil {
					return fmt.Errorf("stanza: invalid presence priority %q: %w", value, err)
				}
				s.setSubText("priority", value, "")
				return nil
			},
		},
	},
}

// Presence is an XMPP stanza that is used as an indication that an entity is
// available for communication. It is used to set a status message, broadcast
// availability, and advertise entity capabilities. It can be directed
// (one-to-one), or used as a broadcast mechanism (one-to-many).
type Presence struct {
	*Stanza
}

// NewPresence returns a new presence of the given type.
func (r *Registry) NewPresence(typ PresenceType) Presence {
	p := Presence{Stanza: r.New(PresenceClass)}
	if typ != AvailablePresence {
		p.el.SetAttrValue("type", string(typ))
	}
	return p
}

// AsPresence returns a Presence view of s if s is a presence stanza.
func AsPresence(s *Stanza) (Presence, bool) {
	if s == nil || s.el.Name.Local != "presence" {
		return Presence{}, false
	}
	return Presence{Stanza: s}, true
}

// Type returns the type attribute of the presence.
func (p Presence) Type() PresenceType {
	return PresenceType(p.el.AttrValue("type"))
}

// SetType sets the type attribute of the presence.
func (p Presence) SetType(typ PresenceType) error {
	if typ == AvailablePresence {
		return p.Set("type", "available")
	}
	return p.Set("type", string(typ))
}

// Show returns the show value of the presence.
func (p Presence) Show() string { return p.Get("show") }

// Status returns the status in the language of the presence.
func (p Presence) Status() string { return p.Get("status") }

// Priority returns the priority of the presence or 0 if it is unset.
func (p Presence) Priority() int {
	i, _ := strconv.Atoi(p.Get("priority"))
	return i
}

// SetPriority sets the priority of the presence.
func (p Presence) SetPriority(prio int8) {
	_ = p.Set("priority", strconv.Itoa(int(prio)))
}

// Reply returns a new presence addressed to the sender of p with the same id.
func (p Presence) Reply() Presence {
	reply := p.reg.NewPresence(AvailablePresence)
	reply.el.Name.Space = p.el.Name.Space
	reply.SetID(p.ID())
	reply.el.SetAttrValue("to", p.el.AttrValue("from"))
	reply.el.SetAttrValue("from", p.el.AttrValue("to"))
	return reply
}
